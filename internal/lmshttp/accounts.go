package lmshttp

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/dentalacademy/internal/apierr"
	"github.com/keithlinneman/dentalacademy/internal/auth"
	"github.com/keithlinneman/dentalacademy/internal/sanitize"
	"github.com/keithlinneman/dentalacademy/internal/secure"
	"github.com/keithlinneman/dentalacademy/internal/store"
)

type registerBody struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginBody struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

var authRules = sanitize.FieldRules{
	Default: sanitize.RuleStrict,
	Fields: map[string]sanitize.Rule{
		"email":    sanitize.RuleEmail,
		"password": sanitize.RuleSecret,
	},
}

type sessionView struct {
	User  *store.User `json:"user"`
	Token string      `json:"token"`
}

var errBadCredentials = &apierr.Error{Kind: apierr.KindUnauthorized, Message: "Invalid email or password"}

func (rt *Routes) withSession(status int, u *store.User) (*secure.Response, error) {
	token, exp, err := rt.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Set-Cookie", rt.tokens.Cookie(token, exp).String())
	return &secure.Response{Status: status, Data: sessionView{User: u, Token: token}, Header: h}, nil
}

func (rt *Routes) register(r *http.Request, c *secure.Context) (*secure.Response, error) {
	in := secure.Data[registerBody](c)
	ctx := r.Context()

	if _, err := rt.store.UserByEmail(ctx, in.Email); err == nil {
		return nil, apierr.Conflict("User already exists with this email")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := rt.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	// self-registration always yields a student; roles change through the admin API
	u := &store.User{Name: in.Name, Email: in.Email, PasswordHash: hash, Role: auth.RoleStudent}
	if err := rt.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apierr.Conflict("User already exists with this email")
		}
		return nil, err
	}
	c.Logger.Info(ctx, "user registered", "user_id", u.ID)
	return rt.withSession(http.StatusCreated, u)
}

func (rt *Routes) login(r *http.Request, c *secure.Context) (*secure.Response, error) {
	in := secure.Data[loginBody](c)
	ctx := r.Context()

	u, err := rt.store.UserByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	hash := rt.dummyHash
	if u != nil {
		hash = u.PasswordHash
	}
	ok, err := rt.passwords.Check(hash, in.Password)
	if err != nil {
		return nil, err
	}
	if u == nil || !ok {
		return nil, errBadCredentials
	}
	return rt.withSession(http.StatusOK, u)
}

// logout only clears the cookie; issued tokens stay valid until they expire.
func (rt *Routes) logout(*http.Request, *secure.Context) (*secure.Response, error) {
	h := http.Header{}
	h.Set("Set-Cookie", rt.tokens.ExpiredCookie().String())
	return &secure.Response{Status: http.StatusNoContent, Header: h}, nil
}

func (rt *Routes) me(r *http.Request, c *secure.Context) (*secure.Response, error) {
	u, err := rt.store.UserByID(r.Context(), c.Session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierr.Unauthorized()
	}
	if err != nil {
		return nil, err
	}
	return secure.OK(u), nil
}
