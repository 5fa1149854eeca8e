package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	CookieName = "da_session"
	minSecret  = 32
)

var (
	ErrTokenInvalid = errors.New("auth: token is invalid")
	ErrTokenExpired = errors.New("auth: token has expired")
)

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session tokens. It is also the Resolver used by the API.
type TokenIssuer struct {
	secret       []byte
	ttl          time.Duration
	issuer       string
	secureCookie bool
	now          func() time.Time
}

type TokenOption func(*TokenIssuer)

// WithSecureCookie marks the session cookie Secure. On for every environment but development.
func WithSecureCookie(on bool) TokenOption {
	return func(t *TokenIssuer) { t.secureCookie = on }
}

func WithIssuer(iss string) TokenOption {
	return func(t *TokenIssuer) { t.issuer = iss }
}

func NewTokenIssuer(secret []byte, ttl time.Duration, opts ...TokenOption) (*TokenIssuer, error) {
	if len(secret) < minSecret {
		return nil, fmt.Errorf("auth: jwt secret must be at least %d bytes", minSecret)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("auth: token ttl must be positive")
	}
	t := &TokenIssuer{secret: secret, ttl: ttl, issuer: "dentalacademy", secureCookie: true, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Issue signs a token for the user and returns it with its expiry.
func (t *TokenIssuer) Issue(userID string, role Role) (string, time.Time, error) {
	if userID == "" || !role.Valid() {
		return "", time.Time{}, fmt.Errorf("auth: cannot issue token for user %q role %v", userID, role)
	}
	now := t.now()
	exp := now.Add(t.ttl)
	c := claims{
		Role: role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies token and returns its session.
func (t *TokenIssuer) Parse(token string) (*Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	role, err := ParseRole(c.Role)
	if err != nil || c.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return &Session{UserID: c.Subject, Role: role}, nil
}

// Resolve reads the session cookie, falling back to an Authorization: Bearer header.
func (t *TokenIssuer) Resolve(r *http.Request) (*Session, error) {
	token := ""
	if ck, err := r.Cookie(CookieName); err == nil && ck.Value != "" {
		token = ck.Value
	} else if h := r.Header.Get("Authorization"); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(rest) == "" {
			return nil, ErrTokenInvalid
		}
		token = strings.TrimSpace(rest)
	}
	if token == "" {
		return nil, nil
	}
	return t.Parse(token)
}

// Cookie builds the session cookie carrying token.
func (t *TokenIssuer) Cookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires) / time.Second),
		HttpOnly: true,
		Secure:   t.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie overwrites the session cookie on the client.
func (t *TokenIssuer) ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   t.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

func (t *TokenIssuer) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, t.Cookie(token, expires))
}

func (t *TokenIssuer) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, t.ExpiredCookie())
}
