// Package auth resolves the caller's session and enforces role requirements.
//
// Sessions are HS256 JWTs carried in an HttpOnly cookie or a Bearer header.
// Require is the role check every composed route runs; ownership checks are
// left to handlers through CanModify.
package auth

import (
	"errors"
	"net/http"
	"slices"
)

var (
	ErrUnauthorized = errors.New("auth: no session")
	ErrForbidden    = errors.New("auth: role not permitted")
)

// Session is the caller identity for one request. It is never persisted here.
type Session struct {
	UserID string
	Role   Role
}

// Resolver derives a session from a request. A request without credentials
// resolves to (nil, nil); malformed or expired credentials return an error.
type Resolver interface {
	Resolve(r *http.Request) (*Session, error)
}

// Require fails with ErrUnauthorized when s is nil and ErrForbidden when the
// role is outside roles. An empty roles list only requires a session.
func Require(s *Session, roles ...Role) error {
	if s == nil {
		return ErrUnauthorized
	}
	if len(roles) == 0 || slices.Contains(roles, s.Role) {
		return nil
	}
	return ErrForbidden
}

// CanModify reports whether s may change a resource owned by ownerID.
// Admins bypass ownership.
func CanModify(s *Session, ownerID string) bool {
	if s == nil {
		return false
	}
	return s.Role.IsAdmin() || (ownerID != "" && s.UserID == ownerID)
}

// Gate ties a Resolver to role checks.
type Gate struct {
	resolver Resolver
}

func NewGate(r Resolver) *Gate { return &Gate{resolver: r} }

// Authorize resolves the session and, when required is set, applies Require.
// On a public route a missing or bad credential yields an anonymous (nil)
// session rather than an error.
func (g *Gate) Authorize(r *http.Request, required bool, roles ...Role) (*Session, error) {
	s, err := g.resolver.Resolve(r)
	if err != nil {
		s = nil
	}
	if !required {
		return s, nil
	}
	if err := Require(s, roles...); err != nil {
		return nil, err
	}
	return s, nil
}
