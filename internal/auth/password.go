package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Passwords hashes and checks account passwords with bcrypt.
type Passwords struct {
	Cost int
}

func (p Passwords) cost() int {
	if p.Cost < bcrypt.MinCost || p.Cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return p.Cost
}

func (p Passwords) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), p.cost())
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(h), nil
}

// Check reports whether password matches hash. A malformed hash is an error, a mismatch is not.
func (p Passwords) Check(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("auth: check password: %w", err)
	}
}
