package ratelimit

import (
	"strings"
	"time"
)

// Profile is the window and ceiling applied to a class of routes.
type Profile struct {
	Name    string
	Window  time.Duration
	Ceiling int
}

var (
	ProfileAuth    = Profile{Name: "auth", Window: time.Minute, Ceiling: 5}
	ProfilePayment = Profile{Name: "payment", Window: time.Hour, Ceiling: 10}
	ProfileAPI     = Profile{Name: "api", Window: 15 * time.Minute, Ceiling: 100}
)

// ProfileForPath picks the profile for an API path. ok is false outside /api/.
func ProfileForPath(path string) (p Profile, ok bool) {
	switch {
	case strings.HasPrefix(path, "/api/auth/"):
		return ProfileAuth, true
	case strings.HasPrefix(path, "/api/orders"), strings.HasPrefix(path, "/api/payments"):
		return ProfilePayment, true
	case strings.HasPrefix(path, "/api/"):
		return ProfileAPI, true
	}
	return Profile{}, false
}
