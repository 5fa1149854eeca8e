package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/dentalacademy/internal/health"
	"github.com/keithlinneman/dentalacademy/internal/httpmw"
	"github.com/keithlinneman/dentalacademy/internal/log"
	"github.com/keithlinneman/dentalacademy/internal/policy"
)

type Options struct {
	Logger log.Logger
	Port   int

	// Policy stamps the hardening and CORS headers on every response,
	// including 404s and health checks that never reach a composed handler.
	Policy *policy.Policy

	UseRecoverMW bool
	OnPanic      func()

	ClientIPOpts httpmw.ClientIPOptions
	// RateLimitMW is the per-IP burst limiter; route quotas live in the composer.
	RateLimitMW func(http.Handler) http.Handler
	MetricsMW   func(http.Handler) http.Handler

	// MaxBodyBytes caps every request body, default 1 MiB.
	MaxBodyBytes int64

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes mounts the application routes, e.g. lmshttp.Routes.RegisterRoutes.
	APIRoutes func(chi.Router)
}
