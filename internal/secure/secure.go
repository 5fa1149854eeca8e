// Package secure composes the request pipeline every API route runs through.
//
// The order is fixed: CORS and hardening headers, rate limit, auth, body
// parse with sanitize then validate, business handler, header merge. Abusive
// or unauthenticated traffic is rejected before any body is read.
package secure

import (
	"net/http"
	"slices"
	"strings"

	"github.com/keithlinneman/dentalacademy/internal/auth"
	"github.com/keithlinneman/dentalacademy/internal/log"
	"github.com/keithlinneman/dentalacademy/internal/policy"
	"github.com/keithlinneman/dentalacademy/internal/ratelimit"
	"github.com/keithlinneman/dentalacademy/internal/sanitize"
)

// Config is the per-route declaration handed to Handle.
type Config struct {
	// Name labels logs and metrics, e.g. "courses.create".
	Name string

	// Profile overrides the path-derived rate limit profile.
	Profile *ratelimit.Profile

	// Authenticated requires a session. Non-empty Roles implies it.
	Authenticated bool
	Roles         []auth.Role

	// MethodRoles replaces Roles for the listed methods, so a public GET can
	// share a path with a staff-only POST.
	MethodRoles map[string][]auth.Role

	// Schema returns a pointer to a fresh payload struct. Bodies are only
	// parsed for POST, PUT and PATCH when it is set.
	Schema func() any
	Rules  sanitize.FieldRules

	// Log writes one summary line per request at info level.
	Log bool
}

func (c Config) roles(method string) []auth.Role {
	if rs, ok := c.MethodRoles[method]; ok {
		return rs
	}
	return c.Roles
}

func (c Config) requiresSession(method string) bool {
	return c.Authenticated || len(c.roles(method)) > 0
}

// Context is what the business handler gets besides the request.
type Context struct {
	Session *auth.Session
	Data    any
	Logger  log.Logger
}

// Data returns the validated payload as *T, or nil when the route has a different or no schema.
func Data[T any](c *Context) *T {
	v, _ := c.Data.(*T)
	return v
}

// Response is a successful result. Header entries are merged over the policy headers.
type Response struct {
	Status int
	Data   any
	Header http.Header
}

func OK(data any) *Response      { return &Response{Status: http.StatusOK, Data: data} }
func Created(data any) *Response { return &Response{Status: http.StatusCreated, Data: data} }
func NoContent() *Response       { return &Response{Status: http.StatusNoContent} }

// HandlerFunc is the business handler signature.
type HandlerFunc func(r *http.Request, c *Context) (*Response, error)

// Observer receives pipeline rejections. metrics.ServerMetrics implements it.
type Observer interface {
	ObserveRateLimited(profile string)
	ObserveAuthRejected(reason string)
	ObserveValidationFailed(handler string)
}

type nopObserver struct{}

func (nopObserver) ObserveRateLimited(string)      {}
func (nopObserver) ObserveAuthRejected(string)     {}
func (nopObserver) ObserveValidationFailed(string) {}

const defaultMaxBody = 1 << 20

type Options struct {
	Policy    policy.Policy
	Limiter   *ratelimit.Limiter
	Gate      *auth.Gate
	Sanitizer *sanitize.Sanitizer
	Observer  Observer
	Logger    log.Logger

	// MaxBodyBytes bounds parsed bodies, default 1 MiB.
	MaxBodyBytes int64
}

// Composer builds secured handlers sharing one set of collaborators.
type Composer struct {
	policy    policy.Policy
	limiter   *ratelimit.Limiter
	gate      *auth.Gate
	sanitizer *sanitize.Sanitizer
	obs       Observer
	logger    log.Logger
	maxBody   int64
}

func New(opts Options) *Composer {
	c := &Composer{
		policy:    opts.Policy,
		limiter:   opts.Limiter,
		gate:      opts.Gate,
		sanitizer: opts.Sanitizer,
		obs:       opts.Observer,
		logger:    opts.Logger,
		maxBody:   opts.MaxBodyBytes,
	}
	if c.sanitizer == nil {
		c.sanitizer = sanitize.New()
	}
	if c.obs == nil {
		c.obs = nopObserver{}
	}
	if c.logger == nil {
		c.logger = log.Nop()
	}
	if c.maxBody <= 0 {
		c.maxBody = defaultMaxBody
	}
	return c
}

// Handle returns one entry point serving every method in methods.
func (c *Composer) Handle(cfg Config, methods map[string]HandlerFunc) http.Handler {
	allowed := make([]string, 0, len(methods)+1)
	for m := range methods {
		allowed = append(allowed, m)
	}
	allowed = append(allowed, http.MethodOptions)
	slices.Sort(allowed)
	allow := strings.Join(allowed, ", ")

	return &handler{c: c, cfg: cfg, methods: methods, allow: allow}
}
