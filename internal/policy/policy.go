// Package policy decides cross-origin access and the hardening header bundle
// for the public listener. A Policy is chosen once at startup from the
// deployment environment and never changes afterwards.
package policy

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

type Policy struct {
	Environment      string
	AllowedOrigins   []string
	AllowAllOrigins  bool
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
	HSTS             bool
	CSP              CSP
}

var builtinOrigins = map[string][]string{
	EnvDevelopment: {"http://localhost:3000", "http://127.0.0.1:3000"},
	EnvStaging:     {"https://staging.dentalacademy.com"},
	EnvProduction:  {"https://dentalacademy.com", "https://www.dentalacademy.com"},
}

// ForEnvironment builds the policy for env. extraOrigins are added to the
// environment's allow-list; a "*" entry allows every origin and turns off credentials.
func ForEnvironment(env string, extraOrigins []string) (Policy, error) {
	base, ok := builtinOrigins[env]
	if !ok {
		return Policy{}, fmt.Errorf("unknown environment %q (valid: development|staging|production)", env)
	}

	p := Policy{
		Environment:      env,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
		HSTS:             env == EnvProduction,
		CSP:              defaultCSP(env != EnvDevelopment),
	}
	if env == EnvDevelopment {
		p.MaxAge = 10 * time.Minute
	}

	origins := slices.Clone(base)
	for _, o := range extraOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
		case o == "*":
			p.AllowAllOrigins = true
		case !slices.Contains(origins, o):
			origins = append(origins, o)
		}
	}
	p.AllowedOrigins = origins
	if p.AllowAllOrigins {
		p.AllowCredentials = false
	}
	return p, nil
}

// AllowsOrigin reports whether a browser at origin may read responses.
func (p Policy) AllowsOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	if p.AllowAllOrigins {
		return true
	}
	return slices.Contains(p.AllowedOrigins, origin)
}

// Headers computes the full response header set for a request from origin.
// Unknown origins get the hardening bundle but no Access-Control-Allow-Origin.
func (p Policy) Headers(origin string) http.Header {
	h := make(http.Header, 16)

	if p.AllowsOrigin(origin) {
		if p.AllowAllOrigins {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		if p.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		h.Set("Access-Control-Allow-Methods", strings.Join(p.AllowedMethods, ", "))
		h.Set("Access-Control-Allow-Headers", strings.Join(p.AllowedHeaders, ", "))
		h.Set("Access-Control-Expose-Headers", strings.Join(p.ExposedHeaders, ", "))
		h.Set("Access-Control-Max-Age", strconv.Itoa(int(p.MaxAge/time.Second)))
	}

	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	// payment stays enabled for the Stripe payment request button
	h.Set("Permissions-Policy", `accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), usb=(), payment=(self "https://js.stripe.com")`)
	h.Set("X-Permitted-Cross-Domain-Policies", "none")
	h.Set("Content-Security-Policy", p.CSP.String())
	if p.HSTS {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
	return h
}

// IsPreflight reports a CORS preflight: OPTIONS carrying Origin and Access-Control-Request-Method.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

// Apply copies the header set for r onto w.
func (p Policy) Apply(w http.ResponseWriter, r *http.Request) {
	Merge(w.Header(), p.Headers(r.Header.Get("Origin")))
}

// Merge sets every key of src on dst, replacing existing values. Vary is appended.
func Merge(dst, src http.Header) {
	for k, vs := range src {
		if k == "Vary" {
			for _, v := range vs {
				if !slices.Contains(dst.Values("Vary"), v) {
					dst.Add(k, v)
				}
			}
			continue
		}
		dst[k] = slices.Clone(vs)
	}
}

// Middleware attaches the header set to every response.
func (p Policy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Apply(w, r)
		next.ServeHTTP(w, r)
	})
}

// ChiCORS answers preflights at the router for paths that never reach a composed handler.
func (p Policy) ChiCORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return p.AllowsOrigin(origin)
		},
		AllowedMethods:   p.AllowedMethods,
		AllowedHeaders:   p.AllowedHeaders,
		ExposedHeaders:   p.ExposedHeaders,
		AllowCredentials: p.AllowCredentials,
		MaxAge:           int(p.MaxAge / time.Second),
	})
}
