package secure

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/keithlinneman/dentalacademy/internal/apierr"
	"github.com/keithlinneman/dentalacademy/internal/auth"
	"github.com/keithlinneman/dentalacademy/internal/httpmw"
	"github.com/keithlinneman/dentalacademy/internal/log"
	"github.com/keithlinneman/dentalacademy/internal/policy"
	"github.com/keithlinneman/dentalacademy/internal/ratelimit"
	"github.com/keithlinneman/dentalacademy/internal/validate"
)

type handler struct {
	c       *Composer
	cfg     Config
	methods map[string]HandlerFunc
	allow   string
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	lg := log.FromContext(ctx).With("handler", h.cfg.Name)

	status := h.serve(w, r, lg)

	if h.cfg.Log {
		lg.Info(ctx, "secure handler",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// serve runs the pipeline and returns the status written.
func (h *handler) serve(w http.ResponseWriter, r *http.Request, lg log.Logger) int {
	ctx := r.Context()

	// 1. headers, attached to every outcome including rejections
	h.c.policy.Apply(w, r)

	if r.Method == http.MethodOptions {
		w.Header().Set("Allow", h.allow)
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent
	}

	fn, ok := h.methods[r.Method]
	if !ok {
		w.Header().Set("Allow", h.allow)
		apierr.WriteJSON(w, http.StatusMethodNotAllowed, apierr.Envelope{Error: "Method not allowed"})
		return http.StatusMethodNotAllowed
	}

	// 2. rate limit
	if h.c.limiter != nil {
		if p, ok := h.profile(r); ok {
			client := httpmw.ClientIPFromContext(ctx)
			d, err := h.c.limiter.IsLimited(ctx, client, r.URL.Path, p)
			if err != nil {
				lg.Warn(ctx, "rate limit store unavailable, admitting request", "profile", p.Name, "err", err)
			}
			policy.Merge(w.Header(), d.Header())
			if d.Limited {
				h.c.obs.ObserveRateLimited(p.Name)
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter(time.Now())))
				return h.fail(w, r, lg, apierr.RateLimited())
			}
		}
	}

	// 3. auth
	var session *auth.Session
	if h.c.gate != nil {
		s, err := h.c.gate.Authorize(r, h.cfg.requiresSession(r.Method), h.cfg.roles(r.Method)...)
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			h.c.obs.ObserveAuthRejected("unauthorized")
			return h.fail(w, r, lg, apierr.Unauthorized())
		case errors.Is(err, auth.ErrForbidden):
			h.c.obs.ObserveAuthRejected("forbidden")
			return h.fail(w, r, lg, apierr.Forbidden())
		case err != nil:
			return h.fail(w, r, lg, apierr.Internal(err))
		}
		session = s
	} else if h.cfg.requiresSession(r.Method) {
		h.c.obs.ObserveAuthRejected("unauthorized")
		return h.fail(w, r, lg, apierr.Unauthorized())
	}
	if session != nil {
		lg = lg.With("user_id", session.UserID, "role", session.Role.String())
	}

	// 4. parse, sanitize, validate
	var data any
	if h.cfg.Schema != nil && hasBody(r.Method) {
		v, aerr := h.decode(w, r)
		if aerr != nil {
			if aerr.Kind == apierr.KindValidation {
				h.c.obs.ObserveValidationFailed(h.cfg.Name)
			}
			return h.fail(w, r, lg, aerr)
		}
		data = v
	}

	// 5. business handler
	resp, err := fn(r, &Context{Session: session, Data: data, Logger: lg})
	if err != nil {
		return h.fail(w, r, lg, apierr.From(err))
	}

	// 6. merge and write
	if resp == nil {
		resp = NoContent()
	}
	policy.Merge(w.Header(), resp.Header)
	st := resp.Status
	if st == 0 {
		st = http.StatusOK
	}
	if st == http.StatusNoContent {
		w.WriteHeader(st)
		return st
	}
	apierr.WriteData(w, st, resp.Data)
	return st
}

func (h *handler) profile(r *http.Request) (ratelimit.Profile, bool) {
	if h.cfg.Profile != nil {
		return *h.cfg.Profile, true
	}
	return ratelimit.ProfileForPath(r.URL.Path)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, lg log.Logger, e *apierr.Error) int {
	if e.Kind == apierr.KindInternal {
		lg.Error(r.Context(), e.Unwrap(), "handler failed", "method", r.Method, "path", r.URL.Path)
	}
	apierr.Write(w, e)
	return e.Kind.Status()
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// decode reads the body into a generic value, sanitizes it, then decodes the
// sanitized form into the route schema and validates it.
func (h *handler) decode(w http.ResponseWriter, r *http.Request) (any, *apierr.Error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.c.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, apierr.BadRequest("Request body too large")
		}
		return nil, apierr.BadRequest("Invalid JSON payload")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, apierr.BadRequest("Invalid JSON payload")
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, apierr.BadRequest("Invalid JSON payload")
	}

	clean, err := json.Marshal(h.c.sanitizer.Value(raw, h.cfg.Rules))
	if err != nil {
		return nil, apierr.Internal(err)
	}

	target := h.cfg.Schema()
	if err := json.Unmarshal(clean, target); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			return nil, apierr.Validation([]apierr.Detail{{
				Field:   ute.Field,
				Rule:    "type",
				Message: ute.Field + " has an invalid type",
			}})
		}
		return nil, apierr.BadRequest("Invalid JSON payload")
	}

	if errs := validate.Struct(target); len(errs) > 0 {
		details := make([]apierr.Detail, len(errs))
		for i, fe := range errs {
			details[i] = apierr.Detail{Field: fe.Field, Rule: fe.Rule, Message: fe.Message}
		}
		return nil, apierr.Validation(details)
	}
	return target, nil
}
