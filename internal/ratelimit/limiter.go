package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Decision is the outcome of one IsLimited call.
type Decision struct {
	Limited   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Header renders the quota headers. Reset is unix seconds.
func (d Decision) Header() http.Header {
	h := make(http.Header, 3)
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(d.Reset.Unix(), 10))
	return h
}

// RetryAfter is the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.Reset.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter applies fixed-window profiles to client+route keys.
type Limiter struct {
	store Store
	now   func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

func Key(clientKey, routeKey string) string { return clientKey + ":" + routeKey }

// IsLimited counts this request against the window. On a store error the
// request is admitted and the error returned for logging.
func (l *Limiter) IsLimited(ctx context.Context, clientKey, routeKey string, p Profile) (Decision, error) {
	e, limited, err := l.store.Hit(ctx, Key(clientKey, routeKey), p.Window, p.Ceiling)
	if err != nil {
		return Decision{Limit: p.Ceiling, Remaining: p.Ceiling, Reset: l.now().Add(p.Window)}, err
	}
	return decisionFor(e, limited, p), nil
}

// Headers reports the current quota without counting a request.
func (l *Limiter) Headers(ctx context.Context, clientKey, routeKey string, p Profile) (http.Header, error) {
	e, ok, err := l.store.Peek(ctx, Key(clientKey, routeKey))
	if err != nil || !ok {
		e = Entry{Reset: l.now().Add(p.Window)}
	}
	return decisionFor(e, false, p).Header(), err
}

func decisionFor(e Entry, limited bool, p Profile) Decision {
	remaining := p.Ceiling - e.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Limited: limited, Limit: p.Ceiling, Remaining: remaining, Reset: e.Reset}
}

// Sweep forwards to the store.
func (l *Limiter) Sweep(ctx context.Context) int { return l.store.Sweep(ctx, l.now()) }
