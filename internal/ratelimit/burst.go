package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/dentalacademy/internal/apierr"
	"github.com/keithlinneman/dentalacademy/internal/httpmw"
)

// bucket tracks a single IP's token bucket and last activity
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged is reset when the bucket is evicted and re-created
	logged bool
}

// Burst is a per-IP token bucket with background eviction of idle IPs.
type Burst struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	perSecond rate.Limit
	burst     int
	ttl       time.Duration

	// OnFirstDenied is called once per bucket lifetime, ip has no port
	OnFirstDenied func(ip string)

	// OnDenied is called on every denied request
	OnDenied func(ip string)
}

type BurstOption func(*Burst)

// WithRate sets the refill rate and bucket size.
// WithRate(10, 50) allows 50 requests at once, then 10 per second.
func WithRate(perSecond float64, burst int) BurstOption {
	return func(b *Burst) {
		b.perSecond = rate.Limit(perSecond)
		b.burst = burst
	}
}

// WithTTL controls how long an idle IP stays tracked
func WithTTL(d time.Duration) BurstOption {
	return func(b *Burst) {
		b.ttl = d
	}
}

// WithOnFirstDenied is for logging; it fires once per offender, unlike OnDenied.
func WithOnFirstDenied(fn func(ip string)) BurstOption {
	return func(b *Burst) {
		b.OnFirstDenied = fn
	}
}

// WithOnDenied is for counters
func WithOnDenied(fn func(ip string)) BurstOption {
	return func(b *Burst) {
		b.OnDenied = fn
	}
}

// NewBurst starts the eviction goroutine, which exits when ctx is done.
func NewBurst(ctx context.Context, opts ...BurstOption) *Burst {
	b := &Burst{
		buckets:   make(map[string]*bucket),
		perSecond: 20,
		burst:     60,
		ttl:       5 * time.Minute,
	}
	for _, o := range opts {
		o(b)
	}
	go b.cleanup(ctx)
	return b
}

func (b *Burst) allow(ip string) bool {
	b.mu.Lock()
	v, exists := b.buckets[ip]
	if !exists {
		v = &bucket{limiter: rate.NewLimiter(b.perSecond, b.burst)}
		b.buckets[ip] = v
	}
	v.lastSeen = time.Now()
	allowed := v.limiter.Allow()

	first := !allowed && !v.logged
	if first {
		v.logged = true
	}
	// hooks may be slow, never call them under the lock
	b.mu.Unlock()

	if first && b.OnFirstDenied != nil {
		b.OnFirstDenied(ip)
	}
	if !allowed && b.OnDenied != nil {
		b.OnDenied(ip)
	}
	return allowed
}

func (b *Burst) cleanup(ctx context.Context) {
	ticker := time.NewTicker(b.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for ip, v := range b.buckets {
				if now.Sub(v.lastSeen) > b.ttl {
					delete(b.buckets, ip)
				}
			}
			b.mu.Unlock()
		}
	}
}

// Middleware rejects requests over the per-IP budget with 429 before routing.
func (b *Burst) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())

		if !b.allow(ip) {
			w.Header().Set("Retry-After", "30")
			// no quota detail for flood traffic
			apierr.Write(w, apierr.RateLimited())
			return
		}

		next.ServeHTTP(w, r)
	})
}
