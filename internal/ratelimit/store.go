package ratelimit

import (
	"context"
	"time"
)

// Entry is the counter state for one client+route key.
type Entry struct {
	Count int
	Reset time.Time
}

// Store holds fixed-window counters.
type Store interface {
	// Hit is the atomic check-and-increment. A missing or expired entry is
	// replaced with count 1. At or over ceiling the entry is returned unchanged
	// with limited=true.
	Hit(ctx context.Context, key string, window time.Duration, ceiling int) (e Entry, limited bool, err error)

	// Peek returns the live entry for key without modifying it.
	Peek(ctx context.Context, key string) (e Entry, ok bool, err error)

	// Sweep drops entries whose window ended before now and reports how many.
	Sweep(ctx context.Context, now time.Time) int
}
