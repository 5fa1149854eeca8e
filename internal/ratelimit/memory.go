package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

const defaultSweepProbability = 0.01

// MemoryStore is a process-local Store. Counters are not shared between
// instances. Expired entries are swept opportunistically on a small fraction of
// calls instead of on a timer.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry

	now       func() time.Time
	sweepProb float64
	roll      func() float64
}

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithSweepProbability sets the chance in [0,1] that a Hit also sweeps.
func WithSweepProbability(p float64) MemoryOption {
	return func(s *MemoryStore) {
		if p >= 0 && p <= 1 {
			s.sweepProb = p
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:   make(map[string]Entry),
		now:       time.Now,
		sweepProb: defaultSweepProbability,
		roll:      rand.Float64,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, ceiling int) (Entry, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepProb > 0 && s.roll() < s.sweepProb {
		s.sweepLocked(now)
	}

	e, ok := s.entries[key]
	switch {
	case !ok || !now.Before(e.Reset):
		e = Entry{Count: 1, Reset: now.Add(window)}
	case e.Count >= ceiling:
		return e, true, nil
	default:
		e.Count++
	}
	s.entries[key] = e
	return e, false, nil
}

func (s *MemoryStore) Peek(_ context.Context, key string) (Entry, bool, error) {
	now := s.now()

	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()

	if !ok || !now.Before(e.Reset) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.Reset) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
