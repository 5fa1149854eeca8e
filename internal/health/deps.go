package health

import (
	"context"
	"time"

	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

// DefaultPingTimeout bounds a single dependency check.
const DefaultPingTimeout = 2 * time.Second

// Pinger is satisfied by pgstore.Store and ratelimit.RedisStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency probes p with its own timeout and prefixes failures with name,
// so the readiness body says which backend is down ("postgres: ...").
// A nil pinger always passes; the in-memory backends have nothing to ping.
func Dependency(name string, p Pinger, timeout time.Duration) CheckFunc {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return xerrors.Wrap(err, name)
		}
		return nil
	}
}
