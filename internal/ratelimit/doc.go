// Package ratelimit throttles API traffic in two layers.
//
// Limiter is a per-client, per-route fixed-window counter over a Store. The
// in-process MemoryStore serves single-instance deployments; RedisStore shares
// counters across instances. Either way the limiter is a best-effort throttle
// and fails open when the store errors, it is not a security boundary.
//
// Burst is a coarse per-IP token bucket in front of the whole public listener
// to absorb floods before any routing or store work happens.
package ratelimit
