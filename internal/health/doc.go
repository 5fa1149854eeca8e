// Package health provides composable probes and the liveness and readiness
// handlers served on the ops listener.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static).
// [Dependency] wraps a backend Ping (postgres, redis) with its own timeout.
//
// [ShutdownGate] fails readiness as soon as shutdown starts so the load
// balancer stops routing before in-flight requests drain.
package health
