// Package httpmw provides HTTP middleware for the public API server.
//
// httpserver.NewHandler composes them in this order: panic recovery,
// security policy headers, request ID, client IP resolution, burst rate
// limiting, OTEL tracing, metrics, structured logging, then the chi router.
// Per-route rate limits, authentication and input validation live in the
// secure composer, not here.
//
// Query strings, user agents and bodies are kept out of logs.
package httpmw
