package opshttp

import (
	"net/http"

	"github.com/keithlinneman/dentalacademy/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic runs after a recovered panic, e.g. to bump http_panic_total.
	OnPanic func()
}
