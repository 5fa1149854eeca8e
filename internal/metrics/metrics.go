package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/dentalacademy/internal/version"
)

// ServerMetrics owns a private registry. It implements secure.Observer and
// lmshttp.Metrics so handlers only ever see narrow interfaces.
type ServerMetrics struct {
	reg       *prometheus.Registry
	handler   http.Handler
	inflight  prometheus.Gauge
	reqTotal  *prometheus.CounterVec
	reqDur    *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec

	errorsTotal     *prometheus.CounterVec
	httpPanicTotal  prometheus.Counter
	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	// request rejections
	rateLimitedTotal      *prometheus.CounterVec
	authRejectedTotal     *prometheus.CounterVec
	validationFailedTotal *prometheus.CounterVec
	sanitizerFallbacks    *prometheus.CounterVec

	// commerce
	paymentIntentsTotal  prometheus.Counter
	ordersCompletedTotal prometheus.Counter
	webhookEventsTotal   *prometheus.CounterVec
}

// New returns a fresh registry with the standard collectors.
// Labels are kept bounded: route patterns, profile names, rule names.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{128, 512, 2048, 8192, 32768, 131072, 524288, 2097152},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		rateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests rejected by a rate limiter, by profile",
		}, []string{"profile"}),
		authRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_rejected_total",
			Help: "Requests rejected by the auth gate, by reason",
		}, []string{"reason"}),
		validationFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_failed_total",
			Help: "Requests rejected by input validation, by handler",
		}, []string{"handler"}),
		sanitizerFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sanitizer_fallback_total",
			Help: "Times the secondary sanitizer pass ran, by rule",
		}, []string{"rule"}),
		paymentIntentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_intents_created_total",
			Help: "Payment intents created with the payment provider",
		}),
		ordersCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_completed_total",
			Help: "Orders that transitioned to completed",
		}),
		webhookEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Payment webhook deliveries by outcome",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.rateLimitedTotal,
		m.authRejectedTotal,
		m.validationFailedTotal,
		m.sanitizerFallbacks,
		m.paymentIntentsTotal,
		m.ordersCompletedTotal,
		m.webhookEventsTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the registry for pool and client collectors registered by main.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) ObserveRateLimited(profile string) {
	m.rateLimitedTotal.WithLabelValues(profile).Inc()
}

// IncBurstDenied counts rejections from the per-IP burst limiter.
func (m *ServerMetrics) IncBurstDenied() {
	m.rateLimitedTotal.WithLabelValues("burst").Inc()
}

func (m *ServerMetrics) ObserveAuthRejected(reason string) {
	m.authRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) ObserveValidationFailed(handler string) {
	m.validationFailedTotal.WithLabelValues(handler).Inc()
}

func (m *ServerMetrics) ObserveSanitizerFallback(rule string) {
	m.sanitizerFallbacks.WithLabelValues(rule).Inc()
}

func (m *ServerMetrics) IncPaymentIntentsCreated() {
	m.paymentIntentsTotal.Inc()
}

func (m *ServerMetrics) IncOrdersCompleted() {
	m.ordersCompletedTotal.Inc()
}

// IncWebhookEvents counts deliveries by kind: succeeded, failed, ignored or rejected.
func (m *ServerMetrics) IncWebhookEvents(kind string) {
	m.webhookEventsTotal.WithLabelValues(kind).Inc()
}
