package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/dentalacademy/internal/version"
)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

// counterValue returns the value of the first metric in a counter family.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil {
		t.Fatalf("metric %q not found", name)
	}
	if len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f.GetMetric()[0].GetCounter().GetValue()
}

// labeledCounter returns the counter value carrying label=value, or 0.
func labeledCounter(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil {
		return 0
	}
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil {
		t.Fatalf("metric %q not found", name)
	}
	if len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f.GetMetric()[0].GetHistogram().GetSampleCount()
}

func scrape(t *testing.T, m *ServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	return rec.Body.String()
}

func TestNew_ScrapesStandardCollectors(t *testing.T) {
	body := scrape(t, New())
	for _, name := range []string{
		"http_inflight_requests",
		"http_panic_total",
		"profiling_active",
		"payment_intents_created_total",
		"orders_completed_total",
		"go_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q not found in scrape", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncOrdersCompleted()
	if got := counterValue(t, b.reg, "orders_completed_total"); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
	if a.Registry() == b.Registry() {
		t.Fatal("registries should differ")
	}
}

func TestRejectionCounters(t *testing.T) {
	m := New()
	m.ObserveRateLimited("auth")
	m.ObserveRateLimited("auth")
	m.IncBurstDenied()
	m.ObserveAuthRejected("forbidden")
	m.ObserveValidationFailed("createCourse")
	m.ObserveSanitizerFallback("rich")

	cases := []struct {
		metric, label, value string
		want                 float64
	}{
		{"http_requests_rate_limited_total", "profile", "auth", 2},
		{"http_requests_rate_limited_total", "profile", "burst", 1},
		{"auth_rejected_total", "reason", "forbidden", 1},
		{"validation_failed_total", "handler", "createCourse", 1},
		{"sanitizer_fallback_total", "rule", "rich", 1},
	}
	for _, c := range cases {
		if got := labeledCounter(t, m.reg, c.metric, c.label, c.value); got != c.want {
			t.Errorf("%s{%s=%q} = %v, want %v", c.metric, c.label, c.value, got, c.want)
		}
	}
}

func TestCommerceCounters(t *testing.T) {
	m := New()
	m.IncPaymentIntentsCreated()
	m.IncOrdersCompleted()
	m.IncOrdersCompleted()
	m.IncWebhookEvents("succeeded")
	m.IncWebhookEvents("rejected")
	m.IncWebhookEvents("rejected")

	if got := counterValue(t, m.reg, "payment_intents_created_total"); got != 1 {
		t.Fatalf("payment intents = %v", got)
	}
	if got := counterValue(t, m.reg, "orders_completed_total"); got != 2 {
		t.Fatalf("orders completed = %v", got)
	}
	if got := labeledCounter(t, m.reg, "payment_webhook_events_total", "kind", "rejected"); got != 2 {
		t.Fatalf("rejected webhooks = %v", got)
	}
}

func TestIncHttpPanic(t *testing.T) {
	m := New()
	m.IncHttpPanic()
	if got := counterValue(t, m.reg, "http_panic_total"); got != 1 {
		t.Fatalf("http_panic_total = %v", got)
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if v := gatherMetric(t, m.reg, "profiling_active").GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Fatalf("profiling_active = %v, want 1", v)
	}
	m.SetProfilingActive(false)
	if v := gatherMetric(t, m.reg, "profiling_active").GetMetric()[0].GetGauge().GetValue(); v != 0 {
		t.Fatalf("profiling_active = %v, want 0", v)
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("dentalacademy", "server", version.Info{
		Version:   "1.2.3",
		Commit:    "abc123",
		BuildId:   "build-42",
		GoVersion: "go1.24.0",
		VCSDirty:  &dirty,
	})

	f := gatherMetric(t, m.reg, "build_info")
	if f == nil || len(f.GetMetric()) != 1 {
		t.Fatal("build_info missing")
	}
	labels := map[string]string{}
	for _, lp := range f.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	for k, want := range map[string]string{
		"app":       "dentalacademy",
		"component": "server",
		"version":   "1.2.3",
		"commit":    "abc123",
		"vcs_dirty": "true",
	} {
		if labels[k] != want {
			t.Errorf("label %q = %q, want %q", k, labels[k], want)
		}
	}

	m2 := New()
	m2.SetBuildInfoFromVersion("a", "b", version.Info{Version: "dev"})
	for _, lp := range gatherMetric(t, m2.reg, "build_info").GetMetric()[0].GetLabel() {
		if lp.GetName() == "vcs_dirty" && lp.GetValue() != "unknown" {
			t.Fatalf("vcs_dirty = %q, want unknown", lp.GetValue())
		}
	}
}

func TestMiddleware_ErrorCounterOnlyFor5xx(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   bool
	}{
		{http.StatusOK, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	} {
		m := New()
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(tc.status) }))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

		f := gatherMetric(t, m.reg, "http_errors_total")
		got := f != nil && len(f.GetMetric()) > 0
		if got != tc.want {
			t.Errorf("status %d: error counted = %v, want %v", tc.status, got, tc.want)
		}
	}
}
