package cfg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

// parsed returns the flag set as well, so tests can read values by flag name.
func parsed(t *testing.T, args []string) (*flag.FlagSet, *App) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := new(App)
	Register(fs, c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return fs, c
}

func flagValue(t *testing.T, fs *flag.FlagSet, name string) string {
	t.Helper()
	f := fs.Lookup(name)
	if f == nil {
		t.Fatalf("flag -%s not registered", name)
	}
	return f.Value.String()
}

func TestRegister_Defaults(t *testing.T) {
	fs, c := parsed(t, nil)

	for name, want := range map[string]string{
		"environment":       "development",
		"log-json":          "true",
		"log-level":         "info",
		"http-port":         "8080",
		"admin-port":        "9000",
		"enable-pprof":      "true",
		"enable-tracing":    "false",
		"stacktrace-level":  "error",
		"burst-rate":        "20",
		"burst-size":        "60",
		"db-max-conns":      "10",
		"migrate":           "true",
		"session-ttl":       "168h0m0s",
		"bcrypt-cost":       "12",
		"uploads-s3-prefix": "uploads",
		"database-url":      "",
		"redis-addr":        "",
		"jwt-secret":        "",
	} {
		if got := flagValue(t, fs, name); got != want {
			t.Errorf("-%s = %q, want %q", name, got, want)
		}
	}
	if c.Production() || c.SessionTTL != 7*24*time.Hour || len(c.Origins()) != 0 {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	_, c := parsed(t, []string{
		"-environment=staging",
		"-log-json=false",
		"-http-port=9090",
		"-trace-sample=0.5",
		"-pyro-tenant=lms",
		"-database-url=postgres://u:p@db:5432/lms",
		"-redis-addr=redis:6379",
		"-redis-db=2",
		"-trust-proxy-headers",
		"-trusted-hops=2",
		"-cors-origins=https://a.example, ,https://b.example",
		"-session-ttl=2h",
		"-stripe-secret-key=sk_test_x",
		"-stripe-webhook-secret=whsec_x",
		"-ssm-secret-prefix=/app/lms",
	})

	checks := []struct {
		name string
		ok   bool
	}{
		{"Environment", c.Environment == "staging"},
		{"LogJSON", !c.LogJSON},
		{"HTTPPort", c.HTTPPort == 9090},
		{"TraceSample", c.TraceSample == 0.5},
		{"PyroTenantID", c.PyroTenantID == "lms"},
		{"DatabaseURL", c.DatabaseURL == "postgres://u:p@db:5432/lms"},
		{"RedisAddr", c.RedisAddr == "redis:6379" && c.RedisDB == 2},
		{"TrustProxyHeaders", c.TrustProxyHeaders && c.TrustedHops == 2},
		{"SessionTTL", c.SessionTTL == 2*time.Hour},
		{"Stripe", c.StripeSecretKey == "sk_test_x" && c.StripeWebhookSecret == "whsec_x"},
		{"SSMSecretPrefix", c.SSMSecretPrefix == "/app/lms"},
	}
	for _, ck := range checks {
		if !ck.ok {
			t.Errorf("%s not applied: %+v", ck.name, c)
		}
	}
	if got := c.Origins(); len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("Origins() = %v", got)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	env := map[string]string{
		"log-level":     "debug",
		"admin-port":    "9100",
		"enable-pprof":  "false",
		"trace-sample":  "0.25",
		"otlp-endpoint": "otel:4317",
		"database-url":  "postgres://lms@db/lms",
		"bcrypt-cost":   "10",
		"session-ttl":   "30m0s",
		"vimeo-token":   "vt",
	}
	for name, v := range env {
		t.Setenv(pfx+strings.ToUpper(strings.ReplaceAll(name, "-", "_")), v)
	}

	fs, c := parsed(t, nil)
	FillFromEnv(fs, pfx, nil)

	for name, want := range env {
		if got := flagValue(t, fs, name); got != want {
			t.Errorf("-%s = %q, want %q from env", name, got, want)
		}
	}
	if c.AdminPort != 9100 || c.EnablePprof || c.SessionTTL != 30*time.Minute {
		t.Errorf("env not bound to App: %+v", c)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"ENABLE_PPROF", "false")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=9090", "-log-level=debug", "-enable-pprof=true"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var overrideMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		overrideMessages = append(overrideMessages, fmt.Sprintf(format, args...))
	})

	// CLI wins
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090 (cli), got %d", c.HTTPPort)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q (cli), got %q", "debug", c.LogLevel)
	}
	if c.EnablePprof != true {
		t.Error("EnablePprof: want true (cli)")
	}

	// Should have logged override messages for all three
	if len(overrideMessages) != 3 {
		t.Errorf("expected 3 override messages, got %d: %v", len(overrideMessages), overrideMessages)
	}
	for _, msg := range overrideMessages {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"HTTP_PORT", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var logMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	})

	// Should keep default, not crash
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080 (default), got %d", c.HTTPPort)
	}
	// Should have logged the error
	if len(logMessages) != 1 {
		t.Fatalf("expected 1 log message, got %d: %v", len(logMessages), logMessages)
	}
	if !strings.Contains(logMessages[0], "ignoring invalid env") {
		t.Errorf("unexpected log message: %s", logMessages[0])
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-include-error-links=true",
		"-max-error-links=0",
	})

	err := Validate(c)
	if err == nil {
		t.Fatal("Validate() expected errors, got <nil>")
	}

	wantErrContains(t, err, "invalid HTTP_PORT")
	wantErrContains(t, err, "invalid ADMIN_PORT")
	wantErrContains(t, err, "invalid LOG_LEVEL")
	wantErrContains(t, err, "invalid STACKTRACE_LEVEL")
	wantErrContains(t, err, "invalid TRACE_SAMPLE")
	wantErrContains(t, err, "PYRO_SERVER must be a URL")
	wantErrContains(t, err, "OTLP_ENDPOINT must be host:port")
	wantErrContains(t, err, "MAX_ERROR_LINKS")
}

func TestValidate_ProductionRequirements(t *testing.T) {
	c := newTestConfig(t, []string{"-environment=production", "-stripe-secret-key=sk_test_x"})

	err := Validate(c)
	wantErrContains(t, err, "JWT_SECRET is required outside development")
	wantErrContains(t, err, "DATABASE_URL is required outside development")
	wantErrContains(t, err, "must be set together")
}

func TestValidate_ProductionOK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-environment=production",
		"-database-url=postgres://db/lms",
		"-jwt-secret=" + strings.Repeat("k", 32),
		"-cors-origins=https://academy.example",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_DomainFields(t *testing.T) {
	c := newTestConfig(t, []string{
		"-environment=qa",
		"-jwt-secret=short",
		"-session-ttl=10s",
		"-bcrypt-cost=2",
		"-trusted-hops=11",
		"-redis-addr=redis",
		"-cors-origins=academy.example",
		"-burst-rate=0",
		"-admin-port=8080",
	})

	err := Validate(c)
	for _, sub := range []string{
		"invalid ENVIRONMENT",
		"JWT_SECRET must be at least 32 bytes",
		"SESSION_TTL",
		"BCRYPT_COST",
		"TRUSTED_HOPS",
		"REDIS_ADDR must be host:port",
		"CORS_ORIGINS entry",
		"BURST_RATE",
		"ADMIN_PORT and HTTP_PORT must differ",
	} {
		wantErrContains(t, err, sub)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("DOTENVTEST_HTTP_PORT=7070\nDOTENVTEST_LOG_LEVEL=warn\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// already-set vars are not overwritten
	t.Setenv("DOTENVTEST_LOG_LEVEL", "error")
	t.Cleanup(func() { _ = os.Unsetenv("DOTENVTEST_HTTP_PORT") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, "DOTENVTEST_", nil)

	if c.HTTPPort != 7070 {
		t.Errorf("HTTPPort: want 7070 from file, got %d", c.HTTPPort)
	}
	if c.LogLevel != "error" {
		t.Errorf("LogLevel: want %q from env, got %q", "error", c.LogLevel)
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
