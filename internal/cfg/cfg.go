package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/dentalacademy/internal/log"
)

// EnvPrefix namespaces every environment variable: flag "http-port" is DA_HTTP_PORT.
const EnvPrefix = "DA_"

const minJWTSecretLen = 32

type App struct {
	Environment       string
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// edge
	CORSOrigins       string
	TrustProxyHeaders bool
	TrustedHops       int
	BurstRate         float64
	BurstSize         int

	// storage
	DatabaseURL   string
	DBMaxConns    int
	Migrate       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// sessions
	JWTSecret  string
	SessionTTL time.Duration
	BcryptCost int

	// providers
	StripeSecretKey     string
	StripeWebhookSecret string
	VimeoToken          string
	UploadsS3Bucket     string
	UploadsS3Prefix     string

	// SSMSecretPrefix, when set, fills empty secrets from SSM Parameter Store.
	SSMSecretPrefix string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.Environment, "environment", "development", "development|staging|production")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.CORSOrigins, "cors-origins", "", "comma separated origins allowed in addition to the environment defaults")
	fs.BoolVar(&c.TrustProxyHeaders, "trust-proxy-headers", false, "honor X-Forwarded-For/X-Real-IP from private peers")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "proxies in front of the server (0 = 1 when trust-proxy-headers)")
	fs.Float64Var(&c.BurstRate, "burst-rate", 20, "per-IP refill rate (requests/second) before routing")
	fs.IntVar(&c.BurstSize, "burst-size", 60, "per-IP bucket size before routing")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "postgres DSN; empty uses the in-memory store (development only)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "postgres pool size")
	fs.BoolVar(&c.Migrate, "migrate", true, "apply embedded schema migrations at startup")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for shared rate limit counters; empty keeps them in memory")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")

	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HS256 session signing secret (>= 32 bytes)")
	fs.DurationVar(&c.SessionTTL, "session-ttl", 7*24*time.Hour, "session lifetime")
	fs.IntVar(&c.BcryptCost, "bcrypt-cost", 12, "bcrypt cost (4..31)")

	fs.StringVar(&c.StripeSecretKey, "stripe-secret-key", "", "Stripe API secret key; empty disables checkout")
	fs.StringVar(&c.StripeWebhookSecret, "stripe-webhook-secret", "", "Stripe webhook signing secret")
	fs.StringVar(&c.VimeoToken, "vimeo-token", "", "Vimeo API token; empty skips lesson video lookups")
	fs.StringVar(&c.UploadsS3Bucket, "uploads-s3-bucket", "", "S3 bucket for course uploads; empty disables presigning")
	fs.StringVar(&c.UploadsS3Prefix, "uploads-s3-prefix", "uploads", "S3 key prefix for course uploads")

	fs.StringVar(&c.SSMSecretPrefix, "ssm-secret-prefix", "", "SSM parameter path holding secrets, e.g. /app/dentalacademy/prod")
}

// Origins splits CORSOrigins into a trimmed list.
func (c App) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c App) Production() bool { return c.Environment == "production" }

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				// value left out: it may be a secret
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Validate checks ranges, formats and cross-field rules.
// Every problem is reported, joined into one error.
func Validate(c App) error {
	var errs []error

	switch c.Environment {
	case "development", "staging", "production":
	default:
		errs = append(errs, fmt.Errorf("invalid ENVIRONMENT %q (development|staging|production)", c.Environment))
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	for _, o := range c.Origins() {
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" || u.Path != "" {
			errs = append(errs, fmt.Errorf("CORS_ORIGINS entry %q must be scheme://host[:port]", o))
		}
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops))
	}
	if c.BurstRate <= 0 || c.BurstSize < 1 {
		errs = append(errs, fmt.Errorf("BURST_RATE and BURST_SIZE must be positive"))
	}

	if c.DBMaxConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be positive (got %d)", c.DBMaxConns))
	}
	if c.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q)", c.RedisAddr))
		}
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < minJWTSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLen))
	}
	if c.SessionTTL < time.Minute {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be at least 1m (got %s)", c.SessionTTL))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be 4..31 (got %d)", c.BcryptCost))
	}
	if (c.StripeSecretKey == "") != (c.StripeWebhookSecret == "") {
		errs = append(errs, fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET must be set together"))
	}

	// development may run on ephemeral state; anything deployed may not
	if c.Environment != "development" {
		if c.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("JWT_SECRET is required outside development"))
		}
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required outside development"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
