package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/dentalacademy/internal/auth"
	"github.com/keithlinneman/dentalacademy/internal/cfg"
	"github.com/keithlinneman/dentalacademy/internal/health"
	"github.com/keithlinneman/dentalacademy/internal/httpmw"
	"github.com/keithlinneman/dentalacademy/internal/httpserver"
	"github.com/keithlinneman/dentalacademy/internal/lmshttp"
	"github.com/keithlinneman/dentalacademy/internal/log"
	"github.com/keithlinneman/dentalacademy/internal/metrics"
	"github.com/keithlinneman/dentalacademy/internal/opshttp"
	"github.com/keithlinneman/dentalacademy/internal/otelx"
	"github.com/keithlinneman/dentalacademy/internal/payments"
	"github.com/keithlinneman/dentalacademy/internal/policy"
	"github.com/keithlinneman/dentalacademy/internal/prof"
	"github.com/keithlinneman/dentalacademy/internal/ratelimit"
	"github.com/keithlinneman/dentalacademy/internal/sanitize"
	"github.com/keithlinneman/dentalacademy/internal/secure"
	"github.com/keithlinneman/dentalacademy/internal/store"
	"github.com/keithlinneman/dentalacademy/internal/store/memstore"
	"github.com/keithlinneman/dentalacademy/internal/store/pgstore"
	"github.com/keithlinneman/dentalacademy/internal/uploads"
	v "github.com/keithlinneman/dentalacademy/internal/version"
	"github.com/keithlinneman/dentalacademy/internal/video"
)

// how long readiness reports draining before listeners close
const drainPeriod = 20 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// .env first so FillFromEnv sees it; real env vars still win
	if err := cfg.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "dotenv error:", err)
		os.Exit(1)
	}

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// AWS is only needed for SSM secrets and upload presigning
	var awsCfg *aws.Config
	if conf.SSMSecretPrefix != "" || conf.UploadsS3Bucket != "" {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to load AWS config:", err)
			os.Exit(1)
		}
		awsCfg = &c
	}

	var resolved []string
	if conf.SSMSecretPrefix != "" {
		var err error
		resolved, err = cfg.ResolveSecrets(ctx, &conf, ssm.NewFromConfig(*awsCfg))
		if err != nil {
			fmt.Fprintln(os.Stderr, "secret resolution error:", err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		stackLvl = lvl
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Environment:       conf.Environment,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"environment", conf.Environment,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"store", storeKind(conf),
		"rate_limit_store", limiterKind(conf),
		"trust_proxy_headers", conf.TrustProxyHeaders,
		"trusted_hops", conf.TrustedHops,
		"payments", conf.StripeSecretKey != "",
		"video_lookups", conf.VimeoToken != "",
		"uploads_s3_bucket", conf.UploadsS3Bucket,
		"ssm_secrets", resolved,
	)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		Environment:   conf.Environment,
		Version:       vi.Version,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Insecure: the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		Sample:      conf.TraceSample,
		Service:     v.AppName,
		Component:   "server",
		Version:     vi.Version,
		Environment: conf.Environment,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// storage
	var st store.Store
	if conf.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, conf.DatabaseURL, pgstore.Options{
			MaxConns: int32(conf.DBMaxConns),
			Logger:   L,
		})
		if err != nil {
			L.Error(ctx, err, "failed to connect to postgres")
			os.Exit(1)
		}
		if conf.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				L.Error(ctx, err, "schema migration failed")
				os.Exit(1)
			}
		}
		st = pg
	} else {
		L.Warn(ctx, "DATABASE_URL not set, using in-memory store; data is lost on restart")
		st = memstore.New()
	}
	defer st.Close()

	// route quota counters
	var rlStore ratelimit.Store
	var redisStore *ratelimit.RedisStore
	if conf.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		defer rc.Close()
		redisStore = ratelimit.NewRedisStore(rc, "da:ratelimit:")
		if err := redisStore.Ping(ctx); err != nil {
			// limiter fails open, so keep serving and let readiness report it
			L.Error(ctx, err, "redis ping failed", "redis_addr", conf.RedisAddr)
		}
		rlStore = redisStore
	} else {
		rlStore = ratelimit.NewMemoryStore()
	}

	secret := conf.JWTSecret
	if secret == "" {
		secret = ephemeralSecret()
		L.Warn(ctx, "JWT_SECRET not set, sessions will not survive a restart")
	}
	tokens, err := auth.NewTokenIssuer([]byte(secret), conf.SessionTTL,
		auth.WithSecureCookie(conf.Environment != "development"),
		auth.WithIssuer(v.AppName),
	)
	if err != nil {
		L.Error(ctx, err, "failed to create token issuer")
		os.Exit(1)
	}

	pol, err := policy.ForEnvironment(conf.Environment, conf.Origins())
	if err != nil {
		L.Error(ctx, err, "failed to build security policy")
		os.Exit(1)
	}

	san := sanitize.New(sanitize.WithFallbackHook(func(rule sanitize.Rule, err error) {
		m.ObserveSanitizerFallback(rule.String())
		L.Debug(ctx, "sanitizer fell back to secondary pass", "rule", rule.String(), "reason", err.Error())
	}))

	composer := secure.New(secure.Options{
		Policy:    pol,
		Limiter:   ratelimit.NewLimiter(rlStore),
		Gate:      auth.NewGate(tokens),
		Sanitizer: san,
		Observer:  m,
		Logger:    L,
	})

	routeOpts := lmshttp.Options{
		Logger:    L,
		Composer:  composer,
		Store:     st,
		Tokens:    tokens,
		Passwords: auth.Passwords{Cost: conf.BcryptCost},
		Metrics:   m,
		CORS:      pol.ChiCORS(),
	}
	if conf.StripeSecretKey != "" {
		sp, err := payments.NewStripe(conf.StripeSecretKey, conf.StripeWebhookSecret)
		if err != nil {
			L.Error(ctx, err, "failed to create stripe client")
			os.Exit(1)
		}
		routeOpts.Payments = sp
	}
	if conf.VimeoToken != "" {
		routeOpts.Video = video.NewClient(conf.VimeoToken)
	}
	if conf.UploadsS3Bucket != "" {
		up, err := uploads.New(ctx, uploads.Options{
			Logger:    L,
			Bucket:    conf.UploadsS3Bucket,
			Prefix:    conf.UploadsS3Prefix,
			AWSConfig: awsCfg,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create upload presigner")
			os.Exit(1)
		}
		routeOpts.Uploads = up
	}
	routes, err := lmshttp.New(routeOpts)
	if err != nil {
		L.Error(ctx, err, "failed to build API routes")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	checks := []health.Probe{
		gate.Probe(),
		health.Dependency("store", st, health.DefaultPingTimeout),
	}
	if redisStore != nil {
		checks = append(checks, health.Dependency("redis", redisStore, health.DefaultPingTimeout))
	}
	readiness := health.All(checks...)

	burst := ratelimit.NewBurst(ctx,
		ratelimit.WithRate(conf.BurstRate, conf.BurstSize),
		ratelimit.WithOnDenied(func(string) { m.IncBurstDenied() }),
		// logged once per ip until its bucket is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "burst limit triggered", "ip", ip)
		}),
	)

	apiStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Policy:       &pol,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		ClientIPOpts: httpmw.ClientIPOptions{
			TrustProxyHeaders: conf.TrustProxyHeaders,
			TrustedHops:       conf.TrustedHops,
		},
		RateLimitMW: burst.Middleware,
		MetricsMW:   m.Middleware,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		APIRoutes:   routes.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiStop(context.Background()) }()

	// ops listener refuses public peers on its own, security groups are the first line
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")
	gate.Set("draining")

	if conf.Environment != "development" {
		L.Info(context.Background(), "draining before closing listeners", "period", drainPeriod.String())
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(drainPeriod):
			L.Info(context.Background(), "drain period complete")
		case <-forceCh:
			L.Warn(context.Background(), "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func storeKind(c cfg.App) string {
	if c.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}

func limiterKind(c cfg.App) string {
	if c.RedisAddr != "" {
		return "redis"
	}
	return "memory"
}

// ephemeralSecret signs development sessions when no secret is configured.
func ephemeralSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	_, _ = conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
