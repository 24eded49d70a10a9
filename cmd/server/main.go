package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/automaxprocs/maxprocs"

	auditsvc "medgate/internal/audit"
	"medgate/internal/health"
	jwttoken "medgate/internal/jwt_token"
	"medgate/internal/platform/config"
	"medgate/internal/platform/httpserver"
	"medgate/internal/platform/logger"
	"medgate/internal/platform/metrics"
	platformredis "medgate/internal/platform/redis"
	"medgate/internal/proxy"
	"medgate/internal/reportgen"
	"medgate/internal/reportgen/providers"
	"medgate/internal/targets"
	audit "medgate/pkg/platform/audit"
	auditmetrics "medgate/pkg/platform/audit/metrics"
	"medgate/pkg/platform/audit/publisher"
	"medgate/pkg/platform/audit/store/memory"
	"medgate/pkg/platform/audit/store/postgres"
	"medgate/pkg/platform/audit/stream"
	"medgate/pkg/platform/circuit"
	"medgate/pkg/platform/middleware/admin"
	"medgate/pkg/platform/middleware/auth"
	"medgate/pkg/platform/middleware/metadata"
	"medgate/pkg/platform/middleware/request"
	"medgate/pkg/platform/middleware/requesttime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "medgate: %v\n", err)
		os.Exit(1)
	}
}

// closers run in reverse registration order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, logCloser := logger.New(cfg.Log)
	defer logCloser.Close()
	slog.SetDefault(log)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Info(fmt.Sprintf(format, args...))
	})); err != nil {
		log.Warn("failed to set GOMAXPROCS", "error", err)
	}
	if cfg.UsesDefaultSigningKey() {
		log.Warn("using the development JWT signing key; set JWT_SIGNING_KEY in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.run()

	appMetrics := metrics.New()
	var probes []health.Probe

	// Audit pipeline.
	store, db, err := openAuditStore(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if db != nil {
		cleanup.add(func() { _ = db.Close() })
		probes = append(probes, health.NewFuncProbe("audit-store", db.PingContext))
	}

	sealer := audit.NewSealer([]byte(cfg.Audit.HashKey))
	if err := resumeChain(ctx, store, sealer); err != nil {
		return err
	}

	auditMetrics := auditmetrics.New()
	pubOpts := []publisher.Option{
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
		publisher.WithEnqueueTimeout(cfg.Audit.EnqueueTimeout),
		publisher.WithLogger(log),
		publisher.WithMetrics(auditMetrics),
		publisher.WithSealer(sealer),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := stream.NewKafkaSink(stream.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: "medgate",
		})
		if err != nil {
			return err
		}
		cleanup.add(sink.Close)
		if err := sink.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			log.Warn("audit topic bootstrap failed; entries are still stored", "topic", cfg.Kafka.Topic, "error", err)
		}
		pubOpts = append(pubOpts, publisher.WithSink(sink))
		probes = append(probes, health.NewFuncProbe("audit-stream", sink.Ping))
	}
	pub := publisher.NewPublisher(store, pubOpts...)
	cleanup.add(func() { _ = pub.Close() })

	auditService := auditsvc.NewService(store, sealer, pub,
		auditsvc.WithPrivilegedRoles(cfg.Audit.PrivilegedRoles),
		auditsvc.WithExportLimit(cfg.Audit.ExportLimit),
		auditsvc.WithLogger(log),
		auditsvc.WithMetrics(auditMetrics),
	)
	retention, err := auditsvc.NewRetention(auditService, cfg.Audit.RetentionSchedule, cfg.Audit.Retention, log)
	if err != nil {
		return err
	}
	retention.Start()
	cleanup.add(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		retention.Stop(stopCtx)
	})

	// Redis backs the report idempotency cache when configured.
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var reportCache reportgen.Cache = reportgen.NewLRUCache(cfg.Reports.CacheSize, cfg.Reports.CacheTTL)
	if redisClient != nil {
		cleanup.add(func() { _ = redisClient.Close() })
		reportCache = reportgen.NewRedisCache(redisClient.Client, cfg.Reports.CacheTTL)
		probes = append(probes, health.NewFuncProbe("redis", redisClient.Health))
	}

	// Targets, providers and their breakers.
	registry, err := targets.New(cfg.Targets)
	if err != nil {
		return err
	}
	catalog, err := buildCatalog(cfg, registry)
	if err != nil {
		return err
	}

	breakers := registry.Breakers()
	for _, s := range breakers.Snapshots() {
		appMetrics.SetBreakerState(s.Name, s.State)
	}
	go breakers.Watch(ctx, func(t circuit.Transition) {
		appMetrics.ObserveTransition(t)
		log.Warn("circuit breaker state change",
			"breaker", t.Name,
			"from", t.From.String(),
			"to", t.To.String(),
		)
	})

	probeClient := &http.Client{}
	targetProbes := make([]health.Probe, 0, len(registry.All()))
	for _, t := range registry.All() {
		targetProbes = append(targetProbes, health.NewHTTPProbe(t, probeClient))
	}
	probes = append(targetProbes, probes...)
	aggregator := health.NewAggregator(probes,
		health.WithProbeTimeout(cfg.Health.ProbeTimeout),
		health.WithLogger(log),
		health.WithMetrics(health.NewMetrics()),
	)

	proxyRouter := proxy.New(registry, pub,
		proxy.WithLogger(log),
		proxy.WithMetrics(proxy.NewMetrics()),
	)

	reportMetrics := reportgen.NewMetrics()
	reportService := reportgen.NewService(catalog,
		reportgen.NewOrchestrator(pub,
			reportgen.WithLogger(log),
			reportgen.WithMetrics(reportMetrics),
		),
		reportgen.WithCache(reportCache),
		reportgen.WithServiceLogger(log),
		reportgen.WithServiceMetrics(reportMetrics),
	)

	// HTTP surface.
	validator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer))
	requireAuth := auth.RequireAuth(validator, pub, log)
	metricsPolicy := auth.Policy{
		Roles:       cfg.Audit.PrivilegedRoles,
		Permissions: []string{cfg.Server.MetricsPermission},
	}
	privileged := auth.Policy{Roles: auditService.PrivilegedRoles()}

	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", request.HeaderRequestID, reportgen.HeaderIdempotencyKey},
		ExposedHeaders:   []string{request.HeaderRequestID, "X-Export-Count"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(log))
	r.Use(chimw.Recoverer)
	r.Use(appMetrics.Middleware)

	healthHandler := health.NewHandler(aggregator, breakers, pub, log,
		requireAuth, auth.RequireAccess(metricsPolicy, pub, log))
	healthHandler.Register(r)
	healthHandler.RegisterAdmin(r, admin.RequireAdminToken(cfg.Server.AdminToken, log))
	r.Handle("/metrics/prometheus", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		proxyRouter.Register(r)
		reportgen.NewHandler(reportService, log).Register(r)
		auditsvc.NewHandler(auditService, log, auth.RequireAccess(privileged, pub, log)).Register(r)
	})

	srv := httpserver.New(cfg.Server.Addr, r)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("medgate listening",
			"addr", cfg.Server.Addr,
			"targets", len(registry.All()),
			"providers", len(catalog.Plan(reportgen.Input{})),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("medgate stopped")
	return nil
}

// openAuditStore connects to PostgreSQL when configured, otherwise it falls
// back to the in-memory store. The returned db is nil for the memory store.
func openAuditStore(ctx context.Context, cfg config.PostgresConfig) (audit.Store, *sql.DB, error) {
	if cfg.URL == "" {
		slog.Warn("DATABASE_URL not set; audit entries are kept in memory only")
		return memory.NewInMemoryStore(), nil, nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect audit database: %w", err)
	}
	store := postgres.New(db)
	if err := store.EnsureSchema(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// resumeChain continues the hash chain from the newest stored entry.
func resumeChain(ctx context.Context, store audit.Store, sealer *audit.Sealer) error {
	res, err := store.Query(ctx, audit.Filter{}, audit.Page{Number: 1, Size: 1})
	if err != nil {
		return fmt.Errorf("load audit chain head: %w", err)
	}
	if len(res.Entries) > 0 {
		sealer.Resume(res.Entries[0].Hash)
	}
	return nil
}

// buildCatalog creates the report providers. Cloud providers get their own
// breakers, registered with the target breakers so they show up in /metrics;
// the local provider shares the breaker of the target it runs on.
func buildCatalog(cfg *config.Config, registry *targets.Registry) (*reportgen.Catalog, error) {
	pc := cfg.Providers
	httpClient := &http.Client{}

	var ranking []providers.Kind
	for _, name := range pc.Ranking {
		k, ok := providers.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("PROVIDER_RANKING: unknown provider %q", name)
		}
		ranking = append(ranking, k)
	}

	cloud := func(kind providers.Kind, p config.ProviderConfig, client providers.Client) providers.Provider {
		b := circuit.New(string(kind), breakerOptions(cfg.Breaker)...)
		registry.Breakers().Add(b)
		prov := providers.Provider{
			Kind:    kind,
			Name:    string(kind),
			Model:   p.Model,
			Timeout: p.Timeout,
			Breaker: b,
		}
		if p.APIKey != "" {
			prov.Client = client
		}
		return prov
	}

	ps := []providers.Provider{
		cloud(providers.KindClaude, pc.Claude,
			providers.NewClaudeClient(pc.Claude.APIKey, pc.Claude.BaseURL, pc.Claude.Model, httpClient)),
		cloud(providers.KindOpenAI, pc.OpenAI,
			providers.NewOpenAIClient(string(providers.KindOpenAI), pc.OpenAI.APIKey, pc.OpenAI.BaseURL, pc.OpenAI.Model, httpClient)),
		cloud(providers.KindGemini, pc.Gemini,
			providers.NewGeminiClient(pc.Gemini.APIKey, pc.Gemini.BaseURL, pc.Gemini.Model, httpClient)),
	}

	if pc.LocalTarget != "" {
		t, ok := registry.Get(pc.LocalTarget)
		if !ok {
			return nil, fmt.Errorf("providers: local target %q is not configured", pc.LocalTarget)
		}
		baseURL := pc.Local.BaseURL
		if baseURL == "" {
			baseURL = t.BaseURL.JoinPath("v1").String()
		}
		if _, err := url.Parse(baseURL); err != nil {
			return nil, fmt.Errorf("LOCAL_AI_OPENAI_URL: %w", err)
		}
		ps = append(ps, providers.Provider{
			Kind:    providers.KindLocal,
			Name:    string(providers.KindLocal),
			Model:   pc.Local.Model,
			Timeout: pc.Local.Timeout,
			Breaker: t.Breaker,
			Client:  providers.NewOpenAIClient(string(providers.KindLocal), pc.Local.APIKey, baseURL, pc.Local.Model, httpClient),
		})
	}
	return reportgen.NewCatalog(ranking, ps...), nil
}

func breakerOptions(b config.BreakerConfig) []circuit.Option {
	return []circuit.Option{
		circuit.WithErrorThresholdPercentage(b.ErrorThresholdPercentage),
		circuit.WithResetTimeout(b.ResetTimeout),
		circuit.WithRollingWindow(b.RollingCountTimeout, b.RollingCountBuckets),
		circuit.WithVolumeThreshold(b.VolumeThreshold),
	}
}
