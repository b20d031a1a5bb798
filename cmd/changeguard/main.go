package main

import (
	"context"
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
	"go.opentelemetry.io/otel"

	"github.com/Strob0t/ChangeGuard/internal/adapter/github"
	cghttp "github.com/Strob0t/ChangeGuard/internal/adapter/http"
	"github.com/Strob0t/ChangeGuard/internal/adapter/litellm"
	"github.com/Strob0t/ChangeGuard/internal/adapter/memory"
	cgnats "github.com/Strob0t/ChangeGuard/internal/adapter/nats"
	"github.com/Strob0t/ChangeGuard/internal/adapter/natskv"
	cgotel "github.com/Strob0t/ChangeGuard/internal/adapter/otel"
	"github.com/Strob0t/ChangeGuard/internal/adapter/policyfile"
	"github.com/Strob0t/ChangeGuard/internal/adapter/postgres"
	"github.com/Strob0t/ChangeGuard/internal/adapter/ristretto"
	"github.com/Strob0t/ChangeGuard/internal/adapter/tiered"
	"github.com/Strob0t/ChangeGuard/internal/adapter/ws"
	"github.com/Strob0t/ChangeGuard/internal/config"
	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/logger"
	"github.com/Strob0t/ChangeGuard/internal/middleware"
	"github.com/Strob0t/ChangeGuard/internal/port/cache"
	"github.com/Strob0t/ChangeGuard/internal/port/database"
	"github.com/Strob0t/ChangeGuard/internal/port/eventstore"
	"github.com/Strob0t/ChangeGuard/internal/port/messagequeue"
	"github.com/Strob0t/ChangeGuard/internal/port/notifier"
	"github.com/Strob0t/ChangeGuard/internal/port/policysource"
	"github.com/Strob0t/ChangeGuard/internal/resilience"
	"github.com/Strob0t/ChangeGuard/internal/secrets"
	"github.com/Strob0t/ChangeGuard/internal/service"
)

// policyL1Expire bounds how long a replica serves a policy document from
// memory before re-reading the shared KV bucket.
const policyL1Expire = 10 * time.Minute

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	var err error
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = runMigrate(os.Args[2:])
	} else {
		err = run(os.Args[1:])
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath)

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log.Logger)

	vault, err := secrets.NewVault(secrets.Chain(
		secrets.EnvLoader(secrets.WebhookSecret),
		secrets.FileLoader(secrets.WebhookSecret),
	))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	webhookSecret := vault.Lookup(secrets.WebhookSecret, cfg.Server.WebhookSecret)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"ingress_mode", cfg.Server.IngressMode,
		"policy_source", cfg.Policy.Source,
		"llm_enabled", cfg.LLM.Enabled,
		"webhook_secret", vault.Redacted(secrets.WebhookSecret),
	)

	ctx := context.Background()

	// --- Telemetry ---

	tel, err := cgotel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()
	metrics, err := cgotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	var (
		store  database.Store
		events eventstore.Store
		pinger cghttp.Pinger
	)
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")

		applied, err := postgres.RunMigrations(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		for _, m := range applied {
			slog.Info("migration applied", "version", m.Version, "source", m.Source, "duration_ms", m.Duration.Milliseconds())
		}

		pg := postgres.NewStore(pool)
		store, events, pinger = pg, postgres.NewEventStore(pool), pg
	} else {
		mem := memory.NewStore()
		store, events, pinger = mem, mem, mem
		slog.Warn("postgres not configured, evaluations are kept in memory")
	}

	var (
		queue   messagequeue.Queue
		natsQ   *cgnats.Queue
		l2Cache cache.Cache
	)
	if cfg.NATS.URL != "" {
		natsQ, err = cgnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsQ.Drain() }()
		queue = natsQ

		kv, err := natsQ.KeyValue(ctx, cfg.NATS.KVBucket, 0)
		if err != nil {
			return fmt.Errorf("policy kv: %w", err)
		}
		l2Cache = natskv.New(kv)
	}

	l1Cache, err := ristretto.New(cfg.Cache.L1MaxBytes)
	if err != nil {
		return fmt.Errorf("policy cache: %w", err)
	}
	defer l1Cache.Close()
	if err := cgotel.ObservePolicyCacheHitRatio(otel.GetMeterProvider(), l1Cache.HitRatio); err != nil {
		return fmt.Errorf("policy cache metrics: %w", err)
	}
	var policyCache cache.Cache = l1Cache
	if l2Cache != nil {
		policyCache = tiered.New(l1Cache, l2Cache, policyL1Expire)
	}

	// --- Source control ---

	retry := resilience.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}
	ghClient, err := github.NewClient(cfg.GitHub,
		resilience.NewBreaker("github", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout), retry)
	if err != nil {
		return fmt.Errorf("github: %w", err)
	}

	var source policysource.Source
	switch cfg.Policy.Source {
	case config.PolicySourceGitHub:
		source = github.NewPolicySource(ghClient, cfg.GitHub.PolicyPath)
	default:
		source = policyfile.NewSource(cfg.Policy.Dir)
	}

	// --- Services ---

	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
	defer hub.Close()

	policySvc := service.NewPolicyService(source, policyCache)
	projectionSvc := service.NewProjectionService(store, events, hub, queue)
	evalSvc := service.NewEvaluationService(store, events, policySvc,
		github.NewEvidenceFetcher(ghClient),
		github.NewPublisher(ghClient, cfg.GitHub.CheckName, cfg.GitHub.DetailsURL),
		projectionSvc, cfg.Evaluation)
	evalSvc.SetMetrics(metrics)
	if cfg.LLM.Enabled {
		classifier := litellm.NewClassifier(cfg.LLM,
			resilience.NewBreaker("llm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout), retry)
		evalSvc.SetClassifier(classifier, cfg.LLM.MaxDiffBytes)
		slog.Info("llm risk classifier enabled", "model", cfg.LLM.Model)
	}
	ingressSvc := service.NewIngressService(evalSvc, queue, cfg.Server.IngressMode)

	notifiers, err := buildNotifiers(cfg.Alerts)
	if err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	if len(notifiers) > 0 {
		statuses := make([]evaluation.Status, len(cfg.Alerts.Statuses))
		for i, st := range cfg.Alerts.Statuses {
			statuses[i] = evaluation.Status(st)
		}
		projectionSvc.SetAlerts(service.NewAlertService(notifiers, statuses, cfg.GitHub.DetailsURL, cfg.Alerts.Timeout))
		slog.Info("review alerts enabled", "notifiers", len(notifiers), "statuses", cfg.Alerts.Statuses)
	}

	if cfg.Server.IngressMode == config.IngressQueue {
		stopConsumer, err := ingressSvc.StartConsumer(ctx)
		if err != nil {
			return fmt.Errorf("evaluation consumer: %w", err)
		}
		defer stopConsumer()
		slog.Info("evaluation consumer started")
	}

	// --- HTTP ---

	handlers := &cghttp.Handlers{
		Ingress:    ingressSvc,
		Projection: projectionSvc,
		Store:      pinger,
		Queue:      queue,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(cgotel.HTTPMiddleware(cfg.Telemetry.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cghttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cghttp.SecurityHeaders)

	r.Handle("/metrics", tel.MetricsHandler)
	r.Get("/ws", hub.HandleWS)

	cghttp.MountRoutes(r, handlers, webhookSecret, cfg.Server.BodyLimit,
		cghttp.CORS(cfg.Server.CORSOrigin),
		limiter.Handler,
		chimw.Timeout(30*time.Second),
	)

	addr := ":" + cfg.Server.Port

	// Sync ingress holds the delivery open for the whole evaluation.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Evaluation.Timeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

wait:
	for {
		select {
		case <-reload:
			reloadConfig(holder, vault, log)
		case err := <-serverErr:
			return fmt.Errorf("server: %w", err)
		case <-done:
			break wait
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// reloadConfig re-reads the config file and secrets. Only the log level and
// secrets take effect without a restart.
func reloadConfig(holder *config.Holder, vault *secrets.Vault, log *logger.Logger) {
	if err := holder.Reload(); err != nil {
		slog.Error("config reload failed", "error", err)
	} else {
		log.SetLevel(holder.Get().Logging.Level)
		slog.Info("config reloaded", "log_level", holder.Get().Logging.Level)
	}
	if err := vault.Reload(); err != nil {
		slog.Error("secret reload failed", "error", err)
	}
}

// buildNotifiers creates a notifier per configured chat webhook.
func buildNotifiers(cfg config.Alerts) ([]notifier.Notifier, error) {
	return notifier.Build(map[string]notifier.Endpoint{
		"slack":   {WebhookURL: cfg.SlackWebhookURL, Timeout: cfg.Timeout},
		"discord": {WebhookURL: cfg.DiscordWebhookURL, Timeout: cfg.Timeout},
	})
}

// originPatterns turns the CORS origin URL into a websocket origin pattern.
func originPatterns(corsOrigin string) []string {
	if corsOrigin == "" {
		return nil
	}
	u, err := url.Parse(corsOrigin)
	if err != nil || u.Host == "" {
		return []string{corsOrigin}
	}
	return []string{u.Host}
}
