package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ModGuard/internal/adapter/anthropic"
	"github.com/Strob0t/ModGuard/internal/adapter/hashembed"
	mghttp "github.com/Strob0t/ModGuard/internal/adapter/http"
	"github.com/Strob0t/ModGuard/internal/adapter/litellm"
	"github.com/Strob0t/ModGuard/internal/adapter/memstore"
	mgnats "github.com/Strob0t/ModGuard/internal/adapter/nats"
	"github.com/Strob0t/ModGuard/internal/adapter/natskv"
	"github.com/Strob0t/ModGuard/internal/adapter/otel"
	"github.com/Strob0t/ModGuard/internal/adapter/postgres"
	mgredis "github.com/Strob0t/ModGuard/internal/adapter/redis"
	"github.com/Strob0t/ModGuard/internal/adapter/ristretto"
	"github.com/Strob0t/ModGuard/internal/adapter/slack"
	"github.com/Strob0t/ModGuard/internal/adapter/sqlite"
	"github.com/Strob0t/ModGuard/internal/adapter/tiered"
	"github.com/Strob0t/ModGuard/internal/adapter/ws"
	"github.com/Strob0t/ModGuard/internal/config"
	"github.com/Strob0t/ModGuard/internal/embedding"
	"github.com/Strob0t/ModGuard/internal/logger"
	"github.com/Strob0t/ModGuard/internal/middleware"
	"github.com/Strob0t/ModGuard/internal/port/cache"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore"
	"github.com/Strob0t/ModGuard/internal/port/llm"
	"github.com/Strob0t/ModGuard/internal/port/messagequeue"
	"github.com/Strob0t/ModGuard/internal/port/notifier"
	"github.com/Strob0t/ModGuard/internal/resilience"
	"github.com/Strob0t/ModGuard/internal/service"
	"github.com/Strob0t/ModGuard/internal/similarity"
	"github.com/Strob0t/ModGuard/internal/workflow"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
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
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"checkpoint_backend", cfg.Checkpoint.Backend,
		"embedder", cfg.Similarity.Embedder,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := otel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	var queue *mgnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = mgnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
	} else {
		slog.Warn("nats disabled, events are not published")
	}

	checkpoints, closeCheckpoints, err := openCheckpointStore(ctx, cfg, pool, queue)
	if err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}
	defer closeCheckpoints()

	embedCache, closeCache, err := openCache(ctx, cfg, queue)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer closeCache()

	// --- Models ---

	retry := resilience.RetryPolicy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
	}
	llmClient := litellm.NewClient(litellm.Options{
		BaseURL:        cfg.LiteLLM.URL,
		MasterKey:      cfg.LiteLLM.MasterKey,
		Model:          cfg.LiteLLM.Model,
		EmbeddingModel: cfg.LiteLLM.EmbeddingModel,
		Breaker:        resilience.NewBreaker("litellm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
		Retry:          retry,
	})

	var classifier llm.Classifier = llmClient
	if cfg.Anthropic.APIKey != "" {
		classifier = anthropic.NewClassifier(cfg.Anthropic.APIKey, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens,
			resilience.NewBreaker("anthropic", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout), retry)
		slog.Info("classifier: anthropic", "model", cfg.Anthropic.Model)
	} else {
		slog.Info("classifier: litellm", "model", cfg.LiteLLM.Model)
	}
	classifier = resilience.LimitClassifier(classifier, cfg.Limits.Classifier)

	var embedder llm.Embedder
	switch cfg.Similarity.Embedder {
	case "hash":
		embedder = hashembed.New(cfg.Similarity.HashDimension)
	default:
		embedder = embedding.NewCached(llmClient, embedCache, cfg.LiteLLM.EmbeddingModel, cfg.Cache.TTL)
	}

	// --- Similarity ---

	idxOpts := similarity.Options{MaxDistance: cfg.Similarity.MaxDistance}
	if cfg.Similarity.Persist {
		idxOpts.Store = postgres.NewVectorStore(pool)
	}
	index := similarity.New(idxOpts)
	if err := index.Load(ctx); err != nil {
		return fmt.Errorf("similarity index: %w", err)
	}
	sim := service.NewSimilarityService(index, embedder, &cfg.Similarity)
	if index.Count(similarity.CollectionPolicy) == 0 {
		if docs, err := service.DefaultPolicies(); err == nil {
			if n, err := service.SeedPolicies(ctx, sim, docs); err != nil {
				slog.Warn("policy seeding incomplete", "seeded", n, "error", err)
			}
		}
	}

	// --- Services ---

	store := postgres.NewStore(pool)
	hub := ws.NewHub()

	notifiers := []notifier.Notifier{}
	if cfg.Notifications.SlackToken != "" {
		notifiers = append(notifiers, slack.NewNotifier(cfg.Notifications.SlackToken, cfg.Notifications.SlackChannel))
	}
	alerts := service.NewNotificationService(notifiers, cfg.Notifications.Events)

	engineOpts := []workflow.Option{
		workflow.WithObserver(otel.NewObserver(metrics)),
		workflow.WithStaleAfter(cfg.Checkpoint.StaleAfter),
	}
	modSvc, err := service.NewModerationService(store, checkpoints, classifier, sim, &cfg.Scoring, &cfg.Prompts, engineOpts...)
	if err != nil {
		return fmt.Errorf("moderation service: %w", err)
	}
	appealSvc, err := service.NewAppealService(store, checkpoints, classifier, sim, &cfg.Scoring, &cfg.Prompts, engineOpts...)
	if err != nil {
		return fmt.Errorf("appeal service: %w", err)
	}
	modSvc.SetBroadcaster(hub)
	modSvc.SetAlerts(alerts)
	modSvc.SetRecorder(metrics)
	appealSvc.SetBroadcaster(hub)
	appealSvc.SetAlerts(alerts)
	appealSvc.SetRecorder(metrics)
	if queue != nil {
		modSvc.SetQueue(queue)
		appealSvc.SetQueue(queue)
	}

	reviewSvc := service.NewReviewService(store, modSvc, appealSvc, hub)
	statsSvc := service.NewStatsService(store, &cfg.Scheduler)
	if err := statsSvc.StartScheduler(ctx); err != nil {
		return fmt.Errorf("stats scheduler: %w", err)
	}
	defer statsSvc.Stop()

	if queue != nil {
		cancelSub, err := queue.Subscribe(ctx, messagequeue.SubjectSubmission, modSvc.HandleSubmission)
		if err != nil {
			return fmt.Errorf("submission subscriber: %w", err)
		}
		defer cancelSub()
	}

	// --- HTTP ---

	handlers := &mghttp.Handlers{
		Moderation: modSvc,
		Appeals:    appealSvc,
		Review:     reviewSvc,
		Stats:      statsSvc,
		Checks:     healthChecks(pool, queue, llmClient),
	}

	var submit []func(http.Handler) http.Handler
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)
		submit = append(submit, limiter.Handler)
	}
	if cfg.Server.IdempotencyTTL > 0 {
		submit = append(submit, middleware.Idempotency(embedCache, cfg.Server.IdempotencyTTL))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(mghttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(mghttp.SecurityHeaders)
	r.Use(mghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(otel.HTTPMiddleware(cfg.OTEL.ServiceName))

	mghttp.MountRoutes(r, handlers, mghttp.RouteOptions{Submit: submit, WS: hub.HandleWS})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go watchReload(ctx, holder)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if queue != nil {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	}
	return srv.Shutdown(shutdownCtx)
}

// openCheckpointStore selects the checkpoint backend named in the config.
func openCheckpointStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, queue *mgnats.Queue) (checkpointstore.Store, func(), error) {
	noop := func() {}
	switch cfg.Checkpoint.Backend {
	case "memory":
		slog.Warn("in-memory checkpoints do not survive a restart")
		return memstore.NewCheckpointStore(), noop, nil
	case "postgres":
		return postgres.NewCheckpointStore(pool), noop, nil
	case "nats":
		if queue == nil {
			return nil, nil, errors.New("nats checkpoint backend requires nats.url")
		}
		kv, err := queue.KeyValue(ctx, cfg.NATS.CheckpointBucket, 0)
		if err != nil {
			return nil, nil, err
		}
		return natskv.NewCheckpointStore(kv), noop, nil
	case "redis":
		s, err := mgredis.Open(ctx, mgredis.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

// openCache builds the embedding and idempotency cache: ristretto in
// process, backed by a NATS KV bucket when NATS is available.
func openCache(ctx context.Context, cfg *config.Config, queue *mgnats.Queue) (cache.Cache, func(), error) {
	l1, err := ristretto.New(int(cfg.Cache.L1MaxSizeMB))
	if err != nil {
		return nil, nil, err
	}
	if queue == nil {
		return l1, l1.Close, nil
	}
	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		l1.Close()
		return nil, nil, fmt.Errorf("l2 bucket: %w", err)
	}
	return tiered.New(l1, natskv.New(kv), cfg.Cache.TTL), l1.Close, nil
}

func healthChecks(pool *pgxpool.Pool, queue *mgnats.Queue, llmClient *litellm.Client) []mghttp.HealthCheck {
	checks := []mghttp.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "litellm", Check: func(ctx context.Context) error {
			ok, err := llmClient.Health(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("unhealthy")
			}
			return nil
		}},
	}
	if queue != nil {
		checks = append(checks, mghttp.HealthCheck{Name: "nats", Check: func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}})
	}
	return checks
}

// watchReload re-reads the config on SIGHUP and applies the log level.
// Other settings take effect on restart.
func watchReload(ctx context.Context, holder *config.Holder) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := holder.Reload(); err != nil {
				continue
			}
			logger.SetLevel(holder.Get().Logging.Level)
		}
	}
}
