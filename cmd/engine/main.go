package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/handler"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/notify"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/relatedness"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/internal/repository"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/resilience"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults and RE_* env vars when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("engine exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("engine stopped")
}

func run(cfg *config.Config) error {
	slog.Info("starting relatedness engine",
		"port", cfg.Server.Port,
		"tag_weight", cfg.Engine.TagWeight,
		"noun_weight", cfg.Engine.NounWeight,
		"rebuild_debounce", cfg.Engine.RebuildDebounce,
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)

	checker := health.NewChecker()

	var resultCache *cache.ResultCache
	var redisPing func(context.Context) error
	if cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			resultCache = cache.New(cache.NewRedisBackend(redisClient), cache.Options{
				TTL:     cfg.Redis.CacheTTL,
				Metrics: m,
			})
			redisPing = redisClient.Ping
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	checker.Register("redis", health.PingCheck(redisPing, true))

	var notifier *notify.Notifier
	var onPublish func(*index.Snapshot)
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished)
		defer producer.Close()
		notifier = notify.New(producer, cfg.Engine.NotifyBuffer)
		notifier.Start(ctx)
		onPublish = notifier.Published
		slog.Info("index notifier enabled", "topic", cfg.Kafka.Topics.IndexPublished)
	}

	eng, err := engine.New(engine.Options{
		Weights:         relatedness.Weights{Tag: cfg.Engine.TagWeight, Noun: cfg.Engine.NounWeight},
		RebuildDebounce: cfg.Engine.RebuildDebounce,
		Metrics:         m,
		Cache:           resultCache,
		OnPublish:       onPublish,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		if err := eng.Ready(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		stats := eng.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("generation %d, %d posts", stats.Index.Generation, stats.Index.Posts),
		}
	})

	if cfg.Metrics.Enabled {
		status := map[string]metrics.StatusFunc{
			"engine": func() any { return eng.Stats() },
		}
		if resultCache != nil {
			status["cache"] = func() any { return cacheStatus(resultCache) }
		}
		shutdownMetrics, err := metrics.StartServer(metrics.ServerOptions{Port: cfg.Metrics.Port, Status: status})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(shutdownCtx)
		}()
	}

	var repo ingest.Repository
	if cfg.Postgres.Enabled() {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		posts := repository.NewPosts(db)
		if err := posts.EnsureSchema(ctx); err != nil {
			return err
		}
		loaded, err := ingest.Bootstrap(ctx, posts, eng, cfg.Engine.BootstrapTimeout, resilience.RetryConfig{MaxAttempts: 5})
		if err != nil {
			return err
		}
		if _, err := eng.Rebuild(ctx); err != nil {
			return fmt.Errorf("building initial index: %w", err)
		}
		repo = posts
		checker.Register("postgres", health.PingCheck(db.Ping, false))
		slog.Info("post repository enabled", "host", cfg.Postgres.Host, "posts_loaded", loaded)
	}
	ingestor := ingest.NewIngestor(eng, repo)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	if cfg.Kafka.Enabled() {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.PostIngest, ingest.HandleMessage(ingestor))
		defer consumer.Close()
		g.Go(func() error { return consumer.Start(gctx) })
		slog.Info("post ingest consumer enabled", "topic", cfg.Kafka.Topics.PostIngest, "group", cfg.Kafka.ConsumerGroup)
	}

	h := handler.New(eng, ingestor, cfg.Recommend.DefaultLimit, cfg.Recommend.MaxLimit)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	proxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	if cfg.Server.WriteRateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.WriteRateLimit, time.Minute)
		go limiter.Cleanup(gctx, 5*time.Minute)
		chain = middleware.WriteRateLimit(limiter, proxies)(chain)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins))(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Tracing(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		slog.Info("engine listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if notifier != nil {
		notifier.Close()
	}
	return err
}

func cacheStatus(c *cache.ResultCache) map[string]any {
	hits, misses := c.Stats()
	return map[string]any{
		"epoch":   c.Epoch(),
		"hits":    hits,
		"misses":  misses,
		"breaker": c.Breaker(),
	}
}
