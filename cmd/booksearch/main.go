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

	"golang.org/x/sync/errgroup"

	"github.com/bookworks/booksearch/internal/catalog"
	"github.com/bookworks/booksearch/internal/embedding"
	"github.com/bookworks/booksearch/internal/indexing"
	"github.com/bookworks/booksearch/internal/indexing/consumer"
	"github.com/bookworks/booksearch/internal/search"
	"github.com/bookworks/booksearch/internal/store"
	"github.com/bookworks/booksearch/internal/store/elastic"
	"github.com/bookworks/booksearch/pkg/config"
	"github.com/bookworks/booksearch/pkg/health"
	"github.com/bookworks/booksearch/pkg/kafka"
	"github.com/bookworks/booksearch/pkg/logger"
	"github.com/bookworks/booksearch/pkg/metrics"
	"github.com/bookworks/booksearch/pkg/middleware"
	"github.com/bookworks/booksearch/pkg/postgres"
	pkgredis "github.com/bookworks/booksearch/pkg/redis"
	"github.com/bookworks/booksearch/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting booksearch service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Document store. A down cluster degrades the service instead of
	// failing startup: search answers 503 and the consumer stays off.
	var docStore store.DocumentStore
	esStore, err := elastic.New(cfg.Elasticsearch)
	if err != nil {
		slog.Error("failed to create elasticsearch client", "error", err)
		os.Exit(1)
	}
	if err := resilience.Retry(ctx, "elasticsearch-bootstrap", resilience.RetryConfig{MaxAttempts: 5}, func() error {
		if err := esStore.Ping(ctx); err != nil {
			return err
		}
		return esStore.EnsureIndex(ctx)
	}); err != nil {
		slog.Warn("elasticsearch unavailable, search and indexing disabled", "error", err)
	} else {
		docStore = esStore
		slog.Info("connected to elasticsearch",
			"addresses", cfg.Elasticsearch.Addresses,
			"index", cfg.Elasticsearch.Index,
		)
	}

	// Embedding capability, verified with a warmup call much like a local
	// model load would be.
	var embedder embedding.Embedder
	embedClient := embedding.NewClient(cfg.Embedder)
	if _, err := embedClient.Embed(ctx, "warmup"); err != nil {
		slog.Warn("embedding server unavailable, embedding endpoints disabled", "error", err)
	} else {
		embedder = embedClient
		slog.Info("embedding server ready", "model", cfg.Embedder.Model, "dims", cfg.Embedder.Dimensions)
	}

	var queryCache *search.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, query caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = search.NewQueryCache(redisClient, cfg.Redis)
		slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	var audit *indexing.StatusAudit
	var pgClient *postgres.Client
	if cfg.Postgres.Enabled {
		pgClient, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, status audit disabled", "error", err)
		} else {
			defer pgClient.Close()
			audit = indexing.NewStatusAudit(pgClient.DB)
			slog.Info("index status audit enabled", "database", cfg.Postgres.Database)
		}
	}

	checker := health.NewChecker()
	checker.Register("elasticsearch", func(ctx context.Context) health.ComponentHealth {
		if docStore == nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: "not connected"}
		}
		if err := docStore.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("embedder", func(ctx context.Context) health.ComponentHealth {
		if embedder == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not available"}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if pgClient != nil {
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := pgClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	g, ctx := errgroup.WithContext(ctx)

	// The consumer runs only when both capabilities it writes with exist.
	if docStore != nil && embedder != nil {
		fetcher := catalog.NewFetcher(cfg.BooksAPI)
		processor := indexing.NewProcessor(fetcher, embedder, docStore, audit, m)
		reader := kafka.NewReader(cfg.Kafka, cfg.Kafka.BookEvents)
		loop := consumer.New(reader, processor.Process, cfg.Consumer, m)

		g.Go(func() error {
			slog.Info("consumer starting",
				"topic", cfg.Kafka.BookEvents,
				"group", cfg.Kafka.ConsumerGroup,
			)
			return loop.Run(ctx)
		})
		g.Go(func() error {
			<-ctx.Done()
			loop.Stop()
			return nil
		})
	} else {
		slog.Warn("consumer not started: document store or embedder unavailable")
	}

	h := search.New(embedder, docStore, queryCache, cfg.Search, m)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", h.Root)
	mux.HandleFunc("GET /health", checker.Handler())
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("POST /embed", h.Embed)
	mux.HandleFunc("POST /search/semantic", h.SemanticSearch)
	mux.HandleFunc("GET /cache/stats", h.CacheStats)
	mux.HandleFunc("POST /cache/invalidate", h.CacheInvalidate)

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	g.Go(func() error {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}
	slog.Info("booksearch service stopped")
}
