// askdb-api serves the natural-language analytics API: it routes questions,
// generates and executes SQL, stores result artifacts, and optionally emails
// them to the requester.
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

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/aravula7/agentic-rag-analytics/internal/cache"
	"github.com/aravula7/agentic-rag-analytics/internal/config"
	"github.com/aravula7/agentic-rag-analytics/internal/executor"
	"github.com/aravula7/agentic-rag-analytics/internal/llm"
	"github.com/aravula7/agentic-rag-analytics/internal/mailer"
	"github.com/aravula7/agentic-rag-analytics/internal/metrics"
	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
	"github.com/aravula7/agentic-rag-analytics/internal/routing"
	"github.com/aravula7/agentic-rag-analytics/internal/schema"
	"github.com/aravula7/agentic-rag-analytics/internal/server"
	"github.com/aravula7/agentic-rag-analytics/internal/sqlgen"
	"github.com/aravula7/agentic-rag-analytics/internal/storage"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// schemaCacheTTL bounds how long a retrieved schema context is reused before
// the catalog is walked again.
const schemaCacheTTL = 5 * time.Minute

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	envFile := flag.String("env-file", "", "optional .env file to load")
	flag.Parse()

	if *showVersion {
		fmt.Printf("askdb-api %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		// Best effort; a missing .env just means the environment is already set.
		_ = godotenv.Load()
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.TimeValue(a.Value.Time().UTC())
			}
			return a
		},
	}))

	if err := run(log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	log.Info("starting askdb-api", "version", version, "commit", commit)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	store, err := storage.New(ctx, storage.Config{
		EndpointURL: cfg.S3EndpointURL,
		Bucket:      cfg.S3Bucket,
		AccessKey:   cfg.AWSAccessKey,
		SecretKey:   cfg.AWSSecretKey,
		Region:      cfg.AWSRegion,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}

	var resultCache *cache.Cache
	if cfg.CacheEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Cache degradation is not fatal; every operation degrades to a miss.
			log.Warn("redis unreachable, cache will degrade to misses", "addr", cfg.RedisAddr, "error", err)
		}
		resultCache = cache.New(rdb, cfg.CacheTTL, log)
	} else {
		log.Info("result cache disabled by configuration")
	}

	routerLLM := llm.NewAnthropicClient(cfg.AnthropicAPIKey, anthropic.Model(cfg.RouterModel), cfg.MaxTokens, log)
	sqlLLM := llm.NewAnthropicClient(cfg.AnthropicAPIKey, anthropic.Model(cfg.SQLModel), cfg.MaxTokens, log)

	retriever := schema.New(pool, schemaCacheTTL, log)
	defer retriever.Close()

	exec := executor.New(pool, store, clockwork.NewRealClock(), cfg.QueryTimeout, log)

	var deliverer pipeline.Deliverer
	var worker *mailer.Worker
	if cfg.DeliveryEnabled() {
		m := mailer.New(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPUser,
		}, exec, log)
		worker = mailer.NewWorker(m, 64, log)
		worker.Start()
		defer worker.Stop()
		deliverer = worker
	} else {
		log.Info("email delivery disabled, SMTP credentials not configured")
	}

	pipe, err := pipeline.New(pipeline.Config{
		Logger:         log,
		Router:         routing.New(routerLLM, log),
		Generator:      sqlgen.New(sqlLLM, retriever, log),
		Executor:       exec,
		Cache:          cacheOrNil(resultCache),
		Deliverer:      deliverer,
		MaxSQLAttempts: cfg.MaxSQLAttempts,
	})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	srv := server.New(pipe, cacheAdminOrNil(resultCache), pool, store, cfg.CORSOrigins, version, log)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("api listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server failed: %w", err)
		}
	}()
	go func() {
		log.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown incomplete", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics shutdown incomplete", "error", err)
	}
	return nil
}

// cacheOrNil avoids handing the pipeline a typed-nil interface when caching
// is disabled.
func cacheOrNil(c *cache.Cache) pipeline.ResultCache {
	if c == nil {
		return nil
	}
	return c
}

func cacheAdminOrNil(c *cache.Cache) server.CacheAdmin {
	if c == nil {
		return nil
	}
	return c
}
