package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trial-screener/internal/common/config"
	"trial-screener/internal/common/database"
	httpclient "trial-screener/internal/common/http"
	"trial-screener/internal/common/llmjson"
	"trial-screener/internal/common/logger"
	"trial-screener/internal/common/observability"
	"trial-screener/internal/llm"
	"trial-screener/internal/server"
	ec "trial-screener/internal/workers/ai-conversation/eligibility-chat"
	cc "trial-screener/internal/workers/taxonomy/categorize-conditions"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// connectWithRetry retries connect with exponential backoff.
func connectWithRetry(ctx context.Context, connect func() error, maxRetries uint64, log *zap.Logger, operationName string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 0

	notify := func(err error, next time.Duration) {
		log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
			zap.Error(err),
			zap.Duration("nextRetryIn", next),
		)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx)
	if err := backoff.RetryNotify(connect, b, notify); err != nil {
		return fmt.Errorf("%s failed after %d retries: %w", operationName, maxRetries, err)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting screener server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("provider", cfg.LLM.Provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := observability.New(cfg.App.Name, observability.Options{
		TracingEnabled: cfg.Tracing.Enabled,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	defer obs.Shutdown()

	// --- Model client ---
	// A missing credential is not fatal: /health reports it and the
	// model-backed endpoints answer with a configuration error.
	var model llm.Client
	outbound := httpclient.NewClient(cfg.LLM.Timeout, cfg.App.Name)
	base, err := llm.New(ctx, cfg.LLM, outbound.Standard())
	switch {
	case err == nil:
		model = llm.NewInstrumented(base, obs.Tracer(), log)
		zapLog.Info("Model client ready", zap.String("provider", cfg.LLM.Provider))
	case errors.Is(err, llm.ErrNotConfigured):
		zapLog.Warn("API_KEY not configured, model-backed endpoints are disabled")
	default:
		zapLog.Fatal("model client init failed", zap.Error(err))
	}

	// --- Redis result cache (optional) ---
	var redisClient *redis.Client
	if cfg.Cache.Enabled && cfg.Database.Redis.Address != "" {
		rc, err := database.NewRedis(cfg.Database.Redis)
		if err == nil {
			err = connectWithRetry(ctx, func() error { return rc.Ping(ctx) }, 5, zapLog, "Redis connection")
		}
		if err != nil {
			zapLog.Warn("Redis unavailable, classification cache disabled", zap.Error(err))
		} else {
			defer rc.Close()
			redisClient = rc.GetClient()
			zapLog.Info("Redis connected successfully")
		}
	}

	// --- PostgreSQL run audit (optional) ---
	var pg *database.PostgresClient
	if cfg.Database.Postgres.Enabled() {
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err == nil {
			err = connectWithRetry(ctx, func() error { return pg.Ping(ctx) }, 10, zapLog, "PostgreSQL connection")
		}
		if err == nil {
			err = pg.EnsureSchema(ctx)
		}
		if err != nil {
			zapLog.Warn("PostgreSQL unavailable, run audit disabled", zap.Error(err))
			if pg != nil {
				_ = pg.Close()
			}
			pg = nil
		} else {
			defer pg.Close()
			zapLog.Info("PostgreSQL connected successfully")
		}
	}

	// --- Handlers ---
	var auditDB *sql.DB
	if pg != nil {
		auditDB = pg.GetDB()
	}
	classifier := cc.NewHandler(
		cc.ConfigFrom(cfg),
		model,
		llmjson.New(cfg.LLM.Extraction),
		redisClient,
		auditDB,
		obs,
		log,
	)
	chat := ec.NewHandler(ec.ConfigFrom(cfg), model, log)

	srv := server.New(cfg.Server, cfg.LLM.Configured(), classifier, chat, log)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	httpServer.RegisterOnShutdown(srv.CloseChats)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLog.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zapLog.Info("Shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zapLog.Error("Server stopped with error", zap.Error(err))
		return
	}
	zapLog.Info("Screener server stopped gracefully")
}
