/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the procurement approval server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment (flags override)
  2. Initialize SQLite store
  3. Connect to Redis when REDIS_ADDR is set
  4. Create workflow service and API handler
  5. Run HTTP server and overdue-reconciliation scheduler together

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_ADDR)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close Redis and database connections

EXAMPLES:
  ./server -db=":memory:"
  REDIS_ADDR=localhost:6379 LOG_FORMAT=json ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/warp/procurement-engine/api"
	"github.com/warp/procurement-engine/cache"
	"github.com/warp/procurement-engine/config"
	"github.com/warp/procurement-engine/generic"
	"github.com/warp/procurement-engine/store/sqlite"
	"github.com/warp/procurement-engine/workflow"
	"golang.org/x/sync/errgroup"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides APP_ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if *port > 0 {
		cfg.AppAddr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := config.NewLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	service := workflow.NewService(store, generic.SystemClock{}, logger)

	handler := api.NewHandler(service, logger)
	handler.SetCurrency(cfg.Currency, cfg.Language())
	handler.ReconcileAfter = cfg.ReconcileAfter

	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, idempotency keys disabled", slog.Any("error", err))
		} else {
			defer func() {
				if err := client.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
			handler.Idempotency = cache.NewIdempotencyStore(client, cfg.IdempotencyTTL)
		}
	}

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins:     cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := api.NewOverdueReconciliationScheduler(service, logger)
	scheduler.After = cfg.ReconcileAfter
	if cfg.SchedulerInterval > 0 {
		scheduler.CheckInterval = cfg.SchedulerInterval
	} else {
		scheduler.Enabled = false
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
