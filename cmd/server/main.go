/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the enrollment commerce engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the selected store (sqlite, postgres or memory)
  4. Wrap the promo store in the read-through cache (Redis or in-process)
  5. Load the refund policy and build the services
  6. Start the promo status scheduler
  7. Configure HTTP router and start server with graceful shutdown

CONFIGURATION:
  See config/config.go. Flags override environment variables:
  -port, -store, -db, -database-url, -redis, -tz, -currency,
  -refund-policy, -log-format, -status-interval

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/enrollment.db"

  # Run against PostgreSQL with a shared Redis cache
  DATABASE_URL=postgres://... ./server -store=postgres -redis=localhost:6379

  # Run in memory with a custom cancellation policy
  ./server -store=memory -refund-policy=./refund-policy.json -tz=America/Denver

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: settings
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/enrollment-engine/api"
	"github.com/warp/enrollment-engine/config"
	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/factory"
	"github.com/warp/enrollment-engine/generic"
	memstore "github.com/warp/enrollment-engine/generic/store"
	"github.com/warp/enrollment-engine/promo"
	"github.com/warp/enrollment-engine/refund"
	"github.com/warp/enrollment-engine/store/cache"
	"github.com/warp/enrollment-engine/store/postgres"
	"github.com/warp/enrollment-engine/store/sqlite"
)

const serviceName = "enrollment-engine"

// backend is what every store implementation provides.
type backend interface {
	promo.Store
	enrollment.Store
	enrollment.ScheduleStore
	api.Resetter
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	currency := generic.Currency(cfg.Currency)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	promoCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}

	calendar, err := generic.NewCalendar(cfg.Timezone)
	if err != nil {
		return err
	}
	policy, err := factory.LoadRefundPolicy(cfg.RefundPolicyFile, currency)
	if err != nil {
		return err
	}

	promos := promo.NewService(cache.NewPromoStore(store, promoCache, currency, logger), calendar, logger)
	machine := enrollment.NewMachine(refund.NewEngine(policy, calendar), calendar)
	enrollments := enrollment.NewService(store, store, machine, logger)

	handler := api.NewHandler(promos, enrollments, store, currency, logger)
	handler.Resetter = store

	scheduler := api.NewStatusScheduler(promos, logger)
	scheduler.CheckInterval = cfg.StatusInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("store", cfg.Store),
			zap.String("timezone", cfg.Timezone),
			zap.Bool("redis_cache", cfg.RedisAddr != ""))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memstore.NewMemory(), func() {}, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s, err := postgres.New(ctx, db, generic.Currency(cfg.Currency))
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	default:
		s, err := sqlite.New(cfg.SQLitePath, generic.Currency(cfg.Currency))
		if err != nil {
			return nil, nil, fmt.Errorf("initialize sqlite %s: %w", cfg.SQLitePath, err)
		}
		return s, func() { s.Close() }, nil
	}
}

// openCache uses Redis when configured so every replica shares evictions.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(serviceName), nil
	}
	c := cache.NewRedisCache(cfg.RedisAddr, serviceName)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx, c); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("promo cache connected", zap.String("addr", cfg.RedisAddr))
	return c, nil
}
