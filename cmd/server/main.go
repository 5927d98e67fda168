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

	"scentcart/internal/cart"
	"scentcart/internal/config"
	"scentcart/internal/db"
	"scentcart/internal/events"
	"scentcart/internal/handler"
	"scentcart/internal/logger"
	"scentcart/internal/middleware"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const limiterSweepInterval = time.Minute

// Swapped in tests.
var (
	initDBFunc        = db.InitDB
	schemaVersionFunc = db.Version
	startServerFunc   = func(srv *http.Server) error { return srv.ListenAndServe() }
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := initDBFunc(cfg)
	defer database.Close()
	checkSchema(database)

	publisher, closePublisher := newPublisher(cfg)
	defer closePublisher()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := middleware.NewLimiter()
	go limiter.Run(ctx, limiterSweepInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           newServer(cfg, database, publisher, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("cart API listening", zap.String("addr", srv.Addr))
		errCh <- startServerFunc(srv)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.L().Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newServer builds the HTTP handler with all cart dependencies.
func newServer(cfg *config.Config, database *sql.DB, publisher cart.Publisher, limiter *middleware.Limiter) http.Handler {
	repo := cart.NewRepository(database)
	svc := cart.NewService(repo, publisher)

	return handler.NewRouter(handler.RouterConfig{
		Service:      svc,
		JWTSecret:    cfg.JWTSecret,
		AllowOrigins: cfg.CORSAllowOrigins,
		Limiter:      limiter,
		GeneralTier: middleware.Tier{
			Name:  "general",
			Limit: rate.Limit(cfg.RateLimitGeneral),
			Burst: cfg.RateBurstGeneral,
		},
		MergeTier: middleware.Tier{
			Name:  "merge",
			Limit: rate.Limit(cfg.RateLimitMerge),
			Burst: cfg.RateBurstMerge,
		},
		DB: database,
	})
}

// newPublisher connects to RabbitMQ when configured. Without a broker, or
// when it is unreachable, cart events are only logged.
func newPublisher(cfg *config.Config) (cart.Publisher, func()) {
	if cfg.RabbitMQURL == "" {
		return events.Noop{}, func() {}
	}

	conn, err := events.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.L().Error("cart events disabled", zap.Error(err))
		return events.Noop{}, func() {}
	}
	pub, err := events.NewPublisher(conn)
	if err != nil {
		_ = conn.Close()
		logger.L().Error("cart events disabled", zap.Error(err))
		return events.Noop{}, func() {}
	}

	logger.L().Info("publishing cart events", zap.String("queue", events.CartUpdatedQueue))
	return pub, func() {
		_ = pub.Close()
		_ = conn.Close()
	}
}

// checkSchema warns when migrations have not been applied.
func checkSchema(database *sql.DB) {
	version, dirty, err := schemaVersionFunc(database)
	switch {
	case err != nil:
		logger.L().Warn("cannot read schema version", zap.Error(err))
	case version == 0:
		logger.L().Warn("database has no migrations applied, run cmd/migrate -mode up")
	case dirty:
		logger.L().Warn("database schema is dirty", zap.Uint("version", version))
	default:
		logger.L().Info("database schema", zap.Uint("version", version))
	}
}
