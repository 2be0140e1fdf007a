package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/supergidii/Loans/config"
	"github.com/supergidii/Loans/controllers"
	"github.com/supergidii/Loans/database"
	"github.com/supergidii/Loans/ledger"
	"github.com/supergidii/Loans/logger"
	"github.com/supergidii/Loans/market"
	"github.com/supergidii/Loans/maturation"
	"github.com/supergidii/Loans/middleware"
	"github.com/supergidii/Loans/notify"
	"github.com/supergidii/Loans/pairing"
	"github.com/supergidii/Loans/routes"
	"github.com/supergidii/Loans/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env if present (do not overwrite already-set environment variables).
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := database.Connect(cfg, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	// Auto-migrate only in development to avoid accidental production schema changes
	if cfg.IsDevelopment() {
		log.Info("running in development mode, performing auto-migration")
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	} else {
		log.Info("running in production mode, skipping auto-migration")
	}

	rdb := connectRedis(cfg.Redis, log)
	if rdb != nil {
		defer rdb.Close()
	}

	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(log)
	if rdb != nil {
		dispatcher = notify.Multi{dispatcher, notify.NewRedisDispatcher(rdb, cfg.NotifyChannel)}
	}
	notifier := notify.NewAsync(dispatcher, cfg.NotifyBuffer, log)

	store := ledger.NewGormStore(db, ledger.WithTermDays(cfg.TermDays))
	coordinator := pairing.NewCoordinator(store, notifier, log, pairing.WithMaxAttempts(cfg.MatchMaxAttempts))
	referralRate, err := cfg.ReferralShare()
	if err != nil {
		return err
	}
	trigger := maturation.NewTrigger(store, coordinator, notifier, log, maturation.WithReferralRate(referralRate))
	exchange := market.NewExchange(store, notifier, log)

	var lock maturation.Locker = &maturation.LocalLock{}
	var blacklist redis.UniversalClient
	if rdb != nil {
		lock = maturation.NewRedisLock(rdb, cfg.SweepLockTTL, log)
		blacklist = rdb
	}
	scheduler := maturation.NewScheduler(trigger, lock, cfg.SweepInterval, log)

	rate, err := cfg.InterestRate()
	if err != nil {
		return err
	}
	cronLimiter := middleware.NewIPRateLimiter(cfg.HTTP.CronRateLimit, time.Hour, cfg.HTTP.TrustedProxies)
	router := routes.InitRouter(routes.Deps{
		Matching:    controllers.NewMatchingController(scheduler, trigger, store, rate, log),
		Market:      controllers.NewMarketController(exchange, store, log),
		Verifier:    utils.NewTokenVerifier(cfg.JWTSecret, cfg.JWTAud, cfg.JWTIss, blacklist),
		CronKey:     cfg.CronKey,
		CronLimiter: cronLimiter,
		CORSOrigins: cfg.CORSAllowedOrigins,
	})

	// Request ID -> Logging -> Security headers -> Max Body -> Timeout -> Recovery
	handler := middleware.RequestID(
		middleware.RequestLog(log)(
			middleware.SecurityHeaders(!cfg.IsDevelopment(), cfg.HTTP.HSTS)(
				middleware.MaxBody(cfg.HTTP.MaxBodyBytes)(
					middleware.Timeout(cfg.HTTP.RequestTimeout)(
						middleware.Recovery(log)(router),
					),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx)
	go cronLimiter.RunCleanup(ctx, time.Minute)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		log.Warn("notifications not drained", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// service then runs with an in-process sweep lock and log-only notifications.
func connectRedis(cfg config.Redis, log *zap.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	rc := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Pass, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		log.Warn("redis ping failed, continuing without redis", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = rc.Close()
		return nil
	}
	return rc
}
