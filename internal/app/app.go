// Package app wires the referral authority server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/pos-referral/internal/api"
	"github.com/xenking/pos-referral/internal/authority"
	"github.com/xenking/pos-referral/internal/handler"
	"github.com/xenking/pos-referral/internal/storage/postgres"
	"github.com/xenking/pos-referral/internal/storage/redislock"
	"github.com/xenking/pos-referral/pkg/health"
	"github.com/xenking/pos-referral/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. m is usually the *app.Telemetry of go-faster/sdk.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var locker authority.Locker = authority.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		locker = redislock.New(rdb, cfg.Redis.LockTTL)
		lg.Info("Using redis redemption locks", zap.String("redis", cfg.Redis.Addr))
	}

	defaults, err := cfg.Program.Settings()
	if err != nil {
		return err
	}

	codes := postgres.NewReferralStore(pool)
	svc, err := authority.NewService(authority.Config{
		Defaults:       defaults,
		IssueAttempts:  cfg.Codes.IssueAttempts,
		Logger:         lg.Named("authority"),
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	},
		codes,
		postgres.NewSettingsStore(pool),
		locker,
		authority.NewCodeGenerator(cfg.Codes.BloomCapacity, cfg.Codes.BloomFPR),
	)
	if err != nil {
		return errors.Wrap(err, "create authority")
	}
	if err := svc.Warm(ctx); err != nil {
		return errors.Wrap(err, "warm code filter")
	}

	sweeper, err := authority.NewSweeper(codes, cfg.Sweep.Schedule, lg.Named("sweeper"))
	if err != nil {
		return errors.Wrap(err, "create sweeper")
	}
	if err := sweeper.Start(ctx); err != nil {
		return errors.Wrap(err, "start sweeper")
	}
	defer sweeper.Stop()

	h := handler.NewHandler(svc,
		handler.NewSecurityHandler(postgres.NewAPIKeyStore(pool), []byte(cfg.APIKeyPepper)),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{"Content-Type", api.HeaderAPIKey, httpmiddleware.RequestIDHeader},
				MaxAge:       86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("referral-authority", m),
			httpmiddleware.LogRequests(),
		),
	}
	healthSvc.SetReady(true)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()

		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
