package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcredits-platform/internal/auth"
	"callcredits-platform/internal/billing"
	"callcredits-platform/internal/calls"
	"callcredits-platform/internal/config"
	"callcredits-platform/internal/httpapi"
	"callcredits-platform/internal/referral"
	"callcredits-platform/internal/reporting"
	"callcredits-platform/internal/settings"
	"callcredits-platform/pkg/logger"
	"callcredits-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Wire services. The calls repository doubles as the billing side's call
	// marker so reconciled debits land on the session row.
	settingsSvc := settings.NewService(settings.NewPostgresRepo(db), cfg.Billing)
	callsRepo := calls.NewPostgresRepo(db)
	billingSvc := billing.NewService(billing.NewPostgresRepo(db), callsRepo, settingsSvc)
	callsSvc := calls.NewService(callsRepo, billingSvc, settingsSvc)
	reconciler := calls.NewReconciler(callsRepo, billingSvc)
	referralSvc := referral.NewService(
		utils.NewRedisGuard(rdb, "callcredits:"),
		billingSvc,
		settingsSvc,
		cfg.Billing.RewardGuardTTL,
	)
	reportsSvc := reporting.NewService(reporting.NewPostgresRepo(db))

	h := httpapi.Handlers{
		Auth:             authManager,
		Billing:          billingSvc,
		Calls:            callsSvc,
		Referrals:        referralSvc,
		Settings:         settingsSvc,
		Reports:          reportsSvc,
		Reconciler:       reconciler,
		StaleCallTimeout: cfg.Billing.StaleCallTimeout,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager), db)

	// Background sweeps run for the life of the process.
	go runReconcileLoop(rootCtx, log, reconciler, cfg.Billing.ReconcileInterval)
	go runStaleSweepLoop(rootCtx, log, reconciler, cfg.Billing.StaleCallTimeout)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// runReconcileLoop retries failed call deductions on a fixed cadence.
func runReconcileLoop(ctx context.Context, log *slog.Logger, rec *calls.Reconciler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx = logger.With(ctx, log.With("job", "deduction_reconcile"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rec.Run(ctx); err != nil {
				log.Error("reconciliation sweep failed", "err", err)
			}
		}
	}
}

// runStaleSweepLoop resolves calls abandoned in initiated/ringing.
func runStaleSweepLoop(ctx context.Context, log *slog.Logger, rec *calls.Reconciler, timeout time.Duration) {
	// Sweeping at half the timeout keeps worst-case staleness under 1.5x.
	interval := timeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx = logger.With(ctx, log.With("job", "stale_call_sweep"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rec.MarkStaleMissed(ctx, timeout); err != nil {
				log.Error("stale call sweep failed", "err", err)
			}
		}
	}
}
