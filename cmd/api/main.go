package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/background"
	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/database"
	"github.com/bastionsec/bastion/internal/handlers"
	"github.com/bastionsec/bastion/internal/metrics"
	middlewareCustom "github.com/bastionsec/bastion/internal/middleware"
	"github.com/bastionsec/bastion/internal/repositories"
	"github.com/bastionsec/bastion/internal/routes"
	"github.com/bastionsec/bastion/internal/services"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
	pkglogger "github.com/bastionsec/bastion/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("store_backend", cfg.Store.Backend))

	// Optional Postgres backend: ban write-through and the attempt journal.
	// The in-memory registries are authoritative either way.
	var db *database.DB
	var banStore services.BanStore
	var journal services.AttemptJournal
	var banRepo *repositories.BanRepository
	var attemptRepo *repositories.AttemptRepository
	if cfg.Store.Backend == "postgres" {
		db, err = database.NewConnection(&cfg.Database, logger)
		if err != nil {
			if cfg.Guard.FailClosed {
				logger.Error("failed to connect to database", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Warn("database unavailable, continuing memory-only", slog.Any("error", err))
		} else {
			defer db.Close()
			banRepo = repositories.NewBanRepository(db)
			attemptRepo = repositories.NewAttemptRepository(db)
			banStore = banRepo
			journal = attemptRepo
		}
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Alert delivery channel: SES when configured, otherwise the log
	var notifier services.Notifier = &services.LogNotifier{Logger: logger}
	if cfg.Alert.SESRegion != "" {
		sesNotifier, err := services.NewSESNotifier(cfg.Alert.SESRegion, cfg.Alert.SESFrom, cfg.Alert.SESTo, logger)
		if err != nil {
			logger.Error("failed to initialize SES notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	alertService := services.NewAlertService(services.AlertServiceConfig{
		HighPerMinute:   cfg.Alert.HighPerMinute,
		MediumPerHour:   cfg.Alert.MediumPerHour,
		SummaryInterval: cfg.Alert.SummaryInterval,
	}, notifier, logger)

	counter := services.NewWindowCounter(cfg.Guard.Window(), cfg.Guard.MaxAttempts)
	banService := services.NewBanService(services.BanConfig{
		BaseDuration:         cfg.Guard.BanDuration,
		MaxDuration:          cfg.Guard.MaxBanDuration,
		EscalationThreshold:  cfg.Guard.EscalationThreshold,
		EscalationMultiplier: cfg.Guard.EscalationMultiplier,
		EscalationWindow:     cfg.Guard.EscalationWindow,
	}, alertService, auditLogger, banStore, logger)
	lockService := services.NewAccountLockService(services.LockConfig{
		Window:              cfg.Guard.LockWindow,
		MaxFailures:         cfg.Guard.LockMaxFailures,
		LockDuration:        cfg.Guard.LockDuration,
		LockoutTriggerLimit: cfg.Guard.LockoutTriggerLimit,
	}, alertService, auditLogger, logger)
	sharedService := services.NewSharedAddressService(services.SharedConfig{
		UsernameThreshold:  cfg.Guard.SharedUsernameThreshold,
		SignatureThreshold: cfg.Guard.SharedSignatureThreshold,
		ThresholdFactor:    cfg.Guard.SharedThresholdFactor,
	}, alertService, logger)

	guardService := services.NewGuardService(services.GuardServiceConfig{
		MaxAttempts:    cfg.Guard.MaxAttempts,
		BaseRetryAfter: cfg.Guard.BanDuration,
		MaxRetryAfter:  cfg.Guard.MaxBanDuration,
		Allowlist:      cfg.Guard.Allowlist,
		JournalWindow:  cfg.Guard.EscalationWindow,
	}, counter, banService, lockService, sharedService, alertService, journal, logger)

	metrics.RegisterGuardStats(prometheus.DefaultRegisterer, guardService.Stats)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	banService.LoadPersisted(startupCtx)
	startupCancel()

	// Demo credential store behind the guard
	credentialService := services.NewCredentialService()
	if err := seedDemoUser(credentialService, logger); err != nil {
		logger.Error("failed to seed demo user", slog.Any("error", err))
		os.Exit(1)
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	authHandler := handlers.NewAuthHandler(guardService, credentialService, tokenManager, timingDelay, ipConfig, cfg.Auth.AccessTokenExpiry)
	statsHandler := handlers.NewStatsHandler(guardService)
	healthHandler := handlers.NewHealthHandler(db)

	// Periodic sweep keeps every registry bounded
	cleanupManager := background.NewCleanupManager(cfg.Guard.MaxTrackedKeys, cfg.Guard.CleanupInterval, logger)
	cleanupManager.Register("window_counter", counter)
	cleanupManager.Register("bans", banService)
	cleanupManager.Register("account_locks", lockService)
	cleanupManager.Register("shared_addresses", sharedService)
	if banRepo != nil {
		cleanupManager.Register("ban_store", &storeSweeper{deleteExpired: banRepo.DeleteExpired})
		cleanupManager.Register("attempt_journal", &storeSweeper{deleteExpired: attemptRepo.DeleteExpired})
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, statsHandler, healthHandler, guardService, ipConfig)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	go alertService.Start(backgroundCtx)
	go cleanupManager.Start(backgroundCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	backgroundCancel()
	cleanupManager.Stop()
	alertService.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// storeSweeper adapts the repositories' retention deletes to the cleanup
// manager's sweep rotation.
type storeSweeper struct {
	deleteExpired func(ctx context.Context) (int64, error)
}

func (s *storeSweeper) Sweep(_ time.Time, _ int) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := s.deleteExpired(ctx)
	if err != nil {
		slog.Error("store sweep failed", slog.Any("error", err))
		return 0
	}
	return int(removed)
}

// seedDemoUser registers the demo credential if DEMO_USERNAME and
// DEMO_PASSWORD are set.
func seedDemoUser(credentials *services.CredentialService, logger *slog.Logger) error {
	username := os.Getenv("DEMO_USERNAME")
	password := os.Getenv("DEMO_PASSWORD")

	if username == "" || password == "" {
		logger.Info("no DEMO_USERNAME or DEMO_PASSWORD set, credential store starts empty")
		return nil
	}

	if err := credentials.AddUser(username, password); err != nil {
		return err
	}
	logger.Info("demo user seeded")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
