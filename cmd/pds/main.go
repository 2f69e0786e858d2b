package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/property-dashboard-sync-go/internal/config"
	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/handler"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/cache"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/client"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/identity"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/observability"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/push"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/resilience"
	"github.com/boddenberg/property-dashboard-sync-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("account_api_url", cfg.AccountAPIURL),
		zap.String("dashboard_api_url", cfg.DashboardURL),
		zap.String("push_channel_url", cfg.PushURL),
		zap.Duration("subscription_poll_interval", cfg.SubscriptionPollInterval),
		zap.Duration("dashboard_poll_interval", cfg.DashboardPollInterval),
		zap.Duration("refresh_debounce", cfg.RefreshDebounce),
		zap.Int("default_trial_days", cfg.DefaultTrialDays),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "property-dashboard-sync")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	dashCache := cache.New[*domain.DashboardSummary](cfg.DashboardCacheTTL)
	defer dashCache.Stop()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("external-apis")

	// --- Session boundary guard ---
	notices := service.NewNoticeQueue(cfg.NoticeQueueSize, metrics, logger)
	identityStore := identity.NewFileStore(cfg.IdentityFile)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	authClient := client.NewAuthClient(httpClient, cfg.AccountAPIURL, cb, resilienceCfg)
	guard := service.NewSessionGuard(identityStore, authClient, notices, logger)

	resolveCtx, cancelResolve := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	state, err := guard.Resolve(resolveCtx)
	cancelResolve()
	if err != nil {
		logger.Warn("session resolution incomplete, staying in loading state", zap.Error(err))
	}
	logger.Info("session boundary resolved", zap.String("state", string(state)))

	// --- Clients (authorized by the resolved session token) ---
	subscriptionClient := client.NewSubscriptionClient(httpClient, cfg.AccountAPIURL, guard.Token, cb, resilienceCfg)
	accountClient := client.NewAccountClient(httpClient, cfg.AccountAPIURL, guard.Token, cb, resilienceCfg)
	dashboardClient := client.NewDashboardClient(httpClient, cfg.DashboardURL, guard.Token, cb, resilienceCfg)

	// --- Push channel ---
	pushChannel := push.NewChannel(cfg.PushURL, guard.OrganizationID(), guard.Token, metrics, logger)

	// --- Coordinator ---
	coord := service.NewCoordinator(service.CoordinatorConfig{
		SubscriptionPollInterval: cfg.SubscriptionPollInterval,
		DashboardPollInterval:    cfg.DashboardPollInterval,
		Debounce:                 cfg.RefreshDebounce,
		TrialFallbackDays:        cfg.DefaultTrialDays,
	}, service.CoordinatorDeps{
		Status:         subscriptionClient,
		Account:        accountClient,
		Dashboard:      dashboardClient,
		Push:           pushChannel,
		DashCache:      dashCache,
		Notifier:       notices,
		Metrics:        metrics,
		Logger:         logger,
		OrganizationID: guard.OrganizationID(),
		OnAuthFailure:  guard.HandleAuthFailure,
		OnForcedLogout: guard.ForceLogout,
	})
	guard.AttachCoordinator(coord)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if state == service.SessionAuthenticated {
		go func() {
			if err := pushChannel.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				logger.Error("push channel stopped", zap.Error(err))
			}
		}()
		if err := coord.Start(rootCtx); err != nil {
			// First load may race a flaky upstream; the timers keep trying.
			logger.Warn("initial sync incomplete", zap.Error(err))
		}
	} else {
		logger.Info("no authenticated session, sync idle until login")
	}

	// --- Router ---
	router := handler.NewRouter(coord, guard, notices, metrics, logger, handler.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	coord.Stop()
	pushChannel.Close()
	cancelRoot()

	logger.Info("server stopped")
}
