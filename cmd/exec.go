package cmd

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lottery-sync/config"
	"lottery-sync/handlers"
	"lottery-sync/internal/clock"
	"lottery-sync/monitoring"
	"lottery-sync/security"
	"lottery-sync/services"
	"lottery-sync/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Start wires the subsystem together and runs it until SIGINT/SIGTERM. All
// components are explicitly constructed here and torn down in reverse order;
// nothing reaches into ambient global state.
func Start() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg := config.LoadConfig()
	clk := clock.NewSystem()

	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	slog.Info("connected to redis", "addr", cfg.RedisURL)

	// Auth collaborator: credential and expiry are handed to this process by
	// the login flow, which is not our concern.
	authProvider := services.NewRemoteAuthProvider(cfg.AuthBaseURL, cfg.APITimeout)
	if token := os.Getenv("AUTH_TOKEN"); token != "" {
		expiry := time.Now().Add(15 * time.Minute)
		if raw := os.Getenv("AUTH_TOKEN_EXPIRY"); raw != "" {
			if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
				expiry = parsed
			}
		}
		authProvider.SetCredential(token, expiry)
	}

	gate := services.NewCredentialGate(authProvider, clk, cfg.RefreshThreshold)
	connLock := services.NewConnectionLock(cfg.LockWaitTimeout)

	userID := os.Getenv("USER_ID")
	if userID == "" {
		userID = uuid.NewString()
	}

	transport := services.NewPubNubTransport(cfg, userID)
	channel := services.NewRealtimeChannel(cfg, gate, connLock, transport, userID)

	pullClient := services.NewPullClient(cfg.APIBaseURL, gate, cfg.APITimeout)
	cache := services.NewInventoryCache(redisClient, pullClient, cfg.CacheTTL)
	reservations := services.NewReservationClient(pullClient, clk, cfg.MaxQuantityPerUser, cfg.TerminalRetention)
	tracker := services.NewExpiryTracker(reservations, clk, cfg.ExpiryTick)
	reconciler := services.NewReconciler(channel, cache, reservations, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker.Start(ctx)
	reconciler.Start(ctx)

	// Channel establishment is best-effort; without it the app runs in
	// pull-only mode until a Connect/Watch call succeeds.
	go func() {
		connectCtx, connectCancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer connectCancel()
		if err := channel.EnsureConnection(connectCtx); err != nil {
			slog.Warn("realtime channel unavailable, running pull-only", "err", err)
		}
	}()

	if cfg.EnableMetrics {
		monitoring.NewMonitor(redisClient)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	e := echo.New()
	registerRoutes(e, cfg, redisClient, cache, channel, reservations, tracker)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	go func() {
		slog.Info("listening", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	reconciler.Stop()
	tracker.Stop()
	if err := channel.Stop(); err != nil {
		log.Printf("channel stop: %v", err)
	}

	return nil
}

func registerRoutes(
	e *echo.Echo,
	cfg *config.Config,
	redisClient *redis.Client,
	cache *services.InventoryCache,
	channel *services.RealtimeChannel,
	reservations *services.ReservationClient,
	tracker *services.ExpiryTracker,
) {
	limiter := security.NewRateLimiter(redisClient)

	reservationHandler := handlers.NewReservationHandler(reservations, tracker)
	inventoryHandler := handlers.NewInventoryHandler(cache, channel)
	realtimeHandler := handlers.NewRealtimeHandler(channel, redisClient)

	e.POST("/reservations", reservationHandler.Create, limiter.ReservationRateLimit(10))
	e.GET("/reservations", reservationHandler.List)
	e.GET("/reservations/:id", reservationHandler.Get)
	e.DELETE("/reservations/:id", reservationHandler.Cancel)

	e.GET("/items/:id/inventory", inventoryHandler.Get)
	e.POST("/items/:id/watch", inventoryHandler.Watch)
	e.DELETE("/items/:id/watch", inventoryHandler.Unwatch)

	e.GET("/realtime/status", realtimeHandler.Status)
	e.POST("/realtime/connect", realtimeHandler.Connect)
	e.GET("/healthz", realtimeHandler.Health)
}
