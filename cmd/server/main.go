// HuskyTrack - Student Advising Chat Server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/huskytrack/advisor/internal/advisor"
	"github.com/huskytrack/advisor/internal/api"
	"github.com/huskytrack/advisor/internal/chat"
	"github.com/huskytrack/advisor/internal/config"
	"github.com/huskytrack/advisor/internal/gateway"
	"github.com/huskytrack/advisor/internal/identity"
	"github.com/huskytrack/advisor/internal/live"
	"github.com/huskytrack/advisor/internal/metrics"
	"github.com/huskytrack/advisor/internal/middleware"
	"github.com/huskytrack/advisor/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.StoreDriver)

	// Initialize dependencies.
	repo, err := store.Open(cfg.StoreDriver, cfg.DBPath, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected")

	backend, err := advisor.NewClient(advisor.ClientConfig{
		URL:            cfg.BackendURL,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize chat backend client", "error", err)
		os.Exit(1)
	}
	slog.Info("Chat backend configured", "url", cfg.BackendURL, "timeout", cfg.RequestTimeout)

	conversationLogger, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	hub := live.NewHub()
	var registry *chat.Registry
	exporter := metrics.NewExporter(metrics.Config{
		ActiveSessions:  func() int { return registry.Len() },
		LiveConnections: hub.Connections,
	})
	registry = chat.NewRegistry(chat.RegistryConfig{
		Store:    repo,
		Invoker:  backend,
		Notifier: hub,
		Logger:   conversationLogger,
		Recorder: exporter,
	})
	limiter := chat.NewRateLimiter(cfg.RateLimitPerMinute)
	defer limiter.Close()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, registry, cfg)
	healthHandler := api.NewHealthHandler(baseHandler)
	profileHandler := api.NewProfileHandler(baseHandler)
	chatHandler := chat.NewHandler(registry, limiter)
	gatewayHandler := gateway.NewHandler(gateway.Config{
		FunctionURL: cfg.FunctionURL,
		Timeout:     cfg.RequestTimeout,
	}, exporter)
	wsHandler := live.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())
	if cfg.FunctionURL == "" {
		slog.Warn("CHAT_FUNCTION_URL not set, /api/chat will report not configured")
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins(), identity.SessionHeaderName))

	// Public routes.
	healthHandler.RegisterHealth(r)
	gatewayHandler.RegisterRoutes(r)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", exporter.Handler())
	}

	// Student routes use the identity middleware (no auth needed).
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		profileHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Create server.
	// Note: /ws/chat connections are long-lived (no WriteTimeout); message
	// sends are bounded by CHAT_REQUEST_TIMEOUT instead.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start session sweeper.
	chat.StartSweeper(ctx, registry, cfg.SweepInterval, cfg.SessionIdleTTL, func(userID string) {
		hub.CloseUser(userID)
		exporter.RecordEviction()
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
