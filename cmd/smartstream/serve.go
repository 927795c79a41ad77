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

	"github.com/ashureev/smartstream/internal/api"
	"github.com/ashureev/smartstream/internal/feed"
	"github.com/ashureev/smartstream/internal/identity"
	"github.com/ashureev/smartstream/internal/metrics"
	"github.com/ashureev/smartstream/internal/middleware"
	"github.com/ashureev/smartstream/internal/session"
	"github.com/ashureev/smartstream/internal/store"
	"github.com/ashureev/smartstream/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

var port string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API, reply feed and control page",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&port, "port", "", "HTTP listen port (overrides PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.Backend.URL)

	devices, err := devicesFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(cmd.Context()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	m := metrics.New()
	hub := feed.NewHub(logger)
	ctrl := session.NewController(sessionConfig(cfg), devices, hub, m, logger)

	feedHandler := feed.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment(), logger)
	feedHandler.SetSnapshot(ctrl.Snapshot)

	baseHandler := api.NewHandler(repo, ctrl, cfg)
	userHandler := api.NewUserHandler(baseHandler)
	sessionHandler := api.NewSessionHandler(baseHandler)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg.FrontendURL)))

	r.Handle("/metrics", m.Handler())

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		userHandler.RegisterRoutes(r)
		sessionHandler.RegisterRoutes(r)
		r.Get("/ws/replies", feedHandler.ServeHTTP)
	})

	// Serve embedded control page (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// The reply feed is a long-lived WebSocket, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
			ctrl.StopAll()
			return err
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")
	ctrl.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server stopped successfully")
	return nil
}

// allowedOrigins restricts CORS to the configured frontend outside development.
func allowedOrigins(frontendURL string) []string {
	if frontendURL == "" {
		return []string{"*"}
	}
	return []string{frontendURL}
}
