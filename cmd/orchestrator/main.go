package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/config"
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/handlers"
	"github.com/meinzeug/autodevai-orchestrator/shared/telemetry"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Info().
		Str("service", cfg.ServiceName).
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("starting")

	ctx := context.Background()
	deps, err := config.BuildDependencies(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Error().Err(err).Msg("error closing dependencies")
		}
	}()

	// Resume sagas interrupted by the previous shutdown
	go func() {
		if err := deps.SagaOrchestrator.Recover(context.Background()); err != nil {
			log.Error().Err(err).Msg("saga recovery failed")
		}
	}()

	// Start event subscriber
	go func() {
		if err := deps.EventSubscriber.Subscribe(context.Background(), "", deps.OrchestratorEventHandlers); err != nil {
			log.Error().Err(err).Msg("event subscriber stopped")
		}
	}()

	router := setupRouter(cfg, deps)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Str("service", cfg.ServiceName).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Str("service", cfg.ServiceName).Msg("stopped")
}

func setupRouter(cfg *config.Config, deps *config.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// Telemetry middleware (inject telemetry into context)
	if deps.Telemetry != nil {
		r.Use(telemetry.Middleware(deps.Telemetry))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", handlers.NewMetricsHandler())

	// Register orchestrator routes
	deps.OrchestratorHandlers.RegisterRoutes(r)

	return r
}
