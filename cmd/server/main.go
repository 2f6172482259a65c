package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"driftchat-backend/internal/api"
	"driftchat-backend/internal/config"
	"driftchat-backend/internal/handlers"
	"driftchat-backend/internal/llm"
	"driftchat-backend/internal/services"
	"driftchat-backend/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Info().Msg("starting driftchat backend")

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// 2. Initialize Database Connection Pool
	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	dbpool, err := pgxpool.New(dbCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create database connection pool")
	}
	defer dbpool.Close()

	if err := dbpool.Ping(dbCtx); err != nil {
		log.Fatal().Err(err).Msg("unable to ping database")
	}
	log.Info().Msg("database connection pool established")

	// 3. Initialize Dependencies (Store, Registry, Services, Handlers)
	pgStore := postgres.NewPostgresStore(dbpool)

	registry := llm.NewRegistry(cfg)
	resolver := services.RegistryResolver(registry)

	authService := services.NewAuthService(pgStore, cfg)
	conversationService := services.NewConversationService(pgStore)
	reconciler := services.NewReconciler(pgStore)
	titleService := services.NewTitleService(pgStore, resolver, cfg.TitleModelID)
	completionService := services.NewCompletionService(pgStore, resolver, reconciler, titleService)

	routerDeps := api.RouterDependencies{
		AuthHandler:         handlers.NewAuthHandler(authService),
		ConversationHandler: handlers.NewConversationHandlers(conversationService),
		CompletionHandler:   handlers.NewCompletionHandlers(completionService),
		ModelHandler:        handlers.NewModelHandlers(),
		Config:              cfg,
	}
	router := api.NewRouter(routerDeps)
	log.Info().Msg("HTTP router configured")

	// 4. Configure and Start HTTP Server
	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
		// No WriteTimeout: completion responses stream for as long as the
		// upstream model keeps producing tokens.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("port", cfg.HTTPPort).Msg("server failed")
		}
	}()

	<-stopChan
	log.Info().Msg("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("server shutdown complete")
}
