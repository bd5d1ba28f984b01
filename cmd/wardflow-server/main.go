package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wardflow/wardflow/internal/config"
	"github.com/wardflow/wardflow/internal/domain/audit"
	"github.com/wardflow/wardflow/internal/httpapi"
	"github.com/wardflow/wardflow/internal/platform/ai"
	"github.com/wardflow/wardflow/internal/platform/auth"
	"github.com/wardflow/wardflow/internal/platform/cache"
	"github.com/wardflow/wardflow/internal/platform/db"
	"github.com/wardflow/wardflow/internal/platform/middleware"
	"github.com/wardflow/wardflow/internal/platform/websocket"
	"github.com/wardflow/wardflow/internal/record"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wardflow-server",
		Short: "Clinical workflow record keeper",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("Migrations applied.")
			return nil
		},
	}
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// Persistence is optional. Without DATABASE_URL the store runs in
	// local mode on a no-op adapter.
	var adapter record.PersistenceAdapter = record.NoopAdapter{}
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		p, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		if err := db.Migrate(ctx, p); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		pool = p
		adapter = record.NewPGAdapter(p, logger)
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, running in local-only mode")
	}

	// Classification cache: Redis when configured, in-memory otherwise.
	var aiCache cache.Store = cache.NewMemory(cfg.ClassifyTTL, nil)
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.ClassifyTTL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisCache.Close()
		aiCache = redisCache
		logger.Info().Msg("connected to redis")
	}

	store := record.NewStore(adapter, logger)
	if err := store.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start record store")
	}
	defer store.Stop()

	if cfg.SeedDemoData {
		store.SeedIfEmpty()
	}

	sink := audit.NewSink(adapter, logger)
	aiClient := ai.NewClient(cfg.AIEndpoint, cfg.AIAPIKey, aiCache, cfg.AITimeout, logger)

	hub := websocket.NewHub(logger)
	unsubscribe := store.Subscribe(hub.Broadcast)
	defer unsubscribe()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	srv := httpapi.NewServer(store, sink, aiClient, hub, pool, logger)
	srv.RegisterRoutes(e, auth.Middleware(cfg.JWTSecret, cfg.IsDev()))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("mode", string(store.Mode())).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	// Drain in-flight persistence forwards before the pool closes.
	store.Flush()
	sink.Flush()
	return nil
}
