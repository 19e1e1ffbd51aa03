// Command server runs the messenger HTTP backend: it loads configuration from
// the environment (with optional .env support), opens the SQLite message log,
// selects the Redis or in-memory stores for signals, caching and broadcast,
// wires tracing, and serves the API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mvasilak/go-messenger-backend/internal/broadcast"
	"github.com/mvasilak/go-messenger-backend/internal/config"
	httpapi "github.com/mvasilak/go-messenger-backend/internal/http"
	"github.com/mvasilak/go-messenger-backend/internal/kv"
	"github.com/mvasilak/go-messenger-backend/internal/observability"
	"github.com/mvasilak/go-messenger-backend/internal/repo"
	"github.com/mvasilak/go-messenger-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Optional .env for local development; env vars always win.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Tracing (no-op unless enabled).
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Durable message log.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("sqlite open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Str("path", cfg.DBPath).Msg("sqlite ready")

	// Signal/cache store and broadcast transport. REDIS_URL selects the shared
	// Redis deployment; without it the process falls back to in-memory stores,
	// which is fine for a single instance.
	var store kv.Store
	var pub broadcast.Publisher
	if cfg.RedisURL != "" {
		rs, err := kv.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer rs.Close()

		rp, err := broadcast.NewRedisPublisher(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis publisher failed")
		}
		defer rp.Close()

		store, pub = rs, rp
		log.Info().Msg("connected to redis")
	} else {
		store, pub = kv.NewMemoryStore(), broadcast.NopPublisher{}
		log.Info().Msg("using in-memory signal and cache stores")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, store, pub, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("base_path", cfg.APIBasePath).
			Str("version", version).
			Msg("starting messenger server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Allow in-flight long polls (up to PollDeadline) to finish.
	grace := cfg.Delivery.PollDeadline + 5*time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}
