package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"forummod/internal/aimod"
	"forummod/internal/config"
	"forummod/internal/courses"
	"forummod/internal/database/boltstore"
	"forummod/internal/database/sqlitestore"
	"forummod/internal/handlers"
	"forummod/internal/moderation"
	"forummod/internal/routing"
	"forummod/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Logging)

	log.Info().Msg("Starting forum moderation server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	} else {
		defer tp.Shutdown(context.Background())
	}

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).
			Str("driver", cfg.Database.Driver).
			Str("path", cfg.Database.Path).
			Msg("Failed to open database")
	}
	defer store.Close()

	log.Info().
		Str("driver", cfg.Database.Driver).
		Str("path", cfg.Database.Path).
		Msg("Database opened")

	// Seed the course registry from config; unknown courses fall back to
	// parsing the org out of the course key.
	registry := courses.NewStaticRegistry(cfg.Courses)

	svc := moderation.NewService(store, courses.NewResolver(registry), nil)

	h := handlers.NewHandler(svc)

	if cfg.Classifier.APIURL != "" {
		client := aimod.NewClient(aimod.ClientConfig{
			APIURL:         cfg.Classifier.APIURL,
			ClientID:       cfg.Classifier.ClientID,
			ConnectTimeout: cfg.Classifier.ConnectTimeout,
			ReadTimeout:    cfg.Classifier.ReadTimeout,
		})
		h.SetReviewer(aimod.NewModerator(client, svc, cfg.Classifier.FlagThreshold))
		log.Info().Str("api_url", cfg.Classifier.APIURL).Msg("Content classifier configured")
	}

	handler := routing.SetupRouter(routing.Config{
		Handlers: h,
		Logger:   log.Logger,
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("address", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server stopped")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (moderation.Store, error) {
	if cfg.Driver == "bolt" {
		return boltstore.Open(boltstore.Options{Path: cfg.Path})
	}
	return sqlitestore.Open(ctx, cfg.Path)
}
