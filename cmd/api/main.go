package main

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kurihiro0119/gitlab-flows/internal/api"
	"github.com/kurihiro0119/gitlab-flows/internal/app"
	"github.com/kurihiro0119/gitlab-flows/internal/config"
)

func main() {
	bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.Load(os.Getenv("FLOWS_CONFIG"))
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		bootstrap.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := app.NewLogger(os.Stderr, cfg.LogLevel, true)
	if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize flows, storage and metrics
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	// Setup routes
	handler := api.NewHandler(a.Bridge, a.Store, a.Metrics)
	router := api.SetupRoutes(handler, logger)

	// Start server
	addr := cfg.APIAddr()
	logger.Info().
		Str("addr", addr).
		Str("storage", cfg.StorageType).
		Strs("flows", a.Registry.Names()).
		Msg("starting API server")

	if err := router.Run(addr); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
