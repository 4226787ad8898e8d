// Package app wires the configured collaborators shared by the CLI and the
// HTTP server.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/gitlab-flows/internal/bridge"
	"github.com/kurihiro0119/gitlab-flows/internal/clock"
	"github.com/kurihiro0119/gitlab-flows/internal/config"
	"github.com/kurihiro0119/gitlab-flows/internal/flows"
	"github.com/kurihiro0119/gitlab-flows/internal/flows/pulse"
	"github.com/kurihiro0119/gitlab-flows/internal/flows/review"
	"github.com/kurihiro0119/gitlab-flows/internal/gitlab"
	"github.com/kurihiro0119/gitlab-flows/internal/metrics"
	"github.com/kurihiro0119/gitlab-flows/internal/session"
	"github.com/kurihiro0119/gitlab-flows/internal/storage"
	"github.com/kurihiro0119/gitlab-flows/internal/storage/postgres"
	"github.com/kurihiro0119/gitlab-flows/internal/storage/sqlite"
	"github.com/kurihiro0119/gitlab-flows/internal/summarizer"
)

// App holds everything a command needs to dispatch flows.
type App struct {
	Config   *config.Config
	Registry *flows.Registry
	Bridge   *bridge.Server
	// Store is nil when run history is disabled.
	Store    storage.Storage
	Recorder *session.Recorder
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// New builds the registry and the tool bridge from cfg.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	store, err := OpenStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	m := metrics.New()
	clk := clock.System{}
	recorder := session.NewRecorder(clk, store, logger)
	clients := gitlab.NewFactory(cfg.ClientOptions(logger)...)
	crush := summarizer.NewCrush(cfg.CrushExecutable, logger)

	pulseDeps := pulse.Deps{
		Config:     cfg.Pulse(),
		Clock:      clk,
		Clients:    clients,
		Summarizer: crush,
		Recorder:   recorder,
		Logger:     logger,
	}
	// Git stays unset so the runner follows git_executable after overrides.
	reviewDeps := review.Deps{
		Config:     cfg.Review(),
		Clock:      clk,
		Clients:    clients,
		Summarizer: crush,
		Recorder:   recorder,
		Logger:     logger,
	}

	reg := flows.NewRegistry(m, logger)
	pulse.Register(reg, pulseDeps)
	review.Register(reg, reviewDeps)

	b := bridge.NewServer(&bridge.ServerContext{
		Pulse:       pulseDeps,
		Review:      reviewDeps,
		Sessions:    recorder,
		SessionRoot: cfg.SessionRoot(),
		Metrics:     m,
		Logger:      logger,
	})

	return &App{
		Config:   cfg,
		Registry: reg,
		Bridge:   b,
		Store:    store,
		Recorder: recorder,
		Metrics:  m,
		Logger:   logger,
	}, nil
}

// Close releases the run store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// OpenStorage opens and migrates the configured run store. It returns nil
// when STORAGE_TYPE is none.
func OpenStorage(cfg *config.Config) (storage.Storage, error) {
	var (
		store storage.Storage
		err   error
	)
	switch cfg.StorageType {
	case config.StoragePostgres:
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
	case config.StorageSQLite:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// NewLogger returns a logger at the named level. Console output is used for
// terminals; json selects line-delimited JSON.
func NewLogger(w io.Writer, level string, json bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if !json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
