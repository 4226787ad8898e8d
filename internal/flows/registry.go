// Package flows maps flow names to runnable pipelines.
package flows

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
	"github.com/kurihiro0119/gitlab-flows/internal/metrics"
)

// Flow is one configured run of a pipeline.
type Flow interface {
	Name() string
	Run(ctx context.Context) (*Result, error)
}

// Result describes what a run left on disk.
type Result struct {
	Flow string
	// LogPath is the run record written for this run.
	LogPath string
	// Artifacts maps artifact names (e.g. "review_path") to file paths.
	Artifacts map[string]string
	Record    *domain.RunRecord
}

// Artifact returns the path registered under name, or "".
func (r *Result) Artifact(name string) string {
	if r == nil {
		return ""
	}
	return r.Artifacts[name]
}

// Factory builds a flow from positional arguments.
type Factory func(args []string) (Flow, error)

// Registry is populated once at startup and read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(m *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		metrics:   m,
		logger:    logger.With().Str("component", "flows").Logger(),
	}
}

// Register binds name to factory. A later registration replaces an earlier one.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names lists the registered flows in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the factory for name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewUnknownFlowError(name)
	}
	return factory, nil
}

// Dispatch builds the named flow from args and runs it.
func (r *Registry) Dispatch(ctx context.Context, name string, args []string) (*Result, error) {
	factory, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	flow, err := factory(args)
	if err != nil {
		r.metrics.RecordRun(name, domain.RunStatusFailed)
		return nil, err
	}
	return Run(ctx, flow, r.metrics, r.logger)
}

// Run executes flow and records its outcome.
func Run(ctx context.Context, flow Flow, m *metrics.Metrics, logger zerolog.Logger) (*Result, error) {
	name := flow.Name()
	start := time.Now()
	logger.Info().Str("flow", name).Msg("flow started")

	res, err := flow.Run(ctx)
	elapsed := time.Since(start)
	m.ObserveDuration(name, elapsed.Seconds())
	if err != nil {
		m.RecordRun(name, domain.RunStatusFailed)
		logger.Error().Err(err).Str("flow", name).Dur("elapsed", elapsed).Msg("flow failed")
		return nil, err
	}

	m.RecordRun(name, domain.RunStatusSucceeded)
	logger.Info().Str("flow", name).Str("log_path", res.LogPath).Dur("elapsed", elapsed).Msg("flow finished")
	return res, nil
}
