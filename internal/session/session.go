// Package session persists run records and indexes them in the run store.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kurihiro0119/gitlab-flows/internal/artifacts"
	"github.com/kurihiro0119/gitlab-flows/internal/clock"
	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	"github.com/kurihiro0119/gitlab-flows/internal/storage"
)

// TimestampLayout names run log files, e.g. 2024-01-03_140501.
const TimestampLayout = "2006-01-02_150405"

// Recorder writes RunRecords to disk. When a store is configured each
// record is also indexed; indexing failures are logged, not returned.
type Recorder struct {
	clock  clock.Clock
	store  storage.Storage
	logger zerolog.Logger
}

// NewRecorder creates a Recorder. store may be nil.
func NewRecorder(clk clock.Clock, store storage.Storage, logger zerolog.Logger) *Recorder {
	return &Recorder{
		clock:  clock.OrSystem(clk),
		store:  store,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Now returns the recorder's current time in UTC.
func (r *Recorder) Now() time.Time {
	return r.clock.Now().UTC()
}

// Write fills in the id and timestamp when missing, writes rec as JSON to path
// and indexes it.
func (r *Recorder) Write(ctx context.Context, path string, rec *domain.RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.Now()
	}
	if rec.Inputs == nil {
		rec.Inputs = map[string]any{}
	}
	if rec.Outputs == nil {
		rec.Outputs = map[string]any{}
	}

	if err := artifacts.WriteJSON(path, rec); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	rec.Path = path

	if r.store != nil {
		err := r.store.SaveRun(ctx, &domain.RunSummary{
			ID:        rec.ID,
			Flow:      rec.Flow,
			Timestamp: rec.Timestamp,
			Path:      path,
			Status:    domain.RunStatusSucceeded,
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("run_id", rec.ID).Msg("failed to index run")
		}
	}

	r.logger.Debug().Str("flow", rec.Flow).Str("path", path).Msg("run recorded")
	return nil
}

// Persist writes a session record for flow under <root>/<flow>/<timestamp>.json.
// Empty metadata is left out of the payload.
func (r *Recorder) Persist(ctx context.Context, root, flow string, inputs, outputs, metadata map[string]any) (*domain.RunRecord, error) {
	now := r.Now()
	rec := &domain.RunRecord{
		Flow:      flow,
		Timestamp: now,
		Inputs:    inputs,
		Outputs:   outputs,
		Metadata:  compact(metadata),
	}
	path := SessionPath(root, flow, now)
	if err := r.Write(ctx, path, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SessionPath is <root>/<flow with path separators replaced>/<timestamp>.json.
func SessionPath(root, flow string, t time.Time) string {
	safe := strings.NewReplacer("/", "-", `\`, "-").Replace(flow)
	return filepath.Join(root, safe, t.UTC().Format(TimestampLayout)+".json")
}

func compact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
