package storage

import (
	"context"
	"errors"

	"github.com/kurihiro0119/gitlab-flows/internal/domain"
)

// ErrNotFound is returned when a run id is not indexed
var ErrNotFound = errors.New("run not found")

// Storage is the abstract interface for the run history index
type Storage interface {
	// Run operations
	SaveRun(ctx context.Context, run *domain.RunSummary) error
	ListRuns(ctx context.Context, flow string, limit int) ([]*domain.RunSummary, error)
	GetRun(ctx context.Context, id string) (*domain.RunSummary, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}

// DefaultListLimit caps ListRuns when the caller passes a non-positive limit
const DefaultListLimit = 20
