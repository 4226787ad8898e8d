package postgres

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	"github.com/kurihiro0119/gitlab-flows/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		flow TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_runs_flow_timestamp ON runs(flow, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun indexes a run, replacing any row with the same id
func (s *postgresStorage) SaveRun(ctx context.Context, run *domain.RunSummary) error {
	query := `
		INSERT INTO runs (id, flow, timestamp, path, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			flow = EXCLUDED.flow,
			timestamp = EXCLUDED.timestamp,
			path = EXCLUDED.path,
			status = EXCLUDED.status
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Flow,
		run.Timestamp.UTC(),
		run.Path,
		run.Status,
	)
	return err
}

// ListRuns returns the newest runs first, optionally filtered by flow
func (s *postgresStorage) ListRuns(ctx context.Context, flow string, limit int) ([]*domain.RunSummary, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := `
		SELECT id, flow, timestamp, path, status
		FROM runs
		WHERE ($1 = '' OR flow = $1)
		ORDER BY timestamp DESC, id
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, flow, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*domain.RunSummary{}
	for rows.Next() {
		var r domain.RunSummary
		if err := rows.Scan(&r.ID, &r.Flow, &r.Timestamp, &r.Path, &r.Status); err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}

	return runs, rows.Err()
}

// GetRun retrieves a single run by id
func (s *postgresStorage) GetRun(ctx context.Context, id string) (*domain.RunSummary, error) {
	query := `
		SELECT id, flow, timestamp, path, status
		FROM runs
		WHERE id = $1
	`
	var r domain.RunSummary
	err := s.db.QueryRowContext(ctx, query, id).Scan(&r.ID, &r.Flow, &r.Timestamp, &r.Path, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
