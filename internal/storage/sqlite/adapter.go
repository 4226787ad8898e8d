package sqlite

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	"github.com/kurihiro0119/gitlab-flows/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		flow TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_flow_timestamp ON runs(flow, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun indexes a run, replacing any row with the same id
func (s *sqliteStorage) SaveRun(ctx context.Context, run *domain.RunSummary) error {
	query := `
		INSERT OR REPLACE INTO runs (id, flow, timestamp, path, status)
		VALUES (?, ?, ?, ?, ?)
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
func (s *sqliteStorage) ListRuns(ctx context.Context, flow string, limit int) ([]*domain.RunSummary, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := `
		SELECT id, flow, timestamp, path, status
		FROM runs
		WHERE (? = '' OR flow = ?)
		ORDER BY timestamp DESC, id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, flow, flow, limit)
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
func (s *sqliteStorage) GetRun(ctx context.Context, id string) (*domain.RunSummary, error) {
	query := `
		SELECT id, flow, timestamp, path, status
		FROM runs
		WHERE id = ?
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
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
