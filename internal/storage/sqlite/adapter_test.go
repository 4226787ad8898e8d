package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	"github.com/kurihiro0119/gitlab-flows/internal/storage"
)

func TestRunHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	runs := []*domain.RunSummary{
		{ID: "a", Flow: "pulse.weekly", Timestamp: base, Path: "/log/a.json", Status: domain.RunStatusSucceeded},
		{ID: "b", Flow: "gitlab.mr_reviewer", Timestamp: base.Add(time.Hour), Path: "/log/b.json", Status: domain.RunStatusSucceeded},
		{ID: "c", Flow: "pulse.weekly", Timestamp: base.Add(2 * time.Hour), Path: "/log/c.json", Status: domain.RunStatusFailed},
	}
	for _, r := range runs {
		require.NoError(t, s.SaveRun(ctx, r))
	}

	all, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	pulse, err := s.ListRuns(ctx, "pulse.weekly", 1)
	require.NoError(t, err)
	require.Len(t, pulse, 1)
	assert.Equal(t, "c", pulse[0].ID)
	assert.Equal(t, domain.RunStatusFailed, pulse[0].Status)

	got, err := s.GetRun(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "/log/b.json", got.Path)
	assert.True(t, got.Timestamp.Equal(base.Add(time.Hour)))

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
