package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/gitlab-flows/internal/api"
	"github.com/kurihiro0119/gitlab-flows/internal/artifacts"
	"github.com/kurihiro0119/gitlab-flows/internal/bridge"
	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	"github.com/kurihiro0119/gitlab-flows/internal/flows"
	"github.com/kurihiro0119/gitlab-flows/internal/flows/review"
	"github.com/kurihiro0119/gitlab-flows/internal/storage"
	"github.com/kurihiro0119/gitlab-flows/internal/storage/sqlite"
)

type stubFlow struct {
	result *flows.Result
}

func (s *stubFlow) Name() string { return review.FlowName }

func (s *stubFlow) Run(context.Context) (*flows.Result, error) { return s.result, nil }

func newServer(t *testing.T) (*Client, storage.Storage) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	reviewPath := filepath.Join(t.TempDir(), "review.md")
	require.NoError(t, artifacts.WriteText(reviewPath, "LGTM"))

	tools := bridge.NewServer(&bridge.ServerContext{
		ReviewFactory: func(string, review.Config, review.Deps) (flows.Flow, error) {
			return &stubFlow{result: &flows.Result{
				Artifacts: map[string]string{review.ArtifactReviewPath: reviewPath},
			}}, nil
		},
		Logger: zerolog.Nop(),
	})

	server := httptest.NewServer(api.SetupRoutes(api.NewHandler(tools, store, nil), zerolog.Nop()))
	t.Cleanup(server.Close)
	return NewClient(server.URL, 5*time.Second), store
}

func TestHealthCheckAndTools(t *testing.T) {
	c, _ := newServer(t)

	require.NoError(t, c.HealthCheck())

	tools, err := c.ListTools()
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, []string{"merge_request_url"}, tools[0].InputSchema.Required)
}

func TestCallTool(t *testing.T) {
	c, _ := newServer(t)

	resp, err := c.CallTool(review.FlowName, map[string]any{
		"merge_request_url": "https://gitlab.example.com/g/p/-/merge_requests/1",
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Text(), "LGTM")
	assert.Equal(t, review.FlowName, resp.StructuredContent["flow"])

	_, err = c.CallTool(review.FlowName, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Code)
}

func TestRuns(t *testing.T) {
	c, store := newServer(t)

	run := &domain.RunSummary{
		ID:        "7d2c",
		Flow:      "pulse.weekly",
		Timestamp: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC),
		Path:      "log/pulse/weekly/2024-01-03_090000.json",
		Status:    domain.RunStatusSucceeded,
	}
	require.NoError(t, store.SaveRun(context.Background(), run))

	runs, err := c.ListRuns("pulse.weekly", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.Path, runs[0].Path)
	assert.True(t, run.Timestamp.Equal(runs[0].Timestamp))

	got, err := c.GetRun("7d2c")
	require.NoError(t, err)
	assert.Equal(t, "pulse.weekly", got.Flow)

	_, err = c.GetRun("missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}
