package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/gitlab-flows/internal/clock"
	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
	"github.com/kurihiro0119/gitlab-flows/internal/flows"
	"github.com/kurihiro0119/gitlab-flows/internal/gitlab"
	"github.com/kurihiro0119/gitlab-flows/internal/notify"
	"github.com/kurihiro0119/gitlab-flows/internal/summarizer"
)

type fakeSummarizer struct {
	prompts []string
}

func (f *fakeSummarizer) Summarize(_ context.Context, configPath, prompt string) (*summarizer.Result, error) {
	f.prompts = append(f.prompts, prompt)
	return &summarizer.Result{
		Command: summarizer.Command("crush", configPath, prompt),
		Stdout:  fmt.Sprintf("summary %d", len(f.prompts)),
	}, nil
}

type fakeNotifier struct {
	url   string
	texts []string
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

// gitlabServer serves one group with one project and records request paths.
func gitlabServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	routes := map[string]string{
		"/api/v4/groups/team":                    `{"id":321,"name":"Team"}`,
		"/api/v4/groups/321/projects":            `[{"id":42,"name":"api"}]`,
		"/api/v4/groups/321/issues":              `[{"iid":1}]`,
		"/api/v4/groups/321/merge_requests":      `[{"iid":5,"merged_at":"2024-01-02T10:00:00Z"},{"iid":6,"merged_at":null}]`,
		"/api/v4/projects/42/repository/commits": `[{"id":"c1","author_name":"Dev"}]`,
		"/api/v4/projects/42/pipelines":          `[{"id":9,"status":"success"},{"id":10,"status":"failed"}]`,
		"/api/v4/projects/42/events":             `[]`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(gitlab.TokenHeader))
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &paths
}

func TestWeeklyPulseEndToEnd(t *testing.T) {
	server, paths := gitlabServer(t)
	root := t.TempDir()
	sum := &fakeSummarizer{}
	notifier := &fakeNotifier{}
	fixed := clock.Fixed(time.Date(2024, 1, 3, 14, 5, 1, 0, time.UTC))

	reg := flows.NewRegistry(nil, zerolog.Nop())
	Register(reg, Deps{
		Config: Config{
			GitLabBase:        server.URL + "/",
			GitLabToken:       "secret",
			Groups:            StringList{"team"},
			OutRoot:           filepath.Join(root, "reports"),
			LogRoot:           filepath.Join(root, "log"),
			CrushConfig:       filepath.Join(root, "lead.crush.json"),
			MattermostWebhook: "https://chat.example.com/hooks/abc",
		},
		Clock:      fixed,
		Summarizer: sum,
		Notifiers: func(url string) notify.Notifier {
			notifier.url = url
			return notifier
		},
		Logger: zerolog.Nop(),
	})

	res, err := reg.Dispatch(context.Background(), FlowName, []string{"2024-01-03"})
	require.NoError(t, err)

	outDir := filepath.Join(root, "reports", "2024_01")
	groupDir := filepath.Join(outDir, "team")
	assert.Equal(t, outDir, res.Artifact(ArtifactOutDir))
	assert.Equal(t, groupDir, res.Artifact(ArtifactGroupPrefix+"team"))

	for _, name := range []string{
		"raw/projects.json", "raw/issues.json", "raw/mrs.json",
		"raw/42-commits.json", "raw/42-pipelines.json", "raw/42-events.json",
		"raw/commits.all.json", "raw/pipelines.all.json", "raw/events.all.json",
		"stats/commits.json", "stats/pipelines.json", "stats/issues.json", "stats/mrs.json",
		GroupAggregateFile, GroupSummaryFile,
	} {
		assert.FileExists(t, filepath.Join(groupDir, name))
	}

	var aggregate map[string]any
	readJSON(t, filepath.Join(groupDir, GroupAggregateFile), &aggregate)
	assert.Equal(t, "team", aggregate["group"])
	assert.Equal(t, map[string]any{"since": "2024-01-01", "until": "2024-01-08"}, aggregate["window"])
	assert.Len(t, aggregate["commits"], 1)
	assert.Equal(t, []any{}, aggregate["events"])

	stats, err := LoadStats(groupDir)
	require.NoError(t, err)
	assert.Equal(t, []domain.AuthorCommits{{Name: "Dev", Commits: 1}}, stats.Commits.Authors)
	assert.Equal(t, domain.PipelineStats{Count: 2, Succeeded: 1, Failed: 1}, stats.Pipelines)
	assert.Equal(t, domain.MergeRequestStats{Updated: 2, Merged: 1}, stats.MergeRequests)
	assert.Equal(t, 1, stats.Issues.OpenOrUpdated)

	summary, err := os.ReadFile(filepath.Join(groupDir, GroupSummaryFile))
	require.NoError(t, err)
	assert.Equal(t, "summary 1", string(summary))
	overallSummary, err := os.ReadFile(filepath.Join(outDir, OverallSummaryFile))
	require.NoError(t, err)
	assert.Equal(t, "summary 2", string(overallSummary))

	require.Len(t, sum.prompts, 2)
	assert.Contains(t, sum.prompts[0], filepath.Join(groupDir, GroupAggregateFile))
	assert.Contains(t, sum.prompts[0], `"team"`)
	assert.Contains(t, sum.prompts[1], "- team (reports/team)")

	assert.Equal(t, "https://chat.example.com/hooks/abc", notifier.url)
	assert.Equal(t, []string{"summary 2"}, notifier.texts)

	wantLog := filepath.Join(root, "log", "pulse", "weekly", "2024-01-03_140501.json")
	assert.Equal(t, wantLog, res.LogPath)
	var record map[string]any
	readJSON(t, wantLog, &record)
	inputs := record["inputs"].(map[string]any)
	assert.Equal(t, server.URL, inputs["gitlab_base"])
	assert.Equal(t, true, inputs["mattermost_webhook_configured"])
	assert.Equal(t, float64(100), inputs["per_page"])
	assert.Equal(t, map[string]any{"start": "2024-01-01", "end": "2024-01-08"}, inputs["window"])
	overall := record["outputs"].(map[string]any)["overall"].(map[string]any)
	assert.Equal(t, "summary 2", overall["summary"])
	assert.Equal(t, true, overall["webhook_posted"])
	command := overall["crush_command"].([]any)
	assert.Equal(t, []any{"crush", "--config", filepath.Join(root, "lead.crush.json"), "--yolo", "-c"}, command[:5])

	assert.Equal(t, "/api/v4/groups/team", (*paths)[0])
	assert.NotContains(t, strings.Join(*paths, " "), "%")
}

func TestWeeklyPulseSkipsWebhookWhenUnset(t *testing.T) {
	server, _ := gitlabServer(t)
	root := t.TempDir()
	called := false

	flow, err := New(Config{
		GitLabBase:  server.URL,
		GitLabToken: "secret",
		Groups:      StringList{"team"},
		OutRoot:     root,
		LogRoot:     root,
		CrushConfig: "lead.json",
		Date:        "2024-01-07",
	}, Deps{
		Clock:      clock.Fixed(time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)),
		Summarizer: &fakeSummarizer{},
		Notifiers: func(string) notify.Notifier {
			called = true
			return &fakeNotifier{}
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	res, err := flow.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, called)
	assert.Equal(t, filepath.Join(root, "2024_01"), flow.Config().OutDir)
	assert.Equal(t, false, res.Record.Outputs["overall"].(map[string]any)["webhook_posted"])
}

func newTestFlow(t *testing.T, serverURL, root string, groups StringList, webhook string, notifier *fakeNotifier) *Flow {
	t.Helper()
	flow, err := New(Config{
		GitLabBase:        serverURL,
		GitLabToken:       "secret",
		Groups:            groups,
		OutRoot:           filepath.Join(root, "reports"),
		LogRoot:           filepath.Join(root, "log"),
		CrushConfig:       "lead.json",
		Date:              "2024-01-03",
		MattermostWebhook: webhook,
	}, Deps{
		Clock:      clock.Fixed(time.Date(2024, 1, 3, 14, 5, 1, 0, time.UTC)),
		Summarizer: &fakeSummarizer{},
		Notifiers:  func(string) notify.Notifier { return notifier },
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return flow
}

func runLogs(t *testing.T, root string) []string {
	t.Helper()
	logs, err := filepath.Glob(filepath.Join(root, "log", "pulse", "weekly", "*.json"))
	require.NoError(t, err)
	return logs
}

func TestWeeklyPulseWebhookFailureAbortsRun(t *testing.T) {
	server, _ := gitlabServer(t)
	root := t.TempDir()
	notifier := &fakeNotifier{err: fmt.Errorf("webhook post failed: 500")}
	flow := newTestFlow(t, server.URL, root, StringList{"team"}, "https://chat.example.com/hooks/abc", notifier)

	res, err := flow.Run(context.Background())

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "webhook post failed")
	assert.Len(t, notifier.texts, 1)
	assert.FileExists(t, filepath.Join(root, "reports", "2024_01", OverallSummaryFile))
	assert.Empty(t, runLogs(t, root))
}

func TestWeeklyPulseKeepsEarlierGroupsWhenLaterGroupFails(t *testing.T) {
	server, _ := gitlabServer(t)
	root := t.TempDir()
	notifier := &fakeNotifier{}
	flow := newTestFlow(t, server.URL, root, StringList{"team", "missing"}, "https://chat.example.com/hooks/abc", notifier)

	_, err := flow.Run(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
	outDir := filepath.Join(root, "reports", "2024_01")
	assert.FileExists(t, filepath.Join(outDir, "team", GroupAggregateFile))
	assert.FileExists(t, filepath.Join(outDir, "team", GroupSummaryFile))
	assert.NoFileExists(t, filepath.Join(outDir, "missing", GroupSummaryFile))
	assert.NoFileExists(t, filepath.Join(outDir, OverallSummaryFile))
	assert.Empty(t, notifier.texts)
	assert.Empty(t, runLogs(t, root))
}

func TestNewRejectsMissingToken(t *testing.T) {
	_, err := New(Config{GitLabBase: "https://gitlab.example.com", Groups: StringList{"a"}}, Deps{Logger: zerolog.Nop()})

	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "GITLAB_TOKEN")
}

func TestNewRejectsBadDate(t *testing.T) {
	_, err := New(Config{
		GitLabBase:  "https://gitlab.example.com",
		GitLabToken: "t",
		Groups:      StringList{"a"},
		Date:        "03/01/2024",
	}, Deps{Logger: zerolog.Nop()})

	assert.Error(t, err)
}

func TestNewDefaultsDateToClock(t *testing.T) {
	flow, err := New(Config{
		GitLabBase:  "https://gitlab.example.com",
		GitLabToken: "t",
		Groups:      StringList{"a"},
		OutRoot:     "/tmp/reports",
	}, Deps{Clock: clock.Fixed(time.Date(2024, 12, 30, 9, 0, 0, 0, time.UTC)), Logger: zerolog.Nop()})
	require.NoError(t, err)

	assert.Equal(t, "2024-12-30", flow.Config().Date)
	assert.Equal(t, "/tmp/reports/2025_01", flow.Config().OutDir)
	assert.Equal(t, "2024-12-30", flow.Window().StartDate())
}

func TestConfigMergeAcceptsCommaSeparatedGroups(t *testing.T) {
	base := Config{GitLabBase: "https://gitlab.example.com", PerPage: 50}

	merged, err := base.Merge(map[string]any{"groups": "a, b,,c", "gitlab_token": "t"})
	require.NoError(t, err)

	assert.Equal(t, StringList{"a", "b", "c"}, merged.Groups)
	assert.Equal(t, "t", merged.GitLabToken)
	assert.Equal(t, 50, merged.PerPage)
	assert.Equal(t, "https://gitlab.example.com", merged.GitLabBase)
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
