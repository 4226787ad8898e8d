package mcpserver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/gitlab-flows/internal/artifacts"
	"github.com/kurihiro0119/gitlab-flows/internal/bridge"
	"github.com/kurihiro0119/gitlab-flows/internal/flows"
	"github.com/kurihiro0119/gitlab-flows/internal/flows/review"
)

type stubFlow struct {
	result *flows.Result
}

func (s *stubFlow) Name() string { return review.FlowName }

func (s *stubFlow) Run(context.Context) (*flows.Result, error) { return s.result, nil }

func TestDefinitionMarksRequiredArguments(t *testing.T) {
	var reviewer bridge.Tool
	for _, tool := range bridge.Tools() {
		if tool.Name == review.FlowName {
			reviewer = tool
		}
	}

	def := Definition(reviewer)

	assert.Equal(t, review.FlowName, def.Name)
	assert.Equal(t, reviewer.Description, def.Description)
	assert.Equal(t, []string{"merge_request_url"}, def.InputSchema.Required)
	assert.Contains(t, def.InputSchema.Properties, "config")
	assert.Contains(t, def.InputSchema.Properties, "merge_request_url")
}

func TestHandlerReturnsTextAndStructuredContent(t *testing.T) {
	reviewPath := filepath.Join(t.TempDir(), "review.md")
	require.NoError(t, artifacts.WriteText(reviewPath, "Looks good"))

	b := bridge.NewServer(&bridge.ServerContext{
		ReviewFactory: func(string, review.Config, review.Deps) (flows.Flow, error) {
			return &stubFlow{result: &flows.Result{
				Artifacts: map[string]string{review.ArtifactReviewPath: reviewPath},
			}}, nil
		},
		Logger: zerolog.Nop(),
	})

	req := mcp.CallToolRequest{}
	req.Params.Name = review.FlowName
	req.Params.Arguments = map[string]any{
		"merge_request_url": "https://gitlab.example.com/g/p/-/merge_requests/4",
	}

	res, err := Handler(b, review.FlowName, zerolog.Nop())(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.IsError)

	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Looks good")

	structured, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, reviewPath, structured["review_path"])
}

func TestHandlerReportsFailuresAsToolErrors(t *testing.T) {
	b := bridge.NewServer(&bridge.ServerContext{Logger: zerolog.Nop()})

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{}

	res, err := Handler(b, review.FlowName, zerolog.Nop())(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "merge_request_url")
}

func TestNewBuildsServer(t *testing.T) {
	assert.NotNil(t, New(bridge.NewServer(nil), zerolog.Nop()))
}
