// Package bridge exposes the flows as callable tools and shapes their
// persisted artifacts into tool responses.
package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/gitlab-flows/internal/artifacts"
	"github.com/kurihiro0119/gitlab-flows/internal/clock"
	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
	"github.com/kurihiro0119/gitlab-flows/internal/flows"
	"github.com/kurihiro0119/gitlab-flows/internal/flows/pulse"
	"github.com/kurihiro0119/gitlab-flows/internal/flows/review"
	"github.com/kurihiro0119/gitlab-flows/internal/gitcmd"
	"github.com/kurihiro0119/gitlab-flows/internal/gitlab"
	"github.com/kurihiro0119/gitlab-flows/internal/metrics"
	"github.com/kurihiro0119/gitlab-flows/internal/redact"
	"github.com/kurihiro0119/gitlab-flows/internal/session"
	"github.com/kurihiro0119/gitlab-flows/internal/summarizer"
)

// PulseFlow is a digest run whose resolved configuration can be inspected afterwards.
type PulseFlow interface {
	flows.Flow
	Config() pulse.Config
}

// PulseFactory builds a digest run.
type PulseFactory func(cfg pulse.Config, deps pulse.Deps) (PulseFlow, error)

// ReviewFactory builds a review run.
type ReviewFactory func(mrURL string, cfg review.Config, deps review.Deps) (flows.Flow, error)

// ServerContext carries the collaborators shared by every tool call. Nil
// fields fall back to the defaults already present in Pulse and Review.
type ServerContext struct {
	Clock         clock.Clock
	ClientFactory gitlab.Factory
	GitRunner     gitcmd.Runner
	Summarizer    summarizer.Summarizer

	Pulse  pulse.Deps
	Review review.Deps

	PulseFactory  PulseFactory
	ReviewFactory ReviewFactory

	// Sessions, when set, records every successful call under SessionRoot.
	Sessions    *session.Recorder
	SessionRoot string

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func (sc *ServerContext) pulseDeps() pulse.Deps {
	deps := sc.Pulse
	if sc.Clock != nil {
		deps.Clock = sc.Clock
	}
	if sc.ClientFactory != nil {
		deps.Clients = sc.ClientFactory
	}
	if sc.Summarizer != nil {
		deps.Summarizer = sc.Summarizer
	}
	return deps
}

func (sc *ServerContext) reviewDeps() review.Deps {
	deps := sc.Review
	if sc.Clock != nil {
		deps.Clock = sc.Clock
	}
	if sc.ClientFactory != nil {
		deps.Clients = sc.ClientFactory
	}
	if sc.GitRunner != nil {
		deps.Git = sc.GitRunner
	}
	if sc.Summarizer != nil {
		deps.Summarizer = sc.Summarizer
	}
	return deps
}

func defaultPulseFactory(cfg pulse.Config, deps pulse.Deps) (PulseFlow, error) {
	return pulse.New(cfg, deps)
}

func defaultReviewFactory(mrURL string, cfg review.Config, deps review.Deps) (flows.Flow, error) {
	return review.New(mrURL, cfg, deps)
}

// Tools lists the tool definitions in a stable order.
func Tools() []Tool {
	return []Tool{
		{
			Name:        review.FlowName,
			Description: "Run the GitLab merge request reviewer flow and return the generated review artefacts.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"merge_request_url": {Type: "string", Description: "Full GitLab merge request URL."},
					"config":            {Type: "object", Description: "Optional configuration overrides passed directly to the flow."},
				},
				Required:             []string{"merge_request_url"},
				AdditionalProperties: true,
			},
		},
		{
			Name:        pulse.FlowName,
			Description: "Run the Weekly Pulse flow for one or more GitLab groups and surface the generated summaries.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"config": {Type: "object", Description: "Configuration passed directly to the Weekly Pulse flow. Must include GitLab credentials and output paths."},
				},
				Required:             []string{"config"},
				AdditionalProperties: true,
			},
		},
	}
}

func lookupTool(name string) (Tool, bool) {
	for _, t := range Tools() {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Call validates args against the tool's schema, runs the matching flow and
// builds the response from the files the flow persisted.
func Call(ctx context.Context, toolName string, args map[string]any, sc *ServerContext) (*Response, error) {
	if sc == nil {
		sc = &ServerContext{Logger: zerolog.Nop()}
	}
	resp, err := call(ctx, toolName, args, sc)
	status := "ok"
	if err != nil {
		status = "error"
	}
	sc.Metrics.RecordToolCall(toolName, status)
	return resp, err
}

func call(ctx context.Context, toolName string, args map[string]any, sc *ServerContext) (*Response, error) {
	tool, ok := lookupTool(toolName)
	if !ok {
		return nil, apperrors.NewUnknownFlowError(toolName)
	}
	args, err := ValidateParams(tool.InputSchema, args)
	if err != nil {
		return nil, err
	}

	var (
		resp   *Response
		result *flows.Result
	)
	switch toolName {
	case pulse.FlowName:
		resp, result, err = callPulse(ctx, args, sc)
	case review.FlowName:
		resp, result, err = callReview(ctx, args, sc)
	}
	if err != nil {
		return nil, err
	}

	if sc.Sessions != nil && sc.SessionRoot != "" {
		metadata := map[string]any{"tool": toolName}
		if result != nil && result.LogPath != "" {
			metadata["log_path"] = result.LogPath
		}
		if _, err := sc.Sessions.Persist(ctx, sc.SessionRoot, toolName, sanitizeArgs(args), resp.StructuredContent, metadata); err != nil {
			sc.Logger.Warn().Err(err).Str("tool", toolName).Msg("failed to persist session")
		}
	}
	return resp, nil
}

func callPulse(ctx context.Context, args map[string]any, sc *ServerContext) (*Response, *flows.Result, error) {
	overrides, _ := args["config"].(map[string]any)
	deps := sc.pulseDeps()
	cfg, err := deps.Config.Merge(overrides)
	if err != nil {
		return nil, nil, apperrors.NewInvalidArgumentError(err.Error())
	}

	factory := sc.PulseFactory
	if factory == nil {
		factory = defaultPulseFactory
	}
	flow, err := factory(cfg, deps)
	if err != nil {
		return nil, nil, err
	}
	result, err := flows.Run(ctx, flow, sc.Metrics, sc.Logger)
	if err != nil {
		return nil, nil, err
	}

	final := flow.Config()
	groups := make([]map[string]any, 0, len(final.Groups))
	for _, group := range final.Groups {
		groups = append(groups, groupPayload(final.OutDir, group, sc.Logger))
	}
	overall := overallPayload(final.OutDir, sc.Logger)

	structured := compact(map[string]any{
		"flow":    pulse.FlowName,
		"out_dir": nonEmpty(final.OutDir),
		"groups":  groups,
		"overall": overall,
	})
	return textResponse(pulseText(groups, overall), structured), result, nil
}

func groupPayload(outDir, group string, logger zerolog.Logger) map[string]any {
	slug := artifacts.Slugify(group)
	if outDir == "" {
		return map[string]any{"name": group, "slug": slug}
	}
	groupDir := filepath.Join(outDir, slug)
	summaryPath := filepath.Join(groupDir, pulse.GroupSummaryFile)
	aggregatePath := filepath.Join(groupDir, pulse.GroupAggregateFile)

	return compact(map[string]any{
		"name":           group,
		"slug":           slug,
		"summary_path":   summaryPath,
		"summary":        readText(summaryPath, logger),
		"aggregate_path": aggregatePath,
		"aggregate":      readJSON(aggregatePath, logger),
	})
}

func overallPayload(outDir string, logger zerolog.Logger) map[string]any {
	if outDir == "" {
		return map[string]any{}
	}
	summaryPath := filepath.Join(outDir, pulse.OverallSummaryFile)
	aggregatePath := filepath.Join(outDir, pulse.OverallAggregateFile)

	return compact(map[string]any{
		"summary_path":   summaryPath,
		"summary":        readText(summaryPath, logger),
		"aggregate_path": aggregatePath,
		"aggregate":      readJSON(aggregatePath, logger),
	})
}

func pulseText(groups []map[string]any, overall map[string]any) string {
	header := "Weekly pulse summaries generated"

	if summary, _ := overall["summary"].(string); summary != "" {
		return header + "\n\n" + summary
	}
	if path, _ := overall["summary_path"].(string); path != "" {
		return header + "\n\nOverall summary saved to " + path
	}
	var lines []string
	for _, g := range groups {
		if path, _ := g["summary_path"].(string); path != "" {
			lines = append(lines, "Summary saved to "+path)
		}
	}
	if len(lines) == 0 {
		return header
	}
	return header + "\n\n" + strings.Join(lines, "\n")
}

func callReview(ctx context.Context, args map[string]any, sc *ServerContext) (*Response, *flows.Result, error) {
	mrURL, _ := args["merge_request_url"].(string)
	overrides, _ := args["config"].(map[string]any)
	deps := sc.reviewDeps()
	cfg, err := deps.Config.Merge(overrides)
	if err != nil {
		return nil, nil, apperrors.NewInvalidArgumentError(err.Error())
	}

	factory := sc.ReviewFactory
	if factory == nil {
		factory = defaultReviewFactory
	}
	flow, err := factory(mrURL, cfg, deps)
	if err != nil {
		return nil, nil, err
	}
	result, err := flows.Run(ctx, flow, sc.Metrics, sc.Logger)
	if err != nil {
		return nil, nil, err
	}

	reviewPath := result.Artifact(review.ArtifactReviewPath)
	resultsPath := result.Artifact(review.ArtifactResultsPath)
	aggregatePath := result.Artifact(review.ArtifactAggregatePath)

	var results map[string]any
	if resultsPath != "" {
		results, _ = readJSON(resultsPath, sc.Logger).(map[string]any)
	}
	var aggregate any
	if aggregatePath != "" {
		aggregate = readJSON(aggregatePath, sc.Logger)
	}

	var summary string
	if outputs, ok := results["outputs"].(map[string]any); ok {
		summary, _ = outputs["summary"].(string)
	}
	if summary == "" && reviewPath != "" {
		if text, ok := readText(reviewPath, sc.Logger).(string); ok {
			summary = text
		}
	}

	structured := compact(map[string]any{
		"flow":              review.FlowName,
		"merge_request_url": mrURL,
		"review_path":       nonEmpty(reviewPath),
		"results_path":      nonEmpty(resultsPath),
		"aggregate_path":    nonEmpty(aggregatePath),
		"inputs":            results["inputs"],
		"outputs":           results["outputs"],
		"aggregate":         aggregate,
	})
	return textResponse(reviewText(mrURL, reviewPath, summary), structured), result, nil
}

func reviewText(mrURL, reviewPath, summary string) string {
	header := "GitLab merge request review for " + mrURL
	switch {
	case summary != "":
		return header + "\n\n" + summary
	case reviewPath != "":
		return header + "\n\nReview saved to " + reviewPath
	default:
		return header
	}
}

// readText returns the file contents, or nil when the file is absent or unreadable.
func readText(path string, logger zerolog.Logger) any {
	text, found, err := artifacts.ReadText(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to read artifact")
		return nil
	}
	if !found {
		return nil
	}
	return text
}

// readJSON returns the decoded file, or nil when the file is absent or not valid JSON.
func readJSON(path string, logger zerolog.Logger) any {
	var v any
	found, err := artifacts.ReadJSON(path, &v)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to read artifact")
		return nil
	}
	if !found {
		return nil
	}
	return v
}

// compact drops nil values so they never reach the wire.
func compact(m map[string]any) map[string]any {
	for k, v := range m {
		if v == nil {
			delete(m, k)
		}
	}
	return m
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// sanitizeArgs copies args for persistence with any token masked.
func sanitizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	if cfg, ok := args["config"].(map[string]any); ok {
		masked := make(map[string]any, len(cfg))
		for k, v := range cfg {
			if s, ok := v.(string); ok && s != "" && strings.Contains(k, "token") {
				v = redact.Placeholder
			}
			masked[k] = v
		}
		out["config"] = masked
	}
	return out
}

// Server binds a ServerContext to the tool surface for transports.
type Server struct {
	sc *ServerContext
}

// NewServer creates a Server. Missing factories use the flows' constructors.
func NewServer(sc *ServerContext) *Server {
	if sc == nil {
		sc = &ServerContext{Logger: zerolog.Nop()}
	}
	return &Server{sc: sc}
}

// Tools lists the tool definitions.
func (s *Server) Tools() []Tool { return Tools() }

// Call runs one tool call.
func (s *Server) Call(ctx context.Context, toolName string, args map[string]any) (*Response, error) {
	return Call(ctx, toolName, args, s.sc)
}

// String describes the server for logs.
func (s *Server) String() string {
	return fmt.Sprintf("%s (%d tools)", ServerName, len(Tools()))
}
