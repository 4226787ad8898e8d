// Package pulse implements the weekly multi-group activity digest.
package pulse

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/gitlab-flows/internal/aggregator"
	"github.com/kurihiro0119/gitlab-flows/internal/artifacts"
	"github.com/kurihiro0119/gitlab-flows/internal/clock"
	"github.com/kurihiro0119/gitlab-flows/internal/collector"
	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
	"github.com/kurihiro0119/gitlab-flows/internal/flows"
	"github.com/kurihiro0119/gitlab-flows/internal/gitlab"
	"github.com/kurihiro0119/gitlab-flows/internal/notify"
	"github.com/kurihiro0119/gitlab-flows/internal/session"
	"github.com/kurihiro0119/gitlab-flows/internal/summarizer"
	"github.com/kurihiro0119/gitlab-flows/internal/templates"
)

// FlowName is the registry and tool name of the digest.
const FlowName = "pulse.weekly"

// Artifact keys in flows.Result.
const (
	ArtifactOutDir           = "out_dir"
	ArtifactOverallAggregate = "overall_aggregate_path"
	ArtifactOverallSummary   = "overall_summary_path"
	// ArtifactGroupPrefix prefixes one key per group, pointing at its directory.
	ArtifactGroupPrefix = "groups/"
)

// Output file names.
const (
	GroupAggregateFile   = "group_aggregate.json"
	GroupSummaryFile     = "summary.md"
	OverallAggregateFile = "overall_aggregate.json"
	OverallSummaryFile   = "overall_summary.md"
)

// Deps are the collaborators a digest run needs. Zero values fall back to
// the production implementations.
type Deps struct {
	Config     Config
	Clock      clock.Clock
	Clients    gitlab.Factory
	Summarizer summarizer.Summarizer
	Renderer   templates.Renderer
	// Notifiers builds the webhook notifier for a configured URL.
	Notifiers func(url string) notify.Notifier
	Recorder  *session.Recorder
	Logger    zerolog.Logger
}

func (d Deps) withDefaults() Deps {
	d.Clock = clock.OrSystem(d.Clock)
	if d.Clients == nil {
		d.Clients = gitlab.NewFactory(gitlab.WithLogger(d.Logger))
	}
	if d.Summarizer == nil {
		d.Summarizer = summarizer.NewCrush("", d.Logger)
	}
	if d.Renderer == nil {
		d.Renderer = templates.Embedded{}
	}
	if d.Notifiers == nil {
		logger := d.Logger
		d.Notifiers = func(url string) notify.Notifier { return notify.NewWebhook(url, nil, logger) }
	}
	if d.Recorder == nil {
		d.Recorder = session.NewRecorder(d.Clock, nil, d.Logger)
	}
	return d
}

// Register adds the digest to reg. An optional first argument overrides the
// reference date.
func Register(reg *flows.Registry, deps Deps) {
	reg.Register(FlowName, func(args []string) (flows.Flow, error) {
		cfg := deps.Config
		if len(args) > 0 && args[0] != "" {
			cfg.Date = args[0]
		}
		return New(cfg, deps)
	})
}

// Flow is one configured digest run.
type Flow struct {
	cfg    Config
	deps   Deps
	window domain.TimeWindow
	logger zerolog.Logger
}

var _ flows.Flow = (*Flow)(nil)

// New resolves cfg against the defaults and validates it.
func New(cfg Config, deps Deps) (*Flow, error) {
	deps = deps.withDefaults()

	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("invalid %s config: %v", FlowName, err))
	}

	date := domain.Date(deps.Clock.Now())
	if cfg.Date != "" {
		if date, err = domain.ParseDate(cfg.Date); err != nil {
			return nil, apperrors.NewInvalidArgumentError(err.Error())
		}
	}
	cfg.Date = date.Format(domain.DateLayout)
	cfg.OutDir = filepath.Join(cfg.OutRoot, domain.ISOYearWeek(date))

	return &Flow{
		cfg:    cfg,
		deps:   deps,
		window: domain.WeekWindow(date),
		logger: deps.Logger.With().Str("component", "pulse").Logger(),
	}, nil
}

func (f *Flow) Name() string { return FlowName }

// Config returns the resolved configuration, including OutDir.
func (f *Flow) Config() Config { return f.cfg }

// Window returns the reporting window.
func (f *Flow) Window() domain.TimeWindow { return f.window }

type groupResult struct {
	group         string
	slug          string
	dir           string
	aggregate     *domain.GroupAggregate
	aggregatePath string
	summaryPath   string
	summary       *summarizer.Result
}

type overallResult struct {
	aggregatePath string
	summaryPath   string
	summary       *summarizer.Result
	webhookPosted bool
}

// Run fetches, aggregates and summarizes every group, then the whole set.
// The first failure aborts the run; groups already finished keep their files.
func (f *Flow) Run(ctx context.Context) (*flows.Result, error) {
	if err := artifacts.EnsureDir(f.cfg.OutDir); err != nil {
		return nil, err
	}
	f.logger.Info().
		Str("since", f.window.StartDate()).
		Str("until", f.window.EndDate()).
		Str("out_dir", f.cfg.OutDir).
		Strs("groups", f.cfg.Groups).
		Msg("weekly window")

	client := f.deps.Clients(f.cfg.GitLabBase, f.cfg.GitLabToken, f.cfg.PerPage)
	coll := collector.NewGitLabCollector(client, f.deps.Logger)

	groups := make([]*groupResult, 0, len(f.cfg.Groups))
	for _, group := range f.cfg.Groups {
		res, err := f.runGroup(ctx, coll, group)
		if err != nil {
			return nil, err
		}
		groups = append(groups, res)
	}

	overall, err := f.runOverall(ctx, groups)
	if err != nil {
		return nil, err
	}

	now := f.deps.Recorder.Now()
	logPath := filepath.Join(f.cfg.LogRoot, "pulse", "weekly", now.Format(session.TimestampLayout)+".json")
	record := &domain.RunRecord{
		Flow:      FlowName,
		Timestamp: now,
		Inputs:    f.inputs(),
		Outputs:   outputs(groups, overall),
	}
	if err := f.deps.Recorder.Write(ctx, logPath, record); err != nil {
		return nil, err
	}
	f.logger.Info().Str("path", logPath).Msg("logged run")

	result := &flows.Result{
		Flow:    FlowName,
		LogPath: logPath,
		Artifacts: map[string]string{
			ArtifactOutDir:           f.cfg.OutDir,
			ArtifactOverallAggregate: overall.aggregatePath,
			ArtifactOverallSummary:   overall.summaryPath,
		},
		Record: record,
	}
	for _, g := range groups {
		result.Artifacts[ArtifactGroupPrefix+g.slug] = g.dir
	}
	return result, nil
}

func (f *Flow) runGroup(ctx context.Context, coll collector.Collector, group string) (*groupResult, error) {
	slug := artifacts.Slugify(group)
	groupDir := filepath.Join(f.cfg.OutDir, slug)
	rawDir := filepath.Join(groupDir, "raw")
	if err := artifacts.EnsureDir(rawDir); err != nil {
		return nil, err
	}

	f.logger.Info().Str("group", group).Msg("fetching group")
	activity, err := coll.CollectGroupActivity(ctx, group, f.window, artifacts.Dir(rawDir), func(project string, progress float64) {
		f.logger.Debug().Str("group", group).Str("project", project).Float64("progress", progress).Msg("project collected")
	})
	if err != nil {
		return nil, err
	}

	aggregate := activity.Aggregate(f.window)
	stats, err := aggregator.Aggregate(aggregate)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate group %s: %w", group, err)
	}
	if err := WriteStats(groupDir, stats); err != nil {
		return nil, err
	}

	aggregatePath := filepath.Join(groupDir, GroupAggregateFile)
	if err := artifacts.WriteJSON(aggregatePath, aggregate); err != nil {
		return nil, err
	}

	prompt, err := f.deps.Renderer.Render(templates.GroupSummary, map[string]any{
		"aggregate_path": aggregatePath,
		"group":          group,
		"window":         windowVars(f.window),
	})
	if err != nil {
		return nil, err
	}
	summary, err := f.deps.Summarizer.Summarize(ctx, f.cfg.CrushConfig, prompt)
	if err != nil {
		return nil, err
	}

	summaryPath := filepath.Join(groupDir, GroupSummaryFile)
	if err := artifacts.WriteText(summaryPath, summary.Stdout); err != nil {
		return nil, err
	}
	f.logger.Info().Str("group", group).Str("path", summaryPath).Msg("group summary written")

	return &groupResult{
		group:         group,
		slug:          slug,
		dir:           groupDir,
		aggregate:     aggregate,
		aggregatePath: aggregatePath,
		summaryPath:   summaryPath,
		summary:       summary,
	}, nil
}

func (f *Flow) runOverall(ctx context.Context, groups []*groupResult) (*overallResult, error) {
	overall := &domain.OverallAggregate{
		Window: f.window,
		Groups: make([]*domain.GroupAggregate, 0, len(groups)),
	}
	names := make([]map[string]string, 0, len(groups))
	for _, g := range groups {
		overall.Groups = append(overall.Groups, g.aggregate)
		names = append(names, map[string]string{"name": g.group, "slug": g.slug})
	}

	aggregatePath := filepath.Join(f.cfg.OutDir, OverallAggregateFile)
	if err := artifacts.WriteJSON(aggregatePath, overall); err != nil {
		return nil, err
	}

	prompt, err := f.deps.Renderer.Render(templates.OverallSummary, map[string]any{
		"aggregate_path": aggregatePath,
		"window":         windowVars(f.window),
		"groups":         names,
	})
	if err != nil {
		return nil, err
	}
	summary, err := f.deps.Summarizer.Summarize(ctx, f.cfg.CrushConfig, prompt)
	if err != nil {
		return nil, err
	}

	summaryPath := filepath.Join(f.cfg.OutDir, OverallSummaryFile)
	if err := artifacts.WriteText(summaryPath, summary.Stdout); err != nil {
		return nil, err
	}
	f.logger.Info().Str("path", summaryPath).Msg("overall summary written")

	res := &overallResult{aggregatePath: aggregatePath, summaryPath: summaryPath, summary: summary}
	if webhook := strings.TrimSpace(f.cfg.MattermostWebhook); webhook != "" {
		if err := f.deps.Notifiers(webhook).Notify(ctx, summary.Stdout); err != nil {
			return nil, err
		}
		res.webhookPosted = true
	}
	return res, nil
}

func (f *Flow) inputs() map[string]any {
	return map[string]any{
		"gitlab_base":                   f.cfg.GitLabBase,
		"groups":                        []string(f.cfg.Groups),
		"window":                        windowVars(f.window),
		"per_page":                      f.cfg.PerPage,
		"out_dir":                       f.cfg.OutDir,
		"crush_config":                  f.cfg.CrushConfig,
		"mattermost_webhook_configured": strings.TrimSpace(f.cfg.MattermostWebhook) != "",
	}
}

func outputs(groups []*groupResult, overall *overallResult) map[string]any {
	entries := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		entries = append(entries, map[string]any{
			"group":          g.group,
			"aggregate_path": g.aggregatePath,
			"summary_path":   g.summaryPath,
			"summary":        g.summary.Stdout,
			"crush_command":  g.summary.Command,
		})
	}
	return map[string]any{
		"groups": entries,
		"overall": map[string]any{
			"aggregate_path": overall.aggregatePath,
			"summary_path":   overall.summaryPath,
			"summary":        overall.summary.Stdout,
			"crush_command":  overall.summary.Command,
			"webhook_posted": overall.webhookPosted,
		},
	}
}

func windowVars(w domain.TimeWindow) map[string]string {
	return map[string]string{"start": w.StartDate(), "end": w.EndDate()}
}

// WriteStats writes the four stats files under <groupDir>/stats.
func WriteStats(groupDir string, stats *domain.GroupStats) error {
	dir := filepath.Join(groupDir, "stats")
	files := map[string]any{
		"commits.json":   stats.Commits,
		"pipelines.json": stats.Pipelines,
		"issues.json":    stats.Issues,
		"mrs.json":       stats.MergeRequests,
	}
	for name, v := range files {
		if err := artifacts.WriteJSON(filepath.Join(dir, name), v); err != nil {
			return err
		}
	}
	return nil
}

// LoadStats reads the stats files written by WriteStats. Missing files leave
// their section zeroed.
func LoadStats(groupDir string) (*domain.GroupStats, error) {
	dir := filepath.Join(groupDir, "stats")
	stats := &domain.GroupStats{}
	targets := map[string]any{
		"commits.json":   &stats.Commits,
		"pipelines.json": &stats.Pipelines,
		"issues.json":    &stats.Issues,
		"mrs.json":       &stats.MergeRequests,
	}
	for name, v := range targets {
		if _, err := artifacts.ReadJSON(filepath.Join(dir, name), v); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

