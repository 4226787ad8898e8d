// Package review builds a review package for a single GitLab merge request.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/kurihiro0119/gitlab-flows/internal/artifacts"
	"github.com/kurihiro0119/gitlab-flows/internal/clock"
	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
	"github.com/kurihiro0119/gitlab-flows/internal/flows"
	"github.com/kurihiro0119/gitlab-flows/internal/gitcmd"
	"github.com/kurihiro0119/gitlab-flows/internal/gitlab"
	"github.com/kurihiro0119/gitlab-flows/internal/redact"
	"github.com/kurihiro0119/gitlab-flows/internal/session"
	"github.com/kurihiro0119/gitlab-flows/internal/summarizer"
	"github.com/kurihiro0119/gitlab-flows/internal/templates"
)

// FlowName is the registry and tool name of the reviewer.
const FlowName = "gitlab.mr_reviewer"

// Artifact keys in flows.Result.
const (
	ArtifactReviewPath    = "review_path"
	ArtifactResultsPath   = "results_path"
	ArtifactAggregatePath = "aggregate_path"
	ArtifactDiffPath      = "diff_path"
)

// Defaults, relative to the working directory.
const (
	DefaultOutRoot      = "reports/gitlab/mr_reviews"
	DefaultCrushConfig  = ".crush/mr_reviewer.crush.json"
	defaultTargetBranch = "main"
)

// Config configures review runs. The GitLab base URL always comes from the
// merge request URL.
type Config struct {
	GitLabToken   string `json:"gitlab_token"`
	OutRoot       string `json:"out_root"`
	CrushConfig   string `json:"crush_config"`
	PerPage       int    `json:"per_page"`
	GitExecutable string `json:"git_executable"`
}

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.OutRoot, validation.Required),
		validation.Field(&c.CrushConfig, validation.Required),
		validation.Field(&c.PerPage, validation.Min(1)),
	)
}

// Merge overlays the fields present in a JSON object onto c.
func (c Config) Merge(overrides map[string]any) (Config, error) {
	if len(overrides) == 0 {
		return c, nil
	}
	data, err := json.Marshal(overrides)
	if err != nil {
		return c, fmt.Errorf("invalid %s config: %w", FlowName, err)
	}
	merged := c
	if err := json.Unmarshal(data, &merged); err != nil {
		return c, fmt.Errorf("invalid %s config: %w", FlowName, err)
	}
	return merged, nil
}

func (c Config) withDefaults() (Config, error) {
	if c.OutRoot == "" {
		c.OutRoot = DefaultOutRoot
	}
	if c.CrushConfig == "" {
		c.CrushConfig = DefaultCrushConfig
	}
	if c.PerPage <= 0 {
		c.PerPage = gitlab.DefaultPerPage
	}
	if c.GitExecutable == "" {
		c.GitExecutable = gitcmd.DefaultExecutable
	}
	for _, p := range []*string{&c.OutRoot, &c.CrushConfig} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return c, fmt.Errorf("failed to resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return c, nil
}

// Deps are the collaborators a review run needs. Zero values fall back to
// the production implementations.
type Deps struct {
	Config     Config
	Clock      clock.Clock
	Clients    gitlab.Factory
	Git        gitcmd.Runner
	Summarizer summarizer.Summarizer
	Renderer   templates.Renderer
	Recorder   *session.Recorder
	Logger     zerolog.Logger
}

func (d Deps) withDefaults(cfg Config) Deps {
	d.Clock = clock.OrSystem(d.Clock)
	if d.Clients == nil {
		d.Clients = gitlab.NewFactory(gitlab.WithLogger(d.Logger))
	}
	if d.Git == nil {
		d.Git = gitcmd.New(cfg.GitExecutable, d.Logger)
	}
	if d.Summarizer == nil {
		d.Summarizer = summarizer.NewCrush("", d.Logger)
	}
	if d.Renderer == nil {
		d.Renderer = templates.Embedded{}
	}
	if d.Recorder == nil {
		d.Recorder = session.NewRecorder(d.Clock, nil, d.Logger)
	}
	return d
}

// Register adds the reviewer to reg. The first argument is the merge request URL.
func Register(reg *flows.Registry, deps Deps) {
	reg.Register(FlowName, func(args []string) (flows.Flow, error) {
		if len(args) == 0 {
			return nil, apperrors.NewInvalidArgumentError("Provide a GitLab merge request URL")
		}
		return New(args[0], deps.Config, deps)
	})
}

// Flow reviews one merge request.
type Flow struct {
	ref    *Reference
	cfg    Config
	deps   Deps
	logger zerolog.Logger
}

var _ flows.Flow = (*Flow)(nil)

// New parses mrURL and resolves cfg.
func New(mrURL string, cfg Config, deps Deps) (*Flow, error) {
	if strings.TrimSpace(mrURL) == "" {
		return nil, apperrors.NewInvalidArgumentError("Provide a GitLab merge request URL")
	}
	ref, err := ParseMRURL(mrURL)
	if err != nil {
		return nil, err
	}

	cfg, err = cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("invalid %s config: %v", FlowName, err))
	}
	deps = deps.withDefaults(cfg)

	return &Flow{
		ref:    ref,
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With().Str("component", "review").Str("mr", mrURL).Logger(),
	}, nil
}

func (f *Flow) Name() string { return FlowName }

// Config returns the resolved configuration.
func (f *Flow) Config() Config { return f.cfg }

// Reference returns the parsed merge request reference.
func (f *Flow) Reference() *Reference { return f.ref }

// ReviewDir is <out_root>/<project slug>/mr-<iid>.
func (f *Flow) ReviewDir() string {
	return filepath.Join(f.cfg.OutRoot, f.ref.ProjectSlug, "mr-"+f.ref.IID)
}

// project holds the fields of the project payload the flow reads.
type project struct {
	ID                json.RawMessage `json:"id"`
	PathWithNamespace *string         `json:"path_with_namespace"`
	HTTPURLToRepo     string          `json:"http_url_to_repo"`
}

// mergeRequest holds the fields of the merge request payload the flow reads.
type mergeRequest struct {
	domain.MergeRequestSummary
	Author *struct {
		Name *string `json:"name"`
	} `json:"author"`
}

// Run fetches the merge request, diffs it locally and asks the summarizer for a review.
func (f *Flow) Run(ctx context.Context) (*flows.Result, error) {
	reviewDir := f.ReviewDir()
	rawDir := filepath.Join(reviewDir, "raw")
	if err := artifacts.EnsureDir(rawDir); err != nil {
		return nil, err
	}

	client := f.deps.Clients(f.ref.BaseURL, f.cfg.GitLabToken, f.cfg.PerPage)

	projectRaw, err := client.GetRaw(ctx, "/api/v4/projects/"+gitlab.PathSegment(f.ref.ProjectPath), nil)
	if err != nil {
		return nil, err
	}
	var proj project
	if err := json.Unmarshal(projectRaw, &proj); err != nil {
		return nil, fmt.Errorf("failed to decode project %s: %w", f.ref.ProjectPath, err)
	}
	projectID, err := gitlab.IDString(proj.ID)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", f.ref.ProjectPath, err)
	}

	mrPath := "/api/v4/projects/" + projectID + "/merge_requests/" + f.ref.IID
	mrRaw, err := client.GetRaw(ctx, mrPath, nil)
	if err != nil {
		return nil, err
	}
	changesRaw, err := client.GetRaw(ctx, mrPath+"/changes", nil)
	if err != nil {
		return nil, err
	}

	for name, raw := range map[string]json.RawMessage{
		"project.json":       projectRaw,
		"merge_request.json": mrRaw,
		"changes.json":       changesRaw,
	} {
		if err := artifacts.WriteJSON(filepath.Join(rawDir, name), raw); err != nil {
			return nil, err
		}
	}

	var mr mergeRequest
	if err := json.Unmarshal(mrRaw, &mr); err != nil {
		return nil, fmt.Errorf("failed to decode merge request %s: %w", f.ref.IID, err)
	}
	var changes struct {
		Changes []json.RawMessage `json:"changes"`
	}
	if err := json.Unmarshal(changesRaw, &changes); err != nil {
		return nil, fmt.Errorf("failed to decode merge request changes: %w", err)
	}
	if changes.Changes == nil {
		changes.Changes = []json.RawMessage{}
	}

	diffText, err := f.diff(ctx, reviewDir, proj.HTTPURLToRepo, mr.TargetBranch)
	if err != nil {
		return nil, err
	}

	base := filepath.Join(reviewDir, fmt.Sprintf("%s-mr-%s", f.ref.ProjectSlug, f.ref.IID))
	diffPath := base + ".diff"
	aggregatePath := base + "-aggregate.json"
	reviewPath := base + ".md"
	resultsPath := base + ".json"

	if err := artifacts.WriteText(diffPath, diffText); err != nil {
		return nil, err
	}

	mrURL := f.ref.URL
	if mr.WebURL != nil && *mr.WebURL != "" {
		mrURL = *mr.WebURL
	}
	aggregate, err := f.buildAggregate(projectRaw, &mr, changes.Changes, diffPath, mrURL)
	if err != nil {
		return nil, err
	}
	if err := artifacts.WriteJSON(aggregatePath, aggregate); err != nil {
		return nil, err
	}

	projectPath := f.ref.ProjectPath
	if proj.PathWithNamespace != nil && *proj.PathWithNamespace != "" {
		projectPath = *proj.PathWithNamespace
	}
	prompt, err := f.deps.Renderer.Render(templates.ReviewPrompt, map[string]any{
		"aggregate_path":    aggregatePath,
		"diff_path":         diffPath,
		"merge_request_url": mrURL,
		"project_path":      projectPath,
	})
	if err != nil {
		return nil, err
	}
	summary, err := f.deps.Summarizer.Summarize(ctx, f.cfg.CrushConfig, prompt)
	if err != nil {
		return nil, err
	}
	if err := artifacts.WriteText(reviewPath, summary.Stdout); err != nil {
		return nil, err
	}

	var projectIDValue any
	_ = json.Unmarshal(proj.ID, &projectIDValue)
	record := &domain.RunRecord{
		Flow: FlowName,
		Inputs: map[string]any{
			"merge_request_url": f.ref.URL,
			"project_path":      f.ref.ProjectPath,
			"project_id":        projectIDValue,
			"target_branch":     mr.TargetBranch,
			"source_branch":     mr.SourceBranch,
			"token_present":     f.cfg.GitLabToken != "",
			"review_directory":  reviewDir,
		},
		Outputs: map[string]any{
			ArtifactAggregatePath: aggregatePath,
			ArtifactDiffPath:      diffPath,
			ArtifactReviewPath:    reviewPath,
			"summary":             summary.Stdout,
			"crush_command":       summary.Command,
		},
	}
	if err := f.deps.Recorder.Write(ctx, resultsPath, record); err != nil {
		return nil, err
	}

	f.logger.Info().Str("review_path", reviewPath).Str("results_path", resultsPath).Msg("review saved")

	return &flows.Result{
		Flow:    FlowName,
		LogPath: resultsPath,
		Artifacts: map[string]string{
			ArtifactReviewPath:    reviewPath,
			ArtifactResultsPath:   resultsPath,
			ArtifactAggregatePath: aggregatePath,
			ArtifactDiffPath:      diffPath,
		},
		Record: record,
	}, nil
}

// diff clones the project into a fresh repo/ directory, fetches the merge
// request head and its target branch, and diffs them. Every git call carries
// the redactions so no failure can echo the credential.
func (f *Flow) diff(ctx context.Context, reviewDir, cloneURL string, targetBranch *string) (string, error) {
	if cloneURL == "" {
		return "", fmt.Errorf("project %s has no http_url_to_repo", f.ref.ProjectPath)
	}
	repoDir := filepath.Join(reviewDir, "repo")
	if err := artifacts.CleanDir(repoDir); err != nil {
		return "", err
	}

	token := f.cfg.GitLabToken
	authURL := authenticatedCloneURL(cloneURL, token)
	redactions := redact.ForCloneURL(authURL, cloneURL, token)

	if err := f.deps.Git.Clone(ctx, authURL, repoDir, redactions); err != nil {
		return "", err
	}

	headBranch := "mr/" + f.ref.IID
	if err := f.deps.Git.Fetch(ctx, repoDir, fmt.Sprintf("merge-requests/%s/head:%s", f.ref.IID, headBranch), redactions); err != nil {
		return "", err
	}

	target := defaultTargetBranch
	if targetBranch != nil && *targetBranch != "" {
		target = *targetBranch
	}
	baseBranch := "mr/base-" + f.ref.IID
	if err := f.deps.Git.Fetch(ctx, repoDir, target+":"+baseBranch, redactions); err != nil {
		return "", err
	}

	return f.deps.Git.Diff(ctx, repoDir, baseBranch, headBranch, redactions)
}

func (f *Flow) buildAggregate(projectRaw json.RawMessage, mr *mergeRequest, changes []json.RawMessage, diffPath, mrURL string) (*domain.ReviewAggregate, error) {
	var summary domain.ProjectSummary
	if err := json.Unmarshal(projectRaw, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode project summary: %w", err)
	}
	mrSummary := mr.MergeRequestSummary
	if mr.Author != nil {
		mrSummary.Author = mr.Author.Name
	}

	return &domain.ReviewAggregate{
		GeneratedAt:  f.deps.Clock.Now().UTC().Truncate(time.Second),
		Project:      summary,
		MergeRequest: mrSummary,
		Stats: domain.ReviewStats{
			ChangedFiles: len(changes),
			Additions:    mrSummary.Additions,
			Deletions:    mrSummary.Deletions,
			ChangesCount: mrSummary.ChangesCount,
		},
		Changes:  changes,
		DiffPath: diffPath,
		MRURL:    mrURL,
	}, nil
}

// authenticatedCloneURL embeds oauth2:<token> as user info. An empty token or
// an unparsable URL leaves cloneURL unchanged.
func authenticatedCloneURL(cloneURL, token string) string {
	if token == "" {
		return cloneURL
	}
	u, err := url.Parse(cloneURL)
	if err != nil {
		return cloneURL
	}
	u.User = url.UserPassword("oauth2", token)
	return u.String()
}
