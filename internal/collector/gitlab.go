package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	"github.com/kurihiro0119/gitlab-flows/internal/gitlab"
)

// gitlabCollector implements Collector using the GitLab v4 API
type gitlabCollector struct {
	api    gitlab.API
	logger zerolog.Logger
}

// NewGitLabCollector creates a new GitLab collector
func NewGitLabCollector(api gitlab.API, logger zerolog.Logger) Collector {
	return &gitlabCollector{
		api:    api,
		logger: logger.With().Str("component", "collector").Logger(),
	}
}

// ResolveGroup looks up a group by path or id and returns its numeric id
func (c *gitlabCollector) ResolveGroup(ctx context.Context, group string) (string, error) {
	raw, err := c.api.GetRaw(ctx, "/api/v4/groups/"+gitlab.PathSegment(group), nil)
	if err != nil {
		return "", fmt.Errorf("failed to get group %s: %w", group, err)
	}
	var g struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return "", fmt.Errorf("failed to decode group %s: %w", group, err)
	}
	id, err := gitlab.IDString(g.ID)
	if err != nil {
		return "", fmt.Errorf("group %s: %w", group, err)
	}
	return id, nil
}

// GetProjects retrieves a group's projects, including sub-groups and shared projects
func (c *gitlabCollector) GetProjects(ctx context.Context, groupID string) ([]json.RawMessage, error) {
	projects, err := c.api.Paginate(ctx, "/api/v4/groups/"+groupID+"/projects", url.Values{
		"include_subgroups": {"true"},
		"with_shared":       {"true"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list projects for group %s: %w", groupID, err)
	}
	return projects, nil
}

// GetIssues retrieves open issues updated in the window
func (c *gitlabCollector) GetIssues(ctx context.Context, groupID string, window domain.TimeWindow) ([]json.RawMessage, error) {
	issues, err := c.api.Paginate(ctx, "/api/v4/groups/"+groupID+"/issues", url.Values{
		"updated_after":  {window.StartTimestamp()},
		"updated_before": {window.EndTimestamp()},
		"scope":          {"all"},
		"state":          {"opened"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list issues for group %s: %w", groupID, err)
	}
	return issues, nil
}

// GetMergeRequests retrieves merge requests updated in the window
func (c *gitlabCollector) GetMergeRequests(ctx context.Context, groupID string, window domain.TimeWindow) ([]json.RawMessage, error) {
	mrs, err := c.api.Paginate(ctx, "/api/v4/groups/"+groupID+"/merge_requests", url.Values{
		"updated_after":  {window.StartTimestamp()},
		"updated_before": {window.EndTimestamp()},
		"scope":          {"all"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list merge requests for group %s: %w", groupID, err)
	}
	return mrs, nil
}

// GetCommits retrieves commits authored in the window
func (c *gitlabCollector) GetCommits(ctx context.Context, projectID string, window domain.TimeWindow) ([]json.RawMessage, error) {
	commits, err := c.api.Paginate(ctx, "/api/v4/projects/"+projectID+"/repository/commits", url.Values{
		"since": {window.StartTimestamp()},
		"until": {window.EndTimestamp()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commits for project %s: %w", projectID, err)
	}
	return commits, nil
}

// GetPipelines retrieves pipeline runs updated in the window
func (c *gitlabCollector) GetPipelines(ctx context.Context, projectID string, window domain.TimeWindow) ([]json.RawMessage, error) {
	pipelines, err := c.api.Paginate(ctx, "/api/v4/projects/"+projectID+"/pipelines", url.Values{
		"updated_after":  {window.StartTimestamp()},
		"updated_before": {window.EndTimestamp()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines for project %s: %w", projectID, err)
	}
	return pipelines, nil
}

// GetEvents retrieves project events in the window
func (c *gitlabCollector) GetEvents(ctx context.Context, projectID string, window domain.TimeWindow) ([]json.RawMessage, error) {
	events, err := c.api.Paginate(ctx, "/api/v4/projects/"+projectID+"/events", url.Values{
		"after":  {window.StartDate()},
		"before": {window.EndDate()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events for project %s: %w", projectID, err)
	}
	return events, nil
}

// CollectGroupActivity fetches everything for one group, strictly one request at a time.
func (c *gitlabCollector) CollectGroupActivity(ctx context.Context, group string, window domain.TimeWindow, sink RawSink, onProgress ProgressCallback) (*GroupActivity, error) {
	gid, err := c.ResolveGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("group", group).Str("group_id", gid).Msg("fetching group")

	activity := &GroupActivity{
		Group:     group,
		GroupID:   gid,
		Commits:   []json.RawMessage{},
		Pipelines: []json.RawMessage{},
		Events:    []json.RawMessage{},
	}

	if activity.Projects, err = c.GetProjects(ctx, gid); err != nil {
		return nil, err
	}
	if activity.Issues, err = c.GetIssues(ctx, gid, window); err != nil {
		return nil, err
	}
	if activity.MergeRequests, err = c.GetMergeRequests(ctx, gid, window); err != nil {
		return nil, err
	}

	if err := writeAll(sink,
		rawList{"projects.json", activity.Projects},
		rawList{"issues.json", activity.Issues},
		rawList{"mrs.json", activity.MergeRequests},
	); err != nil {
		return nil, err
	}

	for i, project := range activity.Projects {
		pid, err := projectID(project)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", group, err)
		}

		commits, err := c.GetCommits(ctx, pid, window)
		if err != nil {
			return nil, err
		}
		pipelines, err := c.GetPipelines(ctx, pid, window)
		if err != nil {
			return nil, err
		}
		events, err := c.GetEvents(ctx, pid, window)
		if err != nil {
			return nil, err
		}

		activity.Commits = append(activity.Commits, commits...)
		activity.Pipelines = append(activity.Pipelines, pipelines...)
		activity.Events = append(activity.Events, events...)

		if err := writeAll(sink,
			rawList{pid + "-commits.json", commits},
			rawList{pid + "-pipelines.json", pipelines},
			rawList{pid + "-events.json", events},
		); err != nil {
			return nil, err
		}

		if onProgress != nil {
			onProgress(pid, float64(i+1)/float64(len(activity.Projects)))
		}
	}

	if err := writeAll(sink,
		rawList{"commits.all.json", activity.Commits},
		rawList{"pipelines.all.json", activity.Pipelines},
		rawList{"events.all.json", activity.Events},
	); err != nil {
		return nil, err
	}

	return activity, nil
}

type rawList struct {
	name  string
	items []json.RawMessage
}

func writeAll(sink RawSink, lists ...rawList) error {
	if sink == nil {
		return nil
	}
	for _, l := range lists {
		items := l.items
		if items == nil {
			items = []json.RawMessage{}
		}
		if err := sink.WriteRaw(l.name, items); err != nil {
			return fmt.Errorf("failed to persist raw %s: %w", l.name, err)
		}
	}
	return nil
}

func projectID(project json.RawMessage) (string, error) {
	var p struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(project, &p); err != nil {
		return "", fmt.Errorf("failed to decode project: %w", err)
	}
	id, err := gitlab.IDString(p.ID)
	if err != nil {
		return "", fmt.Errorf("project: %w", err)
	}
	return id, nil
}
