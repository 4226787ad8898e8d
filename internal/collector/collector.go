package collector

import (
	"context"
	"encoding/json"

	"github.com/kurihiro0119/gitlab-flows/internal/domain"
)

// Collector defines the interface for collecting GitLab group activity
type Collector interface {
	// ResolveGroup looks up a group by path or id and returns its numeric id
	ResolveGroup(ctx context.Context, group string) (string, error)

	// GetProjects retrieves a group's projects, including sub-groups and shared projects
	GetProjects(ctx context.Context, groupID string) ([]json.RawMessage, error)

	// GetIssues retrieves open issues updated in the window
	GetIssues(ctx context.Context, groupID string, window domain.TimeWindow) ([]json.RawMessage, error)

	// GetMergeRequests retrieves merge requests updated in the window
	GetMergeRequests(ctx context.Context, groupID string, window domain.TimeWindow) ([]json.RawMessage, error)

	// GetCommits retrieves commits authored in the window
	GetCommits(ctx context.Context, projectID string, window domain.TimeWindow) ([]json.RawMessage, error)

	// GetPipelines retrieves pipeline runs updated in the window
	GetPipelines(ctx context.Context, projectID string, window domain.TimeWindow) ([]json.RawMessage, error)

	// GetEvents retrieves project events in the window
	GetEvents(ctx context.Context, projectID string, window domain.TimeWindow) ([]json.RawMessage, error)

	// CollectGroupActivity fetches everything for one group, handing each raw list to sink as it arrives
	CollectGroupActivity(ctx context.Context, group string, window domain.TimeWindow, sink RawSink, onProgress ProgressCallback) (*GroupActivity, error)
}

// RawSink receives every raw resource list before any aggregation happens.
type RawSink interface {
	WriteRaw(name string, items []json.RawMessage) error
}

// ProgressCallback is a callback function for reporting progress
type ProgressCallback func(project string, progress float64)

// GroupActivity is the raw material of one group aggregate.
type GroupActivity struct {
	Group         string
	GroupID       string
	Projects      []json.RawMessage
	Issues        []json.RawMessage
	MergeRequests []json.RawMessage
	Commits       []json.RawMessage
	Pipelines     []json.RawMessage
	Events        []json.RawMessage
}

// Aggregate turns the collected activity into the persisted group snapshot.
func (a *GroupActivity) Aggregate(window domain.TimeWindow) *domain.GroupAggregate {
	return &domain.GroupAggregate{
		Group:         a.Group,
		Window:        window,
		Projects:      nonNil(a.Projects),
		Issues:        nonNil(a.Issues),
		MergeRequests: nonNil(a.MergeRequests),
		Commits:       nonNil(a.Commits),
		Pipelines:     nonNil(a.Pipelines),
		Events:        nonNil(a.Events),
	}
}

func nonNil(items []json.RawMessage) []json.RawMessage {
	if items == nil {
		return []json.RawMessage{}
	}
	return items
}
