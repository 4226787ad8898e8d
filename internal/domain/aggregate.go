package domain

import "encoding/json"

// GroupAggregate is the complete snapshot of one group's activity in a window.
// Resource lists hold the API payloads verbatim.
type GroupAggregate struct {
	Group         string            `json:"group"`
	Window        TimeWindow        `json:"window"`
	Projects      []json.RawMessage `json:"projects"`
	Issues        []json.RawMessage `json:"issues"`
	MergeRequests []json.RawMessage `json:"merge_requests"`
	Commits       []json.RawMessage `json:"commits"`
	Pipelines     []json.RawMessage `json:"pipelines"`
	Events        []json.RawMessage `json:"events"`
}

// OverallAggregate composes every group aggregate of a run.
type OverallAggregate struct {
	Window TimeWindow        `json:"window"`
	Groups []*GroupAggregate `json:"groups"`
}

// AuthorCommits is the commit count for one author name.
type AuthorCommits struct {
	Name    string `json:"name"`
	Commits int    `json:"commits"`
}

// CommitStats summarizes commits by author.
type CommitStats struct {
	Count   int             `json:"count"`
	Authors []AuthorCommits `json:"authors"`
}

// PipelineStats partitions pipeline runs by outcome.
type PipelineStats struct {
	Count     int `json:"count"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// IssueStats counts issues touched in the window.
type IssueStats struct {
	OpenOrUpdated int `json:"open_or_updated"`
}

// MergeRequestStats counts merge requests touched and merged in the window.
type MergeRequestStats struct {
	Updated int `json:"updated"`
	Merged  int `json:"merged"`
}

// GroupStats bundles the derived statistics of one group.
type GroupStats struct {
	Commits       CommitStats       `json:"commits"`
	Pipelines     PipelineStats     `json:"pipelines"`
	Issues        IssueStats        `json:"issues"`
	MergeRequests MergeRequestStats `json:"merge_requests"`
}
