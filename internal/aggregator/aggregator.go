package aggregator

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kurihiro0119/gitlab-flows/internal/domain"
)

const (
	pipelineSuccess = "success"
	pipelineFailed  = "failed"
)

// Aggregate computes every derived statistic of a group aggregate.
func Aggregate(agg *domain.GroupAggregate) (*domain.GroupStats, error) {
	commits, err := CommitStats(agg.Commits)
	if err != nil {
		return nil, err
	}
	pipelines, err := PipelineStats(agg.Pipelines)
	if err != nil {
		return nil, err
	}
	mrs, err := MergeRequestStats(agg.MergeRequests)
	if err != nil {
		return nil, err
	}
	return &domain.GroupStats{
		Commits:       *commits,
		Pipelines:     *pipelines,
		Issues:        domain.IssueStats{OpenOrUpdated: len(agg.Issues)},
		MergeRequests: *mrs,
	}, nil
}

// CommitStats counts commits per author name, most active first.
// Authors with equal counts keep the order in which they were first seen.
func CommitStats(commits []json.RawMessage) (*domain.CommitStats, error) {
	counts := make(map[string]int)
	var order []string

	for i, raw := range commits {
		var c struct {
			AuthorName *string `json:"author_name"`
		}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("commit %d: %w", i, err)
		}
		name := ""
		if c.AuthorName != nil {
			name = *c.AuthorName
		}
		if _, seen := counts[name]; !seen {
			order = append(order, name)
		}
		counts[name]++
	}

	authors := make([]domain.AuthorCommits, 0, len(order))
	for _, name := range order {
		authors = append(authors, domain.AuthorCommits{Name: name, Commits: counts[name]})
	}
	sort.SliceStable(authors, func(i, j int) bool {
		return authors[i].Commits > authors[j].Commits
	})

	return &domain.CommitStats{Count: len(commits), Authors: authors}, nil
}

// PipelineStats partitions pipeline runs into succeeded and failed.
// Any other status is only counted in the total.
func PipelineStats(pipelines []json.RawMessage) (*domain.PipelineStats, error) {
	stats := &domain.PipelineStats{Count: len(pipelines)}
	for i, raw := range pipelines {
		var p struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("pipeline %d: %w", i, err)
		}
		switch p.Status {
		case pipelineSuccess:
			stats.Succeeded++
		case pipelineFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// MergeRequestStats counts merge requests and those carrying a merge timestamp.
func MergeRequestStats(mrs []json.RawMessage) (*domain.MergeRequestStats, error) {
	stats := &domain.MergeRequestStats{Updated: len(mrs)}
	for i, raw := range mrs {
		var mr struct {
			MergedAt json.RawMessage `json:"merged_at"`
		}
		if err := json.Unmarshal(raw, &mr); err != nil {
			return nil, fmt.Errorf("merge request %d: %w", i, err)
		}
		if len(mr.MergedAt) > 0 && string(mr.MergedAt) != "null" {
			stats.Merged++
		}
	}
	return stats, nil
}
