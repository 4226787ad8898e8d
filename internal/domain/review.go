package domain

import (
	"encoding/json"
	"time"
)

// ProjectSummary is the subset of project metadata kept in a review aggregate.
type ProjectSummary struct {
	ID                json.RawMessage `json:"id"`
	Name              *string         `json:"name"`
	PathWithNamespace *string         `json:"path_with_namespace"`
	Description       *string         `json:"description"`
	WebURL            *string         `json:"web_url"`
}

// MergeRequestSummary is the subset of merge request metadata kept in a review aggregate.
type MergeRequestSummary struct {
	IID            json.RawMessage `json:"iid"`
	Title          *string         `json:"title"`
	Description    *string         `json:"description"`
	State          *string         `json:"state"`
	Draft          *bool           `json:"draft"`
	SourceBranch   *string         `json:"source_branch"`
	TargetBranch   *string         `json:"target_branch"`
	Author         *string         `json:"author"`
	WebURL         *string         `json:"web_url"`
	SHA            *string         `json:"sha"`
	DiffRefs       json.RawMessage `json:"diff_refs"`
	ChangesCount   json.RawMessage `json:"changes_count"`
	Additions      json.RawMessage `json:"additions"`
	Deletions      json.RawMessage `json:"deletions"`
	MergedAt       *string         `json:"merged_at"`
	CreatedAt      *string         `json:"created_at"`
	UpdatedAt      *string         `json:"updated_at"`
	UserNotesCount json.RawMessage `json:"user_notes_count"`
}

// ReviewStats are the headline numbers of a merge request.
type ReviewStats struct {
	ChangedFiles int             `json:"changed_files"`
	Additions    json.RawMessage `json:"additions"`
	Deletions    json.RawMessage `json:"deletions"`
	ChangesCount json.RawMessage `json:"changes_count"`
}

// ReviewAggregate is the snapshot handed to the summarizer for one merge request.
type ReviewAggregate struct {
	GeneratedAt  time.Time           `json:"generated_at"`
	Project      ProjectSummary      `json:"project"`
	MergeRequest MergeRequestSummary `json:"merge_request"`
	Stats        ReviewStats         `json:"stats"`
	Changes      []json.RawMessage   `json:"changes"`
	DiffPath     string              `json:"diff_path"`
	MRURL        string              `json:"mr_url"`
}
