package pulse

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	"github.com/kurihiro0119/gitlab-flows/internal/gitlab"
)

// Default paths, relative to the working directory.
const (
	DefaultOutRoot     = "reports/pulse"
	DefaultLogRoot     = "log"
	DefaultCrushConfig = ".crush/lead.crush.json"
)

// Config is the resolved configuration of one digest run. The JSON names
// match the keys accepted in a tool call's config object.
type Config struct {
	GitLabBase        string     `json:"gitlab_base"`
	GitLabToken       string     `json:"gitlab_token"`
	Groups            StringList `json:"groups"`
	OutRoot           string     `json:"out_root"`
	LogRoot           string     `json:"log_root"`
	CrushConfig       string     `json:"crush_config"`
	MattermostWebhook string     `json:"mattermost_webhook"`
	PerPage           int        `json:"per_page"`
	// Date is the reference date (YYYY-MM-DD); empty means today.
	Date string `json:"date"`

	// OutDir is computed from OutRoot and the ISO week of Date.
	OutDir string `json:"out_dir,omitempty"`
}

// Validate checks the fields a run cannot do without.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.GitLabBase, validation.Required, is.URL),
		validation.Field(&c.GitLabToken, validation.Required.Error("set GITLAB_TOKEN via the environment or .env file")),
		validation.Field(&c.Groups, validation.Required),
		validation.Field(&c.OutRoot, validation.Required),
		validation.Field(&c.LogRoot, validation.Required),
		validation.Field(&c.CrushConfig, validation.Required),
		validation.Field(&c.PerPage, validation.Min(1)),
		validation.Field(&c.Date, validation.Date(domain.DateLayout)),
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

// withDefaults fills empty fields and normalizes paths.
func (c Config) withDefaults() (Config, error) {
	c.GitLabBase = strings.TrimRight(c.GitLabBase, "/")
	if c.PerPage <= 0 {
		c.PerPage = gitlab.DefaultPerPage
	}
	if c.OutRoot == "" {
		c.OutRoot = DefaultOutRoot
	}
	if c.LogRoot == "" {
		c.LogRoot = DefaultLogRoot
	}
	if c.CrushConfig == "" {
		c.CrushConfig = DefaultCrushConfig
	}
	c.Groups = c.Groups.Compact()

	for _, p := range []*string{&c.OutRoot, &c.LogRoot, &c.CrushConfig} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return c, fmt.Errorf("failed to resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return c, nil
}

// StringList decodes from either a JSON array or a comma-separated string.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("groups must be a list or a comma-separated string")
	}
	*l = SplitList(joined)
	return nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) StringList {
	return StringList(strings.Split(s, ",")).Compact()
}

// Compact trims entries and drops blanks.
func (l StringList) Compact() StringList {
	out := make(StringList, 0, len(l))
	for _, s := range l {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
