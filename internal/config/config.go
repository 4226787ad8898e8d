package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kurihiro0119/gitlab-flows/internal/flows/pulse"
	"github.com/kurihiro0119/gitlab-flows/internal/flows/review"
	"github.com/kurihiro0119/gitlab-flows/internal/gitlab"
)

// Storage types
const (
	StorageNone     = "none"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// RateLimitThreshold is the remaining-request count below which the client
// waits for the rate limit window to reset.
const RateLimitThreshold = 5

// Config holds the application configuration
type Config struct {
	// GitLab
	GitLabBase        string        `envconfig:"GITLAB_BASE" default:"https://gitlab.example.com" yaml:"gitlab_base"`
	GitLabToken       string        `envconfig:"GITLAB_TOKEN" yaml:"gitlab_token"`
	GitLabAuthMode    string        `envconfig:"GITLAB_AUTH_MODE" default:"private-token" yaml:"gitlab_auth_mode"`
	PerPage           int           `envconfig:"PER_PAGE" default:"100" yaml:"per_page"`
	GitLabMinInterval time.Duration `envconfig:"GITLAB_MIN_INTERVAL" default:"0s" yaml:"gitlab_min_interval"`

	// Weekly pulse
	Groups            []string `envconfig:"GROUPS" default:"dbsys" yaml:"groups"`
	PulseOutRoot      string   `envconfig:"PULSE_OUT_ROOT" default:"reports/pulse" yaml:"pulse_out_root"`
	PulseCrushConfig  string   `envconfig:"PULSE_CRUSH_CONFIG" default:".crush/lead.crush.json" yaml:"pulse_crush_config"`
	MattermostWebhook string   `envconfig:"MATTERMOST_WEBHOOK" yaml:"mattermost_webhook"`

	// Merge request review
	ReviewOutRoot     string `envconfig:"REVIEW_OUT_ROOT" default:"reports/gitlab/mr_reviews" yaml:"review_out_root"`
	ReviewCrushConfig string `envconfig:"REVIEW_CRUSH_CONFIG" default:".crush/mr_reviewer.crush.json" yaml:"review_crush_config"`
	GitExecutable     string `envconfig:"GIT_EXECUTABLE" default:"git" yaml:"git_executable"`

	// Summarizer and logs
	CrushExecutable string `envconfig:"CRUSH_EXECUTABLE" default:"crush" yaml:"crush_executable"`
	LogRoot         string `envconfig:"LOG_ROOT" default:"log" yaml:"log_root"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`

	// Storage
	StorageType string `envconfig:"STORAGE_TYPE" default:"none" yaml:"storage_type"` // "none", "sqlite" or "postgres"
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./runs.db" yaml:"sqlite_path"`
	PostgresURL string `envconfig:"POSTGRES_URL" yaml:"postgres_url"`

	// API Server
	APIPort string `envconfig:"API_PORT" default:"8080" yaml:"api_port"`
	APIHost string `envconfig:"API_HOST" default:"localhost" yaml:"api_host"`

	// CLI
	APIEndpoint string `envconfig:"API_ENDPOINT" default:"http://localhost:8080" yaml:"api_endpoint"`
}

// Load loads the configuration from environment variables. path is optional:
// a .yaml or .yml file overlays the environment, anything else is read as a
// dotenv file. Without a path, a .env in the working directory is used if present.
func Load(path string) (*Config, error) {
	isYAML := isYAMLPath(path)

	switch {
	case path == "" || isYAML:
		// Load .env file if it exists (ignore error if not found)
		_ = godotenv.Load()
	default:
		if err := godotenv.Load(path); err != nil {
			return nil, &ConfigError{Field: "config", Message: fmt.Sprintf("failed to load %s: %v", path, err)}
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, &ConfigError{Field: "env", Message: err.Error()}
	}

	if isYAML {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Field: "config", Message: fmt.Sprintf("failed to read %s: %v", path, err)}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Field: "config", Message: fmt.Sprintf("failed to parse %s: %v", path, err)}
		}
	}

	cfg.GitLabBase = strings.TrimRight(cfg.GitLabBase, "/")
	cfg.Groups = pulse.StringList(cfg.Groups).Compact()
	return cfg, nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Validate validates the configuration. GITLAB_TOKEN is checked by the flows
// themselves so that commands which never reach GitLab run without it.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.GitLabBase, validation.Required, is.URL),
		validation.Field(&c.GitLabAuthMode, validation.In(string(gitlab.AuthPrivateToken), string(gitlab.AuthOAuth2))),
		validation.Field(&c.PerPage, validation.Min(1)),
		validation.Field(&c.GitLabMinInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.MattermostWebhook, is.URL),
		validation.Field(&c.StorageType, validation.In(StorageNone, StorageSQLite, StoragePostgres)),
		validation.Field(&c.SQLitePath, validation.When(c.StorageType == StorageSQLite, validation.Required)),
		validation.Field(&c.PostgresURL, validation.When(c.StorageType == StoragePostgres, validation.Required)),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
	)
	if err == nil {
		return nil
	}

	if errs, ok := err.(validation.Errors); ok {
		fields := make([]string, 0, len(errs))
		for field := range errs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		return &ConfigError{Field: fields[0], Message: errs[fields[0]].Error()}
	}
	return &ConfigError{Field: "config", Message: err.Error()}
}

// Pulse builds the weekly pulse configuration
func (c *Config) Pulse() pulse.Config {
	return pulse.Config{
		GitLabBase:        c.GitLabBase,
		GitLabToken:       c.GitLabToken,
		Groups:            pulse.StringList(c.Groups),
		OutRoot:           c.PulseOutRoot,
		LogRoot:           c.LogRoot,
		CrushConfig:       c.PulseCrushConfig,
		MattermostWebhook: c.MattermostWebhook,
		PerPage:           c.PerPage,
	}
}

// Review builds the merge request reviewer configuration
func (c *Config) Review() review.Config {
	return review.Config{
		GitLabToken:   c.GitLabToken,
		OutRoot:       c.ReviewOutRoot,
		CrushConfig:   c.ReviewCrushConfig,
		PerPage:       c.PerPage,
		GitExecutable: c.GitExecutable,
	}
}

// SessionRoot is where bridged tool calls are recorded.
func (c *Config) SessionRoot() string {
	return filepath.Join(c.LogRoot, "sessions")
}

// ClientOptions returns the GitLab client options for the configured auth
// mode and pacing. The rate limiter is shared by every client built from them.
func (c *Config) ClientOptions(logger zerolog.Logger) []gitlab.Option {
	return []gitlab.Option{
		gitlab.WithAuthMode(gitlab.AuthMode(c.GitLabAuthMode)),
		gitlab.WithRateLimiter(gitlab.NewRateLimiter(c.GitLabMinInterval, RateLimitThreshold, logger)),
		gitlab.WithLogger(logger),
	}
}

// APIAddr is the listen address of the HTTP API.
func (c *Config) APIAddr() string {
	return c.APIHost + ":" + c.APIPort
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
