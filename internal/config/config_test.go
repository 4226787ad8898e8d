package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/gitlab-flows/internal/flows/pulse"
)

// unsetenv clears key for the duration of the test.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GITLAB_BASE", "https://gitlab.internal/")
	t.Setenv("GROUPS", "platform, data,,")
	t.Setenv("PER_PAGE", "50")
	t.Setenv("GITLAB_MIN_INTERVAL", "250ms")
	t.Setenv("STORAGE_TYPE", "sqlite")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.internal", cfg.GitLabBase)
	assert.Equal(t, []string{"platform", "data"}, cfg.Groups)
	assert.Equal(t, 50, cfg.PerPage)
	assert.Equal(t, 250*time.Millisecond, cfg.GitLabMinInterval)
	assert.Equal(t, StorageSQLite, cfg.StorageType)
	assert.Equal(t, "git", cfg.GitExecutable)
	assert.Equal(t, "reports/pulse", cfg.PulseOutRoot)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLOverlaysEnvironment(t *testing.T) {
	t.Setenv("PER_PAGE", "50")
	t.Setenv("GITLAB_TOKEN", "from-env")

	path := filepath.Join(t.TempDir(), "flows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gitlab_base: https://gitlab.yaml.example
groups:
  - backend
  - frontend
per_page: 20
gitlab_min_interval: 2s
storage_type: postgres
postgres_url: postgres://localhost/flows
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.yaml.example", cfg.GitLabBase)
	assert.Equal(t, []string{"backend", "frontend"}, cfg.Groups)
	assert.Equal(t, 20, cfg.PerPage)
	assert.Equal(t, 2*time.Second, cfg.GitLabMinInterval)
	assert.Equal(t, "from-env", cfg.GitLabToken)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDotenvFile(t *testing.T) {
	unsetenv(t, "MATTERMOST_WEBHOOK")

	path := filepath.Join(t.TempDir(), "pulse.env")
	require.NoError(t, os.WriteFile(path, []byte("MATTERMOST_WEBHOOK=https://chat.example.com/hooks/abc\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/hooks/abc", cfg.MattermostWebhook)
}

func TestLoadMissingFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.env"))
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config", cfgErr.Field)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			GitLabBase:     "https://gitlab.example.com",
			GitLabAuthMode: "private-token",
			PerPage:        100,
			StorageType:    StorageNone,
			LogLevel:       "info",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"postgres without url", func(c *Config) { c.StorageType = StoragePostgres }, "PostgresURL"},
		{"unknown storage", func(c *Config) { c.StorageType = "mysql" }, "StorageType"},
		{"unknown auth mode", func(c *Config) { c.GitLabAuthMode = "basic" }, "GitLabAuthMode"},
		{"bad base url", func(c *Config) { c.GitLabBase = "not a url" }, "GitLabBase"},
		{"zero per page", func(c *Config) { c.PerPage = 0 }, "PerPage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			var cfgErr *ConfigError
			require.ErrorAs(t, cfg.Validate(), &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestFlowConfigs(t *testing.T) {
	cfg := &Config{
		GitLabBase:        "https://gitlab.example.com",
		GitLabToken:       "secret",
		Groups:            []string{"platform"},
		PerPage:           40,
		PulseOutRoot:      "out/pulse",
		PulseCrushConfig:  "lead.json",
		MattermostWebhook: "https://chat.example.com/hooks/x",
		ReviewOutRoot:     "out/reviews",
		ReviewCrushConfig: "review.json",
		GitExecutable:     "/usr/bin/git",
		LogRoot:           "log",
	}

	p := cfg.Pulse()
	assert.Equal(t, pulse.StringList{"platform"}, p.Groups)
	assert.Equal(t, "out/pulse", p.OutRoot)
	assert.Equal(t, "lead.json", p.CrushConfig)
	assert.Equal(t, "log", p.LogRoot)
	assert.Equal(t, 40, p.PerPage)

	r := cfg.Review()
	assert.Equal(t, "secret", r.GitLabToken)
	assert.Equal(t, "out/reviews", r.OutRoot)
	assert.Equal(t, "/usr/bin/git", r.GitExecutable)

	assert.Equal(t, filepath.Join("log", "sessions"), cfg.SessionRoot())
	assert.Equal(t, "localhost:8080", (&Config{APIHost: "localhost", APIPort: "8080"}).APIAddr())
}
