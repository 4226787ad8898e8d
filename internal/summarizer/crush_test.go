package summarizer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
)

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "crush")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestSummarizeCapturesStdoutAndCommand(t *testing.T) {
	exe := script(t, "echo \"summary for $5\"\necho warn >&2\n")

	res, err := NewCrush(exe, zerolog.Nop()).Summarize(context.Background(), "/cfg/lead.json", "the prompt")
	require.NoError(t, err)

	assert.Equal(t, "summary for the prompt\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)
	assert.Equal(t, []string{exe, "--config", "/cfg/lead.json", "--yolo", "-c", "the prompt"}, res.Command)
}

func TestSummarizeFailureIncludesStderr(t *testing.T) {
	exe := script(t, "echo 'model unavailable' >&2\nexit 3\n")

	_, err := NewCrush(exe, zerolog.Nop()).Summarize(context.Background(), "/cfg", "p")

	require.Error(t, err)
	assert.True(t, apperrors.IsExternalCommand(err))
	assert.Contains(t, err.Error(), "Crush command failed: model unavailable")
}
