// Package summarizer hands rendered prompts to the external summarization CLI.
package summarizer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
)

// DefaultExecutable is the summarizer binary looked up on PATH.
const DefaultExecutable = "crush"

// Result captures one summarizer invocation.
type Result struct {
	Command []string `json:"command"`
	Stdout  string   `json:"stdout"`
	Stderr  string   `json:"stderr"`
}

// Summarizer turns a prompt into summary text using the engine config at configPath.
type Summarizer interface {
	Summarize(ctx context.Context, configPath, prompt string) (*Result, error)
}

// Crush runs `crush --config <cfg> --yolo -c <prompt>` and returns its stdout.
type Crush struct {
	executable string
	logger     zerolog.Logger
}

// NewCrush returns a Crush summarizer. An empty executable means "crush".
func NewCrush(executable string, logger zerolog.Logger) *Crush {
	if executable == "" {
		executable = DefaultExecutable
	}
	return &Crush{
		executable: executable,
		logger:     logger.With().Str("component", "summarizer").Logger(),
	}
}

// Command builds the argv for one invocation.
func Command(executable, configPath, prompt string) []string {
	return []string{executable, "--config", configPath, "--yolo", "-c", prompt}
}

func (c *Crush) Summarize(ctx context.Context, configPath, prompt string) (*Result, error) {
	command := Command(c.executable, configPath, prompt)
	c.logger.Info().Str("config", configPath).Int("prompt_bytes", len(prompt)).Msg("running summarizer")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := stderr.String()
		if strings.TrimSpace(detail) == "" {
			detail = err.Error()
		}
		return nil, apperrors.NewExternalCommandError(fmt.Sprintf("Crush command failed: %s", detail))
	}

	return &Result{
		Command: command,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}, nil
}
