// Package gitcmd runs the git subcommands the review flow needs.
package gitcmd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
	"github.com/kurihiro0119/gitlab-flows/internal/redact"
)

// DefaultExecutable is used when no git binary is configured.
const DefaultExecutable = "git"

// Runner clones a repository, fetches refs into it and diffs two refs.
// Every error message has already been passed through the redactions.
type Runner interface {
	Clone(ctx context.Context, url, dir string, redactions redact.Pairs) error
	Fetch(ctx context.Context, dir, refspec string, redactions redact.Pairs) error
	Diff(ctx context.Context, dir, base, head string, redactions redact.Pairs) (string, error)
}

// Git shells out to a git executable.
type Git struct {
	executable string
	logger     zerolog.Logger
}

// New returns a Runner using executable, or "git" when it is empty.
func New(executable string, logger zerolog.Logger) *Git {
	if executable == "" {
		executable = DefaultExecutable
	}
	return &Git{
		executable: executable,
		logger:     logger.With().Str("component", "git").Logger(),
	}
}

func (g *Git) Clone(ctx context.Context, url, dir string, redactions redact.Pairs) error {
	_, err := g.run(ctx, redactions, "clone", "--origin", "origin", "--quiet", url, dir)
	return err
}

func (g *Git) Fetch(ctx context.Context, dir, refspec string, redactions redact.Pairs) error {
	_, err := g.run(ctx, redactions, "-C", dir, "fetch", "origin", refspec)
	return err
}

func (g *Git) Diff(ctx context.Context, dir, base, head string, redactions redact.Pairs) (string, error) {
	return g.run(ctx, redactions, "-C", dir, "diff", base, head)
}

func (g *Git) run(ctx context.Context, redactions redact.Pairs, args ...string) (string, error) {
	command := append([]string{g.executable}, args...)
	display := redactions.Apply(strings.Join(command, " "))
	g.logger.Debug().Str("command", display).Msg("running git")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.executable, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", apperrors.NewExternalCommandError(
			fmt.Sprintf("Git command failed (%s): %s", display, redactions.Apply(detail)),
		)
	}
	return stdout.String(), nil
}
