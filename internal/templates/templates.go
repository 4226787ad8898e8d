// Package templates renders the prompts handed to the summarizer.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

// Template names.
const (
	GroupSummary   = "group_summary"
	OverallSummary = "overall_summary"
	ReviewPrompt   = "review_prompt"
)

//go:embed files/*.tmpl
var files embed.FS

var parsed = template.Must(template.New("prompts").Option("missingkey=error").ParseFS(files, "files/*.tmpl"))

// Renderer renders a named template with the given variables.
type Renderer interface {
	Render(name string, vars map[string]any) (string, error)
}

// Embedded renders the prompt templates compiled into the binary.
type Embedded struct{}

func (Embedded) Render(name string, vars map[string]any) (string, error) {
	return Render(name, vars)
}

// Render executes the embedded template name with vars.
func Render(name string, vars map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := parsed.ExecuteTemplate(&buf, name+".tmpl", vars); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
