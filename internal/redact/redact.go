// Package redact scrubs credentials out of text before it is logged or persisted.
package redact

import "strings"

// Placeholder replaces a bare secret.
const Placeholder = "[REDACTED]"

// Pair replaces every occurrence of Secret with Replacement.
type Pair struct {
	Secret      string
	Replacement string
}

// Pairs is applied in order, so longer secrets that embed shorter ones must come first.
type Pairs []Pair

// Apply returns text with every pair substituted. Empty secrets are skipped.
func (p Pairs) Apply(text string) string {
	for _, pair := range p {
		if pair.Secret == "" {
			continue
		}
		text = strings.ReplaceAll(text, pair.Secret, pair.Replacement)
	}
	return text
}

// ApplyAll redacts each element of args.
func (p Pairs) ApplyAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = p.Apply(a)
	}
	return out
}

// ForCloneURL builds the redactions for an authenticated clone URL: the URL itself
// maps back to its public form, then any stray token is masked.
func ForCloneURL(authURL, publicURL, token string) Pairs {
	var pairs Pairs
	if authURL != "" && authURL != publicURL {
		pairs = append(pairs, Pair{Secret: authURL, Replacement: publicURL})
	}
	if token != "" {
		pairs = append(pairs, Pair{Secret: token, Replacement: Placeholder})
	}
	return pairs
}
