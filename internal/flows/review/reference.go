package review

import (
	"net"
	"net/url"
	"strings"

	"github.com/kurihiro0119/gitlab-flows/internal/artifacts"
	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
)

const mergeRequestMarker = "/-/merge_requests/"

// Reference identifies one merge request parsed from its web URL.
type Reference struct {
	URL         string
	BaseURL     string
	ProjectPath string
	ProjectSlug string
	IID         string
}

// ParseMRURL parses https://host[:port]/<project path>/-/merge_requests/<iid>[/...].
func ParseMRURL(raw string) (*Reference, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperrors.NewInvalidReferenceError(raw, "not a URL")
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return nil, apperrors.NewInvalidReferenceError(raw, "scheme and host are required")
	}

	projectPart, iidPart, found := strings.Cut(u.Path, mergeRequestMarker)
	if !found {
		return nil, apperrors.NewInvalidReferenceError(raw, "missing "+mergeRequestMarker)
	}
	projectPath := strings.TrimPrefix(projectPart, "/")
	iid, _, _ := strings.Cut(iidPart, "/")
	if projectPath == "" || iid == "" {
		return nil, apperrors.NewInvalidReferenceError(raw, "project path and merge request id are required")
	}

	host := u.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	base := u.Scheme + "://" + host
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		base = u.Scheme + "://" + net.JoinHostPort(u.Hostname(), port)
	}

	return &Reference{
		URL:         raw,
		BaseURL:     base,
		ProjectPath: projectPath,
		ProjectSlug: projectSlug(projectPath),
		IID:         iid,
	}, nil
}

// projectSlug falls back to replacing slashes when the path has no alphanumerics.
func projectSlug(path string) string {
	if slug := artifacts.Slugify(path); slug != "" {
		return slug
	}
	return strings.ReplaceAll(path, "/", "-")
}
