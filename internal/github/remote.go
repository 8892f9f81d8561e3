package github

import (
	"fmt"
	"net/url"
	"strings"
)

// Repo names a GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepo extracts owner and name from a remote URL. It accepts
// https://host/owner/name(.git), ssh://git@host/owner/name(.git),
// git@host:owner/name(.git) and a bare owner/name.
func ParseRepo(remote string) (Repo, error) {
	s := strings.TrimSpace(remote)
	if s == "" {
		return Repo{}, fmt.Errorf("empty repository url")
	}

	var p string
	switch {
	case strings.Contains(s, "://"):
		u, err := url.Parse(s)
		if err != nil {
			return Repo{}, fmt.Errorf("parse repository url %q: %w", remote, err)
		}
		p = u.Path
	case strings.Contains(s, "@") && strings.Contains(s, ":"):
		p = s[strings.Index(s, ":")+1:]
	default:
		p = s
	}

	p = strings.TrimSuffix(strings.Trim(p, "/"), ".git")
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("repository url %q does not name owner/repo", remote)
	}
	return Repo{Owner: parts[0], Name: parts[1]}, nil
}
