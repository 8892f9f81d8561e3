package governance

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// pathMatcher evaluates gitignore-style globs against slash-separated paths.
// The last matching pattern wins, so "!" patterns can re-allow a path that
// an earlier pattern of the same matcher forbids.
type pathMatcher struct {
	patterns []gitignore.Pattern
	sources  []string
}

func newPathMatcher(globs ...[]string) *pathMatcher {
	m := &pathMatcher{}
	for _, list := range globs {
		for _, g := range list {
			g = strings.TrimSpace(g)
			if g == "" || strings.HasPrefix(g, "#") {
				continue
			}
			m.patterns = append(m.patterns, gitignore.ParsePattern(g, nil))
			m.sources = append(m.sources, g)
		}
	}
	return m
}

// match returns the pattern that forbids path, or "" when none does.
func (m *pathMatcher) match(path string) string {
	parts := splitPath(path)
	if len(parts) == 0 {
		return ""
	}
	matched := ""
	for i, p := range m.patterns {
		switch p.Match(parts, false) {
		case gitignore.Exclude:
			matched = m.sources[i]
		case gitignore.Include:
			matched = ""
		}
	}
	return matched
}

func splitPath(path string) []string {
	path = strings.TrimPrefix(strings.ReplaceAll(path, "\\", "/"), "./")
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
