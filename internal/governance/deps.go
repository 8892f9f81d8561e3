package governance

import (
	"path"
	"regexp"
	"strings"

	"golang.org/x/mod/modfile"
)

// Dependency is a dependency declaration added by a manifest change.
type Dependency struct {
	Name     string
	Version  string
	Manifest string
	Line     int
}

// Ecosystem identifies a manifest format.
type Ecosystem string

const (
	EcosystemGo     Ecosystem = "go"
	EcosystemPython Ecosystem = "python"
	EcosystemNode   Ecosystem = "node"
)

// manifestEcosystem maps a manifest path to its ecosystem.
func manifestEcosystem(p string) (Ecosystem, bool) {
	base := path.Base(p)
	switch {
	case base == "go.mod":
		return EcosystemGo, true
	case base == "package.json":
		return EcosystemNode, true
	case strings.HasSuffix(base, ".txt") && strings.Contains(base, "requirements"):
		return EcosystemPython, true
	}
	return "", false
}

// addedDependencies extracts dependencies added by f. Files that are not
// manifests yield nothing.
func addedDependencies(f ChangedFile) []Dependency {
	eco, ok := manifestEcosystem(f.Path)
	if !ok || f.Kind == ChangeDeleted {
		return nil
	}
	var deps []Dependency
	for _, h := range f.Hunks {
		switch eco {
		case EcosystemGo:
			deps = append(deps, goModAdditions(h)...)
		case EcosystemPython:
			deps = append(deps, requirementsAdditions(h)...)
		case EcosystemNode:
			deps = append(deps, packageJSONAdditions(h)...)
		}
	}
	for i := range deps {
		deps[i].Manifest = f.Path
	}
	return deps
}

// goModAdditions parses added require lines. A hunk may start inside a
// block whose header is not visible; lines that parse as a module
// requirement are then taken as requires unless a replace, exclude or retract
// block header was seen. Indirect requirements are not reported.
func goModAdditions(h Hunk) []Dependency {
	var deps []Dependency
	block := ""
	for _, l := range h.Lines {
		text := strings.TrimSpace(stripGoComment(l.Text))
		switch {
		case text == "":
			continue
		case strings.HasSuffix(text, "("):
			block = strings.TrimSpace(strings.TrimSuffix(text, "("))
			continue
		case text == ")":
			block = ""
			continue
		}
		if !l.Added {
			continue
		}

		line := strings.TrimSpace(l.Text)
		if verb, _, ok := strings.Cut(text, " "); ok {
			switch verb {
			case "require":
				line = strings.TrimSpace(strings.TrimPrefix(line, "require"))
			case "module", "go", "toolchain", "replace", "exclude", "retract", "godebug", "tool", "ignore":
				continue
			}
		}
		if block != "" && block != "require" {
			continue
		}
		if dep, ok := parseGoRequire(line); ok {
			dep.Line = l.Number
			deps = append(deps, dep)
		}
	}
	return deps
}

func parseGoRequire(line string) (Dependency, bool) {
	src := "module scratch\n\nrequire " + line + "\n"
	f, err := modfile.ParseLax("go.mod", []byte(src), nil)
	if err != nil || len(f.Require) != 1 || f.Require[0].Indirect {
		return Dependency{}, false
	}
	req := f.Require[0]
	return Dependency{Name: req.Mod.Path, Version: req.Mod.Version}, true
}

func stripGoComment(s string) string {
	if i := strings.Index(s, "//"); i >= 0 {
		return s[:i]
	}
	return s
}

var pyNameEnd = regexp.MustCompile(`[\s=<>!~\[;@(]`)

// requirementsAdditions parses added requirement specifiers. Options,
// includes, URLs and editable installs are ignored.
func requirementsAdditions(h Hunk) []Dependency {
	var deps []Dependency
	for _, l := range h.Lines {
		if !l.Added {
			continue
		}
		text := l.Text
		if i := strings.Index(text, " #"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "-") || strings.Contains(text, "://") {
			continue
		}
		name, version := text, ""
		if loc := pyNameEnd.FindStringIndex(text); loc != nil {
			name, version = text[:loc[0]], strings.TrimSpace(text[loc[0]:])
		}
		if name == "" {
			continue
		}
		deps = append(deps, Dependency{Name: normalizePython(name), Version: version, Line: l.Number})
	}
	return deps
}

// normalizePython applies PEP 503 name normalization.
func normalizePython(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}

var (
	jsonKeyValue  = regexp.MustCompile(`^\s*"([^"]+)"\s*:\s*"([^"]*)"\s*,?\s*$`)
	jsonBlockOpen = regexp.MustCompile(`^\s*"([^"]+)"\s*:\s*\{\s*$`)
	jsonBlockEnd  = regexp.MustCompile(`^\s*}\s*,?\s*$`)
	npmVersion    = regexp.MustCompile(`^(\^|~|>=?|<=?|=)?\s*v?\d|^\*$|^latest$|^(npm|workspace|file|link|git\+[a-z]+|github):`)
)

var npmDependencyBlocks = map[string]bool{
	"dependencies":         true,
	"devDependencies":      true,
	"peerDependencies":     true,
	"optionalDependencies": true,
}

// npmManifestFields are top-level package.json keys whose values can look
// like versions.
var npmManifestFields = map[string]bool{
	"name": true, "version": true, "description": true, "main": true,
	"module": true, "types": true, "license": true, "packageManager": true,
}

// packageJSONAdditions parses added entries of the dependency objects. When
// the enclosing object is not visible in the hunk, an added string entry
// whose value looks like a version range is counted.
func packageJSONAdditions(h Hunk) []Dependency {
	var deps []Dependency
	// known is false until a block header is seen in this hunk.
	known, inDeps := false, false
	depth := 0
	for _, l := range h.Lines {
		if m := jsonBlockOpen.FindStringSubmatch(l.Text); m != nil {
			known = true
			depth++
			inDeps = depth == 1 && npmDependencyBlocks[m[1]]
			continue
		}
		if jsonBlockEnd.MatchString(l.Text) {
			if depth > 0 {
				depth--
			}
			if depth == 0 {
				known, inDeps = true, false
			}
			continue
		}
		if !l.Added {
			continue
		}
		m := jsonKeyValue.FindStringSubmatch(l.Text)
		if m == nil {
			continue
		}
		if (known && inDeps && depth == 1) || (!known && !npmManifestFields[m[1]] && npmVersion.MatchString(m[2])) {
			deps = append(deps, Dependency{Name: m[1], Version: m[2], Line: l.Number})
		}
	}
	return deps
}

// allowed reports whether dep matches an allowlist entry.
func allowed(dep Dependency, eco Ecosystem, allowlist []string) bool {
	name := dep.Name
	if eco == EcosystemPython {
		name = normalizePython(name)
	}
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if eco == EcosystemPython {
			entry = normalizePython(entry)
		}
		switch {
		case entry == "":
		case entry == name:
			return true
		case strings.HasSuffix(entry, "/..."):
			prefix := strings.TrimSuffix(entry, "...")
			if strings.HasPrefix(name, prefix) || name == strings.TrimSuffix(prefix, "/") {
				return true
			}
		default:
			if ok, err := path.Match(entry, name); err == nil && ok {
				return true
			}
		}
	}
	return false
}
