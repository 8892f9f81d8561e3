package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// AllowlistFile is the per-project allowlist read by LoadAllowlist.
const AllowlistFile = ".gitleaks.toml"

// ErrInvalidAllowlist wraps parse and pattern errors in an allowlist file.
var ErrInvalidAllowlist = errors.New("invalid allowlist")

// Allowlist holds path and content patterns excluded from detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlist reads the [allowlist] table of dir/.gitleaks.toml.
// A missing file yields an empty allowlist.
func LoadAllowlist(dir string) (*Allowlist, error) {
	path := filepath.Join(dir, AllowlistFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return &Allowlist{}, nil
	}

	var doc struct {
		Allowlist struct {
			Paths   []string `toml:"paths"`
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}
	for _, p := range append(append([]string{}, doc.Allowlist.Paths...), doc.Allowlist.Regexes...) {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: pattern %q in %s: %v", ErrInvalidAllowlist, p, path, err)
		}
	}
	return &Allowlist{Paths: doc.Allowlist.Paths, Regexes: doc.Allowlist.Regexes}, nil
}

// Empty reports whether the allowlist has no patterns.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.Paths) == 0 && len(a.Regexes) == 0)
}
