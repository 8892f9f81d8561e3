package secrets

import (
	"fmt"
	"regexp"
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Leak is a secret found by the gitleaks rule set.
type Leak struct {
	RuleID      string
	Description string
	Line        int
	// Match is the text the rule matched, used to locate the leak.
	Match string
}

// Detector runs the default gitleaks configuration over text.
type Detector struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewDetector builds a detector with the allowlist merged into the
// gitleaks config. allowlist may be nil.
func NewDetector(allowlist *Allowlist) (*Detector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks config: %w", err)
	}
	if !allowlist.Empty() {
		if err := applyAllowlist(&d.Config, allowlist); err != nil {
			return nil, err
		}
	}
	return &Detector{detector: d}, nil
}

// Detect scans content. Path allowlists are checked by the caller via
// PathAllowed since content alone carries no file name.
func (d *Detector) Detect(content string) []Leak {
	d.mu.Lock()
	findings := d.detector.DetectString(content)
	d.mu.Unlock()

	leaks := make([]Leak, 0, len(findings))
	for _, f := range findings {
		leaks = append(leaks, Leak{RuleID: f.RuleID, Description: f.Description, Line: f.StartLine, Match: f.Match})
	}
	return leaks
}

// PathAllowed reports whether path matches an allowlisted path pattern.
func PathAllowed(allowlist *Allowlist, path string) bool {
	if allowlist == nil {
		return false
	}
	for _, p := range allowlist.Paths {
		if re, err := regexp.Compile(p); err == nil && re.MatchString(path) {
			return true
		}
	}
	return false
}

func applyAllowlist(cfg *gitleaksconfig.Config, allowlist *Allowlist) error {
	global := &gitleaksconfig.Allowlist{Description: "project allowlist"}
	for _, p := range allowlist.Paths {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAllowlist, err)
		}
		global.Paths = append(global.Paths, (*gitleaksregexp.Regexp)(re))
	}
	for _, p := range allowlist.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAllowlist, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
