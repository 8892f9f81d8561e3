package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const defaultRedaction = "[REDACTED]"

// Config configures a Scrubber.
type Config struct {
	Enabled         bool     `koanf:"enabled"`
	Rules           []Rule   `koanf:"rules"`
	RedactionString string   `koanf:"redaction_string"`
	AllowList       []string `koanf:"allow_list"`
}

// DefaultConfig enables the default rules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Rules:           DefaultRules(),
		RedactionString: defaultRedaction,
	}
}

// Finding is one redacted match.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Result is the outcome of a Scrub call.
type Result struct {
	Scrubbed string
	Findings []Finding
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Scrubber masks secrets in free text.
type Scrubber struct {
	enabled   bool
	redaction string
	rules     []compiledRule
	allow     []*regexp.Regexp
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []string
}

// New compiles cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Scrubber{enabled: cfg.Enabled, redaction: cfg.RedactionString}
	if s.redaction == "" {
		s.redaction = defaultRedaction
	}
	for _, r := range cfg.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule with pattern %q has no id", r.Pattern)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		kws := make([]string, len(r.Keywords))
		for i, k := range r.Keywords {
			kws[i] = strings.ToLower(k)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, pattern: re, keywords: kws})
	}
	for _, a := range cfg.AllowList {
		re, err := regexp.Compile(a)
		if err != nil {
			return nil, fmt.Errorf("invalid allow list pattern %q: %w", a, err)
		}
		s.allow = append(s.allow, re)
	}
	return s, nil
}

// MustNew is New that panics on error.
func MustNew(cfg *Config) *Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Enabled reports whether the scrubber redacts anything.
func (s *Scrubber) Enabled() bool {
	return s != nil && s.enabled
}

// Scrub redacts every rule match in content. Overlapping matches are merged.
func (s *Scrubber) Scrub(content string) Result {
	res := Result{Scrubbed: content}
	if !s.Enabled() || content == "" {
		return res
	}

	lower := strings.ToLower(content)
	type span struct{ start, end int }
	var spans []span

	for _, rule := range s.rules {
		if !hasKeyword(lower, rule.keywords) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			res.Findings = append(res.Findings, Finding{
				RuleID: rule.id,
				Line:   strings.Count(content[:m[0]], "\n") + 1,
				Start:  m[0],
				End:    m[1],
			})
			spans = append(spans, span{m[0], m[1]})
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var b strings.Builder
	pos := 0
	for i := 0; i < len(spans); i++ {
		start, end := spans[i].start, spans[i].end
		for i+1 < len(spans) && spans[i+1].start <= end {
			i++
			if spans[i].end > end {
				end = spans[i].end
			}
		}
		if start < pos {
			start = pos
		}
		b.WriteString(content[pos:start])
		b.WriteString(s.redaction)
		pos = end
	}
	b.WriteString(content[pos:])
	res.Scrubbed = b.String()
	return res
}

// String is Scrub(content).Scrubbed.
func (s *Scrubber) String(content string) string {
	return s.Scrub(content).Scrubbed
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
