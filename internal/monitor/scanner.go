package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/secrets"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// Defaults.
const (
	DefaultMaxLines   = 2000
	DefaultMaxLineLen = 1024
	maxTokenSize      = 1 << 20
)

// Issue is one finding in a log file.
type Issue struct {
	Severity   workflow.Severity `json:"severity"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Line       string            `json:"line"`
	LineNumber int               `json:"line_number,omitempty"`
	FilePath   string            `json:"file_path"`
}

// Result is the outcome of a scan.
type Result struct {
	Issues  []Issue `json:"issues"`
	Summary string  `json:"summary"`
}

// Counts returns the number of error and warning issues.
func (r Result) Counts() (errs, warnings int) {
	for _, i := range r.Issues {
		if i.Severity == workflow.SeverityError {
			errs++
		} else {
			warnings++
		}
	}
	return errs, warnings
}

// Scanner matches log lines against rules.
type Scanner struct {
	rules      []Rule
	maxLineLen int
	baseDir    string
	scrubber   *secrets.Scrubber
	logger     *logging.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithRules replaces the built-in rules.
func WithRules(rules []Rule) Option {
	return func(s *Scanner) {
		s.rules = rules
	}
}

// WithBaseDir resolves relative paths against dir instead of the working
// directory.
func WithBaseDir(dir string) Option {
	return func(s *Scanner) {
		s.baseDir = dir
	}
}

// WithMaxLineLen truncates reported lines.
func WithMaxLineLen(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxLineLen = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner creates a Scanner with the default rules.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		rules:      DefaultRules(),
		maxLineLen: DefaultMaxLineLen,
		scrubber:   secrets.MustNew(secrets.DefaultConfig()),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan reads the last maxLines lines of each path and classifies them.
// maxLines <= 0 selects DefaultMaxLines. Only cancellation returns an error.
func (s *Scanner) Scan(ctx context.Context, paths []string, maxLines int) (Result, error) {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	issues := []Issue{}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		path := s.resolve(p)
		found, err := s.scanFile(path, maxLines)
		if err != nil {
			s.logger.Debug(ctx, "log file unreadable", zap.String("path", path), zap.Error(err))
			issues = append(issues, fileIssue(path, err))
			continue
		}
		issues = append(issues, found...)
	}
	res := Result{Issues: issues}
	res.Summary = summary(res)
	return res, nil
}

// ScanReader classifies the last maxLines lines read from r.
func (s *Scanner) ScanReader(r io.Reader, name string, maxLines int) ([]Issue, error) {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	lines, first, err := tail(r, maxLines)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	for i, line := range lines {
		if rule, ok := s.match(line); ok {
			issues = append(issues, Issue{
				Severity:   rule.Severity,
				Code:       rule.Code,
				Message:    rule.Message,
				Line:       s.clean(line),
				LineNumber: first + i,
				FilePath:   name,
			})
		}
	}
	return issues, nil
}

func (s *Scanner) scanFile(path string, maxLines int) ([]Issue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return s.ScanReader(f, path, maxLines)
}

func (s *Scanner) resolve(p string) string {
	if filepath.IsAbs(p) || s.baseDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(s.baseDir, p)
}

func (s *Scanner) match(line string) (Rule, bool) {
	for _, r := range s.rules {
		if r.Pattern.MatchString(line) {
			return r, true
		}
	}
	return Rule{}, false
}

func (s *Scanner) clean(line string) string {
	line = strings.TrimRight(line, "\r")
	line = s.scrubber.String(line)
	if len(line) > s.maxLineLen {
		line = line[:s.maxLineLen] + "..."
	}
	return line
}

// tail returns the last n lines of r and the 1-based number of the first.
func tail(r io.Reader, n int) ([]string, int, error) {
	ring := make([]string, n)
	total := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxTokenSize)
	for sc.Scan() {
		ring[total%n] = sc.Text()
		total++
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	if total <= n {
		return ring[:total], 1, nil
	}
	start := total % n
	lines := append(append([]string(nil), ring[start:]...), ring[:start]...)
	return lines, total - n + 1, nil
}

func fileIssue(path string, err error) Issue {
	if errors.Is(err, fs.ErrNotExist) {
		return Issue{
			Severity: workflow.SeverityWarning,
			Code:     CodeFileNotFound,
			Message:  "log file not found",
			FilePath: path,
		}
	}
	return Issue{
		Severity: workflow.SeverityWarning,
		Code:     CodeFileUnreadable,
		Message:  err.Error(),
		FilePath: path,
	}
}

func summary(r Result) string {
	errs, warnings := r.Counts()
	if len(r.Issues) == 0 {
		return "0 issue(s) found"
	}
	return fmt.Sprintf("%d issue(s) found: %d error(s), %d warning(s)", len(r.Issues), errs, warnings)
}
