package monitor

import (
	"regexp"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// Issue codes.
const (
	CodeTraceback      = "TRACEBACK"
	CodeException      = "EXCEPTION"
	CodeHTTP5xx        = "HTTP_5XX"
	CodeErrorLine      = "ERROR_LINE"
	CodeDeprecation    = "DEPRECATION"
	CodeWarningLine    = "WARNING_LINE"
	CodeTimeout        = "TIMEOUT"
	CodeFileNotFound   = "FILE_NOT_FOUND"
	CodeFileUnreadable = "FILE_UNREADABLE"
)

// Rule classifies a log line.
type Rule struct {
	Code     string
	Severity workflow.Severity
	Message  string
	Pattern  *regexp.Regexp
}

// DefaultRules returns the built-in rules, most specific first.
func DefaultRules() []Rule {
	return []Rule{
		{
			Code:     CodeTraceback,
			Severity: workflow.SeverityError,
			Message:  "stack trace",
			Pattern:  regexp.MustCompile(`Traceback \(most recent call last\)|^\s*goroutine \d+ \[|^panic: `),
		},
		{
			Code:     CodeException,
			Severity: workflow.SeverityError,
			Message:  "exception raised",
			Pattern:  regexp.MustCompile(`\b\w*(Exception|Error):|\bException\b`),
		},
		{
			Code:     CodeHTTP5xx,
			Severity: workflow.SeverityError,
			Message:  "server error response",
			Pattern:  regexp.MustCompile(`\bHTTP(/\d(\.\d)?)?"?\s+5\d\d\b|\bstatus[=: ]+5\d\d\b|"\s5\d\d\s`),
		},
		{
			Code:     CodeErrorLine,
			Severity: workflow.SeverityError,
			Message:  "error logged",
			Pattern:  regexp.MustCompile(`\b(ERROR|FATAL|CRITICAL)\b|level=(error|fatal)`),
		},
		{
			Code:     CodeDeprecation,
			Severity: workflow.SeverityWarning,
			Message:  "deprecated usage",
			Pattern:  regexp.MustCompile(`(?i)\bdeprecat(ed|ion)\b`),
		},
		{
			Code:     CodeWarningLine,
			Severity: workflow.SeverityWarning,
			Message:  "warning logged",
			Pattern:  regexp.MustCompile(`\b(WARNING|WARN)\b|level=warn(ing)?`),
		},
		{
			Code:     CodeTimeout,
			Severity: workflow.SeverityWarning,
			Message:  "timeout",
			Pattern:  regexp.MustCompile(`(?i)\btime(d)?[ -]?out\b`),
		},
	}
}
