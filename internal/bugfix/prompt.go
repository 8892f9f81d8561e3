package bugfix

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

const systemPrompt = `You are a senior software engineer who fixes failing test suites.

Read the failing command and its output, find the root cause, and propose the
smallest change that fixes it. Never suggest disabling or deleting tests.

Answer in exactly this format:
PATCH:
<unified diff>

RETRY_COMMAND:
<command that re-runs the failing tests>

NOTES:
<short explanation of the cause and the fix>`

// BuildPrompt renders the user message for a failure.
func BuildPrompt(f Failure) string {
	var b strings.Builder
	b.WriteString("A test run failed.\n\n")
	fmt.Fprintf(&b, "Command: %s\n", f.Command)
	if f.TimedOut {
		b.WriteString("Result: timed out\n")
	} else {
		fmt.Fprintf(&b, "Exit code: %d\n", f.ExitCode)
	}
	if f.Stack != "" {
		fmt.Fprintf(&b, "Stack: %s\n", f.Stack)
	}
	writeBlock(&b, "Standard output", f.Stdout)
	writeBlock(&b, "Standard error", f.Stderr)
	if len(f.ChangedFiles) > 0 {
		b.WriteString("\nFiles changed on this branch:\n")
		for _, p := range f.ChangedFiles {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}

func writeBlock(b *strings.Builder, title, body string) {
	if strings.TrimSpace(body) == "" {
		body = "(empty)"
	}
	fmt.Fprintf(b, "\n%s:\n---\n%s\n---\n", title, strings.TrimRight(body, "\n"))
}

var (
	sectionRE = regexp.MustCompile(`(?mi)^\s*(PATCH|RETRY[_ ]COMMAND|NOTES)\s*:\s*`)
	fenceRE   = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")
)

// ParseResponse extracts a suggestion from model output. Output without the
// section headers is kept as notes, with the first fenced block as patch.
func ParseResponse(text string) *workflow.BugfixSuggestion {
	s := &workflow.BugfixSuggestion{}
	locs := sectionRE.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		if m := fenceRE.FindStringSubmatch(text); m != nil {
			s.Patch = strings.TrimRight(m[1], "\n")
			text = strings.Replace(text, m[0], "", 1)
		}
		s.Notes = strings.TrimSpace(text)
		s.Summary = firstLine(s.Notes)
		return s
	}

	for n, loc := range locs {
		end := len(text)
		if n+1 < len(locs) {
			end = locs[n+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		switch key := strings.ToUpper(text[loc[2]:loc[3]]); {
		case key == "PATCH":
			s.Patch = unfence(body)
		case strings.HasPrefix(key, "RETRY"):
			s.RetryCommand = firstLine(unfence(body))
		case key == "NOTES":
			s.Notes = body
		}
	}
	s.Summary = firstLine(s.Notes)
	return s
}

func unfence(s string) string {
	if m := fenceRE.FindStringSubmatch(s); m != nil {
		return strings.TrimRight(m[1], "\n")
	}
	return s
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
