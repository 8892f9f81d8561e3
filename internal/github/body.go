package github

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// maxPatchInBody keeps suggested patches from dominating the description.
const maxPatchInBody = 4000

// Title returns the PR title for a run: the requested title, else the first
// line of the commit message, else a generated one.
func Title(rec workflow.Record) string {
	if t := strings.TrimSpace(rec.Request.PR.Title); t != "" {
		return t
	}
	if msg := strings.TrimSpace(rec.Request.PR.CommitMessage); msg != "" {
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		return strings.TrimSpace(msg)
	}
	if rec.Request.ContractRef != "" {
		return fmt.Sprintf("autopilot: %s %s (%s)", rec.Type, rec.ProjectID, rec.Request.ContractRef)
	}
	return fmt.Sprintf("autopilot: %s %s", rec.Type, rec.ProjectID)
}

// Body renders the PR description: the requested body followed by the run
// evidence a reviewer needs to approve the change.
func Body(rec workflow.Record) string {
	var b strings.Builder
	if body := strings.TrimSpace(rec.Request.PR.Body); body != "" {
		b.WriteString(body)
		b.WriteString("\n\n---\n\n")
	}

	fmt.Fprintf(&b, "## Autopilot run `%s`\n\n", rec.ID)
	fmt.Fprintf(&b, "- Project: `%s`\n", rec.ProjectID)
	fmt.Fprintf(&b, "- Type: `%s`\n", rec.Type)
	if rec.Request.ContractRef != "" {
		fmt.Fprintf(&b, "- Contract: `%s`\n", rec.Request.ContractRef)
	}
	fmt.Fprintf(&b, "- Status: **%s**\n\n", rec.Status)

	b.WriteString("| Stage | Outcome | Detail | Duration |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, s := range rec.Stages {
		if s.Name == workflow.StagePRPrep {
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", s.Name, s.Outcome(), stageDetail(s), formatDuration(s.Duration))
	}

	if len(rec.Violations) > 0 {
		b.WriteString("\n### Governance findings\n\n")
		for _, v := range rec.Violations {
			loc := ""
			if v.Path != "" {
				loc = fmt.Sprintf(" `%s`", v.Path)
			}
			fmt.Fprintf(&b, "- **%s** %s%s: %s\n", v.Severity, v.Rule, loc, v.Message)
		}
	}

	if fix := rec.Bugfix; fix != nil {
		b.WriteString("\n### Suggested fix (not applied)\n\n")
		if fix.Notes != "" {
			b.WriteString(fix.Notes)
			b.WriteString("\n")
		}
		if fix.Patch != "" {
			patch := fix.Patch
			if len(patch) > maxPatchInBody {
				patch = patch[:maxPatchInBody] + "\n... (truncated)"
			}
			fmt.Fprintf(&b, "\n```diff\n%s\n```\n", patch)
		}
		if fix.RetryCommand != "" {
			fmt.Fprintf(&b, "\nRetry with `%s`.\n", fix.RetryCommand)
		}
	}

	b.WriteString("\nThis pull request was prepared automatically and needs human review before merging.\n")
	return b.String()
}

func stageDetail(s workflow.StageResult) string {
	var parts []string
	if s.Reason != "" {
		parts = append(parts, string(s.Reason))
	}
	if s.Command != "" {
		parts = append(parts, "`"+strings.ReplaceAll(s.Command, "|", `\|`)+"`")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
