package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autopilot/internal/governance"
	"github.com/fyrsmithlabs/autopilot/internal/monitor"
	"github.com/fyrsmithlabs/autopilot/internal/project"
)

// errChecksFailed makes the command exit non-zero without repeating output.
var errChecksFailed = errors.New("checks reported errors")

var monitorOpts struct {
	maxLines  int
	projectID string
	local     bool
}

var governanceOpts struct {
	diff       string
	projectDir string
	remote     bool
	projectID  string
}

func init() {
	monitorCmd.Flags().IntVarP(&monitorOpts.maxLines, "lines", "n", monitor.DefaultMaxLines, "lines to scan from the end of each file")
	monitorCmd.Flags().StringVarP(&monitorOpts.projectID, "project", "p", "", "resolve relative paths against this project")
	monitorCmd.Flags().BoolVar(&monitorOpts.local, "local", false, "scan on this machine instead of on the server")

	governanceCheckCmd.Flags().StringVar(&governanceOpts.diff, "diff", "-", "unified diff file, - for stdin")
	governanceCheckCmd.Flags().StringVar(&governanceOpts.projectDir, "policy", ".", "directory whose autopilot.yaml supplies the policy")
	governanceCheckCmd.Flags().BoolVar(&governanceOpts.remote, "remote", false, "evaluate on the server")
	governanceCheckCmd.Flags().StringVarP(&governanceOpts.projectID, "project", "p", "", "project whose policy the server applies (with --remote)")
	governanceCmd.AddCommand(governanceCheckCmd)

	rootCmd.AddCommand(monitorCmd, governanceCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor <log-file>...",
	Short: "Scan log files for errors and warnings",
	Long: `Scan the tail of log files for stack traces, errors and warnings.

Examples:
  apctl monitor logs/app.log --project shop
  apctl monitor /var/log/app.log --local -n 500`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMonitor,
}

var governanceCmd = &cobra.Command{
	Use:   "governance",
	Short: "Governance policy tools",
}

var governanceCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a diff against a governance policy",
	Long: `Evaluate a unified diff against a governance policy.

Examples:
  git diff main | apctl governance check
  apctl governance check --diff change.patch --policy ./services/shop`,
	Args: cobra.NoArgs,
	RunE: runGovernanceCheck,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	var res monitor.Result
	if monitorOpts.local {
		var err error
		res, err = monitor.NewScanner().Scan(cmdContext(cmd), args, monitorOpts.maxLines)
		if err != nil {
			return err
		}
	} else {
		body := map[string]any{
			"log_paths":  args,
			"max_lines":  monitorOpts.maxLines,
			"project_id": monitorOpts.projectID,
		}
		if err := newClient(serverURL).do(cmd.Context(), "POST", "/monitor/check", body, &res); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, is := range res.Issues {
		fmt.Fprintf(out, "%s:%d [%s] %s: %s\n", is.FilePath, is.LineNumber, is.Severity, is.Code, is.Line)
	}
	fmt.Fprintln(out, res.Summary)
	if errs, _ := res.Counts(); errs > 0 {
		return errChecksFailed
	}
	return nil
}

func runGovernanceCheck(cmd *cobra.Command, args []string) error {
	diff, err := readInput(cmd.InOrStdin(), governanceOpts.diff)
	if err != nil {
		return err
	}

	var res governance.Result
	if governanceOpts.remote {
		body := map[string]any{"diff": diff, "project_id": governanceOpts.projectID}
		if err := newClient(serverURL).do(cmd.Context(), "POST", "/api/v1/governance/evaluate", body, &res); err != nil {
			return err
		}
	} else {
		cfg, err := project.LoadConfig(governanceOpts.projectDir)
		if err != nil {
			return err
		}
		r, err := governance.NewEvaluator().Evaluate(cmdContext(cmd), diff, cfg.Governance)
		if err != nil {
			return err
		}
		res = *r
	}

	out := cmd.OutOrStdout()
	for _, v := range res.Violations {
		fmt.Fprintf(out, "[%s] %s %s: %s\n", v.Severity, v.Rule, v.Path, v.Message)
	}
	fmt.Fprintf(out, "%d file(s) changed, %d violation(s)\n", len(res.ChangedFiles), len(res.Violations))
	if !res.OK {
		return errChecksFailed
	}
	return nil
}

func readInput(stdin io.Reader, name string) (string, error) {
	var (
		b   []byte
		err error
	)
	if name == "" || name == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read diff: %w", err)
	}
	return string(b), nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
