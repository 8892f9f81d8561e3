package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

var runOpts struct {
	typ        string
	contract   string
	dryRun     bool
	codegen    bool
	tests      bool
	smoke      bool
	bugfix     bool
	governance bool
	createPR   bool
	branch     string
	base       string
	title      string
	push       bool
	runTimeout time.Duration
	wait       bool
	poll       time.Duration
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.typ, "type", "t", "feature", "workflow type: feature or bugfix")
	f.StringVarP(&runOpts.contract, "contract", "c", "", "design contract reference (feature runs)")
	f.BoolVar(&runOpts.dryRun, "dry-run", false, "validate and record the request without executing stages")
	f.BoolVar(&runOpts.codegen, "codegen", false, "run code generation")
	f.BoolVar(&runOpts.tests, "tests", true, "run the test suite")
	f.BoolVar(&runOpts.smoke, "smoke", false, "run the smoke test")
	f.BoolVar(&runOpts.bugfix, "bugfix", false, "request a fix suggestion when tests fail")
	f.BoolVar(&runOpts.governance, "governance", false, "evaluate governance policy without opening a PR")
	f.BoolVar(&runOpts.createPR, "create-pr", false, "open a pull request when the run succeeds")
	f.StringVar(&runOpts.branch, "branch", "", "branch for the pull request")
	f.StringVar(&runOpts.base, "base", "", "pull request base branch (default main)")
	f.StringVar(&runOpts.title, "title", "", "pull request title")
	f.BoolVar(&runOpts.push, "push", false, "push the branch before opening the pull request")
	f.DurationVar(&runOpts.runTimeout, "timeout", 0, "overall run timeout (0 uses the server default)")
	f.BoolVarP(&runOpts.wait, "wait", "w", false, "wait for the run to finish")
	f.DurationVar(&runOpts.poll, "poll", time.Second, "status poll interval with --wait")

	rootCmd.AddCommand(runCmd, statusCmd, cancelCmd, listCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <project-id>",
	Short: "Start a workflow run",
	Long: `Start a workflow run for a registered project.

Examples:
  # Feature run from a contract, tests only
  apctl run shop --contract contracts/orders.yaml --codegen

  # Bugfix run with a fix suggestion, waiting for the result
  apctl run shop --type bugfix --bugfix --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a workflow run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp runResponse
		if err := newClient(serverURL).do(cmd.Context(), "GET", "/api/v1/workflows/"+args[0], nil, &resp); err != nil {
			return err
		}
		printRecord(cmd.OutOrStdout(), resp.Record)
		if resp.Progress != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Progress: %s %s (%d%%)\n", resp.Progress.Stage, resp.Progress.Outcome, resp.Progress.Percentage)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a running workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(serverURL).do(cmd.Context(), "POST", "/api/v1/workflows/"+args[0]+"/cancel", nil, nil); err != nil {
			return err
		}
		cmd.Printf("Cancellation requested for %s\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active workflow runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Runs []workflow.Record `json:"runs"`
		}
		if err := newClient(serverURL).do(cmd.Context(), "GET", "/api/v1/workflows", nil, &resp); err != nil {
			return err
		}
		if len(resp.Runs) == 0 {
			cmd.Println("No active runs")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tPROJECT\tSTATE\tCREATED")
		for _, r := range resp.Runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Type, r.ProjectID, r.State, r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

// runResponse matches internal/http RunResponse
type runResponse struct {
	workflow.Record
	Progress *struct {
		Stage      string `json:"stage"`
		Outcome    string `json:"outcome"`
		Percentage int    `json:"percentage"`
	} `json:"progress,omitempty"`
}

func buildRequest(projectID string) (workflow.Request, error) {
	typ, err := workflow.ParseType(runOpts.typ)
	if err != nil {
		return workflow.Request{}, err
	}
	req := workflow.Request{
		Type:        typ,
		ProjectID:   projectID,
		ContractRef: runOpts.contract,
		Flags: workflow.Flags{
			DryRun:        runOpts.dryRun,
			RunCodegen:    runOpts.codegen,
			RunTests:      runOpts.tests,
			RunSmoke:      runOpts.smoke,
			RunBugfix:     runOpts.bugfix,
			RunGovernance: runOpts.governance,
			CreatePR:      runOpts.createPR,
		},
		Timeouts: workflow.Timeouts{Run: config.Duration(runOpts.runTimeout)},
		PR: workflow.PROptions{
			BranchName: runOpts.branch,
			Base:       runOpts.base,
			Title:      runOpts.title,
			PushBranch: runOpts.push,
		},
	}
	req.Normalize()
	return req, req.Validate()
}

func runRun(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args[0])
	if err != nil {
		return err
	}
	c := newClient(serverURL)
	var rec workflow.Record
	if err := c.do(cmd.Context(), "POST", "/api/v1/workflows", req, &rec); err != nil {
		return err
	}
	cmd.Printf("Started run %s\n", rec.ID)
	if !runOpts.wait {
		return nil
	}

	rec, err = waitForRun(cmd.Context(), c, rec.ID, runOpts.poll)
	if err != nil {
		return err
	}
	printRecord(cmd.OutOrStdout(), rec)
	if rec.Status != workflow.StatusSuccess {
		return fmt.Errorf("run %s finished with %s", rec.ID, rec.Status)
	}
	return nil
}

// waitForRun polls until the run is terminal.
func waitForRun(ctx context.Context, c *client, id string, every time.Duration) (workflow.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		var resp runResponse
		if err := c.do(ctx, "GET", "/api/v1/workflows/"+id, nil, &resp); err != nil {
			return workflow.Record{}, err
		}
		if resp.Terminal() {
			return resp.Record, nil
		}
		select {
		case <-ctx.Done():
			return workflow.Record{}, ctx.Err()
		case <-t.C:
		}
	}
}

func printRecord(out io.Writer, rec workflow.Record) {
	fmt.Fprintf(out, "Run:     %s\n", rec.ID)
	fmt.Fprintf(out, "Project: %s (%s)\n", rec.ProjectID, rec.Type)
	fmt.Fprintf(out, "State:   %s\n", rec.State)
	if rec.Terminal() {
		fmt.Fprintf(out, "Status:  %s\n", rec.Status)
	}
	if rec.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", rec.Message)
	}
	if rec.Error != "" {
		fmt.Fprintf(out, "Error:   %s\n", rec.Error)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tOUTCOME\tREASON\tDURATION")
	for _, s := range rec.Stages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, outcome(s), s.Reason, s.Duration.Round(time.Millisecond))
	}
	_ = w.Flush()

	for _, v := range rec.Violations {
		fmt.Fprintf(out, "  [%s] %s: %s\n", strings.ToUpper(string(v.Severity)), v.Rule, v.Message)
	}
	if rec.PR != nil && rec.PR.URL != "" {
		fmt.Fprintf(out, "Pull request: %s\n", rec.PR.URL)
	}
}

func outcome(s workflow.StageResult) string {
	switch {
	case s.Skipped:
		return "skipped"
	case s.Passed:
		return "passed"
	default:
		return "failed"
	}
}
