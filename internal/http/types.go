package http

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/governance"
	"github.com/fyrsmithlabs/autopilot/internal/orchestrator"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// Legacy response statuses.
const (
	LegacyAccepted = "accepted"
	LegacyRejected = "rejected"
	LegacyError    = "error"
)

// Defaults of the legacy run request.
const (
	legacySmokeTimeout    = 60
	legacySmokeHealthPath = "/health"
)

// LegacyRunRequest is the body of POST /workflows/run. Omitted dry_run
// means true.
type LegacyRunRequest struct {
	WorkflowType    string `json:"workflow_type"`
	ProjectID       string `json:"project_id"`
	ContractPath    string `json:"contract_path,omitempty"`
	DryRun          *bool  `json:"dry_run,omitempty"`
	RunCodegen      bool   `json:"run_codegen"`
	RunTests        bool   `json:"run_tests"`
	RunSmoke        bool   `json:"run_smoke"`
	RunBugfix       bool   `json:"run_bugfix"`
	RunGovernance   bool   `json:"run_governance"`
	CreatePR        bool   `json:"create_pr"`
	BranchName      string `json:"branch_name,omitempty"`
	CommitMessage   string `json:"commit_message,omitempty"`
	PushBranch      bool   `json:"push_branch"`
	PRBase          string `json:"pr_base,omitempty"`
	PRTitle         string `json:"pr_title,omitempty"`
	PRBody          string `json:"pr_body,omitempty"`
	SmokeTimeout    *int   `json:"smoke_timeout,omitempty"`
	SmokeHealthPath string `json:"smoke_health_path,omitempty"`
}

// Request converts the legacy body to a workflow request. An unknown type
// is an error. Bugfix runs drop contract_path.
func (l LegacyRunRequest) Request() (workflow.Request, error) {
	typ := l.WorkflowType
	if strings.TrimSpace(typ) == "" {
		typ = string(workflow.TypeFeature)
	}
	t, err := workflow.ParseType(typ)
	if err != nil {
		return workflow.Request{}, err
	}

	dryRun := true
	if l.DryRun != nil {
		dryRun = *l.DryRun
	}
	smokeTimeout := legacySmokeTimeout
	if l.SmokeTimeout != nil {
		smokeTimeout = *l.SmokeTimeout
	}
	healthPath := l.SmokeHealthPath
	if healthPath == "" {
		healthPath = legacySmokeHealthPath
	}

	req := workflow.Request{
		Type:      t,
		ProjectID: l.ProjectID,
		Flags: workflow.Flags{
			DryRun:        dryRun,
			RunCodegen:    l.RunCodegen,
			RunTests:      l.RunTests,
			RunSmoke:      l.RunSmoke,
			RunBugfix:     l.RunBugfix,
			RunGovernance: l.RunGovernance,
			CreatePR:      l.CreatePR,
		},
		Timeouts: workflow.Timeouts{
			Smoke: config.Duration(time.Duration(smokeTimeout) * time.Second),
		},
		SmokeHealthPath: healthPath,
		PR: workflow.PROptions{
			BranchName:    l.BranchName,
			CommitMessage: l.CommitMessage,
			PushBranch:    l.PushBranch,
			Base:          l.PRBase,
			Title:         l.PRTitle,
			Body:          l.PRBody,
		},
	}
	if t == workflow.TypeFeature {
		req.ContractRef = l.ContractPath
	}
	return req, nil
}

// LegacyRunResponse is the response body of POST /workflows/run.
type LegacyRunResponse struct {
	WorkflowID     string          `json:"workflow_id"`
	Status         string          `json:"status"`
	Message        string          `json:"message"`
	Details        workflow.Record `json:"details"`
	WorkflowStatus string          `json:"workflow_status,omitempty"`
	TestsPassed    *bool           `json:"tests_passed"`
	SmokePassed    *bool           `json:"smoke_passed"`
	GovernanceOK   *bool           `json:"governance_ok"`
}

func legacyResponse(rec workflow.Record, status string) LegacyRunResponse {
	msg := rec.Message
	if rec.Error != "" && status != LegacyAccepted {
		msg = rec.Error
	}
	return LegacyRunResponse{
		WorkflowID:     rec.ID,
		Status:         status,
		Message:        msg,
		Details:        rec,
		WorkflowStatus: strings.ToLower(string(rec.Status)),
		TestsPassed:    rec.TestsPassed,
		SmokePassed:    rec.SmokePassed,
		GovernanceOK:   rec.GovernanceOK,
	}
}

// RunResponse wraps a run record with its latest progress.
type RunResponse struct {
	workflow.Record
	Progress *orchestrator.StageProgress `json:"progress,omitempty"`
}

// RunListResponse is the body of GET /api/v1/workflows.
type RunListResponse struct {
	Runs []workflow.Record `json:"runs"`
}

// CancelResponse is the body of POST /api/v1/workflows/:id/cancel.
type CancelResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// RegisterProjectRequest is the body of POST /projects/register.
type RegisterProjectRequest struct {
	ProjectID string         `json:"project_id"`
	RepoURL   string         `json:"repo_url"`
	Path      string         `json:"path,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ProjectResponse acknowledges a registry change.
type ProjectResponse struct {
	ProjectID string `json:"project_id"`
	RepoURL   string `json:"repo_url,omitempty"`
	Message   string `json:"message"`
}

// ProjectListResponse is the body of GET /projects.
type ProjectListResponse = []project.Entry

// EvaluateRequest is the body of POST /api/v1/governance/evaluate. When
// Policy is omitted and ProjectID is set, the project's policy applies.
type EvaluateRequest struct {
	Diff      string             `json:"diff"`
	ProjectID string             `json:"project_id,omitempty"`
	Policy    *governance.Policy `json:"policy,omitempty"`
}

// MonitorCheckRequest is the body of POST /monitor/check. Relative paths
// resolve against the project directory when ProjectID is set.
type MonitorCheckRequest struct {
	LogPaths  []string `json:"log_paths"`
	MaxLines  int      `json:"max_lines,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
}
