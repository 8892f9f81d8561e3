package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidRequest wraps every request validation failure.
var ErrInvalidRequest = errors.New("invalid workflow request")

// Type is the kind of workflow requested.
type Type string

const (
	TypeFeature Type = "feature"
	TypeBugfix  Type = "bugfix"

	// legacyFeatureType is the historical name clients still send.
	legacyFeatureType = "feature_from_contract"
)

// ParseType maps a wire value to a Type, accepting the legacy feature alias.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(TypeFeature), legacyFeatureType:
		return TypeFeature, nil
	case string(TypeBugfix):
		return TypeBugfix, nil
	}
	return "", fmt.Errorf("%w: unknown workflow type %q", ErrInvalidRequest, s)
}

// Flags selects which stages a run executes.
type Flags struct {
	DryRun     bool `json:"dry_run"`
	RunCodegen bool `json:"run_codegen"`
	RunTests   bool `json:"run_tests"`
	RunSmoke   bool `json:"run_smoke"`
	RunBugfix  bool `json:"run_bugfix"`
	// RunGovernance evaluates policy even when no PR is requested.
	// Governance always runs when CreatePR is set.
	RunGovernance bool `json:"run_governance"`
	CreatePR      bool `json:"create_pr"`
}

// Timeouts override engine defaults for a single run. Zero means default.
type Timeouts struct {
	Test  config.Duration `json:"test,omitempty"`
	Smoke config.Duration `json:"smoke,omitempty"`
	Run   config.Duration `json:"run,omitempty"`
}

// PROptions carries the pull-request details forwarded to the PR collaborator.
type PROptions struct {
	BranchName    string `json:"branch_name,omitempty" validate:"omitempty,max=200,excludesall= ~^:?*[\\"`
	CommitMessage string `json:"commit_message,omitempty" validate:"omitempty,max=2000"`
	PushBranch    bool   `json:"push_branch,omitempty"`
	Base          string `json:"pr_base,omitempty" validate:"omitempty,max=200"`
	Title         string `json:"pr_title,omitempty" validate:"omitempty,max=256"`
	Body          string `json:"pr_body,omitempty" validate:"omitempty,max=65536"`
}

// DefaultPRBase is used when the request names no base branch.
const DefaultPRBase = "main"

// Request is an accepted unit of work for one project.
type Request struct {
	Type      Type   `json:"type" validate:"required,oneof=feature bugfix"`
	ProjectID string `json:"project_id" validate:"required,max=128,excludesall=/\\"`
	// ContractRef points at the design contract; required for feature runs.
	ContractRef     string    `json:"contract_ref,omitempty" validate:"max=1024"`
	Flags           Flags     `json:"flags"`
	Timeouts        Timeouts  `json:"timeouts,omitempty"`
	SmokeHealthPath string    `json:"smoke_health_path,omitempty" validate:"omitempty,startswith=/"`
	PR              PROptions `json:"pr,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize applies aliases and defaults in place.
func (r *Request) Normalize() {
	if t, err := ParseType(string(r.Type)); err == nil {
		r.Type = t
	}
	r.ProjectID = strings.TrimSpace(r.ProjectID)
	r.ContractRef = strings.TrimSpace(r.ContractRef)
	if r.PR.Base == "" {
		r.PR.Base = DefaultPRBase
	}
}

// Validate checks the request shape and the type-specific invariants.
func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.Type == TypeFeature && r.ContractRef == "" {
		return fmt.Errorf("%w: feature workflow requires a design contract reference", ErrInvalidRequest)
	}
	if r.Type == TypeBugfix && r.ContractRef != "" {
		return fmt.Errorf("%w: bugfix workflow does not take a design contract", ErrInvalidRequest)
	}
	for name, d := range map[string]config.Duration{"test": r.Timeouts.Test, "smoke": r.Timeouts.Smoke, "run": r.Timeouts.Run} {
		if d.Duration() < 0 {
			return fmt.Errorf("%w: %s timeout must not be negative", ErrInvalidRequest, name)
		}
	}
	return nil
}

// WantsGovernance reports whether the governance stage is requested.
func (r *Request) WantsGovernance() bool {
	return r.Flags.RunGovernance || r.Flags.CreatePR
}

// TimeoutOr returns d when set, otherwise fallback.
func TimeoutOr(d config.Duration, fallback time.Duration) time.Duration {
	if d.Duration() > 0 {
		return d.Duration()
	}
	return fallback
}
