package orchestrator

import "github.com/fyrsmithlabs/autopilot/internal/workflow"

// gate decides whether a stage may run. It returns the skip reason and
// false when the stage must be skipped.
type gate func(req workflow.Request) (workflow.Reason, bool)

// flagGate skips a stage whose flag is off.
func flagGate(enabled func(workflow.Flags) bool) gate {
	return func(req workflow.Request) (workflow.Reason, bool) {
		if !enabled(req.Flags) {
			return workflow.ReasonFlagDisabled, false
		}
		return "", true
	}
}

// codegenGate runs codegen only for feature workflows that asked for it.
func codegenGate(req workflow.Request) (workflow.Reason, bool) {
	if req.Type != workflow.TypeFeature {
		return workflow.ReasonNotApplicable, false
	}
	if !req.Flags.RunCodegen {
		return workflow.ReasonFlagDisabled, false
	}
	return "", true
}

func governanceGate(req workflow.Request) (workflow.Reason, bool) {
	if !req.WantsGovernance() {
		return workflow.ReasonFlagDisabled, false
	}
	return "", true
}

var stageGates = map[workflow.StageName]gate{
	workflow.StageCodegen:    codegenGate,
	workflow.StageTests:      flagGate(func(f workflow.Flags) bool { return f.RunTests }),
	workflow.StageBugfix:     flagGate(func(f workflow.Flags) bool { return f.RunBugfix }),
	workflow.StageSmoke:      flagGate(func(f workflow.Flags) bool { return f.RunSmoke }),
	workflow.StageGovernance: governanceGate,
	workflow.StagePRPrep:     flagGate(func(f workflow.Flags) bool { return f.CreatePR }),
}

// checkGates applies the gates in priority order: dry run, then an earlier
// blocking outcome, then the stage's own gate. The bugfix stage is only
// blocked by cancellation.
func checkGates(name workflow.StageName, req workflow.Request, blocked workflow.Reason) (workflow.Reason, bool) {
	if req.Flags.DryRun {
		return workflow.ReasonDryRun, false
	}
	if blocked != "" && (name != workflow.StageBugfix || blocked == workflow.ReasonCancelled) {
		return blocked, false
	}
	if g, ok := stageGates[name]; ok {
		return g(req)
	}
	return "", true
}

// blockingReason maps a failed stage to the reason later stages are skipped
// with.
func blockingReason(res workflow.StageResult) (workflow.Reason, bool) {
	if res.Reason == workflow.ReasonCancelled {
		return workflow.ReasonCancelled, true
	}
	if !res.Failed() {
		return "", false
	}
	switch res.Name {
	case workflow.StageCodegen:
		return workflow.ReasonCodegenFailed, true
	case workflow.StageTests:
		return workflow.ReasonTestsFailed, true
	case workflow.StageSmoke:
		return workflow.ReasonSmokeFailed, true
	case workflow.StageGovernance:
		return workflow.ReasonGovernanceFailed, true
	}
	return "", false
}
