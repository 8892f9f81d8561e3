// Package orchestrator drives a workflow run through its stages.
//
// # Overview
//
// A run moves forward through a fixed state machine:
//
//	PENDING → CODEGEN → TESTING → SMOKE → GOVERNANCE → PR_PREP → TERMINAL
//
// Every stage is recorded in every run, either as executed (passed or
// failed) or as skipped with a reason, so callers can tell "did not run"
// from "ran and failed". The bugfix stage runs inside TESTING and has no
// state of its own.
//
// # Gates
//
// Before a stage runs its gate is checked. A stage is skipped when:
//   - the request is a dry run (every stage, reason dry_run)
//   - an earlier stage failed (codegen_failed, tests_failed, smoke_failed,
//     governance_failed) or the run was cancelled (cancelled)
//   - its flag is off (flag_disabled), or it does not apply to the
//     workflow type (codegen on bugfix runs, not_applicable)
//
// The bugfix stage ignores failure gates: it exists to react to failed
// tests.
//
// # Status
//
// The run status is the worst outcome among executed stages:
// SUCCESS < FAILED_TESTS < FAILED_SMOKE < FAILED_GOVERNANCE < ERROR.
// Codegen failures, missing commands and cancellation resolve to ERROR.
// Bugfix and PR preparation never change the status.
//
// # Collaborators
//
// Stages delegate to interfaces (TestRunner, SmokeRunner, DiffSource,
// GovernanceEvaluator, BugfixInvoker, PRPreparer). Collaborator faults in
// governance, bugfix and PR preparation degrade to a skipped stage with the
// error recorded.
//
// # Observability
//
// Each run gets a span with one child span per executed stage. Prometheus
// metrics count runs by type and status, time stages by outcome, and track
// active runs. Progress callbacks report each stage as it starts and ends.
package orchestrator
