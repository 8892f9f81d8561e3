// Package workflow defines the workflow run record shared by the
// orchestrator, the stage runners, and the HTTP and CLI surfaces.
//
// A Run is created when a Request is accepted and is mutated only by the
// orchestrator as stages complete. Once it reaches StateTerminal it is
// immutable; further mutation attempts return ErrRunTerminal.
//
// Every run records one StageResult per stage in StageOrder. A stage that did
// not execute is recorded with Skipped set and a Reason explaining why, so
// callers can always tell "did not run" from "ran and failed".
package workflow
