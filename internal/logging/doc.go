// Package logging provides structured logging for autopilot.
//
// The Logger wraps Zap with context-aware methods. Every entry logged with a
// context carries the OpenTelemetry trace correlation plus the workflow
// identifiers attached with WithRun and WithStage:
//
//	ctx = logging.WithRun(ctx, run.ID, run.ProjectID)
//	ctx = logging.WithStage(ctx, "tests")
//	logger.Info(ctx, "stage finished", zap.Bool("passed", true))
//
// produces
//
//	{"level":"info","msg":"stage finished","run_id":"...","project_id":"demo","stage":"tests","passed":true}
//
// Output passes through a redacting encoder, so fields named like secrets
// (token, api_key, ...) and values matching secret patterns never reach stdout.
// Errors are never sampled.
package logging
