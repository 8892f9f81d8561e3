// Package stages runs the subprocess-backed pipeline stages: the project
// test suite and the smoke start-probe-stop cycle.
//
// Both runners convert process outcomes into workflow.StageResult values and
// never return errors; failures are encoded as stage reasons. Every process
// they start is torn down before Run returns, including on cancellation.
package stages
