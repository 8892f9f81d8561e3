// Package bugfix asks an external collaborator for a fix suggestion when a
// run's test stage fails.
//
// The Invoker is the only entry point the orchestrator uses. It decides
// whether a suggestion is wanted, bounds and scrubs the captured output, and
// converts collaborator failures into a skipped stage record. Suggestions are
// advisory: nothing in this package touches the repository or re-runs tests.
//
// AnthropicSuggester is the LLM-backed Suggester. It is rate limited and
// retries rate-limit and server errors with exponential backoff.
package bugfix
