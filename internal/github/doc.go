// Package github prepares pull requests for finished workflow runs.
//
// Preparation never merges anything: it optionally pushes the run's branch
// and opens a pull request whose description carries the run evidence for a
// human reviewer. When no token or no GitHub remote is available the
// preparer reports a stubbed result with the rendered title and body
// instead of pretending a PR exists.
package github
