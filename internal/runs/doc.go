// Package runs executes workflow runs in the background and keeps their
// records queryable: start, get, cancel and list active.
package runs
