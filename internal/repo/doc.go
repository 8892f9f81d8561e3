// Package repo reads change sets from a project's git working copy.
//
// The diff it produces is the input to governance: every path changed
// between the merge base with a base branch and the files on disk, so
// committed and uncommitted work are both covered.
package repo
