// Package monitor scans log files for error and warning patterns on demand.
//
// Only the last N lines of each file are read. Every matching line yields
// one Issue, classified by the first rule that matches. A file that cannot
// be read is reported as an issue rather than an error, so one bad path does
// not hide findings in the others. Line text is scrubbed of secrets before
// it is returned.
package monitor
