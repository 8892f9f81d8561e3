// Package process runs external commands in their own process group.
//
// Every exit path (normal exit, timeout, context cancellation) ends with the
// whole group being signalled: SIGTERM first, SIGKILL once the grace period
// expires. Commands that fork servers or helpers therefore never outlive the
// call that started them.
package process
