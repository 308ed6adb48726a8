// Package supervisor turns an arbitrary POSIX command into a durably
// tracked, remotely controllable background job.
//
// The Supervisor launches one detached monitor process per job. The
// monitor owns the wrapped process's true lifecycle and finalises its
// terminal state; control operations (suspend, resume, cancel, stdin
// feed, output retrieval, listing, purge) act purely by reading and
// writing the job's store entry and delivering OS signals, so the
// invoking session can disconnect and reconnect at will. The store entry
// is the sole synchronisation surface; callers observe progress by
// polling it.
package supervisor
