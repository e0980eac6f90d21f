// Package process runs subprocesses in their own process group so that a
// whole tree can be terminated, with SIGTERM first and SIGKILL after a
// grace period.
//
// Run executes a command to completion and captures its output. Start
// launches a long-running child, such as a model server, and returns a
// Handle to supervise and stop it.
package process
