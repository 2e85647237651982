// Package agent is the editor-side end of the relay protocol.
//
// Ownership boundary:
// - dialing the relay and reconnecting with backoff
// - announcing the session with a hello
// - running commands through an Executor and replying with results
//
// Agent does not interpret scripts; that belongs to the Executor.
package agent
