// Package relay brokers commands between a controller and one editor agent.
//
// Ownership boundary:
// - pending command ledger and first-wins resolution
// - single-slot agent registry
// - command dispatch, correlation and timeouts
// - websocket listener and HTTP surface (health, legacy no-ops, metrics)
//
// Relay does not interpret command payloads or agent results.
package relay
