// Package protocol owns the relay <-> editor-agent wire contract.
//
// Ownership boundary:
// - command envelope encoding (relay -> agent)
// - result/hello envelope decoding (agent -> relay)
// - the Result tagged union shared by relay, agent, and controller adapters
//
// Every message is one JSON object per websocket text frame.
package protocol
