// Package session owns relay <-> agent connection policy.
//
// Ownership boundary:
// - websocket keepalive and write deadlines
// - transport security (ws vs wss) validation
// - agent reconnect backoff policy
package session
