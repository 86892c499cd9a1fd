// Package chat contains the connection manager for a live chat room.
//
// The manager owns one room connection at a time and drives it through a small
// state machine (Idle, Connecting, Connected, Disconnected, Reconnecting,
// Failed). Every connect attempt obtains a fresh token from the credential
// broker; chat tokens are short-lived and cannot be renewed in place. Transport
// drops are retried with a jittered exponential delay up to a bounded number of
// consecutive failures, after which the manager parks in Failed until a new
// explicit join resets it.
//
// Inbound frames pass through the message schema validator; frames that fail
// validation are dropped and logged, never fatal. Valid messages are delivered
// on a bounded channel consumed by the session layer.
package chat
