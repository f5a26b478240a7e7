// Package session owns the broker connection lifecycle.
//
// The manager is an explicit state machine (disconnected, connecting,
// connected, auth_failed) driven by discrete events rather than library
// auto-reconnect: the broker password is derived from the current time
// window, so every attempt must dial with a fresh credential. Backoff
// doubles to a cap; repeated capped failures escalate through the fatal
// callback. Auth rejections park the session until the gateway credentials
// are reconfigured.
//
// Outbound reports merge into a pending cache while disconnected and are
// reconciled as one union message per device on reconnect, before any new
// publish. Inbound commands are always acknowledged with a correlated
// reply, success or not.
package session
