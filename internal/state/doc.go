// Package state defines the typed property values exchanged with the local
// store and the per-device wire-state cache the session relies on for
// reconciliation after broker outages.
package state
