// Package devicestore persists the configured device list to SQLite so the
// bridge can start from its last known configuration when the config file
// is unreadable.
package devicestore
