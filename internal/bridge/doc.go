// Package bridge orchestrates the sync loops: the periodic state push to
// the broker session, discovery retries for devices that have not mapped,
// and config reload with device-list diffing. It also carries inbound
// property writes from the session back to the local store.
package bridge
