package state

import "sync"

// Cache holds the per-device wire state the session needs to survive broker
// outages of arbitrary length.
//
// Two layers are kept per device:
//
//   - last-known: every field value that has ever been handed to the
//     session, whether or not the publish succeeded. This is what a
//     reconnect reconciliation replays so the cloud converges on current
//     reality.
//   - pending: fields handed to the session while disconnected (or whose
//     publish failed). Pending is merged into the reconciliation message
//     and cleared only after that publish is confirmed.
//
// Thread Safety: all methods are safe for concurrent use.
type Cache struct {
	mu        sync.RWMutex
	lastKnown map[string]Params
	pending   map[string]Params
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		lastKnown: make(map[string]Params),
		pending:   make(map[string]Params),
	}
}

// UpdateLastKnown merges params into the device's last-known state.
func (c *Cache) UpdateLastKnown(deviceID string, params Params) {
	if len(params) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	known, ok := c.lastKnown[deviceID]
	if !ok {
		known = make(Params, len(params))
		c.lastKnown[deviceID] = known
	}
	known.Merge(params)
}

// MergePending merges params into the device's pending state.
func (c *Cache) MergePending(deviceID string, params Params) {
	if len(params) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	pend, ok := c.pending[deviceID]
	if !ok {
		pend = make(Params, len(params))
		c.pending[deviceID] = pend
	}
	pend.Merge(params)
}

// Union returns the merged last-known and pending params for a device.
// Pending values win over last-known ones for the same field. The result
// is a copy; mutating it does not affect the cache.
func (c *Cache) Union(deviceID string) Params {
	c.mu.RLock()
	defer c.mu.RUnlock()

	known := c.lastKnown[deviceID]
	pend := c.pending[deviceID]
	if len(known) == 0 && len(pend) == 0 {
		return nil
	}

	out := make(Params, len(known)+len(pend))
	out.Merge(known)
	out.Merge(pend)
	return out
}

// HasPending reports whether the device has unconfirmed pending state.
func (c *Cache) HasPending(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending[deviceID]) > 0
}

// ClearPending drops the device's pending state. Call only after the
// publish carrying it has been confirmed.
func (c *Cache) ClearPending(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, deviceID)
}

// Devices returns the IDs of every device with cached state, in no
// particular order.
func (c *Cache) Devices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool, len(c.lastKnown)+len(c.pending))
	for id := range c.lastKnown {
		seen[id] = true
	}
	for id := range c.pending {
		seen[id] = true
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Remove drops all cached state for a device. Used when a device is
// removed from the configuration.
func (c *Cache) Remove(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastKnown, deviceID)
	delete(c.pending, deviceID)
}
