package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/Dmxmj/ha-163-plug/internal/hastate"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/logging"
	"github.com/Dmxmj/ha-163-plug/internal/state"
)

// StateSource reads entities from the local store.
// Implemented by *hastate.Client; narrowed to an interface for tests.
type StateSource interface {
	ListEntities(ctx context.Context) ([]hastate.Entity, error)
	ReadValue(ctx context.Context, entityID string) (state.Value, error)
}

// Engine discovers which local entities belong to which devices and serves
// property reads against the resulting map.
//
// Failure containment rules:
//   - A device that maps zero properties is recorded as failed with a
//     timestamp and excluded from the property map; other devices are
//     unaffected.
//   - A failed entity-list snapshot leaves the previous map untouched.
//   - A failed property read logs locally and reports absence, never an
//     error: one unreadable entity must not abort a push cycle.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	source StateSource
	mapper *Mapper
	logger *logging.Logger
	clock  func() time.Time

	mu          sync.RWMutex
	propertyMap map[string]map[string]string // device id -> property -> entity id
	failures    map[string]time.Time         // device id -> last failure time
}

// EngineOptions configures a discovery engine.
type EngineOptions struct {
	// Source reads the local store.
	Source StateSource

	// Mapper resolves entities to properties. Defaults to the standard
	// suffix rules when nil.
	Mapper *Mapper

	// Logger is optional; a default logger is used when nil.
	Logger *logging.Logger

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// NewEngine creates a discovery engine.
func NewEngine(opts EngineOptions) *Engine {
	mapper := opts.Mapper
	if mapper == nil {
		mapper = NewMapper(DefaultSuffixRules())
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		source:      opts.Source,
		mapper:      mapper,
		logger:      logger.With("component", "discovery"),
		clock:       clock,
		propertyMap: make(map[string]map[string]string),
		failures:    make(map[string]time.Time),
	}
}

// DiscoverAll rebuilds the property map from one entity-list snapshot.
//
// Disabled devices are skipped entirely. Devices that map no properties
// are recorded as failed and excluded; devices that map get their failure
// record cleared. When the snapshot itself cannot be fetched the previous
// map is kept as-is and returned.
func (e *Engine) DiscoverAll(ctx context.Context, devices []config.DeviceConfig) map[string]map[string]string {
	entities, err := e.source.ListEntities(ctx)
	if err != nil {
		e.logger.Warn("entity snapshot failed, keeping previous map", "error", err)
		return e.Map()
	}
	ids := entityIDs(entities)

	next := make(map[string]map[string]string)

	e.mu.Lock()
	for _, dev := range devices {
		if !dev.Enabled {
			continue
		}
		mapped := e.mapper.MapDevice(dev, ids)
		if len(mapped) == 0 {
			e.failures[dev.ID] = e.clock()
			e.logger.Warn("device discovery failed", "device", dev.ID, "prefix", dev.EntityPrefix)
			continue
		}
		delete(e.failures, dev.ID)
		next[dev.ID] = mapped
	}
	e.propertyMap = next
	e.mu.Unlock()

	e.logger.Info("discovery complete", "devices", len(next))
	return e.Map()
}

// DiscoverDevices discovers a subset of devices and merges successes into
// the existing map. Entries for devices not in the subset are untouched.
// Used for newly added devices and by RetryFailed.
func (e *Engine) DiscoverDevices(ctx context.Context, devices []config.DeviceConfig) {
	if len(devices) == 0 {
		return
	}

	entities, err := e.source.ListEntities(ctx)
	if err != nil {
		e.logger.Warn("entity snapshot failed, skipping discovery pass", "error", err)
		return
	}
	ids := entityIDs(entities)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, dev := range devices {
		if !dev.Enabled {
			continue
		}
		mapped := e.mapper.MapDevice(dev, ids)
		if len(mapped) == 0 {
			e.failures[dev.ID] = e.clock()
			e.logger.Warn("device discovery failed", "device", dev.ID, "prefix", dev.EntityPrefix)
			continue
		}
		delete(e.failures, dev.ID)
		e.propertyMap[dev.ID] = mapped
		e.logger.Info("device discovered", "device", dev.ID, "properties", len(mapped))
	}
}

// RetryFailed re-discovers devices whose last failure is at least interval
// old. Younger failures wait; devices without a failure record are left
// alone.
func (e *Engine) RetryFailed(ctx context.Context, devices []config.DeviceConfig, interval time.Duration) {
	now := e.clock()

	e.mu.RLock()
	due := make(map[string]bool)
	for id, failedAt := range e.failures {
		if now.Sub(failedAt) >= interval {
			due[id] = true
		}
	}
	e.mu.RUnlock()

	if len(due) == 0 {
		return
	}

	var retry []config.DeviceConfig
	for _, dev := range devices {
		if due[dev.ID] {
			retry = append(retry, dev)
		}
	}
	e.DiscoverDevices(ctx, retry)
}

// ReadProperty reads one mapped entity's value.
//
// Any failure (transport, missing entity, unavailable state) is logged and
// reported as ok=false; errors never propagate to the caller.
func (e *Engine) ReadProperty(ctx context.Context, entityID string) (state.Value, bool) {
	v, err := e.source.ReadValue(ctx, entityID)
	if err != nil {
		e.logger.Debug("property read failed", "entity", entityID, "error", err)
		return state.Value{}, false
	}
	return v, true
}

// Map returns a copy of the current property map.
func (e *Engine) Map() map[string]map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]map[string]string, len(e.propertyMap))
	for dev, props := range e.propertyMap {
		inner := make(map[string]string, len(props))
		for p, id := range props {
			inner[p] = id
		}
		out[dev] = inner
	}
	return out
}

// Device returns a copy of one device's property map, or nil.
func (e *Engine) Device(deviceID string) map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	props, ok := e.propertyMap[deviceID]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(props))
	for p, id := range props {
		out[p] = id
	}
	return out
}

// Failures returns a copy of the failure record.
func (e *Engine) Failures() map[string]time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]time.Time, len(e.failures))
	for id, at := range e.failures {
		out[id] = at
	}
	return out
}

// Remove drops a device from the map and failure record. Used when a
// device disappears from the configuration.
func (e *Engine) Remove(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.propertyMap, deviceID)
	delete(e.failures, deviceID)
}

// entityIDs extracts the id column from an entity listing.
func entityIDs(entities []hastate.Entity) []string {
	ids := make([]string, len(entities))
	for i, ent := range entities {
		ids[i] = ent.ID
	}
	return ids
}
