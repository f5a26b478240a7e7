package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dmxmj/ha-163-plug/internal/discovery"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/logging"
	"github.com/Dmxmj/ha-163-plug/internal/session"
	"github.com/Dmxmj/ha-163-plug/internal/state"
	"github.com/Dmxmj/ha-163-plug/internal/translate"
)

// Publisher is the broker session surface the bridge drives.
// Implemented by *session.Manager.
type Publisher interface {
	Publish(deviceID string, params state.Params) error
	UpdateDevices(devices []config.DeviceConfig)
	UpdateGateway(gw config.GatewayConfig)
	State() session.State
}

// StateWriter writes one entity's value in the local store.
// Implemented by *hastate.Client.
type StateWriter interface {
	WriteValue(ctx context.Context, entityID string, value state.Value) error
}

// DeviceStore persists the device list after a successful config reload.
// Implemented by *devicestore.Repository.
type DeviceStore interface {
	SaveDevices(ctx context.Context, devices []config.DeviceConfig, hash string) error
}

// Options configures a bridge.
type Options struct {
	Config  *config.Config
	Engine  *discovery.Engine
	Session Publisher
	States  StateWriter

	// Store is optional; nil disables device-list persistence.
	Store DeviceStore

	// LoadConfig re-reads the configuration for the reload cycle. Nil
	// disables config reload.
	LoadConfig func() (*config.Config, error)

	// Cache is shared with the session manager so removed devices can be
	// evicted from it.
	Cache *state.Cache

	// Translator defaults to translate.Default() when nil.
	Translator *translate.Table

	Logger *logging.Logger
}

// Bridge runs the sync loops between the local store and the broker
// session. Each loop is an independent goroutine; a slow or failing
// iteration in one never blocks the others.
type Bridge struct {
	engine     *discovery.Engine
	session    Publisher
	states     StateWriter
	store      DeviceStore
	cache      *state.Cache
	translator *translate.Table
	logger     *logging.Logger
	loadConfig func() (*config.Config, error)

	reportInterval time.Duration
	retryInterval  time.Duration
	reloadInterval time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration

	mu       sync.RWMutex
	devices  []config.DeviceConfig
	gateway  config.GatewayConfig
	lastHash string

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a bridge from an initial configuration.
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	translator := opts.Translator
	if translator == nil {
		translator = translate.Default()
	}
	cache := opts.Cache
	if cache == nil {
		cache = state.NewCache()
	}
	cfg := opts.Config

	return &Bridge{
		engine:         opts.Engine,
		session:        opts.Session,
		states:         opts.States,
		store:          opts.Store,
		cache:          cache,
		translator:     translator,
		logger:         logger.With("component", "bridge"),
		loadConfig:     opts.LoadConfig,
		reportInterval: cfg.GetReportInterval(),
		retryInterval:  cfg.GetDiscoveryRetryInterval(),
		reloadInterval: cfg.GetConfigReloadInterval(),
		readTimeout:    opTimeout(cfg),
		writeTimeout:   opTimeout(cfg),
		devices:        cfg.Devices,
		gateway:        cfg.Gateway,
		lastHash:       cfg.DevicesHash(),
		done:           make(chan struct{}),
	}
}

// opTimeout bounds one local-store read or write. The HTTP client has its
// own timeout; this caps the surrounding context as well.
func opTimeout(cfg *config.Config) time.Duration {
	if t := cfg.HomeAssistant.GetTimeout(); t > 0 {
		return t
	}
	return 5 * time.Second
}

// Start runs initial discovery and launches the push, discovery-retry, and
// config-reload loops.
func (b *Bridge) Start(ctx context.Context) error {
	started := false
	b.startOnce.Do(func() {
		started = true

		b.engine.DiscoverAll(ctx, b.currentDevices())

		b.wg.Add(1)
		go b.loop(ctx, b.reportInterval, b.pushCycle)

		b.wg.Add(1)
		go b.loop(ctx, b.retryInterval, b.retryCycle)

		if b.loadConfig != nil {
			b.wg.Add(1)
			go b.loop(ctx, b.reloadInterval, b.reloadCycle)
		}
	})
	if !started {
		return ErrAlreadyStarted
	}
	return nil
}

// Stop stops the loops and waits for in-flight cycles to finish.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

// loop runs fn once per tick until shutdown.
func (b *Bridge) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// pushCycle reads every mapped property of every discovered device and
// publishes the translated values. Unreadable properties are omitted from
// the report; a device with nothing readable publishes nothing.
func (b *Bridge) pushCycle(ctx context.Context) {
	for deviceID, props := range b.engine.Map() {
		snap := make(state.Snapshot, len(props))
		for property, entityID := range props {
			rctx, cancel := context.WithTimeout(ctx, b.readTimeout)
			v, ok := b.engine.ReadProperty(rctx, entityID)
			cancel()
			if ok {
				snap[property] = v
			}
		}

		params := b.translator.ToWire(snap)
		if len(params) == 0 {
			b.logger.Debug("nothing readable this cycle", "device", deviceID)
			continue
		}
		if err := b.session.Publish(deviceID, params); err != nil {
			b.logger.Warn("report publish rejected", "device", deviceID, "error", err)
		}
	}
}

// retryCycle re-runs discovery for devices whose last failure has aged out.
func (b *Bridge) retryCycle(ctx context.Context) {
	b.engine.RetryFailed(ctx, b.currentDevices(), b.retryInterval)
}

// reloadCycle re-reads the configuration and applies device-list changes.
//
// The device list is diffed by content hash: an unchanged hash is a no-op.
// On change, the session and engine get the new set, removed devices are
// evicted from the engine and cache, and the new list is persisted. A
// gateway credential change is forwarded so an auth-parked session can
// retry.
func (b *Bridge) reloadCycle(ctx context.Context) {
	cfg, err := b.loadConfig()
	if err != nil {
		b.logger.Warn("config reload failed, keeping current configuration", "error", err)
		return
	}

	b.mu.RLock()
	prevGateway := b.gateway
	prevHash := b.lastHash
	prevDevices := b.devices
	b.mu.RUnlock()

	if cfg.Gateway != prevGateway {
		b.logger.Info("gateway credentials changed, updating session")
		b.session.UpdateGateway(cfg.Gateway)
		b.mu.Lock()
		b.gateway = cfg.Gateway
		b.mu.Unlock()
	}

	hash := cfg.DevicesHash()
	if hash == prevHash {
		return
	}
	b.logger.Info("device list changed, applying", "devices", len(cfg.Devices))

	current := make(map[string]bool, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		current[dev.ID] = true
	}
	for _, dev := range prevDevices {
		if !current[dev.ID] {
			b.engine.Remove(dev.ID)
			b.cache.Remove(dev.ID)
			b.logger.Info("device removed", "device", dev.ID)
		}
	}

	b.session.UpdateDevices(cfg.Devices)
	b.engine.DiscoverAll(ctx, cfg.Devices)

	if b.store != nil {
		if err := b.store.SaveDevices(ctx, cfg.Devices, hash); err != nil {
			b.logger.Warn("device list persistence failed", "error", err)
		}
	}

	b.mu.Lock()
	b.devices = cfg.Devices
	b.lastHash = hash
	b.mu.Unlock()
}

// WriteProperty applies an inbound property change: resolve the entity
// through the discovery map, then write it to the local store. Implements
// session.PropertyWriter.
func (b *Bridge) WriteProperty(ctx context.Context, deviceID, property string, value state.Value) error {
	props := b.engine.Device(deviceID)
	entityID, ok := props[property]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrPropertyNotMapped, deviceID, property)
	}

	wctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
	defer cancel()
	if err := b.states.WriteValue(wctx, entityID, value); err != nil {
		return fmt.Errorf("write %s: %w", entityID, err)
	}
	b.logger.Info("property written back",
		"device", deviceID,
		"property", property,
		"entity", entityID,
	)
	return nil
}

// currentDevices returns the device list under the lock.
func (b *Bridge) currentDevices() []config.DeviceConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.devices
}

// Status is a point-in-time snapshot for the status API.
type Status struct {
	SessionState string                       `json:"session_state"`
	Devices      map[string]map[string]string `json:"devices"`
	Failures     map[string]time.Time         `json:"failures"`
}

// Status reports the session state, the discovered property map, and the
// discovery failure record.
func (b *Bridge) Status() Status {
	return Status{
		SessionState: b.session.State().String(),
		Devices:      b.engine.Map(),
		Failures:     b.engine.Failures(),
	}
}
