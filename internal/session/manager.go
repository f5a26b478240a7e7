package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dmxmj/ha-163-plug/internal/credentials"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/logging"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/mqtt"
	"github.com/Dmxmj/ha-163-plug/internal/state"
	"github.com/Dmxmj/ha-163-plug/internal/translate"
)

// State is the session connection state.
type State int

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthFailed
)

// String returns the state name for logs and the status API.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// defaultWriteTimeout bounds a single inbound property write.
const defaultWriteTimeout = 5 * time.Second

// Conn is one live broker connection.
// Implemented by *mqtt.Client; narrowed to an interface for tests.
type Conn interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Close() error
	IsConnected() bool
}

// Dialer opens a broker connection. The default wraps mqtt.Dial.
type Dialer func(o mqtt.Options) (Conn, error)

// PropertyWriter applies an inbound property change to the local store.
// Implemented by the bridge orchestrator.
type PropertyWriter interface {
	WriteProperty(ctx context.Context, deviceID, property string, value state.Value) error
}

// Options configures a session manager.
type Options struct {
	Gateway config.GatewayConfig
	Broker  config.BrokerConfig
	Session config.SessionConfig
	Devices []config.DeviceConfig

	// Writer receives inbound property changes.
	Writer PropertyWriter

	// Cache holds last-known and pending params. Shared with the bridge so
	// push cycles and reconciliation see the same data.
	Cache *state.Cache

	// Translator converts between local values and wire fields. Defaults to
	// translate.Default() when nil.
	Translator *translate.Table

	// Now supplies the clock used for credential derivation. Wire the
	// timesync-adjusted clock here; defaults to time.Now.
	Now func() time.Time

	// OnFatal is invoked when the session cannot continue (empty secret,
	// reconnect exhaustion). The process supervisor is expected to restart.
	OnFatal func(error)

	// Dialer overrides the broker dialer for tests.
	Dialer Dialer

	// WriteTimeout bounds one inbound property write. Defaults to 5s.
	WriteTimeout time.Duration

	Logger *logging.Logger
}

// Manager owns the broker session: an explicit state machine over
// Disconnected -> Connecting -> {Connected | AuthFailed}, with the
// reconnect/backoff loop in this package rather than in the MQTT library,
// because every attempt needs a freshly derived time-windowed credential.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Manager struct {
	broker       config.BrokerConfig
	qos          byte
	maxCycles    int
	writeTimeout time.Duration

	dial       Dialer
	now        func() time.Time
	translator *translate.Table
	cache      *state.Cache
	onFatal    func(error)
	logger     *logging.Logger
	topics     mqtt.Topics

	mu        sync.RWMutex
	state     State
	conn      Conn
	writer    PropertyWriter
	gateway   config.GatewayConfig
	devices   map[string]config.DeviceConfig // device id -> config
	byAddress map[string]string              // productKey/deviceName -> device id

	// Run-loop owned; no lock needed.
	backoff   *backoff
	exhausted int

	// pubMu orders publishes: reconciliation after a reconnect completes
	// before any newly generated publish for the same session.
	pubMu sync.Mutex

	lost    chan struct{}
	reauth  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	runOnce sync.Once
	stopped sync.Once
}

// NewManager creates a session manager. Start must be called before the
// session connects.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	translator := opts.Translator
	if translator == nil {
		translator = translate.Default()
	}
	cache := opts.Cache
	if cache == nil {
		cache = state.NewCache()
	}
	dial := opts.Dialer
	if dial == nil {
		dial = func(o mqtt.Options) (Conn, error) { return mqtt.Dial(o) }
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	initial := time.Duration(opts.Session.Reconnect.InitialDelay) * time.Second
	max := time.Duration(opts.Session.Reconnect.MaxDelay) * time.Second

	m := &Manager{
		broker:       opts.Broker,
		qos:          byte(opts.Session.QoS),
		maxCycles:    opts.Session.Reconnect.MaxCycles,
		writeTimeout: writeTimeout,
		dial:         dial,
		now:          now,
		translator:   translator,
		cache:        cache,
		onFatal:      opts.OnFatal,
		logger:       logger.With("component", "session"),
		gateway:      opts.Gateway,
		devices:      make(map[string]config.DeviceConfig),
		byAddress:    make(map[string]string),
		backoff:      newBackoff(initial, max),
		lost:         make(chan struct{}, 1),
		reauth:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	m.writer = opts.Writer
	m.indexDevices(opts.Devices)
	return m
}

// SetWriter installs the inbound property writer. The bridge is built
// after the manager (it needs the manager as its publisher), so the writer
// is wired through a setter rather than Options.
func (m *Manager) SetWriter(w PropertyWriter) {
	m.mu.Lock()
	m.writer = w
	m.mu.Unlock()
}

// indexDevices rebuilds the device lookup tables. Caller holds no lock.
func (m *Manager) indexDevices(devices []config.DeviceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.devices = make(map[string]config.DeviceConfig, len(devices))
	m.byAddress = make(map[string]string, len(devices))
	for _, dev := range devices {
		if !dev.Enabled {
			continue
		}
		m.devices[dev.ID] = dev
		m.byAddress[dev.ProductKey+"/"+dev.DeviceName] = dev.ID
	}
}

// Start launches the connect loop. It returns once the loop is running;
// connection progress is observable via State.
func (m *Manager) Start(ctx context.Context) error {
	started := false
	m.runOnce.Do(func() {
		started = true
		m.wg.Add(1)
		go m.run(ctx)
	})
	if !started {
		return ErrAlreadyRunning
	}
	return nil
}

// Stop shuts the session down: the run loop exits and the broker connection
// closes with a quiesce for in-flight acknowledgments.
func (m *Manager) Stop() {
	m.stopped.Do(func() {
		close(m.done)
	})
	m.wg.Wait()

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Warn("broker disconnect failed", "error", err)
		}
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// run is the session state machine loop.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		default:
		}

		switch m.State() {
		case StateConnected:
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-m.lost:
				m.setState(StateDisconnected)
			}

		case StateAuthFailed:
			// Terminal until UpdateGateway supplies new credentials.
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-m.reauth:
			}

		default:
			err := m.connect(ctx)
			if err == nil {
				continue
			}
			delay, fatal := m.connectFailed(err)
			if fatal {
				m.fatal(err)
				return
			}
			if delay > 0 && !m.sleep(ctx, delay) {
				return
			}
		}
	}
}

// sleep waits for d, returning false when the session is shutting down.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.done:
		return false
	case <-t.C:
		return true
	}
}

// connect performs one full connection attempt: derive the credential for
// the current time window, dial, subscribe every command topic, then
// reconcile cached state.
func (m *Manager) connect(ctx context.Context) error {
	m.setState(StateConnecting)

	// A loss signal queued by an earlier connection must not survive into
	// this attempt: read after a successful connect, it would tear the
	// fresh session straight back down.
	select {
	case <-m.lost:
	default:
	}

	m.mu.RLock()
	gw := m.gateway
	devices := make([]config.DeviceConfig, 0, len(m.devices))
	for _, dev := range m.devices {
		devices = append(devices, dev)
	}
	m.mu.RUnlock()

	password, err := credentials.Derive(gw.DeviceSecret, m.now())
	if err != nil {
		return fmt.Errorf("derive credential: %w", err)
	}

	conn, err := m.dial(mqtt.Options{
		Broker:           m.broker,
		ClientID:         gw.ProductKey + "_" + gw.DeviceName,
		Username:         gw.DeviceName,
		Password:         password,
		CleanSession:     false,
		OnConnectionLost: m.connectionLost,
	})
	if err != nil {
		return err
	}

	// Gateway first, then every enabled sub-device. A failed subscribe
	// means the session is not usable; tear it down and retry whole.
	topics := []string{m.topics.Command(gw.ProductKey, gw.DeviceName)}
	for _, dev := range devices {
		topics = append(topics, m.topics.Command(dev.ProductKey, dev.DeviceName))
	}
	for _, topic := range topics {
		if err := conn.Subscribe(topic, m.qos, m.handleCommand); err != nil {
			_ = conn.Close()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	m.mu.Lock()
	prev := m.conn
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	// A replaced connection is closed, never abandoned: it still holds the
	// QoS 1 command subscriptions and would ack every command a second time.
	if prev != nil {
		_ = prev.Close()
	}

	m.backoff.Reset()
	m.exhausted = 0
	m.logger.Info("session connected",
		"broker", m.broker.Host,
		"client_id", gw.ProductKey+"_"+gw.DeviceName,
		"subscriptions", len(topics),
	)

	m.reconcile(ctx)
	return nil
}

// connectFailed classifies a connection error and returns the retry delay.
// Auth rejections park the session in AuthFailed with no retry; an empty
// secret and backoff exhaustion are fatal.
func (m *Manager) connectFailed(err error) (delay time.Duration, fatal bool) {
	if errors.Is(err, credentials.ErrEmptySecret) {
		m.setState(StateAuthFailed)
		return 0, true
	}
	if errors.Is(err, mqtt.ErrAuthRejected) {
		m.logger.Error("broker rejected credentials, waiting for reconfiguration", "error", err)
		m.setState(StateAuthFailed)
		return 0, false
	}

	m.setState(StateDisconnected)
	delay, atCap := m.backoff.Next()
	if atCap {
		m.exhausted++
		if m.exhausted > m.maxCycles {
			return 0, true
		}
	}
	m.logger.Warn("connection attempt failed",
		"error", err,
		"retry_in", delay,
		"capped_failures", m.exhausted,
	)
	return delay, false
}

// connectionLost is installed as the transport's lost handler.
func (m *Manager) connectionLost(err error) {
	m.logger.Warn("broker connection lost", "error", err)
	select {
	case m.lost <- struct{}{}:
	default:
	}
}

// fatal reports an unrecoverable session failure.
func (m *Manager) fatal(err error) {
	if !errors.Is(err, credentials.ErrEmptySecret) {
		err = fmt.Errorf("%w after %d capped failures: %w", ErrReconnectExhausted, m.exhausted, err)
	}
	m.logger.Error("session cannot continue", "error", err)
	if m.onFatal != nil {
		m.onFatal(err)
	}
}

// reconcile publishes, per device with cached data, one message carrying
// the union of last-known and pending params, then clears pending. Holding
// pubMu guarantees the union goes out before any publish generated after
// the reconnect.
func (m *Manager) reconcile(_ context.Context) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	for _, deviceID := range m.cache.Devices() {
		union := m.cache.Union(deviceID)
		if len(union) == 0 {
			continue
		}
		if err := m.publishReport(deviceID, union); err != nil {
			// Pending survives: the next reconnect tries again.
			m.logger.Warn("reconciliation publish failed", "device", deviceID, "error", err)
			continue
		}
		m.cache.ClearPending(deviceID)
		m.logger.Info("device state reconciled", "device", deviceID, "params", len(union))
	}
}

// Publish reports a device's current wire params to the broker.
//
// The last-known cache is updated unconditionally. While disconnected, or
// when the transport publish fails, params merge into the pending set and
// nil is returned: delivery is deferred to reconciliation, not failed.
func (m *Manager) Publish(deviceID string, params state.Params) error {
	m.mu.RLock()
	_, known := m.devices[deviceID]
	m.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if len(params) == 0 {
		return nil
	}

	m.cache.UpdateLastKnown(deviceID, params)

	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	if m.State() != StateConnected {
		m.cache.MergePending(deviceID, params)
		return nil
	}

	if err := m.publishReport(deviceID, params.Clone()); err != nil {
		m.logger.Warn("report publish failed, deferring to reconciliation",
			"device", deviceID,
			"error", err,
		)
		m.cache.MergePending(deviceID, params)
		return nil
	}
	return nil
}

// publishReport sends one property-post message. Caller holds pubMu.
func (m *Manager) publishReport(deviceID string, params state.Params) error {
	m.mu.RLock()
	dev, ok := m.devices[deviceID]
	conn := m.conn
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if conn == nil || !conn.IsConnected() {
		return mqtt.ErrNotConnected
	}

	payload, err := json.Marshal(ReportMessage{
		ID:      uuid.NewString(),
		Version: messageVersion,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return conn.Publish(m.topics.PropertyPost(dev.ProductKey, dev.DeviceName), payload, m.qos, false)
}

// handleCommand processes one inbound property-set command.
//
// Every command gets a correlated reply, even when the payload does not
// decode or the write-back fails: an unacknowledged QoS 1 message would be
// redelivered forever.
func (m *Manager) handleCommand(topic string, payload []byte) error {
	productKey, deviceName, ok := mqtt.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("not a command topic: %s", topic)
	}
	replyTopic := m.topics.CommandReply(productKey, deviceName)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.reply(replyTopic, uuid.NewString(), CodeFailure)
		return fmt.Errorf("decode command on %s: %w", topic, err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	code := m.applyCommand(productKey, deviceName, cmd.Params)
	m.reply(replyTopic, cmd.ID, code)
	if code != CodeSuccess {
		return fmt.Errorf("command on %s not applied", topic)
	}
	return nil
}

// applyCommand writes the command's params to the addressed device and
// returns the reply code.
func (m *Manager) applyCommand(productKey, deviceName string, params map[string]any) int {
	m.mu.RLock()
	gw := m.gateway
	writer := m.writer
	deviceID, known := m.byAddress[productKey+"/"+deviceName]
	m.mu.RUnlock()

	if productKey == gw.ProductKey && deviceName == gw.DeviceName {
		// The gateway itself has no writable properties; an empty command
		// is a reachability probe and succeeds.
		if len(params) == 0 {
			return CodeSuccess
		}
		m.logger.Warn("command addressed gateway, which has no writable properties")
		return CodeFailure
	}
	if !known {
		m.logger.Warn("command for unconfigured device",
			"product_key", productKey,
			"device_name", deviceName,
		)
		return CodeFailure
	}

	if writer == nil {
		m.logger.Error("no property writer installed, dropping command", "device", deviceID)
		return CodeFailure
	}

	snap := m.translator.FromWire(params)
	code := CodeSuccess
	for property, value := range snap {
		ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
		err := writer.WriteProperty(ctx, deviceID, property, value)
		cancel()
		if err != nil {
			m.logger.Warn("property write-back failed",
				"device", deviceID,
				"property", property,
				"error", err,
			)
			code = CodeFailure
		}
	}
	return code
}

// reply publishes a command acknowledgment. Best effort: a lost reply is
// logged, never escalated.
func (m *Manager) reply(topic, id string, code int) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return
	}

	payload, err := json.Marshal(ReplyMessage{
		ID:   id,
		Code: code,
		Data: map[string]any{},
	})
	if err != nil {
		m.logger.Error("encode reply failed", "error", err)
		return
	}
	if err := conn.Publish(topic, payload, m.qos, false); err != nil {
		m.logger.Warn("reply publish failed", "topic", topic, "error", err)
	}
}

// UpdateGateway replaces the gateway credentials. When the session is
// parked in AuthFailed this releases it for a fresh attempt.
func (m *Manager) UpdateGateway(gw config.GatewayConfig) {
	m.mu.Lock()
	m.gateway = gw
	parked := m.state == StateAuthFailed
	if parked {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if parked {
		select {
		case m.reauth <- struct{}{}:
		default:
		}
	}
}

// UpdateDevices replaces the device set. New devices' command topics are
// subscribed immediately when connected; removed devices keep their broker
// subscription until the next reconnect, which is harmless because inbound
// lookup no longer resolves them.
func (m *Manager) UpdateDevices(devices []config.DeviceConfig) {
	m.mu.RLock()
	previous := make(map[string]bool, len(m.devices))
	for id := range m.devices {
		previous[id] = true
	}
	m.mu.RUnlock()

	m.indexDevices(devices)

	m.mu.RLock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.RUnlock()
	if !connected || conn == nil {
		return
	}

	for _, dev := range devices {
		if !dev.Enabled || previous[dev.ID] {
			continue
		}
		topic := m.topics.Command(dev.ProductKey, dev.DeviceName)
		if err := conn.Subscribe(topic, m.qos, m.handleCommand); err != nil {
			m.logger.Warn("subscribe for added device failed", "device", dev.ID, "error", err)
		}
	}
}

// setState transitions the session state.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state != s {
		m.logger.Debug("session state change", "from", m.state.String(), "to", s.String())
	}
	m.state = s
	m.mu.Unlock()
}
