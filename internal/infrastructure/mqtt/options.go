package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepalive is the keepalive interval used when the config omits one.
	defaultKeepalive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options describes one broker session.
//
// Credentials are supplied per dial rather than read from config: the
// password is a derived, time-windowed value that changes between
// connection attempts.
type Options struct {
	// Broker is the endpoint to connect to.
	Broker config.BrokerConfig

	// ClientID identifies this session on the broker.
	ClientID string

	// Username and Password authenticate the session.
	Username string
	Password string

	// CleanSession false keeps the broker-side session (queued QoS 1
	// messages survive a disconnect).
	CleanSession bool

	// OnConnectionLost is invoked when an established connection drops.
	// It is not invoked for failed connection attempts.
	OnConnectionLost func(err error)
}

// buildClientOptions creates paho MQTT options from session options.
//
// Auto-reconnect is deliberately disabled: the session manager owns the
// reconnect loop because every attempt needs freshly derived credentials.
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	// Broker URL
	scheme := "tcp"
	if o.Broker.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, o.Broker.Host, o.Broker.Port)
	opts.AddBroker(brokerURL)

	// Client identification
	opts.SetClientID(o.ClientID)

	// Authentication
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(o.CleanSession)

	// One attempt per dial; the caller schedules retries.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Connection timeout
	opts.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - broker sends PINGs to detect dead connections
	keepalive := defaultKeepalive
	if o.Broker.Keepalive > 0 {
		keepalive = time.Duration(o.Broker.Keepalive) * time.Second
	}
	opts.SetKeepAlive(keepalive)

	// TLS configuration if enabled
	if o.Broker.TLS {
		tlsConfig := &tls.Config{
			MinVersion: tlsMinVersion,
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}
