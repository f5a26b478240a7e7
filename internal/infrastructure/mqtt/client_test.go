package mqtt

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
)

// testOptions returns session options for a local broker.
func testOptions() Options {
	return Options{
		Broker: config.BrokerConfig{
			Host:      "127.0.0.1",
			Port:      1883,
			Keepalive: 30,
		},
		ClientID:     "pk123_gw-01",
		Username:     "gw-01",
		Password:     "v1:deadbeef",
		CleanSession: false,
	}
}

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(testOptions())

	if len(opts.Servers) != 1 {
		t.Fatalf("len(Servers) = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want %q", got, "tcp://127.0.0.1:1883")
	}

	if opts.ClientID != "pk123_gw-01" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "pk123_gw-01")
	}
	if opts.Username != "gw-01" {
		t.Errorf("Username = %q, want %q", opts.Username, "gw-01")
	}
	if opts.CleanSession {
		t.Error("CleanSession = true, want false")
	}

	// The session manager owns reconnection.
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}

	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	o := testOptions()
	o.Broker.TLS = true
	o.Broker.Port = 8883

	opts := buildClientOptions(o)

	if got := opts.Servers[0].String(); got != "ssl://127.0.0.1:8883" {
		t.Errorf("broker URL = %q, want %q", got, "ssl://127.0.0.1:8883")
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLSConfig not set for TLS broker")
	}
}

func TestBuildClientOptions_DefaultKeepalive(t *testing.T) {
	o := testOptions()
	o.Broker.Keepalive = 0

	opts := buildClientOptions(o)

	if opts.KeepAlive != int64(defaultKeepalive.Seconds()) {
		t.Errorf("KeepAlive = %d, want %v", opts.KeepAlive, defaultKeepalive.Seconds())
	}
}

func TestIsAuthRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "bad username or password",
			err:  packets.ErrorRefusedBadUsernameOrPassword,
			want: true,
		},
		{
			name: "not authorised",
			err:  packets.ErrorRefusedNotAuthorised,
			want: true,
		},
		{
			name: "wrapped refusal",
			err:  fmt.Errorf("connack: %w", packets.ErrorRefusedNotAuthorised),
			want: true,
		},
		{
			name: "server unavailable",
			err:  packets.ErrorRefusedServerUnavailable,
			want: false,
		},
		{
			name: "generic network error",
			err:  errors.New("connection refused"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAuthRejection(tt.err); got != tt.want {
				t.Errorf("isAuthRejection(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish empty topic error = %v, want ErrInvalidTopic", err)
	}

	if err := c.Publish("t", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish qos 3 error = %v, want ErrInvalidQoS", err)
	}

	big := bytes.Repeat([]byte("a"), maxPayloadSize+1)
	if err := c.Publish("t", big, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish oversize payload error = %v, want ErrPublishFailed", err)
	}

	// Valid arguments on a disconnected client.
	if err := c.Publish("t", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe empty topic error = %v, want ErrInvalidTopic", err)
	}

	if err := c.Subscribe("t", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe qos 3 error = %v, want ErrInvalidQoS", err)
	}

	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe nil handler error = %v, want ErrSubscribeFailed", err)
	}

	if err := c.Subscribe("t", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe disconnected error = %v, want ErrNotConnected", err)
	}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0 after failed subscribes", c.SubscriptionCount())
	}
}

func TestClose_NilClient(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}
