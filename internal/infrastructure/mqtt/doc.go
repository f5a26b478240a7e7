// Package mqtt provides the broker session transport for the HA-163 bridge.
//
// This package manages:
//   - Single-shot connections to the 163 IoT broker (Dial)
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - 163 device-namespace topic builders and parsing
//
// # Architecture
//
// The broker authenticates sessions with a time-windowed derived password,
// so a connection attempt is only valid with credentials derived at dial
// time. Dial therefore performs exactly one attempt with no auto-reconnect;
// the session manager owns the retry loop, deriving a fresh password for
// every attempt and re-subscribing after every successful dial.
//
//	Home Assistant ↔ HA-163 Bridge ↔ 163 IoT Broker ↔ Cloud
//
// # Security Considerations
//
//   - TLS is available via cfg.Broker.TLS
//   - Passwords are derived per time window and never stored
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Dial(mqtt.Options{
//	    Broker:       cfg.Broker,
//	    ClientID:     "pk123_gw-01",
//	    Username:     "gw-01",
//	    Password:     derived,
//	    CleanSession: false,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Command("pk123", "plug-kitchen")
//	err = client.Subscribe(topic, 1, func(topic string, payload []byte) error {
//	    log.Printf("command: %s = %s", topic, payload)
//	    return nil
//	})
package mqtt
