package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the HA-163 bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway       GatewayConfig       `yaml:"gateway"`
	Broker        BrokerConfig        `yaml:"broker"`
	Session       SessionConfig       `yaml:"session"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Bridge        BridgeConfig        `yaml:"bridge"`
	NTP           NTPConfig           `yaml:"ntp"`
	Database      DatabaseConfig      `yaml:"database"`
	API           APIConfig           `yaml:"api"`
	Logging       LoggingConfig       `yaml:"logging"`
	Devices       []DeviceConfig      `yaml:"devices"`
}

// GatewayConfig identifies the gateway device that owns the broker session.
// All sub-devices are multiplexed over this single connection.
type GatewayConfig struct {
	ProductKey   string `yaml:"product_key"`
	DeviceName   string `yaml:"device_name"`
	DeviceSecret string `yaml:"device_secret"`
}

// BrokerConfig contains IoT broker connection details.
type BrokerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	TLS       bool   `yaml:"tls"`
	Keepalive int    `yaml:"keepalive"`
}

// SessionConfig contains broker session behaviour settings.
type SessionConfig struct {
	QoS       int             `yaml:"qos"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains reconnection backoff settings.
// Delays are in seconds. MaxCycles bounds the number of consecutive
// at-cap failures before the session escalates to the process supervisor.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxCycles    int `yaml:"max_cycles"`
}

// HomeAssistantConfig contains Home Assistant REST API settings.
type HomeAssistantConfig struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Timeout int    `yaml:"timeout"`
}

// BridgeConfig contains bridge cycle intervals (seconds).
type BridgeConfig struct {
	ReportInterval         int `yaml:"report_interval"`
	DiscoveryRetryInterval int `yaml:"discovery_retry_interval"`
	ConfigReloadInterval   int `yaml:"config_reload_interval"`
}

// NTPConfig contains clock synchronisation settings.
type NTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Server   string `yaml:"server"`
	Interval int    `yaml:"interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DeviceConfig describes one bridged sub-device.
type DeviceConfig struct {
	// ID is the stable local identifier, used as the cache and map key.
	ID string `yaml:"id"`

	// ProductKey and DeviceName address the device on the broker side.
	ProductKey string `yaml:"product_key"`
	DeviceName string `yaml:"device_name"`

	// DeviceSecret is unused while the device is multiplexed through the
	// gateway session, but kept so a device can be moved to its own
	// connection without a config rewrite.
	DeviceSecret string `yaml:"device_secret,omitempty"`

	// EntityPrefix selects Home Assistant entities belonging to this device.
	// Defaults to ID.
	EntityPrefix string `yaml:"entity_prefix"`

	// Enabled devices participate in discovery and reporting.
	Enabled bool `yaml:"enabled"`

	// Properties restricts which mapped properties are accepted.
	// Empty means the default smart-socket property set.
	Properties []string `yaml:"properties"`
}

// defaultProperties is the property set assumed for devices that do not
// declare one. It matches the six-outlet smart socket this bridge was
// originally built for.
var defaultProperties = []string{
	"all_switch",
	"jack_1", "jack_2", "jack_3", "jack_4", "jack_5", "jack_6",
	"default_power_on_state",
	"electric_power",
	"electric_current",
	"voltage",
	"power_consumption",
}

// DefaultProperties returns a copy of the default device property set.
func DefaultProperties() []string {
	out := make([]string, len(defaultProperties))
	copy(out, defaultProperties)
	return out
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HA163_SECTION_KEY
// For example: HA163_GATEWAY_DEVICE_SECRET, HA163_HA_TOKEN
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.normalizeDevices()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:      "device.iot.163.com",
			Port:      1883,
			Keepalive: 60,
		},
		Session: SessionConfig{
			QoS: 1,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxCycles:    5,
			},
		},
		HomeAssistant: HomeAssistantConfig{
			URL:     "http://127.0.0.1:8123",
			Timeout: 10,
		},
		Bridge: BridgeConfig{
			ReportInterval:         60,
			DiscoveryRetryInterval: 300,
			ConfigReloadInterval:   30,
		},
		NTP: NTPConfig{
			Enabled:  true,
			Server:   "ntp.n.netease.com",
			Interval: 300,
		},
		Database: DatabaseConfig{
			Path:        "./data/ha163.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HA163_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("HA163_GATEWAY_PRODUCT_KEY"); v != "" {
		cfg.Gateway.ProductKey = v
	}
	if v := os.Getenv("HA163_GATEWAY_DEVICE_NAME"); v != "" {
		cfg.Gateway.DeviceName = v
	}
	if v := os.Getenv("HA163_GATEWAY_DEVICE_SECRET"); v != "" {
		cfg.Gateway.DeviceSecret = v
	}

	// Broker
	if v := os.Getenv("HA163_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("HA163_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = port
		}
	}

	// Home Assistant
	if v := os.Getenv("HA163_HA_URL"); v != "" {
		cfg.HomeAssistant.URL = v
	}
	if v := os.Getenv("HA163_HA_TOKEN"); v != "" {
		cfg.HomeAssistant.Token = v
	}

	// Database
	if v := os.Getenv("HA163_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Logging
	if v := os.Getenv("HA163_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// normalizeDevices fills per-device defaults that cannot be expressed in
// defaultConfig because devices arrive as a list.
func (c *Config) normalizeDevices() {
	for i := range c.Devices {
		if c.Devices[i].EntityPrefix == "" {
			c.Devices[i].EntityPrefix = c.Devices[i].ID
		}
		if len(c.Devices[i].Properties) == 0 {
			c.Devices[i].Properties = DefaultProperties()
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation. The session cannot derive credentials without a
	// secret, so catch it here rather than at first connect.
	if c.Gateway.ProductKey == "" {
		errs = append(errs, "gateway.product_key is required")
	}
	if c.Gateway.DeviceName == "" {
		errs = append(errs, "gateway.device_name is required")
	}
	if c.Gateway.DeviceSecret == "" {
		errs = append(errs, "gateway.device_secret is required (set HA163_GATEWAY_DEVICE_SECRET environment variable)")
	}

	// Broker validation
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}

	// Session validation
	if c.Session.QoS < 0 || c.Session.QoS > 2 {
		errs = append(errs, "session.qos must be 0, 1, or 2")
	}
	if c.Session.Reconnect.InitialDelay < 1 {
		errs = append(errs, "session.reconnect.initial_delay must be at least 1")
	}
	if c.Session.Reconnect.MaxDelay < c.Session.Reconnect.InitialDelay {
		errs = append(errs, "session.reconnect.max_delay must be >= initial_delay")
	}

	// Home Assistant validation
	if c.HomeAssistant.URL == "" {
		errs = append(errs, "homeassistant.url is required")
	}

	// Bridge validation
	if c.Bridge.ReportInterval < 1 {
		errs = append(errs, "bridge.report_interval must be at least 1")
	}
	if c.Bridge.DiscoveryRetryInterval < 1 {
		errs = append(errs, "bridge.discovery_retry_interval must be at least 1")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Device validation
	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true
		if d.ProductKey == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].product_key is required", i))
		}
		if d.DeviceName == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].device_name is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// EnabledDevices returns the devices that participate in bridging.
func (c *Config) EnabledDevices() []DeviceConfig {
	var out []DeviceConfig
	for _, d := range c.Devices {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// DevicesHash returns a content hash of the device list.
// The reload cycle compares hashes to detect device changes without
// diffing structures field by field.
func (c *Config) DevicesHash() string {
	h := sha256.New()
	for _, d := range c.Devices {
		fmt.Fprintf(h, "%s|%s|%s|%s|%s|%t|%s\n",
			d.ID, d.ProductKey, d.DeviceName, d.DeviceSecret,
			d.EntityPrefix, d.Enabled, strings.Join(d.Properties, ","),
		)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetTimeout returns the Home Assistant request timeout as a Duration.
func (h HomeAssistantConfig) GetTimeout() time.Duration {
	return time.Duration(h.Timeout) * time.Second
}

// GetReportInterval returns the state push interval as a Duration.
func (c *Config) GetReportInterval() time.Duration {
	return time.Duration(c.Bridge.ReportInterval) * time.Second
}

// GetDiscoveryRetryInterval returns the failed-device retry interval as a Duration.
func (c *Config) GetDiscoveryRetryInterval() time.Duration {
	return time.Duration(c.Bridge.DiscoveryRetryInterval) * time.Second
}

// GetConfigReloadInterval returns the config reload interval as a Duration.
func (c *Config) GetConfigReloadInterval() time.Duration {
	return time.Duration(c.Bridge.ConfigReloadInterval) * time.Second
}

// GetInterval returns the clock sync interval as a Duration.
func (n NTPConfig) GetInterval() time.Duration {
	return time.Duration(n.Interval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (a APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (a APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (a APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
