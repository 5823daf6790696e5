package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix starts every override variable, e.g. HWMON_MQTT_HOST.
const envPrefix = "HWMON_"

// Load reads the YAML file at path over the defaults, applies HWMON_*
// environment overrides and validates the result. Keys missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Adapter: AdapterConfig{Name: "Hardware Monitor", BridgeID: "hwmon-bridge-01"},
		Monitor: MonitorConfig{
			PollInterval:   10 * time.Second,
			RequestTimeout: 5 * time.Second,
			DeviceDepth:    2,
			PairingTimeout: time.Minute,
			HealthInterval: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:             "./data/hwmon.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 7 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "hwmon-bridge"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
			Embedded:  EmbeddedBrokerConfig{Address: ":1883"},
		},
		API: APIConfig{
			Enabled:  true,
			Host:     "0.0.0.0",
			Port:     8090,
			Timeouts: APITimeoutConfig{Read: 30, Write: 90, Idle: 60},
		},
		WebSocket: WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		InfluxDB:  InfluxDBConfig{BatchSize: 100, FlushInterval: 10},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Security:  SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 15}},
	}
}

// envBinding maps one HWMON_* variable onto a field.
type envBinding struct {
	name string
	set  func(string) error
}

func (c *Config) envBindings() []envBinding {
	return []envBinding{
		{"ADAPTER_NAME", str(&c.Adapter.Name)},
		{"BRIDGE_ID", str(&c.Adapter.BridgeID)},
		{"MONITOR_URL", str(&c.Monitor.URL)},
		{"MONITOR_POLL_INTERVAL", duration(&c.Monitor.PollInterval)},
		{"DATABASE_PATH", str(&c.Database.Path)},
		{"MQTT_HOST", str(&c.MQTT.Broker.Host)},
		{"MQTT_PORT", integer(&c.MQTT.Broker.Port)},
		{"MQTT_USERNAME", str(&c.MQTT.Auth.Username)},
		{"MQTT_PASSWORD", str(&c.MQTT.Auth.Password)},
		{"API_HOST", str(&c.API.Host)},
		{"API_PORT", integer(&c.API.Port)},
		{"INFLUXDB_URL", str(&c.InfluxDB.URL)},
		{"INFLUXDB_TOKEN", str(&c.InfluxDB.Token)},
		{"LOG_LEVEL", str(&c.Logging.Level)},
		{"JWT_SECRET", str(&c.Security.JWT.Secret)},
	}
}

// applyEnv overrides fields from non-empty variables found by lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, b := range c.envBindings() {
		v, ok := lookup(envPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, b.name, err)
		}
	}
	return nil
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			*dst = n
		}
		return err
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			*dst = d
		}
		return err
	}
}
