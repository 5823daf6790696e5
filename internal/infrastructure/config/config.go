package config

import "time"

// Config is the bridge's full configuration. Load fills it from
// defaults, then a YAML file, then HWMON_* environment variables.
type Config struct {
	Adapter   AdapterConfig   `yaml:"adapter"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

type AdapterConfig struct {
	// Name is shown to users; the hwmon adapter reports it as its own.
	Name string `yaml:"name"`

	// BridgeID namespaces health and LWT topics.
	BridgeID string `yaml:"bridge_id"`
}

// MonitorConfig points at the remote hardware monitor.
type MonitorConfig struct {
	// URL of the sensor tree JSON, e.g. http://host:8085/data.json.
	// Empty is legal: discovery then fails with a not-configured error.
	URL string `yaml:"url"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DeviceDepth is how many labelled tree levels below the root make up
	// a device. 2 yields devices like "host-cpu".
	DeviceDepth int `yaml:"device_depth"`

	// PairingTimeout applies when start_pairing omits one.
	PairingTimeout time.Duration `yaml:"pairing_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

type DatabaseConfig struct {
	Path    string `yaml:"path"`
	WALMode bool   `yaml:"wal_mode"`

	// BusyTimeout is in seconds.
	BusyTimeout int `yaml:"busy_timeout"`

	// HistoryRetention bounds reading history; zero disables pruning.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

type MQTTConfig struct {
	Broker    MQTTBrokerConfig     `yaml:"broker"`
	Auth      MQTTAuthConfig       `yaml:"auth"`
	QoS       int                  `yaml:"qos"`
	Reconnect MQTTReconnectConfig  `yaml:"reconnect"`
	Embedded  EmbeddedBrokerConfig `yaml:"embedded"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig holds backoff bounds in whole seconds. Paho retries
// forever; there is no attempt limit.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// EmbeddedBrokerConfig runs a broker inside the bridge process, for
// single-box installs with no external broker.
type EmbeddedBrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

func (t APITimeoutConfig) ReadTimeout() time.Duration  { return seconds(t.Read) }
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }
func (t APITimeoutConfig) IdleTimeout() time.Duration  { return seconds(t.Idle) }

type CORSConfig struct {
	// AllowedOrigins lists origins (or "*"). Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig sizes and times the event stream. Intervals are seconds.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig enables export of numeric readings. FlushInterval is in
// seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

type JWTConfig struct {
	// Secret verifies bearer tokens. Empty leaves the API open.
	Secret string `yaml:"secret"`

	// AccessTokenTTL is the lifetime, in minutes, of tokens minted by
	// the token subcommand.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
