package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// minJWTSecretLength is the shortest HMAC secret accepted.
const minJWTSecretLength = 32

// Validate reports every problem at once, each prefixed by the YAML
// path of the offending key.
func (c *Config) Validate() error {
	var errs []error
	fail := func(key, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: "+format, append([]any{key}, args...)...))
	}

	if c.Adapter.BridgeID == "" {
		fail("adapter.bridge_id", "required")
	}

	m := c.Monitor
	if m.URL != "" && !isHTTPURL(m.URL) {
		fail("monitor.url", "%q is not an http(s) URL with a host", m.URL)
	}
	if m.PollInterval < time.Second {
		fail("monitor.poll_interval", "must be at least 1s, got %v", m.PollInterval)
	}
	if m.RequestTimeout <= 0 {
		fail("monitor.request_timeout", "must be positive")
	}
	if m.DeviceDepth < 1 {
		fail("monitor.device_depth", "must be at least 1, got %d", m.DeviceDepth)
	}

	if c.Database.Path == "" {
		fail("database.path", "required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		fail("mqtt.qos", "must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Embedded.Enabled && c.MQTT.Embedded.Address == "" {
		fail("mqtt.embedded.address", "required when the embedded broker is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		fail("api.port", "must be in 1..65535, got %d", c.API.Port)
	}

	if i := c.InfluxDB; i.Enabled && (i.URL == "" || i.Bucket == "") {
		fail("influxdb", "url and bucket are required when enabled")
	}

	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		fail("security.jwt.secret", "must be at least %d characters", minJWTSecretLength)
	}

	return errors.Join(errs...)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
