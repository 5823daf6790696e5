// Package config loads the bridge configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// HWMON_* environment variables (HWMON_MQTT_HOST, HWMON_JWT_SECRET and
// so on). Credentials belong in the environment rather than the file.
//
// Validate collects every problem before returning, keyed by YAML path:
//
//	validating config: monitor.url: "ftp://x" is not an http(s) URL with a host
//	database.path: required
//
// monitor.url may be left empty. The bridge then starts, reports itself
// degraded and answers discovery with a not-configured error.
package config
