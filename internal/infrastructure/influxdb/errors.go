package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: telemetry export disabled")

	// ErrConnectionFailed means the server did not answer the startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close or when the
	// server stops answering.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps errors reported by the batching write API.
	// They arrive asynchronously through the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: batch write failed")
)
