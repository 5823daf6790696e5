package broker

import "errors"

var (
	// ErrNoAddress is returned when Start is called without a listen address.
	ErrNoAddress = errors.New("broker: listen address is required")

	// ErrStartFailed is returned when the broker cannot be started.
	ErrStartFailed = errors.New("broker: start failed")
)
