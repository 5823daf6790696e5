package hwmon

import (
	"context"
	"errors"
)

// Domain errors for the hardware-monitor bridge.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, hwmon.ErrDuplicateDevice) {
//	    // device already paired
//	}
var (
	// ErrConfiguration is returned when an operation needs the monitoring
	// endpoint address but none is configured.
	ErrConfiguration = errors.New("hwmon: monitor endpoint not configured")

	// ErrDuplicateDevice is returned when adding a device whose ID is
	// already present in the registry.
	ErrDuplicateDevice = errors.New("hwmon: device already exists")

	// ErrDeviceNotFound is returned when a device ID is not in the registry,
	// or a pairing offer names a device the endpoint does not report.
	ErrDeviceNotFound = errors.New("hwmon: device not found")

	// ErrPropertyNotFound is returned when a device has no property with
	// the requested name.
	ErrPropertyNotFound = errors.New("hwmon: property not found")

	// ErrValidation is returned when a value fails the property's type or
	// range check, or a device description is unusable.
	ErrValidation = errors.New("hwmon: validation failed")

	// ErrParse is returned when a sensor tree document is structurally
	// unusable (invalid JSON, not an object).
	ErrParse = errors.New("hwmon: sensor tree unparseable")

	// ErrFetch is returned when the monitoring endpoint cannot be read.
	ErrFetch = errors.New("hwmon: fetching sensor tree failed")

	// ErrNoOffer is returned by RemoveThing when no unpairing offer is
	// staged for the device.
	ErrNoOffer = errors.New("hwmon: no offer staged")
)

// Wire error codes carried in acks and responses.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDuplicateDevice   = "DUPLICATE_DEVICE"
	ErrCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeParseError        = "PARSE_ERROR"
	ErrCodeFetchError        = "FETCH_ERROR"
	ErrCodeNoOffer           = "NO_OFFER"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// errorCodes is checked in order; the first match wins.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrDuplicateDevice, ErrCodeDuplicateDevice},
	{ErrDeviceNotFound, ErrCodeDeviceNotFound},
	{ErrPropertyNotFound, ErrCodeDeviceNotFound},
	{ErrValidation, ErrCodeInvalidParameters},
	{ErrConfiguration, ErrCodeNotConfigured},
	{ErrParse, ErrCodeParseError},
	{ErrFetch, ErrCodeFetchError},
	{ErrNoOffer, ErrCodeNoOffer},
	{context.DeadlineExceeded, ErrCodeTimeout},
}

// ErrorCode maps err onto a wire code, falling back to BRIDGE_ERROR.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return ErrCodeBridgeError
}
