package mqtt

import "errors"

// Errors returned by Client. Match them with errors.Is; most are wrapped
// with the topic or broker address.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: not connected to broker")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects anything outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: qos out of range")

	// ErrInvalidTopic covers empty topics, wildcards in publish topics and
	// misplaced '+' or '#' in subscription filters.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
