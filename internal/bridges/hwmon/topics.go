package hwmon

import "strings"

// Topic layout: graylogic/{kind}/hwmon[/{id}].
const (
	TopicPrefix = "graylogic"

	// Protocol is the protocol segment of every topic and the protocol
	// field of acks and state messages.
	Protocol = "hwmon"
)

func topic(kind string, rest ...string) string {
	return strings.Join(append([]string{TopicPrefix, kind, Protocol}, rest...), "/")
}

// CommandTopic carries set commands for one device.
func CommandTopic(deviceID string) string { return topic("command", EncodeTopicSegment(deviceID)) }

func AckTopic(deviceID string) string { return topic("ack", EncodeTopicSegment(deviceID)) }

// StateTopic carries retained property values for one device.
func StateTopic(deviceID string) string { return topic("state", EncodeTopicSegment(deviceID)) }

func HealthTopic() string    { return topic("health") }
func DiscoveryTopic() string { return topic("discovery") }

// RequestTopic and ResponseTopic pair up on the caller's request ID,
// which is used verbatim.
func RequestTopic(requestID string) string  { return topic("request", requestID) }
func ResponseTopic(requestID string) string { return topic("response", requestID) }

func CommandSubscribeTopic() string { return topic("command", "#") }
func RequestSubscribeTopic() string { return topic("request", "#") }

var (
	segmentEncoder = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")
	segmentDecoder = strings.NewReplacer("%2F", "/", "%2B", "+", "%23", "#", "%25", "%")
)

// EncodeTopicSegment percent-escapes '/', '+', '#' and '%' so a device ID
// occupies exactly one topic level ("cpu/0" becomes "cpu%2F0").
func EncodeTopicSegment(s string) string { return segmentEncoder.Replace(s) }

// DecodeTopicSegment reverses EncodeTopicSegment.
func DecodeTopicSegment(s string) string { return segmentDecoder.Replace(s) }
