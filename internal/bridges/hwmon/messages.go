package hwmon

import "time"

// CommandSet is the only command the bridge executes.
const CommandSet = "set"

// CommandMessage asks the bridge to write a property. It arrives on
// CommandTopic; DeviceID may be left empty and is then taken from the
// topic.
//
//	{"id":"c1","command":"set","parameters":{"property":"duty","value":45}}
type CommandMessage struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	DeviceID   string         `json:"device_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source"`
}

type AckStatus string

const (
	// AckAccepted means the value passed validation and was cached.
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage answers exactly one CommandMessage on AckTopic. Value is the
// coerced value actually stored.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Value     any       `json:"value,omitempty"`
	Error     *AckError `json:"error,omitempty"`
}

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage is the retained value of one property, published on
// StateTopic whenever it changes.
type StateMessage struct {
	DeviceID  string            `json:"device_id"`
	Timestamp time.Time         `json:"timestamp"`
	State     map[string]any    `json:"state"`
	Units     map[string]string `json:"units,omitempty"`
	Protocol  string            `json:"protocol"`
}

type DiscoveryEvent string

const (
	EventDeviceAdded   DiscoveryEvent = "added"
	EventDeviceRemoved DiscoveryEvent = "removed"
)

// DiscoveryMessage announces a registry change on DiscoveryTopic.
type DiscoveryMessage struct {
	Timestamp time.Time      `json:"timestamp"`
	Bridge    string         `json:"bridge"`
	Event     DiscoveryEvent `json:"event"`
	Device    DeviceInfo     `json:"device"`
}

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"

	// HealthOffline only ever comes from the broker, via the Last Will.
	HealthOffline HealthStatus = "offline"
)

// HealthMessage is retained on HealthTopic.
type HealthMessage struct {
	Bridge         string          `json:"bridge"`
	Timestamp      time.Time       `json:"timestamp"`
	Status         HealthStatus    `json:"status"`
	Version        string          `json:"version"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
	Endpoint       string          `json:"endpoint,omitempty"`
	DevicesManaged int             `json:"devices_managed"`
	Statistics     *DiscoveryStats `json:"statistics,omitempty"`
	Pairing        *PairingStatus  `json:"pairing,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// Request actions.
const (
	ActionDiscover      = "discover"
	ActionPair          = "pair"
	ActionStartPairing  = "start_pairing"
	ActionCancelPairing = "cancel_pairing"
	ActionUnpair        = "unpair"
	ActionRemove        = "remove"
	ActionCancelRemove  = "cancel_remove"
	ActionList          = "list"
	ActionClear         = "clear"
)

// RequestMessage drives discovery and the pairing lifecycle. Each request
// gets one ResponseMessage on ResponseTopic(RequestID).
type RequestMessage struct {
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	DeviceID   string         `json:"device_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newAck(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckMessage accepts cmd, echoing the stored value.
func NewAckMessage(cmd CommandMessage, value any) AckMessage {
	ack := newAck(cmd, AckAccepted)
	ack.Value = value
	return ack
}

func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := newAck(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage converts a property change into its state payload.
// Units is omitted for unitless properties.
func NewStateMessage(change PropertyChange) StateMessage {
	p := change.Property
	msg := StateMessage{
		DeviceID:  change.DeviceID,
		Timestamp: change.Timestamp,
		State:     map[string]any{p.Name: p.Value},
		Protocol:  Protocol,
	}
	if p.Unit != "" {
		msg.Units = map[string]string{p.Name: p.Unit}
	}
	return msg
}

func NewResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{RequestID: req.RequestID, Timestamp: time.Now().UTC(), Success: true, Data: data}
}

func NewErrorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// NewLWTMessage is the payload the broker publishes if the bridge drops
// off without a clean disconnect.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
