package hwmon

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

// sampleTreeJSON is a trimmed LibreHardwareMonitor data.json document.
const sampleTreeJSON = `{
  "id": 0, "Text": "Sensor", "Min": "Min", "Value": "Value", "Max": "Max", "ImageURL": "",
  "Children": [
    {
      "id": 1, "Text": "DESKTOP-1", "Min": "", "Value": "", "Max": "", "ImageURL": "images_icon/computer.png",
      "Children": [
        {
          "id": 2, "Text": "Intel Core i7-8700K", "Min": "", "Value": "", "Max": "", "ImageURL": "images_icon/cpu.png",
          "Children": [
            {
              "id": 3, "Text": "Temperatures", "Min": "", "Value": "", "Max": "",
              "Children": [
                {"id": 4, "Text": "CPU Package", "Min": "30.0 °C", "Value": "45.0 °C", "Max": "90.0 °C",
                 "SensorId": "/intelcpu/0/temperature/0", "Type": "Temperature", "Children": []}
              ]
            },
            {
              "id": 5, "Text": "Load", "Min": "", "Value": "", "Max": "",
              "Children": [
                {"id": 6, "Text": "CPU Total", "Min": "0.0 %", "Value": "12.5 %", "Max": "100.0 %",
                 "SensorId": "/intelcpu/0/load/0", "Type": "Load", "Children": []}
              ]
            }
          ]
        },
        {
          "id": 7, "Text": "NVIDIA GeForce RTX 3080", "Min": "", "Value": "", "Max": "",
          "Children": [
            {
              "id": 8, "Text": "Fans", "Min": "", "Value": "", "Max": "",
              "Children": [
                {"id": 9, "Text": "GPU Fan", "Min": "0 RPM", "Value": "1200 RPM", "Max": "3000 RPM",
                 "SensorId": "/gpu-nvidia/0/fan/0", "Type": "Fan", "Children": []}
              ]
            },
            {
              "id": 10, "Text": "Temperatures", "Min": "", "Value": "", "Max": "",
              "Children": [
                {"id": 11, "Text": "GPU Core", "Min": "", "Value": "", "Max": "", "Type": "Temperature", "Children": []}
              ]
            }
          ]
        }
      ]
    }
  ]
}`

const (
	cpuDeviceID = "desktop-1-intel-core-i7-8700k"
	gpuDeviceID = "desktop-1-nvidia-geforce-rtx-3080"
)

func sampleTree(t *testing.T) *SensorTreeNode {
	t.Helper()
	root, err := DecodeTree([]byte(sampleTreeJSON))
	if err != nil {
		t.Fatalf("DecodeTree() error = %v", err)
	}
	return root
}

type notification struct {
	kind     string // "added", "removed", "changed"
	deviceID string
	property string
	value    any
}

// recordingNotifier records every notification in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (r *recordingNotifier) DeviceAdded(info DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, notification{kind: "added", deviceID: info.ID})
}

func (r *recordingNotifier) DeviceRemoved(info DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, notification{kind: "removed", deviceID: info.ID})
}

func (r *recordingNotifier) PropertyChanged(change PropertyChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, notification{
		kind:     "changed",
		deviceID: change.DeviceID,
		property: change.Property.Name,
		value:    change.Property.Value,
	})
}

func (r *recordingNotifier) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingNotifier) count(kind string) int {
	n := 0
	for _, e := range r.all() {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger keeps every log call for later assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

// find returns the entries logged with msg.
func (l *recordingLogger) find(msg string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// stubFetcher returns a fixed tree or error.
type stubFetcher struct {
	mu      sync.Mutex
	tree    *SensorTreeNode
	err     error
	calls   atomic.Int32
	block   chan struct{} // when non-nil, FetchTree waits on it or ctx
	started chan struct{} // when non-nil, signalled on each call
}

func (s *stubFetcher) FetchTree(ctx context.Context) (*SensorTreeNode, error) {
	s.calls.Add(1)
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree, s.err
}

func (s *stubFetcher) setTree(tree *SensorTreeNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = tree
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(_ uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers a message to the handler subscribed with
// pattern, passing topic as the concrete topic.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

func ptr(f float64) *float64 { return &f }

// numberDevice builds a description with one ranged number property.
func numberDevice(id string) DeviceDescription {
	return DeviceDescription{
		ID:   id,
		Name: "Fan controller",
		Properties: []PropertyDescription{
			{Name: "duty", Type: TypeNumber, Value: 50.0, Unit: "%", Minimum: ptr(0), Maximum: ptr(100)},
			{Name: "label", Type: TypeString, Value: "front"},
			{Name: "enabled", Type: TypeBoolean, Value: true},
		},
	}
}
