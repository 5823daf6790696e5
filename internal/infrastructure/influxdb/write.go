package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ReadingMeasurement is the measurement sensor readings are written to.
const ReadingMeasurement = "hwmon_readings"

// Reading is one numeric sensor value.
type Reading struct {
	DeviceID     string
	Property     string
	Unit         string
	SemanticType string
	Value        float64
	Timestamp    time.Time
}

// WriteReading queues a reading as a hwmon_readings point.
//
// Tags are device_id, property and source and, when set, unit and type;
// the field is value. The write is non-blocking and batched. A zero Timestamp means now.
func (c *Client) WriteReading(r Reading) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"device_id": r.DeviceID,
		"property":  r.Property,
	}
	if r.Unit != "" {
		tags["unit"] = r.Unit
	}
	if r.SemanticType != "" {
		tags["type"] = r.SemanticType
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c.queued.Add(1)
	c.writeAPI.WritePoint(write.NewPoint(
		ReadingMeasurement,
		tags,
		map[string]any{"value": r.Value},
		ts,
	))
}
