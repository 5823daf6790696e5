package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-hwmon/internal/bridges/hwmon"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/mqtt"
)

// SystemMetrics is the /metrics response.
type SystemMetrics struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	WebSocket     WSMetrics            `json:"websocket"`
	Devices       DeviceMetrics        `json:"devices"`
	Discovery     hwmon.DiscoveryStats `json:"discovery"`
	Pairing       hwmon.PairingStatus  `json:"pairing"`
	Database      *DatabaseMetrics     `json:"database,omitempty"`
	MQTT          *mqtt.Stats          `json:"mqtt,omitempty"`
	Telemetry     *influxdb.Stats      `json:"telemetry,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// DeviceMetrics summarises the device registry.
type DeviceMetrics struct {
	Total      int            `json:"total"`
	Properties int            `json:"properties"`
	ByType     map[string]int `json:"by_type"`
}

// DatabaseMetrics contains connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, registry and discovery statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount(), DroppedEvents: s.hub.Dropped()},
		Devices:   DeviceMetrics{ByType: make(map[string]int)},
		Discovery: s.adapter.Stats(),
		Pairing:   s.adapter.PairingStatus(),
	}

	for _, d := range s.adapter.Devices() {
		metrics.Devices.Total++
		metrics.Devices.Properties += len(d.Properties())
		metrics.Devices.ByType[d.Type()]++
	}

	if s.db != nil {
		st := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	if s.mqtt != nil {
		st := s.mqtt.Stats()
		metrics.MQTT = &st
	}
	if s.telemetry != nil {
		st := s.telemetry.Stats()
		metrics.Telemetry = &st
	}

	writeJSON(w, http.StatusOK, metrics)
}
