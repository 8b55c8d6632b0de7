package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/cynclan/cync-lan/internal/device"
)

// RuntimeStatus represents the complete runtime status response.
type RuntimeStatus struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       GoRuntime       `json:"runtime"`
	MQTT          MQTTStatus      `json:"mqtt"`
	InfluxDB      *InfluxStatus   `json:"influxdb,omitempty"`
	Sessions      SessionSummary  `json:"sessions"`
	Devices       device.Stats    `json:"devices"`
	Journal       *DatabaseStatus `json:"journal,omitempty"`
}

// GoRuntime contains Go runtime statistics.
type GoRuntime struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTStatus contains MQTT client statistics.
type MQTTStatus struct {
	Connected bool `json:"connected"`
}

// InfluxStatus contains telemetry sink statistics.
type InfluxStatus struct {
	Connected bool `json:"connected"`
}

// SessionSummary condenses the session registry for the status card.
type SessionSummary struct {
	Total   int    `json:"total"`
	Ready   int    `json:"ready"`
	Primary string `json:"primary,omitempty"`
}

// DatabaseStatus contains history journal connection pool statistics.
type DatabaseStatus struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleRuntime returns comprehensive runtime status.
func (s *Server) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := RuntimeStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: GoRuntime{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Devices: s.registry.GetStats(),
	}

	sessions := s.bridge.Sessions()
	status.Sessions = SessionSummary{
		Total: sessions.Count(),
		Ready: sessions.ReadyCount(),
	}
	if primary := sessions.Primary(); primary != nil {
		status.Sessions.Primary = primary.ID()
	}

	if s.mqtt != nil {
		status.MQTT.Connected = s.mqtt.IsConnected()
	}
	if s.influx != nil {
		status.InfluxDB = &InfluxStatus{Connected: s.influx.IsConnected()}
	}
	if s.db != nil {
		dbStats := s.db.Stats()
		status.Journal = &DatabaseStatus{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// handleRestart fires the bridge restart signal. The process exits and
// the supervisor relaunches it; 202 is all the caller ever sees.
func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info("restart requested over http")
	s.bridge.RequestRestart()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"message": "bridge restarting",
	})
}

// handleRefresh requests a mesh-info refresh through the primary session.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if err := s.bridge.Executor().RefreshMesh(); err != nil {
		writeUnavailable(w, "no session ready to carry the refresh")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"message": "mesh refresh requested",
	})
}
