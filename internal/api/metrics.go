package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Gateway       GatewayMetrics  `json:"gateway"`
	Anomalies     AnomalyMetrics  `json:"anomalies"`
	Overrides     OverrideMetrics `json:"overrides"`
	Failures      FailureMetrics  `json:"failures"`
	Database      DatabaseMetrics `json:"database"`
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
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// GatewayMetrics contains command gateway statistics.
type GatewayMetrics struct {
	Devices      int  `json:"devices"`
	APIReachable bool `json:"api_reachable"`
	QueueLength  int  `json:"queue_length"`
	QueueCap     int  `json:"queue_cap"`
	CachedStates int  `json:"cached_states"`
}

// AnomalyMetrics contains anomaly monitor statistics.
type AnomalyMetrics struct {
	Monitored  int `json:"monitored"`
	Disabled   int `json:"disabled"`
	Detections int `json:"detections"`
}

// OverrideMetrics contains override registry statistics.
type OverrideMetrics struct {
	Active int `json:"active"`
	Total  int `json:"total"`
}

// FailureMetrics contains failure reporter statistics.
type FailureMetrics struct {
	Records int `json:"records"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Build metrics response
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
	}

	if s.hub != nil {
		metrics.WebSocket = WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		}
	}

	// MQTT metrics (if available)
	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	// Gateway statistics
	queue := s.gateway.QueueStatus()
	cache := s.gateway.CacheStatus()
	apiStatus := s.gateway.APIStatus()
	metrics.Gateway = GatewayMetrics{
		Devices:      len(s.gateway.Devices()),
		APIReachable: apiStatus.Reachable,
		QueueLength:  queue.Length,
		QueueCap:     queue.Cap,
		CachedStates: cache.Entries,
	}

	// Anomaly monitor statistics
	for _, status := range s.monitor.Statuses() {
		metrics.Anomalies.Monitored++
		metrics.Anomalies.Detections += status.Detections
		if status.Disabled {
			metrics.Anomalies.Disabled++
		}
	}

	// Override registry statistics
	stats := s.overrides.Stats()
	metrics.Overrides = OverrideMetrics{
		Active: stats.Active,
		Total:  stats.Total,
	}

	// Failure reporter statistics
	metrics.Failures = FailureMetrics{
		Records: s.failures.RecordCount(),
	}

	// Database stats (if available)
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
