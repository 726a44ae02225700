package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/homely-sync/internal/notify"
	"github.com/nerrad567/homely-sync/internal/poller"
	"github.com/nerrad567/homely-sync/internal/supervisor"
)

// SystemMetrics represents the complete metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	WebSocket     WSMetrics          `json:"websocket"`
	Locations     int                `json:"locations"`
	Poll          *poller.Stats      `json:"poll,omitempty"`
	Push          *supervisor.Status `json:"push,omitempty"`
	Notify        *notify.Stats      `json:"notify,omitempty"`
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

// handleMetrics returns process, poll, push and delivery counters.
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
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Locations: len(s.store.Locations()),
	}

	if s.poller != nil {
		stats := s.poller.Stats()
		metrics.Poll = &stats
	}
	if s.push != nil {
		status := s.push.Status()
		metrics.Push = &status
	}
	if s.notifier != nil {
		stats := s.notifier.Stats()
		metrics.Notify = &stats
	}

	writeJSON(w, http.StatusOK, metrics)
}
