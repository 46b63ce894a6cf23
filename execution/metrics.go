package execution

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics is a point-in-time snapshot of orchestrator load and
// host memory, served on the status endpoint.
type SystemMetrics struct {
	Running       int     `json:"running"`
	Queued        int     `json:"queued"`
	Ceiling       int     `json:"ceiling"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// SystemMetrics returns current queue load and host memory usage.
// Memory stats are best effort: a probe failure leaves them zero rather
// than failing the snapshot.
func (s *Scheduler) SystemMetrics() SystemMetrics {
	metrics := SystemMetrics{
		Running: s.queue.RunningCount(),
		Queued:  s.queue.QueuedCount(),
		Ceiling: s.queue.Ceiling(),
	}

	if v, err := mem.VirtualMemory(); err == nil && v.Total > 0 {
		metrics.MemoryTotalGB = float64(v.Total) / 1024 / 1024 / 1024
		metrics.MemoryUsedGB = float64(v.Total-v.Available) / 1024 / 1024 / 1024
		metrics.MemoryPercent = metrics.MemoryUsedGB / metrics.MemoryTotalGB * 100
	}

	return metrics
}
