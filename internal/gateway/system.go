package gateway

import (
	"context"
	"encoding/json"
	"log"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemChannel carries host and process metrics to dashboard clients.
const SystemChannel = "sys:metrics"

// SystemMetrics is a point-in-time view of the host and the process.
type SystemMetrics struct {
	CPULoad1    float64 `json:"cpu_load_1"`
	CPULoad5    float64 `json:"cpu_load_5"`
	CPULoad15   float64 `json:"cpu_load_15"`
	CPUPercent  float64 `json:"cpu_percent"`
	CPUCores    int     `json:"cpu_cores"`
	MemUsedMB   float64 `json:"mem_used_mb"`
	MemTotalMB  float64 `json:"mem_total_mb"`
	MemPercent  float64 `json:"mem_percent"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	Goroutines  int     `json:"goroutines"`
	WSClients   int     `json:"ws_clients"`
	UptimeSec   int64   `json:"uptime_sec"`
	TS          string  `json:"ts"`
}

// CollectSystem samples host and runtime metrics. Host values the platform
// cannot provide stay zero. CPU percent is measured since the previous call.
func CollectSystem(ctx context.Context, start time.Time) SystemMetrics {
	m := SystemMetrics{
		CPUCores:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(time.Since(start).Seconds()),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		m.CPULoad1, m.CPULoad5, m.CPULoad15 = avg.Load1, avg.Load5, avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemTotalMB = float64(vm.Total) / 1024 / 1024
		m.MemUsedMB = float64(vm.Used) / 1024 / 1024
		m.MemPercent = vm.UsedPercent
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	m.SysMB = float64(ms.Sys) / 1024 / 1024
	m.GCRuns = ms.NumGC
	return m
}

// RunSystemBroadcast publishes CollectSystem on SystemChannel every interval
// until ctx is cancelled.
func (h *Hub) RunSystemBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := CollectSystem(ctx, start)
			m.WSClients = h.ClientCount()
			b, err := json.Marshal(m)
			if err != nil {
				log.Printf("[gateway] marshal system metrics: %v", err)
				continue
			}
			h.Broadcast(SystemChannel, b)
		}
	}
}
