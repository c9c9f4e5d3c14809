package observ

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatus is a host and process snapshot for status surfaces
type SystemStatus struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	Load1         float64 `json:"load_1"`
	Goroutines    int     `json:"goroutines"`
	HeapMB        float64 `json:"heap_mb"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Version       string  `json:"version"`
}

// System samples CPU over 100ms; host readings that fail are left at zero
func System() SystemStatus {
	s := SystemStatus{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(Uptime().Seconds()),
		Version:       Version(),
	}

	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else if err != nil {
		l := Component("system")
		l.Debug().Err(err).Msg("cpu sample failed")
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
		s.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
	}
	if avg, err := load.Avg(); err == nil {
		s.Load1 = avg.Load1
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.HeapMB = float64(ms.HeapAlloc) / 1024 / 1024
	return s
}
