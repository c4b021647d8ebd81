package supervisor

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats is process/host resource usage folded into the status view
// and GET /health (spec's supplemented "system status" feature).
type SystemStats struct {
	CPUPercent float64
	RAMPercent float64
}

// SystemStats samples current CPU and memory usage. The CPU sample takes
// 100ms (short enough not to stall a status request) rather than the 1s
// gopsutil default.
func (s *Supervisor) SystemStats() SystemStats {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		return SystemStats{CPUPercent: cpuPercent[0]}
	}

	return SystemStats{CPUPercent: cpuPercent[0], RAMPercent: memStat.UsedPercent}
}
