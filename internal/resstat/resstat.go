// Package resstat samples per-process CPU and memory usage for status
// reporting (SPEC_FULL.md [DOMAIN]: "Per-instance resource usage (CPU/RSS)
// sampling for status reporting"). It is a thin, best-effort wrapper over
// gopsutil: a sample failure (process exited between snapshot and sample,
// permission denied, platform not supported) just yields a zero, not-ok
// result rather than an error the caller must plumb through.
package resstat

import (
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is a point-in-time resource reading for one PID.
type Sample struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Read samples CPU percent (averaged over the process's whole lifetime, since
// each call inspects pid afresh) and resident set size for pid. ok is false if
// the process could not be inspected.
func Read(pid int) (Sample, bool) {
	if pid <= 0 {
		return Sample{}, false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Sample{}, false
	}
	cpuPct, err := proc.CPUPercent()
	if err != nil {
		return Sample{}, false
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return Sample{CPUPercent: cpuPct}, true
	}
	return Sample{CPUPercent: cpuPct, RSSBytes: mem.RSS}, true
}
