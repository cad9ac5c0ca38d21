package metrics

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProcessMetrics holds collected process metrics.
type ProcessMetrics struct {
	MemoryMB int64
}

// CollectProcessMetrics gathers memory metrics for a given PID.
// Reads from the /proc filesystem, which is Linux-specific.
func CollectProcessMetrics(pid int) (*ProcessMetrics, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid PID: %d", pid)
	}

	// VmRSS is the resident set size in /proc/[pid]/status.
	statusPath := fmt.Sprintf("/proc/%d/status", pid)
	data, err := os.ReadFile(statusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read proc status: %w", err)
	}

	metrics := &ProcessMetrics{}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "VmRSS:") {
			// "VmRSS:    12345 kB"
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				kb, err := strconv.ParseInt(fields[1], 10, 64)
				if err == nil {
					metrics.MemoryMB = kb / 1024
				}
			}
			break
		}
	}

	return metrics, nil
}

// GetMemoryUsageMB returns memory usage in MB for a PID, or 0 if unreadable.
func GetMemoryUsageMB(pid int) int64 {
	metrics, err := CollectProcessMetrics(pid)
	if err != nil {
		return 0
	}
	return metrics.MemoryMB
}
