package helpers

import "runtime"

// MemoryStats is the process/system memory view served by the health endpoint.
type MemoryStats struct {
	ProcessAllocMB int `json:"process_alloc_mb"`
	ProcessSysMB   int `json:"process_sys_mb"`
	SystemTotalMB  int `json:"system_total_mb"`
}

// GetMemoryStats reports current process memory usage and the total physical
// memory of the host (0 when unknown).
func GetMemoryStats() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return MemoryStats{
		ProcessAllocMB: int(ms.Alloc / (1024 * 1024)),
		ProcessSysMB:   int(ms.Sys / (1024 * 1024)),
		SystemTotalMB:  GetTotalSystemMemoryMB(),
	}
}
