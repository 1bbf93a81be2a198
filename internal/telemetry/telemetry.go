// Package telemetry samples host and device stats for the periodic metrics
// push. Snapshots are pass-through data; the gateway does not interpret
// them.
package telemetry

// GPUStats is the device stats block. Sourced from an external collector;
// zero-valued when no device collector is wired.
type GPUStats struct {
	Temp        float64 `json:"temp"`
	VRAMTotalMB uint64  `json:"vram_total_mb"`
	VRAMUsedMB  uint64  `json:"vram_used_mb"`
	VRAMFreeMB  uint64  `json:"vram_free_mb"`
	PowerWatts  float64 `json:"power_watts"`
	FanPercent  float64 `json:"fan_percent"`
	Throttling  bool    `json:"throttling"`
}

// HostStats is sampled from the gateway host itself.
type HostStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemUsedMB  uint64  `json:"mem_used_mb"`
	MemTotalMB uint64  `json:"mem_total_mb"`
}

// Snapshot is one telemetry sample.
type Snapshot struct {
	GPU  GPUStats  `json:"gpu"`
	Host HostStats `json:"host"`
}

// Sampler produces telemetry snapshots on demand.
type Sampler interface {
	Sample() Snapshot
}

// GPUSource supplies the device block of a snapshot.
type GPUSource interface {
	GPU() GPUStats
}

// StaticGPU reports fixed device stats, deriving the throttle flag from the
// configured safe temperature. It stands in where no NVML-style collector
// is available.
type StaticGPU struct {
	Stats       GPUStats
	MaxTempSafe float64
}

func (s *StaticGPU) GPU() GPUStats {
	g := s.Stats
	if s.MaxTempSafe > 0 {
		g.Throttling = g.Temp >= s.MaxTempSafe
	}
	return g
}
