package telemetry

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jotalabs/infergate/internal/logx"
)

// HostSampler combines gopsutil host stats with an optional GPU source.
type HostSampler struct {
	gpu GPUSource
}

func NewHostSampler(gpu GPUSource) *HostSampler {
	return &HostSampler{gpu: gpu}
}

func (h *HostSampler) Sample() Snapshot {
	var snap Snapshot
	if h.gpu != nil {
		snap.GPU = h.gpu.GPU()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.Host.MemUsedMB = vm.Used / (1024 * 1024)
		snap.Host.MemTotalMB = vm.Total / (1024 * 1024)
	} else {
		logx.Log.Debug().Err(err).Msg("memory sample failed")
	}
	// Non-blocking percentage since the previous call; the first sample
	// reports 0.
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.Host.CPUPercent = pct[0]
	} else if err != nil {
		logx.Log.Debug().Err(err).Msg("cpu sample failed")
	}
	return snap
}
