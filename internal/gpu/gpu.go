// Package gpu classifies accelerator memory pressure into safety bands for
// the model tier policy. Samples are taken fresh on every call — the
// monitor is a snapshot provider, never a cache, so band decisions cannot
// go stale.
package gpu

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Band buckets accelerator memory utilisation.
type Band int

const (
	// BandSafe is utilisation below 70%.
	BandSafe Band = iota
	// BandWarning is utilisation from 70% up to 85%.
	BandWarning
	// BandDanger is utilisation from 85% up to 95%.
	BandDanger
	// BandCritical is utilisation at or above 95%.
	BandCritical
)

// Band boundaries in percent.
const (
	warningPercent  = 70
	dangerPercent   = 85
	criticalPercent = 95
)

// String returns the band name used in events and logs.
func (b Band) String() string {
	switch b {
	case BandSafe:
		return "safe"
	case BandWarning:
		return "warning"
	case BandDanger:
		return "danger"
	case BandCritical:
		return "critical"
	default:
		return fmt.Sprintf("band(%d)", int(b))
	}
}

// Sample is a point-in-time accelerator memory snapshot.
type Sample struct {
	UsedBytes  uint64
	TotalBytes uint64
}

// UsedPercent returns utilisation in [0, 100]. A zero-capacity sample
// (no accelerator) reads as 0.
func (s Sample) UsedPercent() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.TotalBytes) * 100
}

// Band classifies the sample.
func (s Sample) Band() Band {
	switch p := s.UsedPercent(); {
	case p >= criticalPercent:
		return BandCritical
	case p >= dangerPercent:
		return BandDanger
	case p >= warningPercent:
		return BandWarning
	default:
		return BandSafe
	}
}

// Sampler takes accelerator memory snapshots. Implementations must be safe
// for concurrent use; any number of callers may poll.
type Sampler interface {
	Sample() (Sample, error)
}

// NVMLSampler reads GPU memory through NVML. The zero value is unusable;
// create one with NewNVMLSampler.
type NVMLSampler struct {
	device nvml.Device
}

var _ Sampler = (*NVMLSampler)(nil)

// NewNVMLSampler initializes NVML and binds to the GPU at index. It fails
// cleanly on machines without an NVIDIA driver; callers treat that as
// "no accelerator" and select a CPU tier.
func NewNVMLSampler(index int) (*NVMLSampler, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("gpu: nvml init: %s", nvml.ErrorString(ret))
	}
	device, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return nil, fmt.Errorf("gpu: device %d: %s", index, nvml.ErrorString(ret))
	}
	return &NVMLSampler{device: device}, nil
}

// Sample reads current memory usage.
func (n *NVMLSampler) Sample() (Sample, error) {
	mem, ret := n.device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return Sample{}, fmt.Errorf("gpu: memory info: %s", nvml.ErrorString(ret))
	}
	return Sample{UsedBytes: mem.Used, TotalBytes: mem.Total}, nil
}

// Close shuts NVML down.
func (n *NVMLSampler) Close() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("gpu: nvml shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}

// StaticSampler returns a fixed sample. Intended for tests and for
// CPU-only deployments where no accelerator exists.
type StaticSampler struct {
	S   Sample
	Err error
}

var _ Sampler = (*StaticSampler)(nil)

// Sample returns the fixed sample.
func (s *StaticSampler) Sample() (Sample, error) { return s.S, s.Err }
