package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse view of the process, reported with the queue status.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	HeapBytes   uint64  `json:"heap_bytes"`
	Goroutines  int     `json:"goroutines"`
	SampledOver string  `json:"sampled_over,omitempty"`
}

const (
	metricCPUSeconds = "/cpu/classes/total:cpu-seconds"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
	metricGoroutines = "/sched/goroutines:goroutines"
)

// resourceSampler reads runtime/metrics; CPU usage is the delta since the
// previous sample, so the first sample reports zero.
type resourceSampler struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceSampler() *resourceSampler {
	return &resourceSampler{
		samples: []metrics.Sample{
			{Name: metricCPUSeconds},
			{Name: metricHeapBytes},
			{Name: metricGoroutines},
		},
		numCPU: float64(runtime.NumCPU()),
	}
}

func (r *resourceSampler) Sample() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	now := time.Now()
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}

	for _, s := range r.samples {
		switch s.Name {
		case metricCPUSeconds:
			if s.Value.Kind() != metrics.KindFloat64 {
				continue
			}
			cpu := s.Value.Float64()
			if !r.lastSample.IsZero() {
				wall := now.Sub(r.lastSample)
				if wall > 0 && r.numCPU > 0 {
					usage.CPUPercent = (cpu - r.lastCPUSeconds) / wall.Seconds() / r.numCPU * 100
					usage.SampledOver = wall.Round(time.Millisecond).String()
				}
			}
			r.lastCPUSeconds = cpu
		case metricHeapBytes:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.HeapBytes = s.Value.Uint64()
			}
		case metricGoroutines:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.Goroutines = int(s.Value.Uint64())
			}
		}
	}
	r.lastSample = now
	return usage
}
