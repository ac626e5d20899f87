// Package metrics samples process-level runtime statistics for inclusion
// in a worker's periodic WorkerMetrics push: goroutine count and heap
// allocation sourced from runtime.NumGoroutine() and runtime.MemStats.
package metrics

import (
	"runtime"
	"time"
)

// Sample is a single point-in-time reading of process resource usage.
type Sample struct {
	Timestamp      time.Time
	CPUUsage       float64 // approximated from goroutine scheduling pressure, see note below
	MemoryMB       float64
	GoroutineCount int
	HeapAllocBytes uint64
}

// Sampler produces Samples on demand. CPU usage is approximated from Go's
// own scheduler stats rather than a true hardware counter.
type Sampler struct {
	lastSampleAt   time.Time
	lastNumGC      uint32
	lastGoroutines int

	nowFunc func() time.Time
}

// NewSampler constructs a Sampler.
func NewSampler() *Sampler {
	return &Sampler{
		lastSampleAt: time.Now(),
		nowFunc:      time.Now,
	}
}

// Sample reads current runtime statistics.
func (s *Sampler) Sample() Sample {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := s.nowFunc()
	goroutines := runtime.NumGoroutine()

	cpu := approximateCPUUsage(goroutines, s.lastGoroutines)

	s.lastSampleAt = now
	s.lastGoroutines = goroutines
	s.lastNumGC = mem.NumGC

	return Sample{
		Timestamp:      now,
		CPUUsage:       cpu,
		MemoryMB:       float64(mem.Sys) / (1024 * 1024),
		GoroutineCount: goroutines,
		HeapAllocBytes: mem.HeapAlloc,
	}
}

// approximateCPUUsage maps goroutine-count growth to a [0,1] pressure
// signal. This is a coarse proxy, not a hardware measurement; callers that
// need real CPU accounting should sample /proc or an OS-specific API.
func approximateCPUUsage(current, last int) float64 {
	if current <= 0 {
		return 0
	}

	growth := float64(current-last) / float64(current)
	if growth < 0 {
		growth = 0
	}

	usage := 0.05 + growth

	if usage > 1 {
		usage = 1
	}

	return usage
}
