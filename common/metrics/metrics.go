package metrics

import (
	"runtime"
	"time"
)

// Capture tracks runtime cost of a single action execution. Snapshot values
// are merged into the completion trace event metadata.
type Capture struct {
	start          time.Time
	memoryStartMB  float64
	goroutineStart int
}

// Snapshot holds the finalized metrics for one execution
type Snapshot struct {
	DurationMs     int64
	MemoryStartMB  float64
	MemoryPeakMB   float64
	MemoryEndMB    float64
	GoroutineStart int
	GoroutineEnd   int
}

// Start captures runtime metrics at the beginning of execution
func Start() *Capture {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &Capture{
		start:          time.Now(),
		memoryStartMB:  float64(m.Alloc) / 1024 / 1024,
		goroutineStart: runtime.NumGoroutine(),
	}
}

// Stop completes the capture and returns the snapshot
func (c *Capture) Stop() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s := Snapshot{
		DurationMs:     time.Since(c.start).Milliseconds(),
		MemoryStartMB:  c.memoryStartMB,
		MemoryEndMB:    float64(m.Alloc) / 1024 / 1024,
		GoroutineStart: c.goroutineStart,
		GoroutineEnd:   runtime.NumGoroutine(),
	}

	// Peak is the higher of start or end; short executions are not sampled
	if s.MemoryEndMB > s.MemoryStartMB {
		s.MemoryPeakMB = s.MemoryEndMB
	} else {
		s.MemoryPeakMB = s.MemoryStartMB
	}
	return s
}

// ToMap converts the snapshot to trace event metadata keys
func (s Snapshot) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"durationMs":     s.DurationMs,
		"memoryStartMb":  s.MemoryStartMB,
		"memoryPeakMb":   s.MemoryPeakMB,
		"memoryEndMb":    s.MemoryEndMB,
		"goroutineStart": s.GoroutineStart,
		"goroutineEnd":   s.GoroutineEnd,
	}
}
