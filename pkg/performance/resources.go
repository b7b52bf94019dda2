// Package performance samples the resource usage of the running process.
package performance

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// ResourceMonitor reports CPU and memory of the current process.
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
	mu           sync.Mutex
}

// NewResourceMonitor starts measuring from now. Sampling degrades to Go
// runtime figures when the process table is unreadable.
func NewResourceMonitor() *ResourceMonitor {
	rm := &ResourceMonitor{startTime: time.Now()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return rm
	}
	rm.process = proc
	if t, err := proc.Times(); err == nil {
		rm.startCPUTime = t.Total()
	}
	return rm
}

// ResourceUsage is one sample.
type ResourceUsage struct {
	// CPUPercent is the average since the monitor started; 100 is one core
	CPUPercent     float64
	MemoryRSS      uint64
	HeapAlloc      uint64
	GoroutineCount int
	OpenFDs        int32
}

// Sample reads the current usage.
func (rm *ResourceMonitor) Sample() ResourceUsage {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage := ResourceUsage{
		HeapAlloc:      ms.HeapAlloc,
		GoroutineCount: runtime.NumGoroutine(),
	}
	if rm.process == nil {
		return usage
	}

	if t, err := rm.process.Times(); err == nil {
		if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
			usage.CPUPercent = (t.Total() - rm.startCPUTime) / elapsed * 100
		}
	}
	if mi, err := rm.process.MemoryInfo(); err == nil {
		usage.MemoryRSS = mi.RSS
	}
	usage.OpenFDs, _ = rm.process.NumFDs()
	return usage
}

// Fields renders u for a log line.
func (u ResourceUsage) Fields() []zap.Field {
	return []zap.Field{
		zap.Float64("cpu_percent", u.CPUPercent),
		zap.Uint64("rss_bytes", u.MemoryRSS),
		zap.Uint64("heap_bytes", u.HeapAlloc),
		zap.Int("goroutines", u.GoroutineCount),
		zap.Int32("open_fds", u.OpenFDs),
	}
}
