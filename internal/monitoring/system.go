package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMonitor samples process resources on an interval and publishes them
// to the Prometheus gauges.
type SystemMonitor struct {
	logger zerolog.Logger
	proc   *process.Process

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSystemMonitor creates a monitor for the current process.
func NewSystemMonitor(logger zerolog.Logger) *SystemMonitor {
	sm := &SystemMonitor{
		logger: logger.With().Str("component", "system_monitor").Logger(),
	}

	// gopsutil needs the pid once; failure here just disables process stats.
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		sm.logger.Warn().Err(err).Msg("Process handle unavailable, system metrics disabled")
	} else {
		sm.proc = proc
	}

	return sm
}

// Start begins periodic metric updates until Shutdown is called.
func (sm *SystemMonitor) Start(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	sm.cancel = cancel

	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		defer RecoverPanic(sm.logger, "systemMonitor", nil)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		sm.logger.Info().
			Dur("interval", interval).
			Msg("System monitor started")

		sm.update()

		for {
			select {
			case <-ticker.C:
				sm.update()
			case <-ctx.Done():
				sm.logger.Info().Msg("System monitor stopped")
				return
			}
		}
	}()
}

func (sm *SystemMonitor) update() {
	var cpuPercent float64
	var memBytes uint64

	if sm.proc != nil {
		if pct, err := sm.proc.CPUPercent(); err == nil {
			cpuPercent = pct
		}
		if mi, err := sm.proc.MemoryInfo(); err == nil {
			memBytes = mi.RSS
		}
	} else {
		// Fall back to host-wide CPU when the process handle failed.
		if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
			cpuPercent = pcts[0]
		}
	}

	goroutines := runtime.NumGoroutine()

	CPUUsagePercent.Set(cpuPercent)
	MemoryUsageBytes.Set(float64(memBytes))
	GoroutineCount.Set(float64(goroutines))

	sm.logger.Debug().
		Float64("cpu_percent", cpuPercent).
		Uint64("memory_bytes", memBytes).
		Int("goroutines", goroutines).
		Msg("System metrics updated")
}

// Shutdown stops the sampling goroutine.
func (sm *SystemMonitor) Shutdown() {
	if sm.cancel != nil {
		sm.cancel()
	}
	sm.wg.Wait()
}
