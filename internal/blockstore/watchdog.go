package blockstore

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Watchdog periodically samples resident memory and CPU load, mirroring
// health.go's VirtualMemory/Avg pair, and forces the store to evict one
// extra block whenever usage crosses WarnPercent — spec.md §7's
// implementation-defined watchdog that "must not break out of the loop":
// it only ever evicts or logs, never cancels a run.
type Watchdog struct {
	Store       *Store
	Interval    time.Duration
	WarnPercent float64 // memory used%, 0 disables the memory check
	LoadWarn    float64 // 5-minute load average per core, 0 disables the check
	Log         zerolog.Logger
}

// Run samples on Interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sample()
		}
	}
}

func (w *Watchdog) sample() {
	if w.WarnPercent > 0 {
		if vm, err := mem.VirtualMemory(); err == nil {
			if vm.UsedPercent > w.WarnPercent {
				w.Log.Warn().
					Float64("used_percent", vm.UsedPercent).
					Int("resident", w.Store.Resident()).
					Msg("watchdog: memory pressure, forcing extra block eviction")
				if err := w.Store.EvictOne(); err != nil {
					w.Log.Warn().Err(err).Msg("watchdog: eviction failed")
				}
			}
		} else {
			w.Log.Debug().Err(err).Msg("watchdog: memory sample failed")
		}
	}

	if w.LoadWarn > 0 {
		if avg, err := load.Avg(); err == nil {
			if avg.Load5 > w.LoadWarn {
				w.Log.Warn().Float64("load5", avg.Load5).Msg("watchdog: sustained high load")
			}
		} else {
			w.Log.Debug().Err(err).Msg("watchdog: load sample failed")
		}
	}
}
