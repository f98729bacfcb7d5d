package lifecycle

import (
	"context"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Watcher derives host transitions from whether the daemon's process group
// owns its controlling terminal: a job moved to the background with the
// shell's job control reports Background, `fg` reports Foreground.
type Watcher struct {
	adapter  *Adapter
	interval time.Duration
	probe    func(ctx context.Context) (bool, error)
}

// NewWatcher watches the process identified by pid.
func NewWatcher(a *Adapter, pid int32, interval time.Duration) (*Watcher, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	return newWatcher(a, interval, p.ForegroundWithContext), nil
}

func newWatcher(a *Adapter, interval time.Duration, probe func(ctx context.Context) (bool, error)) *Watcher {
	return &Watcher{adapter: a, interval: interval, probe: probe}
}

// Run polls until ctx is cancelled. Only changes in the observed state are
// forwarded, so a nudge in progress is not overridden by a steady reading.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		last    Phase
		known   bool
		failing bool
	)
	for {
		fg, err := w.probe(ctx)
		switch {
		case err != nil:
			if !failing && ctx.Err() == nil {
				log.Printf("lifecycle: foreground probe failed: %v", err)
			}
			failing = true
		default:
			failing = false
			p := Background
			if fg {
				p = Foreground
			}
			if !known || p != last {
				last, known = p, true
				w.adapter.Transition(p)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
