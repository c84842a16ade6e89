package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/kubilitics/kubilitics-intel/internal/metrics"
)

const defaultJanitorInterval = time.Hour

// Run cleans up idle memory and, when SessionMaxIdle is set, idle sessions
// until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	interval := o.cfg.MemoryCleanupInterval
	if interval <= 0 {
		interval = defaultJanitorInterval
	}

	var wg sync.WaitGroup
	if o.memory != nil && o.cfg.MemoryMaxAge > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.memory.RunJanitor(ctx, interval, o.cfg.MemoryMaxAge)
		}()
	}
	if o.cfg.SessionMaxIdle > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					o.PruneIdle(ctx)
				}
			}
		}()
	}
	wg.Wait()
}

// PruneIdle removes sessions idle longer than SessionMaxIdle and returns
// their ids.
func (o *Orchestrator) PruneIdle(ctx context.Context) []string {
	pruned := o.store.PruneIdle(ctx, o.cfg.SessionMaxIdle)
	for _, id := range pruned {
		o.forget(id)
		o.hub.CloseSession(id)
	}
	if len(pruned) > 0 {
		metrics.ActiveSessions.Set(float64(o.store.Len()))
	}
	return pruned
}
