package services

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// IntervalRunner runs fn on a fixed interval. A run that is still in flight
// when the next tick arrives causes that tick to be skipped, so runs of the
// same scheduler never overlap, and the same guard covers manual RunNow
// triggers from the ops surface.
type IntervalRunner struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
	logger   *slog.Logger
	running  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

func NewIntervalRunner(
	name string,
	interval time.Duration,
	logger *slog.Logger,
	fn func(context.Context),
) *IntervalRunner {
	return &IntervalRunner{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *IntervalRunner) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.RunNow()
			}
		}
	}()
}

// RunNow executes one run immediately unless one is already in flight.
// It reports whether the run happened.
func (r *IntervalRunner) RunNow() bool {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("tick skipped, previous run still in flight", "runner", r.name)
		return false
	}
	defer r.running.Store(false)

	r.fn(context.Background())
	return true
}

func (r *IntervalRunner) Stop() {
	close(r.stop)
	<-r.done
}
