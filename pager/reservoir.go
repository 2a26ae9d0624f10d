package pager

import (
	"context"
	"log/slog"
	"time"
)

// reservoir is a bounded pool of in-flight I/O buffer slots (spec §5's
// nsw_rcount/nsw_wcount_sync/nsw_wcount_async), modeled as a buffered
// channel used as a counting semaphore: acquire is a channel send,
// release is a channel receive. This is the idiomatic Go substitute
// for the original's sleep/wakeup queue spec §9 calls for.
type reservoir struct {
	name string
	slots chan struct{}
	log   *slog.Logger
}

func newReservoir(name string, capacity int, log *slog.Logger) *reservoir {
	if capacity < 1 {
		capacity = 1
	}
	return &reservoir{
		name:  name,
		slots: make(chan struct{}, capacity),
		log:   log,
	}
}

// Acquire blocks until a slot is free or ctx is done. While waiting it
// logs a diagnostic notice every diagnosticWait, matching spec §4.4
// step 5's 20-second "indefinite wait" diagnostic: purely informative,
// never a timeout — the wait resumes after logging.
func (r *reservoir) Acquire(ctx context.Context, diagnosticWait time.Duration) error {
	if diagnosticWait <= 0 {
		select {
		case r.slots <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ticker := time.NewTicker(diagnosticWait)
	defer ticker.Stop()
	for {
		select {
		case r.slots <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r.log != nil {
				r.log.Warn("still waiting for reservoir slot", "reservoir", r.name)
			}
		}
	}
}

// Release returns a slot to the pool, waking any blocked Acquire.
func (r *reservoir) Release() {
	select {
	case <-r.slots:
	default:
	}
}

// InUse reports the number of currently acquired slots.
func (r *reservoir) InUse() int {
	return len(r.slots)
}

// Capacity reports the reservoir's total slot count.
func (r *reservoir) Capacity() int {
	return cap(r.slots)
}
