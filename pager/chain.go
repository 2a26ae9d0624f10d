package pager

import "sync/atomic"

// chainIO tracks a BIO's fan-out into independent per-stripe child
// I/Os (spec §4.7, §9's "chain-buffer machinery": parent bio + N
// child buffers with an atomic count and a wakeup flag). The last
// child to finish closes done, the same "last one out" shape as the
// teacher's clock-eviction retry loop coordinating via
// atomic.AddUint32(&mgr.latchVictim, ...) instead of a single giant
// lock.
type chainIO struct {
	outstanding int32
	done        chan struct{}
}

func newChainIO(n int) *chainIO {
	c := &chainIO{done: make(chan struct{}), outstanding: int32(n)}
	if n == 0 {
		close(c.done)
	}
	return c
}

// childDone records one child's completion; when the last child
// finishes it closes done.
func (c *chainIO) childDone(err error) {
	if atomic.AddInt32(&c.outstanding, -1) == 0 {
		close(c.done)
	}
}

// wait blocks until every child has called childDone. Per spec §5,
// strategy's chain buffers need not preserve inter-chunk order, so
// this returns no error of its own — callers read per-page results
// from BIO.PerPageErr instead (spec §9's open question on error
// sequencing: this repo takes the stricter per-page option).
func (c *chainIO) wait() {
	<-c.done
}
