package pager

import "github.com/ryogrid/go-swap-pager/blist"

// getSwapSpace allocates up to n contiguous pages, halving the request
// (4, the floor) on failure until it succeeds or the floor itself
// fails, implementing spec §4.1/§4.5's exponential back-off. A request
// smaller than 4 is tried once, unhalved. It
// returns the allocated slot and the actual run length obtained, or
// (blist.None, 0) if even the floor could not be satisfied.
func (p *SwapPager) getSwapSpace(n int64) (blist.Slot, int64) {
	for want := n; want > 0; want /= 2 {
		if slot := p.bitmap.Alloc(want); slot != blist.None {
			p.clearFull()
			return slot, want
		}
		if want/2 < 4 {
			break
		}
	}
	p.markExhausted()
	return blist.None, 0
}

// markExhausted implements spec §7's almost-full/full escalation: a
// single failed allocation flips almostFull; a second CONSECUTIVE
// failure (no success in between) raises fullCount to the OOM-level
// threshold of 2.
func (p *SwapPager) markExhausted() {
	p.fullMu.Lock()
	defer p.fullMu.Unlock()
	if p.almostFull {
		p.fullCount = 2
	} else {
		p.almostFull = true
	}
}

func (p *SwapPager) clearFull() {
	p.fullMu.Lock()
	p.almostFull = false
	p.fullCount = 0
	p.fullMu.Unlock()
}

// Full reports whether the pager has hit the OOM-level exhaustion
// threshold (vm.swap_pager_full sysctl's "2" state).
func (p *SwapPager) Full() bool {
	p.fullMu.Lock()
	defer p.fullMu.Unlock()
	return p.fullCount >= 2
}

// AlmostFull reports the transient, single-failure exhaustion signal.
func (p *SwapPager) AlmostFull() bool {
	p.fullMu.Lock()
	defer p.fullMu.Unlock()
	return p.almostFull
}

// reconcileAsyncMax updates the vm.swap_async_max sysctl-equivalent
// gauge from the async-write reservoir's actual in-use count, bounded
// to [1, nswbuf/2] (spec §4.5 step 2). It is diagnostic only: nothing
// reads asyncMax back to change reservoir capacity.
func (p *SwapPager) reconcileAsyncMax() {
	max := p.cfg.NSwBuf / 2
	if max < 1 {
		max = 1
	}
	inUse := p.asyncWriteRes.InUse()
	if inUse > max {
		inUse = max
	}
	if inUse < 1 {
		inUse = 1
	}
	p.fullMu.Lock()
	p.asyncMax = inUse
	p.fullMu.Unlock()
}

// AsyncMax returns the current vm.swap_async_max gauge value.
func (p *SwapPager) AsyncMax() int {
	p.fullMu.Lock()
	defer p.fullMu.Unlock()
	return p.asyncMax
}
