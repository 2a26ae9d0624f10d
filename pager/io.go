package pager

import (
	"context"
	"time"

	"github.com/ryogrid/go-swap-pager/blist"
	"github.com/ryogrid/go-swap-pager/vmiface"
)

// GetPages implements spec §4.4. The caller holds each page in pages
// busy, with pages[reqpage] the page that must be produced. Pages
// outside the final contiguous, same-stripe cluster are unbusied and
// dropped; reqpage is always left for the caller to unbusy.
func (p *SwapPager) GetPages(ctx context.Context, obj vmiface.Object, pages []vmiface.Page, reqpage int) (vmiface.GetPagesResult, error) {
	reqIndex := pages[reqpage].Index()
	blk, ok := p.metaStore.Lookup(obj.ID(), reqIndex)
	if !ok {
		for k, pg := range pages {
			if k != reqpage {
				pg.Unbusy()
			}
		}
		return vmiface.ResultFail, nil
	}

	lo, hi := p.extendCluster(obj, pages, reqpage, blk)
	for k, pg := range pages {
		if k < lo || k >= hi {
			pg.Unbusy()
		}
	}
	window := pages[lo:hi]

	diagWait := time.Duration(p.cfg.DiagnosticWait) * time.Second
	if err := p.readRes.Acquire(ctx, diagWait); err != nil {
		return vmiface.ResultError, err
	}
	defer p.readRes.Release()

	obj.IncPIP()
	defer obj.DecPIP()

	for _, pg := range window {
		pg.SetSwapInProgress(true)
	}

	bio := vmiface.NewBIO(vmiface.BioRead, window, true)
	p.Strategy(obj, bio)

	var reqErr error
	for i, pg := range window {
		idx := lo + i
		err := bio.PerPageErr[i]
		pg.SetSwapInProgress(false)
		if err != nil {
			pg.SetValid(false)
			if idx == reqpage {
				reqErr = err
			} else {
				pg.Unbusy()
			}
			continue
		}
		pg.SetDirty(false)
		pg.SetValid(true)
		if idx != reqpage {
			pg.Deactivate()
			pg.Unbusy()
		}
	}

	if reqErr != nil {
		return vmiface.ResultError, reqErr
	}
	if !pages[reqpage].Valid() {
		return vmiface.ResultError, ErrIORead
	}
	return vmiface.ResultOK, nil
}

// extendCluster grows the [lo, hi) window around reqpage while the
// adjacent page's slot is exactly contiguous with blk and falls in
// the same DMMAX stripe (spec §4.4 step 2). pages is assumed ordered
// by strictly increasing, consecutive page index, matching how the
// VM layer assembles a getpages request.
func (p *SwapPager) extendCluster(obj vmiface.Object, pages []vmiface.Page, reqpage int, blk blist.Slot) (int, int) {
	lo, hi := reqpage, reqpage+1
	for lo > 0 {
		want := blk - blist.Slot(reqpage-(lo-1))
		s, ok := p.metaStore.Lookup(obj.ID(), pages[lo-1].Index())
		if !ok || s != want || (int64(blk)^int64(s))&p.cfg.DMMAXMask() != 0 {
			break
		}
		lo--
	}
	for hi < len(pages) {
		want := blk + blist.Slot(hi-reqpage)
		s, ok := p.metaStore.Lookup(obj.ID(), pages[hi].Index())
		if !ok || s != want || (int64(blk)^int64(s))&p.cfg.DMMAXMask() != 0 {
			break
		}
		hi++
	}
	return lo, hi
}

// PutPages implements spec §4.5. pages must be ordered by strictly
// increasing, consecutive page index; rtvals is filled one entry per
// page. When sync is true, every rtval is resolved to RCOK/RCFail
// before PutPages returns. When sync is false, PutPages returns as
// soon as each cluster's Strategy call has been dispatched, leaving
// that cluster's rtvals at RCPend; a background goroutine resolves
// them to RCOK/RCFail once the cluster's child I/Os finish, the same
// "last one out" completion chain.wait() already models for a single
// BIO, just not joined inline by the caller. Callers that need to know
// when every async rtval has settled can call Object.WaitPIPZero,
// since the completion goroutine's IncPIP/DecPIP pair brackets it.
func (p *SwapPager) PutPages(ctx context.Context, obj vmiface.Object, pages []vmiface.Page, sync bool, rtvals []vmiface.PutRC) error {
	if len(pages) == 0 {
		return nil
	}
	p.metaStore.Build(obj.ID(), pages[0].Index(), blist.None) // force SWAP type
	p.reconcileAsyncMax()

	start := 0
	remaining := len(pages)
	for remaining > 0 {
		clusterSize := remaining
		if int64(clusterSize) > p.cfg.MaxPageoutCluster {
			clusterSize = int(p.cfg.MaxPageoutCluster)
		}
		if int64(clusterSize) > blist.MaxAlloc {
			clusterSize = blist.MaxAlloc
		}

		slot, got := p.getSwapSpace(int64(clusterSize))
		if slot == blist.None {
			for k := start; k < start+clusterSize; k++ {
				rtvals[k] = vmiface.RCFail
			}
			start += clusterSize
			remaining -= clusterSize
			continue
		}

		if stripeEnd := (int64(slot)/p.dmmax + 1) * p.dmmax; int64(slot)+got > stripeEnd {
			trimmed := stripeEnd - int64(slot)
			p.bitmap.Free(slot+blist.Slot(trimmed), got-trimmed)
			got = trimmed
		}

		res := p.asyncWriteRes
		if sync {
			res = p.syncWriteRes
		}
		if err := res.Acquire(ctx, 0); err != nil {
			p.bitmap.Free(slot, got)
			for k := start; k < start+clusterSize; k++ {
				rtvals[k] = vmiface.RCFail
			}
			start += clusterSize
			remaining -= clusterSize
			continue
		}

		n := int(got)
		clusterStart := start
		window := pages[start : start+n]
		for i, pg := range window {
			p.metaStore.Build(obj.ID(), pg.Index(), slot+blist.Slot(i))
			pg.SetSwapInProgress(true)
		}

		obj.IncPIP()
		bio := vmiface.NewBIO(vmiface.BioWrite, window, sync)

		complete := func() {
			p.Strategy(obj, bio)
			for i, pg := range window {
				idx := clusterStart + i
				err := bio.PerPageErr[i]
				pg.SetSwapInProgress(false)
				if err != nil {
					// write error: reactivate, redirty, quarantine the
					// slot (spec §4.6 — never freed on write error).
					pg.Activate()
					pg.SetDirty(true)
					rtvals[idx] = vmiface.RCFail
				} else {
					pg.SetDirty(false)
					rtvals[idx] = vmiface.RCOK
				}
			}
			res.Release()
			// DecPIP last: it is the only signal WaitPIPZero callers
			// (Dealloc, an async caller polling for completion) have,
			// so every rtval and page flag above must already be
			// settled before it fires.
			obj.DecPIP()
		}

		if sync {
			complete()
		} else {
			for i := range window {
				rtvals[clusterStart+i] = vmiface.RCPend
			}
			go complete()
		}

		start += n
		remaining -= n
	}
	return nil
}
