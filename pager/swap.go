package pager

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ryogrid/go-swap-pager/blist"
	"github.com/ryogrid/go-swap-pager/device"
	"github.com/ryogrid/go-swap-pager/meta"
	"github.com/ryogrid/go-swap-pager/vmiface"
)

// ObjectLookup resolves a weak object ID back to a live vmiface.Object,
// used by SwapOff's drain loop to force-pagein resident content before a
// device is removed. The pager holds no strong reference to any object
// it did not create via Alloc, so swapoff's caller (the VM layer) must
// supply this.
type ObjectLookup func(id uint64) (vmiface.Object, bool)

// acquireSwapSeq serialises SwapOn/SwapOff against each other: only one
// may run at a time (spec §4.8/§4.9's single-entry gate). sync.Cond has
// no notion of a context deadline, so while the gate is held a watcher
// goroutine broadcasts on ctx.Done() to wake every waiter for a
// recheck, exactly as it would be woken by the holder's eventual
// releaseSwapSeq.
func (p *SwapPager) acquireSwapSeq(ctx context.Context) error {
	p.swapMu.Lock()
	defer p.swapMu.Unlock()

	if p.swapBusy {
		watchDone := make(chan struct{})
		defer close(watchDone)
		go func() {
			select {
			case <-ctx.Done():
				p.swapMu.Lock()
				p.swapCond.Broadcast()
				p.swapMu.Unlock()
			case <-watchDone:
			}
		}()
	}

	for p.swapBusy {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(ErrBusy, err.Error())
		}
		p.swapCond.Wait()
	}
	p.swapBusy = true
	return nil
}

func (p *SwapPager) releaseSwapSeq() {
	p.swapMu.Lock()
	p.swapBusy = false
	p.swapCond.Signal()
	p.swapMu.Unlock()
}

// SwapOn installs a new swap device backed by backend, whose capacity
// is nblks page-sized blocks, implementing spec §4.8. The device goes
// into the first free table slot, or this call fails with
// ErrDeviceTableFull when none is free; the bitmap is
// grown to cover every device's worst-case stripe set across all NDEV
// interleave lanes (quarantining the newly added capacity via Fill, so
// slots belonging to devices not yet installed can never be handed
// out), then this device's own real stripes are freed into the bitmap.
func (p *SwapPager) SwapOn(ctx context.Context, path string, backend device.Backend, nblks int64) (int, error) {
	if nblks <= 0 {
		return -1, errors.New("pager: swapon requires a positive block count")
	}
	if err := p.acquireSwapSeq(ctx); err != nil {
		return -1, err
	}
	defer p.releaseSwapSeq()

	dev := &device.Device{Backend: backend, Path: path, NBlks: nblks}
	idx, err := p.devices.Install(dev)
	if err != nil {
		return -1, errors.Wrap(ErrDeviceTableFull, err.Error())
	}

	newNswap := p.devices.MaxBlocks() * int64(p.ndev)
	if oldSize := p.bitmap.Size(); newNswap > oldSize {
		p.bitmap.Resize(newNswap)
		p.bitmap.Fill(blist.Slot(oldSize), newNswap-oldSize)
	}

	for m := int64(0); m*p.dmmax < nblks; m++ {
		stripeLen := p.dmmax
		if rem := nblks - m*p.dmmax; stripeLen > rem {
			stripeLen = rem
		}
		logicalStart := (m*int64(p.ndev) + int64(idx)) * p.dmmax
		p.bitmap.Free(blist.Slot(logicalStart), stripeLen)
	}

	p.log.Info("swapon", "path", path, "index", idx, "nblks", nblks)
	return idx, nil
}

// SwapOff removes the device at idx, draining every page still backed
// by it first (spec §4.9). lookup resolves the object half of each
// (object, pindex) assignment the drain scan finds; an assignment whose
// object can't be resolved (the VM layer has already dropped it) is
// simply released, since there is no longer any content to preserve.
func (p *SwapPager) SwapOff(ctx context.Context, idx int, lookup ObjectLookup) error {
	if err := p.acquireSwapSeq(ctx); err != nil {
		return err
	}
	defer p.releaseSwapSeq()

	dev := p.devices.Get(idx)
	if dev == nil {
		return ErrNotSwapDevice
	}

	free := p.bitmap.Size() - p.bitmap.AllocatedCount()
	if free < dev.NBlks+p.cfg.NSwapLowat {
		return ErrInsufficientMemory
	}

	p.devices.MarkClosing(idx)

	for m := int64(0); m*p.dmmax < dev.NBlks; m++ {
		stripeLen := p.dmmax
		if rem := dev.NBlks - m*p.dmmax; stripeLen > rem {
			stripeLen = rem
		}
		logicalStart := (m*int64(p.ndev) + int64(idx)) * p.dmmax
		p.bitmap.Fill(blist.Slot(logicalStart), stripeLen)
	}

	// Drain loop: repeatedly snapshot every assignment still on this
	// device and force its content resident, until a full pass finds
	// nothing left (spec §4.9 step 4's bucket scan, restarted after
	// each mutation — a snapshot-and-reprocess loop is equivalent here
	// since meta.Store serialises all mutation under one mutex).
	for {
		entries := p.metaStore.SlotsOnDevice(idx, p.dmmax, p.ndev)
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			obj, ok := lookup(e.Object)
			if !ok {
				p.metaStore.Ctl(e.Object, e.PIndex, meta.CtlFree)
				continue
			}
			if err := p.forcePagein(ctx, obj, e.PIndex); err != nil {
				return errors.Wrap(err, "pager: swapoff force-pagein")
			}
		}
	}

	invariant(p.devices.Used(idx) == 0, "pager: device %d still has %d used blocks after drain", idx, p.devices.Used(idx))

	if err := dev.Backend.Close(); err != nil {
		p.log.Warn("swapoff: backend close failed", "index", idx, "error", err)
	}
	p.devices.Remove(idx)

	p.log.Info("swapoff", "index", idx, "path", dev.Path)
	return nil
}

// forcePagein ensures page (obj, pindex) holds its content in memory
// and is no longer backed by swap, so the device it sat on can be
// removed safely (spec §4.9 step 4).
func (p *SwapPager) forcePagein(ctx context.Context, obj vmiface.Object, pindex uint64) error {
	page, err := obj.GetOrCreatePage(ctx, pindex)
	if err != nil {
		return err
	}
	page.Busy()
	defer page.Unbusy()

	if !page.Valid() {
		pages := []vmiface.Page{page}
		if _, err := p.GetPages(ctx, obj, pages, 0); err != nil {
			return err
		}
	}
	page.Activate()
	page.SetDirty(true)
	p.metaStore.Ctl(obj.ID(), pindex, meta.CtlFree)
	return nil
}
