package pager

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ryogrid/go-swap-pager/blist"
	"github.com/ryogrid/go-swap-pager/device"
	"github.com/ryogrid/go-swap-pager/meta"
	"github.com/ryogrid/go-swap-pager/vmiface"
)

// chunkPlan is one contiguous, same-stripe run of pages that Strategy
// will dispatch as a single child I/O.
type chunkPlan struct {
	start, end int
	slot       blist.Slot
	zeroFill   bool // BIO_READ fast path: no slot, just zero the page
}

// Strategy implements spec §4.7: BIO_DELETE is a pure metadata free
// (no device I/O); BIO_READ/BIO_WRITE are planned into chunks of
// contiguous, same-stripe pages and each chunk is dispatched as an
// independent child I/O, fanned out concurrently and joined via
// chainIO.
func (p *SwapPager) Strategy(obj vmiface.Object, bio *vmiface.BIO) error {
	if bio.Cmd == vmiface.BioDelete {
		for _, pg := range bio.Pages {
			p.metaStore.Ctl(obj.ID(), pg.Index(), meta.CtlFree)
		}
		bio.Done()
		return nil
	}

	pages := bio.Pages
	plans := p.planChunks(obj, bio.Cmd, pages)

	chain := newChainIO(len(plans))
	var errMu sync.Mutex
	var firstErr error
	for _, plan := range plans {
		plan := plan
		go func() {
			err := p.runChunk(bio.Cmd, pages, plan)
			for k := plan.start; k < plan.end; k++ {
				bio.PerPageErr[k] = err
			}
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
			chain.childDone(err)
		}()
	}
	chain.wait()
	bio.Done()
	return firstErr
}

// planChunks walks pages once, allocating slots for writes that lack
// one and grouping runs that are contiguous in swap and fall within
// one DMMAX stripe (spec §4.7's three break conditions: next page
// lacks a slot, next slot non-contiguous, next slot crosses a stripe
// boundary). It runs single-threaded against the metadata store so
// slot allocation for the whole BIO is serialized up front; the
// resulting chunks are then dispatched to their devices concurrently.
func (p *SwapPager) planChunks(obj vmiface.Object, cmd vmiface.BIOCmd, pages []vmiface.Page) []chunkPlan {
	var plans []chunkPlan
	i := 0
	for i < len(pages) {
		slot, ok := p.metaStore.Lookup(obj.ID(), pages[i].Index())
		if !ok {
			if cmd == vmiface.BioRead {
				plans = append(plans, chunkPlan{start: i, end: i + 1, zeroFill: true})
				i++
				continue
			}
			newSlot, _ := p.getSwapSpace(1)
			if newSlot == blist.None {
				plans = append(plans, chunkPlan{start: i, end: i + 1, slot: blist.None})
				i++
				continue
			}
			p.metaStore.Build(obj.ID(), pages[i].Index(), newSlot)
			slot = newSlot
		}

		end := i + 1
		for end < len(pages) {
			s, ok := p.metaStore.Lookup(obj.ID(), pages[end].Index())
			if !ok {
				break
			}
			want := slot + blist.Slot(end-i)
			if s != want {
				break
			}
			if (int64(slot)^int64(s))&p.cfg.DMMAXMask() != 0 {
				break
			}
			end++
		}
		plans = append(plans, chunkPlan{start: i, end: end, slot: slot})
		i = end
	}
	return plans
}

func (p *SwapPager) runChunk(cmd vmiface.BIOCmd, pages []vmiface.Page, plan chunkPlan) error {
	if plan.zeroFill {
		data := pages[plan.start].Data()
		for i := range data {
			data[i] = 0
		}
		pages[plan.start].SetValid(true)
		return nil
	}
	if plan.slot == blist.None {
		return ErrNoSpace
	}
	return p.issueChild(cmd, pages[plan.start:plan.end], plan.slot)
}

// issueChild performs the actual device I/O for one contiguous run of
// pages starting at base.
func (p *SwapPager) issueChild(cmd vmiface.BIOCmd, pages []vmiface.Page, base blist.Slot) error {
	dev, byteOffset, err := p.swapDevStrategy(base)
	if err != nil {
		return err
	}

	pageSize := p.cfg.PageSize
	buf := device.AlignedPageBuffer(len(pages) * pageSize)

	if cmd == vmiface.BioWrite {
		for i, pg := range pages {
			copy(buf[i*pageSize:(i+1)*pageSize], pg.Data())
		}
		if _, err := dev.Backend.WriteAt(buf, byteOffset); err != nil {
			return errors.Wrap(err, "pager: strategy write")
		}
		return nil
	}

	if _, err := dev.Backend.ReadAt(buf, byteOffset); err != nil {
		return errors.Wrap(err, "pager: strategy read")
	}
	for i, pg := range pages {
		copy(pg.Data(), buf[i*pageSize:(i+1)*pageSize])
		pg.SetValid(true)
	}
	return nil
}

// swapDevStrategy converts a logical, page-unit swap slot into its
// owning device and byte offset within that device (spec §4.7
// swapdev_strategy). Page-to-sector unit conversion is folded away:
// device.Backend is a byte-offset ReaderAt/WriterAt, not a
// sector-addressed handle, so the DEV_BSIZE scaling the original
// performs has no equivalent step here.
func (p *SwapPager) swapDevStrategy(slot blist.Slot) (*device.Device, int64, error) {
	devIdx, devBlock := device.SlotToDevice(slot, p.dmmax, p.ndev)
	d := p.devices.Get(devIdx)
	if d == nil {
		return nil, 0, errors.Errorf("pager: no device at index %d for slot %d", devIdx, slot)
	}
	if devBlock < 0 || devBlock >= d.NBlks {
		return nil, 0, errors.Errorf("pager: device-local block %d out of range (nblks=%d)", devBlock, d.NBlks)
	}
	return d, devBlock * int64(p.cfg.PageSize), nil
}
