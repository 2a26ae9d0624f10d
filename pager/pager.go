// Package pager implements the swap pager core: the SwapPager type
// orchestrates the block allocator (blist), the device table
// (device), and the metadata store (meta) behind the vmiface.Pager
// vtable, exactly as the teacher's BufMgr orchestrates its hash table,
// latch array, and page pool behind the buffer-manager API it exposes
// to the B-link-tree.
package pager

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ryogrid/go-swap-pager/blist"
	"github.com/ryogrid/go-swap-pager/device"
	"github.com/ryogrid/go-swap-pager/meta"
	"github.com/ryogrid/go-swap-pager/vmiface"
)

// objType is the SWAP/DEFAULT tag spec §3 attaches to every anonymous
// object that has ever been handed to the pager. This package tracks
// it, together with bcount, directly (see objectRecord) rather than
// deferring to the VM collaborator, since it is the pager's own
// bookkeeping about objects it has converted, not VM-layer state.
type objType int

const (
	objDefault objType = iota
	objSwap
)

type objectRecord struct {
	typ    objType
	bcount int
}

// SwapPager is the SWAP pager-type implementation of vmiface.Pager.
// It holds no package-level singleton state (spec §9): every piece of
// what would have been swdevt/swhash/swapblist/reservoir globals in
// the original lives in one SwapPager value.
type SwapPager struct {
	cfg Config
	log *slog.Logger

	bitmap    *blist.Bitmap
	devices   *device.Table
	metaStore *meta.Store
	factory   vmiface.ObjectFactory

	readRes       *reservoir
	syncWriteRes  *reservoir
	asyncWriteRes *reservoir

	// allocMu serialises Alloc/Dealloc/Copy's list manipulation,
	// distinct from the metadata mutex inside meta.Store, matching
	// spec §5's explicit two-lock requirement.
	allocMu        sync.Mutex
	namedObjects   map[string]vmiface.Object
	namedHandles   map[uint64]string
	unnamedObjects map[uint64]vmiface.Object

	objMu    sync.Mutex
	objState map[uint64]*objectRecord

	swapMu   sync.Mutex
	swapCond *sync.Cond
	swapBusy bool

	fullMu     sync.Mutex
	almostFull bool
	fullCount  int // spec §7: second consecutive failure -> full
	asyncMax   int // vm.swap_async_max sysctl-equivalent, reconciled opportunistically

	ndev  int
	dmmax int64
}

var _ vmiface.Pager = (*SwapPager)(nil)

// New constructs a SwapPager. factory supplies freshly created
// vmiface.Object values for Alloc; the pager never constructs one by
// any other means.
func New(cfg Config, factory vmiface.ObjectFactory, log *slog.Logger) *SwapPager {
	if log == nil {
		log = slog.Default()
	}
	devices := device.NewTable(cfg.NSwapDev)
	bitmap := blist.New(0)
	metaStore := meta.NewStore(1, bitmap, devices, cfg.DMMAX(), cfg.NSwapDev)

	p := &SwapPager{
		cfg:            cfg,
		log:            log,
		bitmap:         bitmap,
		devices:        devices,
		metaStore:      metaStore,
		factory:        factory,
		readRes:        newReservoir("read", cfg.NSwBuf, log),
		syncWriteRes:   newReservoir("sync-write", cfg.NSwBuf/2+1, log),
		asyncWriteRes:  newReservoir("async-write", cfg.NSwBuf/2+1, log),
		namedObjects:   make(map[string]vmiface.Object),
		namedHandles:   make(map[uint64]string),
		unnamedObjects: make(map[uint64]vmiface.Object),
		objState:       make(map[uint64]*objectRecord),
		ndev:           cfg.NSwapDev,
		dmmax:          cfg.DMMAX(),
	}
	p.swapCond = sync.NewCond(&p.swapMu)

	metaStore.BlockCreated = func(id uint64) {
		p.objMu.Lock()
		rec := p.recordLocked(id)
		rec.typ = objSwap
		rec.bcount++
		p.objMu.Unlock()
	}
	metaStore.BlockDestroyed = func(id uint64) {
		p.objMu.Lock()
		if rec, ok := p.objState[id]; ok {
			rec.bcount--
		}
		p.objMu.Unlock()
	}
	return p
}

func (p *SwapPager) recordLocked(id uint64) *objectRecord {
	rec, ok := p.objState[id]
	if !ok {
		rec = &objectRecord{typ: objDefault}
		p.objState[id] = rec
	}
	return rec
}

// Init performs the pager's one-shot system init (spec §6 init()):
// DMMAX/DMMAX_MASK are already fixed from Config at construction, so
// Init here only resets the object lists, matching how NewBufMgr
// accepts its sizing parameters up front rather than in a later call.
func (p *SwapPager) Init() error {
	p.allocMu.Lock()
	p.namedObjects = make(map[string]vmiface.Object)
	p.namedHandles = make(map[uint64]string)
	p.unnamedObjects = make(map[uint64]vmiface.Object)
	p.allocMu.Unlock()
	return nil
}

// Alloc returns the existing named object for handle if one exists;
// otherwise it creates a new object via the factory and converts it
// to SWAP type via a meta_build-with-NONE call, exactly as spec §4.3
// describes ("create a new default object and convert it (via
// meta_build with a NONE slot, which has the side effect of type
// conversion and list insertion)"). Serialised under allocMu to
// prevent duplicate named objects.
func (p *SwapPager) Alloc(handle string, size uint64, offset uint64) (vmiface.Object, error) {
	p.allocMu.Lock()
	defer p.allocMu.Unlock()

	if handle != "" {
		if obj, ok := p.namedObjects[handle]; ok {
			return obj, nil
		}
	}

	obj := p.factory.NewObject(size)
	p.metaStore.Build(obj.ID(), 0, blist.None)

	if handle != "" {
		p.namedObjects[handle] = obj
		p.namedHandles[obj.ID()] = handle
	} else {
		p.unnamedObjects[obj.ID()] = obj
	}
	p.log.Debug("alloc", "object", obj.ID(), "handle", handle, "size", size)
	return obj, nil
}

// Dealloc removes obj from its object list immediately (so new
// lookups can't find it), waits for in-progress paging to drain, then
// frees every metadata assignment it holds (spec §4.3 dealloc).
func (p *SwapPager) Dealloc(obj vmiface.Object) error {
	p.allocMu.Lock()
	p.removeFromListsLocked(obj)
	p.allocMu.Unlock()

	if err := obj.WaitPIPZero(context.Background()); err != nil {
		return err
	}

	p.metaStore.FreeAll(obj.ID())

	p.objMu.Lock()
	delete(p.objState, obj.ID())
	p.objMu.Unlock()

	p.log.Debug("dealloc", "object", obj.ID())
	return nil
}

func (p *SwapPager) removeFromListsLocked(obj vmiface.Object) {
	id := obj.ID()
	if h, ok := p.namedHandles[id]; ok {
		delete(p.namedObjects, h)
		delete(p.namedHandles, id)
	}
	delete(p.unnamedObjects, id)
}

// Copy implements spec §4.3 copy/collapse: for each destination page
// index i in [0, dst.Size()), dst wins if it already has a slot or a
// resident page there (the source slot at i+offset is simply freed);
// otherwise the source slot is popped (not freed) into dst at i. When
// destroySrc, src is removed from its object list up front and fully
// freed/reset to DEFAULT at the end.
func (p *SwapPager) Copy(src, dst vmiface.Object, offset uint64, destroySrc bool) error {
	if destroySrc {
		p.allocMu.Lock()
		p.removeFromListsLocked(src)
		p.allocMu.Unlock()
	}

	n := dst.Size()
	for i := uint64(0); i < n; i++ {
		srcIndex := i + offset

		dstHasSlot := false
		if _, ok := p.metaStore.Lookup(dst.ID(), i); ok {
			dstHasSlot = true
		}
		dstResident := false
		if page, ok := dst.LookupPage(i); ok {
			dstResident = page.Valid()
		}

		if dstHasSlot || dstResident {
			p.metaStore.Ctl(src.ID(), srcIndex, meta.CtlFree)
			continue
		}

		slot, ok := p.metaStore.Ctl(src.ID(), srcIndex, meta.CtlPop)
		if !ok {
			continue
		}
		p.metaStore.Build(dst.ID(), i, slot)
	}

	if destroySrc {
		p.metaStore.FreeAll(src.ID())
		p.objMu.Lock()
		if rec, ok := p.objState[src.ID()]; ok {
			rec.typ = objDefault
		}
		p.objMu.Unlock()
	}
	return nil
}

// HasPage reports whether (obj, pindex) has swap backing, and how far
// the contiguous, same-stripe run extends before/after it (spec §4.3
// has_page).
func (p *SwapPager) HasPage(obj vmiface.Object, pindex uint64) (bool, int, int) {
	slot, ok := p.metaStore.Lookup(obj.ID(), pindex)
	if !ok {
		return false, 0, 0
	}
	before := p.contiguousRun(obj, pindex, slot, -1)
	after := p.contiguousRun(obj, pindex, slot, 1)
	return true, before, after
}

func (p *SwapPager) contiguousRun(obj vmiface.Object, pindex uint64, base blist.Slot, dir int64) int {
	limit := int64(meta.Pages / 2)
	count := 0
	for k := int64(1); k <= limit; k++ {
		idx := int64(pindex) + dir*k
		if idx < 0 {
			break
		}
		s, ok := p.metaStore.Lookup(obj.ID(), uint64(idx))
		if !ok {
			break
		}
		want := blist.Slot(int64(base) + dir*k)
		if s != want {
			break
		}
		if (int64(base)^int64(s))&p.cfg.DMMAXMask() != 0 {
			break
		}
		count++
	}
	return count
}

// Unswapped frees the slot backing page, per spec §4.3 unswapped.
func (p *SwapPager) Unswapped(page vmiface.Page) {
	p.metaStore.Ctl(page.ObjectID(), page.Index(), meta.CtlFree)
}

// DeviceSnapshot returns a point-in-time view of every active swap
// device, for the metrics collector and any vm.swap_info-equivalent
// surface.
func (p *SwapPager) DeviceSnapshot() []device.Info {
	return p.devices.Snapshot()
}

// DMMAX returns the fixed interleave stripe size, in pages.
func (p *SwapPager) DMMAX() int64 {
	return p.dmmax
}

// Config returns the configuration this pager was constructed with.
func (p *SwapPager) Config() Config {
	return p.cfg
}
