// Package vmiface defines the narrow boundary between the swap pager
// and its external collaborators: the VM object/page model and the
// pager-type vtable consumed by callers. The pager never constructs a
// vmiface.Page or vmiface.Object of its own accord and never owns one
// it is handed — it holds weak, non-owning references exactly as
// bufmgr.go holds interfaces.ParentPage values handed to it by the
// parent buffer manager.
package vmiface

import "context"

// PagerType selects which pager implementation backs a given object,
// mirroring the {SWAP, DEFAULT, DEVICE, VNODE} vtable variants.
type PagerType int

const (
	Swap PagerType = iota
	Default
	Device
	Vnode
)

func (t PagerType) String() string {
	switch t {
	case Swap:
		return "swap"
	case Default:
		return "default"
	case Device:
		return "device"
	case Vnode:
		return "vnode"
	default:
		return "unknown"
	}
}

// Page is the pager's view of one virtual-memory page belonging to an
// Object. Busy/valid/dirty state is owned and mutated by the VM layer;
// the pager only flips the bits the contract in spec §4.4-§4.6 grants
// it (swap-in-progress, valid, dirty, activate/deactivate).
type Page interface {
	// Index returns the page index (pindex) of this page within its object.
	Index() uint64

	// ObjectID returns the weak identifier of the object this page
	// belongs to, letting Pager.Unswapped locate (object, pindex)
	// from a bare Page (spec §4.3 unswapped).
	ObjectID() uint64

	// Data returns the page-sized buffer backing this page's content.
	// Its length is always the pager's configured page size.
	Data() []byte

	// Busy/Unbusy implement the VM-layer busy protocol: a page must be
	// busied by the caller before GetPages/PutPages are invoked on it,
	// and remains busied across the call except where the contract
	// says otherwise (e.g. non-reqpage pages are unbusied by
	// completion in GetPages).
	Busy()
	Unbusy()
	IsBusy() bool

	// Valid reports whether the page content is entirely resident and
	// correct (spec's ALL_BITS). SetValid sets or clears it in full.
	Valid() bool
	SetValid(valid bool)

	// Dirty reports/sets the modified bit.
	Dirty() bool
	SetDirty(dirty bool)

	// SwapInProgress reports/sets the per-page I/O in-flight flag that
	// GetPages/PutPages wait on and completion clears.
	SwapInProgress() bool
	SetSwapInProgress(inProgress bool)

	// Activate/Deactivate move the page between the VM layer's active
	// and inactive lists; the pager calls these opportunistically on
	// I/O completion (§4.6) but never depends on their effect.
	Activate()
	Deactivate()
}

// Object is the pager's view of one anonymous memory object. The
// pager stores only a weak reference (an ID) plus this interface
// value; lifetime is owned entirely by the VM layer.
type Object interface {
	// ID returns a stable identifier used as the weak reference and as
	// the metadata store's hash key.
	ID() uint64

	// Size returns the object's size in pages.
	Size() uint64

	// IncPIP/DecPIP/WaitPIPZero manage the paging-in-progress counter.
	// WaitPIPZero blocks until the counter is zero or ctx is done.
	IncPIP()
	DecPIP()
	WaitPIPZero(ctx context.Context) error

	// LookupPage returns the resident page at pindex, if any, without
	// creating it.
	LookupPage(pindex uint64) (Page, bool)

	// GetOrCreatePage returns the page at pindex, faulting/allocating
	// it in the VM layer if it is not already resident. Used by
	// force-pagein during swapoff drain.
	GetOrCreatePage(ctx context.Context, pindex uint64) (Page, error)
}

// ObjectFactory is how the pager creates brand-new anonymous objects
// on Alloc when no existing named object matches the handle. The VM
// layer supplies the factory; the pager never constructs an Object by
// any other means.
type ObjectFactory interface {
	NewObject(size uint64) Object
}

// GetPagesResult is the tri-state result of GetPages (spec §4.4).
type GetPagesResult int

const (
	ResultOK GetPagesResult = iota
	ResultFail
	ResultError
)

// PutRC is the per-page return code of PutPages (spec §4.5).
type PutRC int

const (
	RCOK PutRC = iota
	RCPend
	RCFail
)

// Pager is the polymorphic vtable consumed by the VM object layer
// (spec §6, §9). Only the Swap variant is implemented in this repo;
// other PagerType values may be registered against stub
// implementations (see pager.Registry).
type Pager interface {
	Init() error
	Alloc(handle string, size uint64, offset uint64) (Object, error)
	Dealloc(obj Object) error
	GetPages(ctx context.Context, obj Object, pages []Page, reqpage int) (GetPagesResult, error)
	PutPages(ctx context.Context, obj Object, pages []Page, sync bool, rtvals []PutRC) error
	HasPage(obj Object, pindex uint64) (has bool, before, after int)
	Unswapped(page Page)
	Strategy(obj Object, bio *BIO) error
}

// BIOCmd selects the operation a BIO performs.
type BIOCmd int

const (
	BioRead BIOCmd = iota
	BioWrite
	BioDelete
)

// BIO is a block-level I/O request against a swap-backed object,
// spanning a contiguous run of pages (spec §4.7). Strategy fans it out
// into per-stripe child buffers.
type BIO struct {
	Cmd   BIOCmd
	Pages []Page

	// Sync selects synchronous (blocking) or asynchronous completion.
	Sync bool

	// PerPageErr is populated with one entry per Pages entry once the
	// BIO completes; a nil entry means that page's portion succeeded.
	PerPageErr []error

	done chan struct{}
}

// NewBIO constructs a BIO ready to be submitted via Pager.Strategy.
func NewBIO(cmd BIOCmd, pages []Page, sync bool) *BIO {
	return &BIO{
		Cmd:        cmd,
		Pages:      pages,
		Sync:       sync,
		PerPageErr: make([]error, len(pages)),
		done:       make(chan struct{}),
	}
}

// Wait blocks until the BIO's issuer has called Done, or ctx expires.
func (b *BIO) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done marks the BIO complete and wakes any waiter. It is safe to call
// exactly once.
func (b *BIO) Done() {
	close(b.done)
}
