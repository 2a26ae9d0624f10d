// Package memvm is a reference, in-memory implementation of the
// vmiface.Object/vmiface.Page collaborator, in the same spirit as the
// teacher's ParentBufMgrDummy/ParentPageDummy: a standalone stand-in
// for a real storage engine (here, a real kernel VM subsystem) that
// lets the pager be exercised end-to-end in tests and examples without
// one.
package memvm

import (
	"sync"

	"github.com/ryogrid/go-swap-pager/vmiface"
)

// Page is an in-memory page belonging to an Object. Like the
// teacher's ParentPageDummy, it stores its content in a plain byte
// array and tracks a small set of atomic/mutex-guarded flags; unlike
// ParentPageDummy (which only tracked a pin count) it tracks the full
// busy/valid/dirty/swap-in-progress/active state the pager contract
// requires.
type Page struct {
	obj    *Object
	pindex uint64

	mu             sync.Mutex
	busyCond       *sync.Cond
	busy           bool
	valid          bool
	dirty          bool
	swapInProgress bool
	active         bool

	data []byte
}

var _ vmiface.Page = (*Page)(nil)

func newPage(obj *Object, pindex uint64, pageSize int) *Page {
	p := &Page{
		obj:    obj,
		pindex: pindex,
		data:   make([]byte, pageSize),
	}
	p.busyCond = sync.NewCond(&p.mu)
	return p
}

func (p *Page) Index() uint64 { return p.pindex }

func (p *Page) ObjectID() uint64 { return p.obj.ID() }

func (p *Page) Data() []byte { return p.data }

func (p *Page) Busy() {
	p.mu.Lock()
	for p.busy {
		p.busyCond.Wait()
	}
	p.busy = true
	p.mu.Unlock()
}

func (p *Page) Unbusy() {
	p.mu.Lock()
	p.busy = false
	p.busyCond.Broadcast()
	p.mu.Unlock()
}

func (p *Page) IsBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

func (p *Page) Valid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid
}

func (p *Page) SetValid(valid bool) {
	p.mu.Lock()
	p.valid = valid
	p.mu.Unlock()
}

func (p *Page) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

func (p *Page) SetDirty(dirty bool) {
	p.mu.Lock()
	p.dirty = dirty
	p.mu.Unlock()
}

func (p *Page) SwapInProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.swapInProgress
}

func (p *Page) SetSwapInProgress(inProgress bool) {
	p.mu.Lock()
	p.swapInProgress = inProgress
	p.mu.Unlock()
}

func (p *Page) Activate() {
	p.mu.Lock()
	p.active = true
	p.mu.Unlock()
}

func (p *Page) Deactivate() {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}
