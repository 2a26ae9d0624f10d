package memvm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ryogrid/go-swap-pager/vmiface"
)

var nextObjectID uint64

// Object is an in-memory anonymous memory object. Pages are created
// lazily on first touch and stored in a sync.Map keyed by pindex, the
// same page-table shape as the teacher's ParentBufMgrDummy (which
// keys a sync.Map by pageID instead of pindex).
type Object struct {
	id       uint64
	pageSize int

	size uint64 // pages

	pages sync.Map // pindex -> *Page

	mu      sync.Mutex
	pip     int
	pipCond *sync.Cond
}

var _ vmiface.Object = (*Object)(nil)

// NewObject creates a new in-memory object of the given size (pages).
func NewObject(size uint64, pageSize int) *Object {
	o := &Object{
		id:       atomic.AddUint64(&nextObjectID, 1),
		pageSize: pageSize,
		size:     size,
	}
	o.pipCond = sync.NewCond(&o.mu)
	return o
}

func (o *Object) ID() uint64 { return o.id }

func (o *Object) Size() uint64 { return o.size }

func (o *Object) IncPIP() {
	o.mu.Lock()
	o.pip++
	o.mu.Unlock()
}

func (o *Object) DecPIP() {
	o.mu.Lock()
	o.pip--
	if o.pip < 0 {
		panic("memvm: pip counter went negative")
	}
	if o.pip == 0 {
		o.pipCond.Broadcast()
	}
	o.mu.Unlock()
}

func (o *Object) PIP() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pip
}

// WaitPIPZero blocks until the pip counter is zero or ctx is canceled.
func (o *Object) WaitPIPZero(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.mu.Lock()
		for o.pip != 0 {
			o.pipCond.Wait()
		}
		o.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Object) LookupPage(pindex uint64) (vmiface.Page, bool) {
	v, ok := o.pages.Load(pindex)
	if !ok {
		return nil, false
	}
	return v.(*Page), true
}

func (o *Object) GetOrCreatePage(ctx context.Context, pindex uint64) (vmiface.Page, error) {
	if v, ok := o.pages.Load(pindex); ok {
		return v.(*Page), nil
	}
	p := newPage(o, pindex, o.pageSize)
	actual, _ := o.pages.LoadOrStore(pindex, p)
	return actual.(*Page), nil
}

// Factory adapts Object creation to vmiface.ObjectFactory.
type Factory struct {
	PageSize int
}

var _ vmiface.ObjectFactory = (*Factory)(nil)

func NewFactory(pageSize int) *Factory {
	return &Factory{PageSize: pageSize}
}

func (f *Factory) NewObject(size uint64) vmiface.Object {
	return NewObject(size, f.PageSize)
}
