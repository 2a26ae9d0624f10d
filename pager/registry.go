package pager

import (
	"context"

	"github.com/ryogrid/go-swap-pager/vmiface"
)

// stubPager implements vmiface.Pager for a PagerType this repo does
// not provide a real backing store for (spec §6/§9: DEFAULT, DEVICE,
// and VNODE objects are routed to their own pager-type vtable entries,
// of which only SWAP is implemented here). Every method fails with
// ErrNotImplemented rather than panicking, since a caller dispatching
// through the registry by PagerType has no way to know in advance
// which types are real.
type stubPager struct {
	kind vmiface.PagerType
}

var _ vmiface.Pager = (*stubPager)(nil)

func (s *stubPager) Init() error { return nil }

func (s *stubPager) Alloc(handle string, size uint64, offset uint64) (vmiface.Object, error) {
	return nil, ErrNotImplemented
}

func (s *stubPager) Dealloc(obj vmiface.Object) error { return ErrNotImplemented }

func (s *stubPager) GetPages(ctx context.Context, obj vmiface.Object, pages []vmiface.Page, reqpage int) (vmiface.GetPagesResult, error) {
	return vmiface.ResultError, ErrNotImplemented
}

func (s *stubPager) PutPages(ctx context.Context, obj vmiface.Object, pages []vmiface.Page, sync bool, rtvals []vmiface.PutRC) error {
	return ErrNotImplemented
}

func (s *stubPager) HasPage(obj vmiface.Object, pindex uint64) (bool, int, int) {
	return false, 0, 0
}

func (s *stubPager) Unswapped(page vmiface.Page) {}

func (s *stubPager) Strategy(obj vmiface.Object, bio *vmiface.BIO) error {
	return ErrNotImplemented
}

// Registry builds the PagerType -> Pager vtable dispatch table (spec
// §6's "swap_pager_alloc et al. dispatch through a type-keyed vtable").
// swap is installed as the live SWAP implementation; DEFAULT, DEVICE,
// and VNODE are stubs, since this repo only implements anonymous-memory
// swap backing.
func Registry(swap *SwapPager) map[vmiface.PagerType]vmiface.Pager {
	return map[vmiface.PagerType]vmiface.Pager{
		vmiface.Swap:    swap,
		vmiface.Default: &stubPager{kind: vmiface.Default},
		vmiface.Device:  &stubPager{kind: vmiface.Device},
		vmiface.Vnode:   &stubPager{kind: vmiface.Vnode},
	}
}
