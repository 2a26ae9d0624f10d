package meta

import (
	"testing"

	"github.com/ryogrid/go-swap-pager/blist"
	"github.com/ryogrid/go-swap-pager/device"
)

func newTestStore(t *testing.T, nbits int64) (*Store, *blist.Bitmap, *device.Table) {
	t.Helper()
	bm := blist.New(nbits)
	tbl := device.NewTable(device.DefaultCount)
	if _, err := tbl.Install(&device.Device{Backend: device.NewMemBackend(nbits * 4096), NBlks: nbits}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	const dmmax = 16
	return NewStore(4, bm, tbl, dmmax, 1), bm, tbl
}

func usedOf(tbl *device.Table, idx int) int64 {
	for _, info := range tbl.Snapshot() {
		if info.Index == idx {
			return info.Used
		}
	}
	return -1
}

func TestBuildAssignsSlotAndIncrementsUsed(t *testing.T) {
	store, bm, tbl := newTestStore(t, 64)

	slot := bm.Alloc(1)
	if slot == blist.None {
		t.Fatalf("Alloc failed")
	}
	store.Build(1, 0, slot)

	got, ok := store.Lookup(1, 0)
	if !ok || got != slot {
		t.Fatalf("Lookup(1,0) = (%v,%v), want (%v,true)", got, ok, slot)
	}
	if used := usedOf(tbl, 0); used != 1 {
		t.Fatalf("device used = %d, want 1", used)
	}
}

func TestBuildReplacesPreviousAssignment(t *testing.T) {
	store, bm, _ := newTestStore(t, 64)

	slotA := bm.Alloc(1)
	store.Build(1, 5, slotA)

	slotB := bm.Alloc(1)
	store.Build(1, 5, slotB)

	if bm.IsAllocated(slotA) {
		t.Fatalf("old slot %d should have been freed back to the bitmap", slotA)
	}
	got, ok := store.Lookup(1, 5)
	if !ok || got != slotB {
		t.Fatalf("Lookup(1,5) = (%v,%v), want (%v,true)", got, ok, slotB)
	}
}

func TestFreeDestroysBlockAtZeroCount(t *testing.T) {
	store, bm, _ := newTestStore(t, 64)

	var destroyed []uint64
	store.BlockDestroyed = func(object uint64) { destroyed = append(destroyed, object) }

	slot := bm.Alloc(1)
	store.Build(7, 3, slot)
	store.Free(7, 3, 1)

	if _, ok := store.Lookup(7, 3); ok {
		t.Fatalf("expected no assignment after Free")
	}
	if bm.IsAllocated(slot) {
		t.Fatalf("slot should have been returned to the bitmap")
	}
	if len(destroyed) != 1 || destroyed[0] != 7 {
		t.Fatalf("BlockDestroyed callback = %v, want [7]", destroyed)
	}
}

func TestCtlPopTransfersOwnershipWithoutFreeingBitmap(t *testing.T) {
	store, bm, tbl := newTestStore(t, 64)

	slot := bm.Alloc(1)
	store.Build(1, 0, slot)

	popped, ok := store.Ctl(1, 0, CtlPop)
	if !ok || popped != slot {
		t.Fatalf("Ctl(pop) = (%v,%v), want (%v,true)", popped, ok, slot)
	}
	if !bm.IsAllocated(slot) {
		t.Fatalf("popped slot must remain allocated in the bitmap")
	}
	if _, ok := store.Lookup(1, 0); ok {
		t.Fatalf("source assignment should be gone after pop")
	}

	store.Build(2, 0, popped)
	got, ok := store.Lookup(2, 0)
	if !ok || got != slot {
		t.Fatalf("Lookup(2,0) = (%v,%v), want (%v,true)", got, ok, slot)
	}
	if used := usedOf(tbl, 0); used != 1 {
		t.Fatalf("device used = %d, want 1 (no double counting across pop+rebuild)", used)
	}
}

func TestFreeAllClearsAllBlocksForObject(t *testing.T) {
	store, bm, _ := newTestStore(t, 64)

	for i := uint64(0); i < 40; i++ {
		store.Build(9, i, bm.Alloc(1))
	}
	store.FreeAll(9)

	for i := uint64(0); i < 40; i++ {
		if _, ok := store.Lookup(9, i); ok {
			t.Fatalf("Lookup(9,%d) still assigned after FreeAll", i)
		}
	}
	if n := bm.AllocatedCount(); n != 0 {
		t.Fatalf("AllocatedCount() = %d, want 0 after FreeAll", n)
	}
}

func TestClosingDeviceQuarantinesFreedSlots(t *testing.T) {
	store, bm, tbl := newTestStore(t, 64)

	slot := bm.Alloc(1)
	store.Build(1, 0, slot)
	tbl.MarkClosing(0)

	store.Free(1, 0, 1)

	if !bm.IsAllocated(slot) {
		t.Fatalf("slot on a closing device must stay allocated (quarantined)")
	}
	if used := usedOf(tbl, 0); used != 0 {
		t.Fatalf("device used = %d, want 0 even though the bit is quarantined", used)
	}
}
