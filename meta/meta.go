// Package meta implements the swap pager's metadata store: a
// process-global hash table mapping (object, page-index) pairs to
// swap-block assignments. It is the direct descendant of the
// teacher's hash-bucket-plus-chain shape in bufmgr.go (hashTable
// []HashEntry, each entry chaining Latchs via .next), applied here to
// MetaBlock buckets instead of page latches.
package meta

import (
	"sync"

	"github.com/ryogrid/go-swap-pager/blist"
	"github.com/ryogrid/go-swap-pager/device"
)

// Pages is SWAP_META_PAGES: the number of consecutive page indices one
// Block describes. Must be a power of two.
const Pages = 16

const pagesLog2 = 4 // log2(Pages)

// CtlFlags controls Store.Ctl's side effects.
type CtlFlags int

const (
	// CtlFree frees the slot: the assignment is removed from the
	// Block and the underlying bit is returned to the bitmap (unless
	// the owning device is closing, in which case the bit is left
	// quarantined; see Store.releaseLocked).
	CtlFree CtlFlags = 1 << iota
	// CtlPop removes the assignment from the Block and decrements
	// bookkeeping exactly like CtlFree, but leaves the underlying bit
	// allocated: ownership of the slot is being transferred to
	// another (object, pindex) pair by the caller, not released.
	CtlPop
)

// Block is a bucket describing up to Pages consecutive page indices
// of one object (spec's MetaBlock). Base is page-index aligned to
// Pages. Count is the number of non-None entries in Slots; invariant:
// Count == len({i : Slots[i] != None}).
type Block struct {
	Object uint64
	Base   uint64
	Slots  [Pages]blist.Slot
	Count  int

	next *Block
}

func newBlock(object, base uint64) *Block {
	b := &Block{Object: object, Base: base}
	for i := range b.Slots {
		b.Slots[i] = blist.None
	}
	return b
}

// Store is the hash table of Block chains, plus the bookkeeping tying
// slot assignments back to the bitmap and device used-counters. Its
// mutex serialises the hash table and the bitmap frees and used-counter
// updates that Build/Free/FreeAll/Ctl make. The bitmap and each device
// also carry their own locks, and allocation from the bitmap (the
// pager's getSwapSpace, SwapOn/SwapOff's Fill and Free) runs without
// holding this mutex.
type Store struct {
	mu      sync.Mutex
	buckets []*Block
	mask    uint64

	bitmap  *blist.Bitmap
	devices *device.Table
	dmmax   int64
	ndev    int

	// BlockCreated and BlockDestroyed are optional hooks the pager
	// installs to maintain its own per-object bcount and SWAP/DEFAULT
	// type tag (spec §3 "Object pager state"), which this package
	// deliberately does not own: object lifecycle belongs to the VM
	// collaborator, not the metadata store.
	BlockCreated   func(object uint64)
	BlockDestroyed func(object uint64)
}

// NewStore creates a metadata store with a hash table sized to the
// next power of two at or above nbuckets, backed by bitmap for slot
// allocation state and devices for per-device used counters.
func NewStore(nbuckets int, bitmap *blist.Bitmap, devices *device.Table, dmmax int64, ndev int) *Store {
	n := nextPow2(nbuckets)
	return &Store{
		buckets: make([]*Block, n),
		mask:    uint64(n - 1),
		bitmap:  bitmap,
		devices: devices,
		dmmax:   dmmax,
		ndev:    ndev,
	}
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func bucketIndexFor(object, base, mask uint64) uint64 {
	return (object ^ (base >> pagesLog2)) & mask
}

func alignBase(pindex uint64) (base uint64, off int) {
	base = pindex - pindex%Pages
	off = int(pindex % Pages)
	return base, off
}

// Build records that page pindex of object is at slot, converting
// object to SWAP type (via BlockCreated) the first time a Block is
// created for it. If a previous assignment existed at this index, it
// is released first (spec §4.2 meta_build).
func (s *Store) Build(object, pindex uint64, slot blist.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, off := alignBase(pindex)
	blk := s.getOrCreateLocked(object, base)

	if old := blk.Slots[off]; old != blist.None {
		s.releaseLocked(old)
		blk.Count--
	}
	blk.Slots[off] = slot
	if slot != blist.None {
		blk.Count++
		s.claimLocked(slot)
	}
	if blk.Count == 0 {
		s.destroyLocked(blk)
	}
}

// Free frees count consecutive assignments of object starting at
// index, returning freed slots to the bitmap and destroying any Block
// that reaches Count == 0 (spec §4.2 meta_free).
func (s *Store) Free(object, index uint64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < count; {
		pindex := index + uint64(i)
		base, off := alignBase(pindex)
		blk := s.lookupLocked(object, base)
		if blk == nil {
			i += Pages - off
			continue
		}
		for ; off < Pages && i < count; off, i = off+1, i+1 {
			slot := blk.Slots[off]
			if slot == blist.None {
				continue
			}
			s.releaseLocked(slot)
			blk.Slots[off] = blist.None
			blk.Count--
		}
		if blk.Count == 0 {
			s.destroyLocked(blk)
		}
	}
}

// FreeAll iterates every Block belonging to object, frees every slot,
// and destroys every such Block (spec §4.2 meta_free_all).
func (s *Store) FreeAll(object uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx, head := range s.buckets {
		var prev *Block
		blk := head
		for blk != nil {
			next := blk.next
			if blk.Object != object {
				prev = blk
				blk = next
				continue
			}
			for off := 0; off < Pages; off++ {
				if slot := blk.Slots[off]; slot != blist.None {
					s.releaseLocked(slot)
				}
			}
			if prev == nil {
				s.buckets[idx] = next
			} else {
				prev.next = next
			}
			blk.next = nil
			if s.BlockDestroyed != nil {
				s.BlockDestroyed(object)
			}
			blk = next
		}
	}
}

// Ctl is the unified lookup/pop/free operation (spec §4.2 meta_ctl).
// It always returns the current slot assignment (or blist.None, false
// if there is none). CtlFree additionally returns the bit to the
// bitmap; CtlPop additionally nulls the entry and decrements
// bookkeeping but leaves the bit allocated, for transfer to another
// (object, pindex) via a subsequent Build.
func (s *Store) Ctl(object, pindex uint64, flags CtlFlags) (blist.Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, off := alignBase(pindex)
	blk := s.lookupLocked(object, base)
	if blk == nil {
		return blist.None, false
	}
	slot := blk.Slots[off]
	if slot == blist.None {
		return blist.None, false
	}

	if flags&(CtlFree|CtlPop) != 0 {
		if flags&CtlFree != 0 {
			s.releaseLocked(slot)
		} else {
			s.unclaimLocked(slot)
		}
		blk.Slots[off] = blist.None
		blk.Count--
		if blk.Count == 0 {
			s.destroyLocked(blk)
		}
	}
	return slot, true
}

// Entry is one (object, page-index, slot) assignment, returned by
// SlotsOnDevice for swapoff's drain scan (spec §4.9 step 4).
type Entry struct {
	Object uint64
	PIndex uint64
	Slot   blist.Slot
}

// SlotsOnDevice returns every current assignment whose slot maps to
// device index devIdx under the given interleave, snapshotting the
// whole store under one lock acquisition. It is the Go-idiomatic
// substitute for spec §4.9's "for each hash bucket, for each
// MetaBlock in its chain, scan the SWAP_META_PAGES slots for any whose
// device index matches idx, restarting the scan after any mutation":
// since a single mutex already serializes all metadata mutation, a
// snapshot-then-process loop (driven by the pager, see
// pager.SwapOff's "scan, process all found, repeat until a pass finds
// nothing" loop) is equivalent without the chain-restart dance the
// original needs to cope with interrupt-context mutation.
func (s *Store) SlotsOnDevice(devIdx int, dmmax int64, ndev int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, head := range s.buckets {
		for blk := head; blk != nil; blk = blk.next {
			for off, slot := range blk.Slots {
				if slot == blist.None {
					continue
				}
				di, _ := device.SlotToDevice(slot, dmmax, ndev)
				if di == devIdx {
					out = append(out, Entry{Object: blk.Object, PIndex: blk.Base + uint64(off), Slot: slot})
				}
			}
		}
	}
	return out
}

// Lookup is a read-only query equivalent to Ctl(object, pindex, 0):
// it returns the current slot without mutating any state.
func (s *Store) Lookup(object, pindex uint64) (blist.Slot, bool) {
	return s.Ctl(object, pindex, 0)
}

func (s *Store) lookupLocked(object, base uint64) *Block {
	idx := bucketIndexFor(object, base, s.mask)
	for blk := s.buckets[idx]; blk != nil; blk = blk.next {
		if blk.Object == object && blk.Base == base {
			return blk
		}
	}
	return nil
}

func (s *Store) getOrCreateLocked(object, base uint64) *Block {
	if blk := s.lookupLocked(object, base); blk != nil {
		return blk
	}
	idx := bucketIndexFor(object, base, s.mask)
	blk := newBlock(object, base)
	blk.next = s.buckets[idx]
	s.buckets[idx] = blk
	if s.BlockCreated != nil {
		s.BlockCreated(object)
	}
	return blk
}

func (s *Store) destroyLocked(blk *Block) {
	idx := bucketIndexFor(blk.Object, blk.Base, s.mask)
	if s.buckets[idx] == blk {
		s.buckets[idx] = blk.next
	} else {
		for p := s.buckets[idx]; p != nil; p = p.next {
			if p.next == blk {
				p.next = blk.next
				break
			}
		}
	}
	blk.next = nil
	if s.BlockDestroyed != nil {
		s.BlockDestroyed(blk.Object)
	}
}

// releaseLocked drops a real reference to slot. Unless the owning
// device is closing, the bit is returned to the bitmap; while
// closing, the bit stays allocated (quarantined against reuse until
// the device is fully removed) even though the reference accounting
// still drops, so device.used correctly reaches zero by the end of a
// swapoff drain (spec §4.9 step 5) while the bitmap keeps the device's
// stripes pinned throughout the drain window.
func (s *Store) releaseLocked(slot blist.Slot) {
	idx, _ := device.SlotToDevice(slot, s.dmmax, s.ndev)
	dev := s.devices.Get(idx)
	if dev == nil || !dev.IsClosing() {
		s.bitmap.Free(slot, 1)
	}
	s.devices.AddUsed(idx, -1)
}

func (s *Store) claimLocked(slot blist.Slot) {
	idx, _ := device.SlotToDevice(slot, s.dmmax, s.ndev)
	s.devices.AddUsed(idx, 1)
}

func (s *Store) unclaimLocked(slot blist.Slot) {
	idx, _ := device.SlotToDevice(slot, s.dmmax, s.ndev)
	s.devices.AddUsed(idx, -1)
}
