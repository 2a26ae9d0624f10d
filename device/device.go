// Package device implements the swap pager's device table: the
// fixed-capacity array of swap-device descriptors and the interleave
// math that stripes logical swap addresses across them. It mirrors the
// fixed-capacity-slice-indexed-by-slot shape of the teacher's
// bufmgr.go (mgr.pagePool, mgr.latchs, mgr.hashTable are all
// fixed-capacity slices sized once at construction and indexed by
// integer slot), applied here to swap devices instead of buffer
// frames.
package device

import (
	"fmt"
	"sync"

	"github.com/ryogrid/go-swap-pager/blist"
)

// DefaultCount is NSWAPDEV: the default maximum number of concurrently
// active swap devices.
const DefaultCount = 4

// Flags describes device lifecycle state.
type Flags uint32

const (
	// FlagClosing is set by SwapOff before draining begins; it blocks
	// further allocation onto this device (spec §4.9 step 2) while
	// still permitting reads already in flight to complete.
	FlagClosing Flags = 1 << iota
	// FlagFreed marks a table slot as not holding a live device.
	FlagFreed
)

// Device describes one active swap device.
type Device struct {
	mu sync.Mutex

	Backend Backend
	Path    string

	// NBlks is the device's capacity in page-sized blocks.
	NBlks int64
	// Used is the number of blocks currently allocated on this device.
	Used int64

	flags Flags
}

func (d *Device) IsClosing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flags&FlagClosing != 0
}

func (d *Device) markClosing() {
	d.mu.Lock()
	d.flags |= FlagClosing
	d.mu.Unlock()
}

func (d *Device) addUsed(delta int64) {
	d.mu.Lock()
	d.Used += delta
	d.mu.Unlock()
}

func (d *Device) usedCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Used
}

// Info is a point-in-time snapshot of a device, used by the metrics
// collector and the vm.swap_info sysctl-equivalent surface.
type Info struct {
	Index int
	Path  string
	NBlks int64
	Used  int64
	Flags Flags
}

// Table is the fixed-capacity array of device descriptors, striped at
// a fixed DMMAX stripe size by the pager.
type Table struct {
	mu      sync.Mutex
	devices []*Device // len == capacity; nil entry == free slot
}

// NewTable creates a device table with room for capacity devices.
func NewTable(capacity int) *Table {
	return &Table{devices: make([]*Device, capacity)}
}

// Capacity returns NSWAPDEV for this table.
func (t *Table) Capacity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.devices)
}

// Install places dev in the first free table slot and returns its
// index, or an error if the table is full.
func (t *Table) Install(dev *Device) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, d := range t.devices {
		if d == nil {
			t.devices[i] = dev
			return i, nil
		}
	}
	return -1, fmt.Errorf("device: table has no free slot (capacity %d)", len(t.devices))
}

// Get returns the device at idx, or nil if the slot is free or out of
// range.
func (t *Table) Get(idx int) *Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.devices) {
		return nil
	}
	return t.devices[idx]
}

// Remove clears the table slot at idx.
func (t *Table) Remove(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx >= 0 && idx < len(t.devices) {
		t.devices[idx] = nil
	}
}

// ActiveCount returns the number of non-nil device slots.
func (t *Table) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, d := range t.devices {
		if d != nil {
			n++
		}
	}
	return n
}

// MaxBlocks returns the largest NBlks among active devices, used by
// SwapOn to size the bitmap (nswap = MaxBlocks * NDEV) after a device
// is installed.
func (t *Table) MaxBlocks() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var max int64
	for _, d := range t.devices {
		if d != nil && d.NBlks > max {
			max = d.NBlks
		}
	}
	return max
}

// Snapshot returns an Info for every active device, in table-index
// order, for sysctl/metrics consumption.
func (t *Table) Snapshot() []Info {
	t.mu.Lock()
	devs := append([]*Device(nil), t.devices...)
	t.mu.Unlock()

	out := make([]Info, 0, len(devs))
	for i, d := range devs {
		if d == nil {
			continue
		}
		d.mu.Lock()
		out = append(out, Info{Index: i, Path: d.Path, NBlks: d.NBlks, Used: d.Used, Flags: d.flags})
		d.mu.Unlock()
	}
	return out
}

// AddUsed adjusts the used-block counter of the device at idx. It is
// the metadata store's responsibility to call this under its own
// mutex whenever a slot on that device is allocated or freed (spec §5:
// device used counters are covered by the metadata mutex).
func (t *Table) AddUsed(idx int, delta int64) {
	d := t.Get(idx)
	if d == nil {
		return
	}
	d.addUsed(delta)
}

// MarkClosing flags the device at idx as closing, per SwapOff step 2.
func (t *Table) MarkClosing(idx int) {
	d := t.Get(idx)
	if d == nil {
		return
	}
	d.markClosing()
}

// Used returns the current used-block counter of the device at idx, or
// 0 if the slot is free. SwapOff's post-drain check (spec §4.9 step 5,
// "device.used == 0") reads this.
func (t *Table) Used(idx int) int64 {
	d := t.Get(idx)
	if d == nil {
		return 0
	}
	return d.usedCount()
}

// SlotToDevice converts a logical, page-unit swap block number into
// (device index, device-local block number) under the fixed DMMAX
// interleave (spec §3, §4.7):
//
//	off  = blk mod dmmax
//	seg  = blk / dmmax
//	dev  = seg mod ndev
//	dblk = (seg / ndev) * dmmax + off
func SlotToDevice(blk blist.Slot, dmmax int64, ndev int) (devIdx int, devBlock int64) {
	b := int64(blk)
	off := b % dmmax
	seg := b / dmmax
	devIdx = int(seg % int64(ndev))
	devBlock = (seg/int64(ndev))*dmmax + off
	return devIdx, devBlock
}
