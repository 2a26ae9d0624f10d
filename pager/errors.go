package pager

import "github.com/pkg/errors"

// Sentinel errors, compared with errors.Is, matching the
// bufferpool.ErrNoFreeFrame/ErrPagePinned pattern from the pack's
// novasql bufferpool rather than bespoke error types.
var (
	// ErrNoSpace is returned when the block allocator cannot satisfy
	// even the minimum back-off allocation size (spec §4.1/§7).
	ErrNoSpace = errors.New("pager: no swap space available")

	// ErrIORead is a read-path I/O failure (spec §7: surfaced to the
	// caller as VM_PAGER_ERROR).
	ErrIORead = errors.New("pager: swap read I/O error")

	// ErrIOWrite is a write-path I/O failure. Never surfaced to the
	// pageout caller per spec §7 — write failures quarantine the slot
	// and redirty the page instead of propagating.
	ErrIOWrite = errors.New("pager: swap write I/O error")

	// ErrNotSwapDevice is returned by SwapOff for a device index that
	// holds no active swap device.
	ErrNotSwapDevice = errors.New("pager: not an active swap device")

	// ErrBusy is returned by SwapOn when the swapon/swapoff sequencer
	// is already held and the caller's context expired while waiting.
	ErrBusy = errors.New("pager: swapon/swapoff already in progress")

	// ErrInsufficientMemory is ENOMEM-equivalent: SwapOff refuses to
	// begin a drain it cannot guarantee will fit back in core (spec
	// §4.9 step 1).
	ErrInsufficientMemory = errors.New("pager: insufficient memory to absorb drained swap")

	// ErrDeviceTableFull is returned by SwapOn when all NSwapDev slots
	// are occupied.
	ErrDeviceTableFull = errors.New("pager: device table is full")

	// ErrNotImplemented is returned by stub Registry entries for pager
	// types other than Swap (spec §9: "core implements the SWAP
	// variant").
	ErrNotImplemented = errors.New("pager: pager type not implemented")
)

// invariant panics with a formatted message when cond is false. This
// is the reimplementation's hard assert for the fatal invariant
// violations spec §7 says panic the original kernel outright (e.g.
// swapoff failing to drain, mismatched object state) — matching the
// teacher's own style of panicking on broken invariants
// (NewBufMgr's `panic("Unable to create btree page zero")`) rather
// than a silently-ignored debug-only check.
func invariant(cond bool, msg string, args ...any) {
	if !cond {
		panic(errors.Errorf(msg, args...))
	}
}
