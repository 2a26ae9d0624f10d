package device

import "fmt"

// FaultBackend wraps another Backend and fails every write that starts
// at one of a configured set of "faulty" byte offsets; a write that
// starts elsewhere passes through even if its range covers one. It
// exists to drive the write-error quarantine scenario (spec §8 S5):
// real swap devices cannot be made to fail I/O on demand, so tests
// need a deterministic fault injector in their place.
type FaultBackend struct {
	Backend
	faultyOffsets map[int64]bool
}

var _ Backend = (*FaultBackend)(nil)

// NewFaultBackend wraps backend, failing writes that start at any of
// the given byte offsets.
func NewFaultBackend(backend Backend, faultyOffsets ...int64) *FaultBackend {
	set := make(map[int64]bool, len(faultyOffsets))
	for _, o := range faultyOffsets {
		set[o] = true
	}
	return &FaultBackend{Backend: backend, faultyOffsets: set}
}

func (fb *FaultBackend) WriteAt(p []byte, off int64) (int, error) {
	if fb.faultyOffsets[off] {
		return 0, fmt.Errorf("device: injected write fault at offset %d", off)
	}
	return fb.Backend.WriteAt(p, off)
}
