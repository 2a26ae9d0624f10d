package device

import (
	"sync"

	"github.com/dsnet/golib/memfile"
)

// MemBackend is an in-memory Backend over github.com/dsnet/golib/memfile,
// used by tests and by example programs in place of a real disk. Like
// FileBackend's directio dependency, this is a teacher go.mod
// dependency (dsnet/golib/memfile) that the trimmed buffer-manager
// files never exercised; here it backs the fast, deterministic device
// used throughout the pager's test suite.
type MemBackend struct {
	mu   sync.Mutex
	file *memfile.File
	size int64
}

var _ Backend = (*MemBackend)(nil)

// NewMemBackend creates an in-memory backend of sizeBytes, zero-filled.
func NewMemBackend(sizeBytes int64) *MemBackend {
	return &MemBackend{
		file: memfile.New(make([]byte, sizeBytes)),
		size: sizeBytes,
	}
}

func (mb *MemBackend) ReadAt(p []byte, off int64) (int, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.file.ReadAt(p, off)
}

func (mb *MemBackend) WriteAt(p []byte, off int64) (int, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.file.WriteAt(p, off)
}

func (mb *MemBackend) Size() int64 { return mb.size }

func (mb *MemBackend) Close() error { return nil }
