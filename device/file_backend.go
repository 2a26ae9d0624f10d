package device

import (
	"os"

	"github.com/ncw/directio"
	"github.com/pkg/errors"
)

// FileBackend is a Backend over a real file opened with O_DIRECT via
// github.com/ncw/directio, giving swap I/O the unbuffered,
// page-aligned character of a real swap partition. This is the
// concrete home the teacher's own (previously unwired) directio
// dependency never got in the trimmed buffer-manager files: the
// on-disk swap device.
//
// Callers must size and align read/write buffers to
// directio.BlockSize and issue offsets aligned to the same boundary,
// exactly as any O_DIRECT consumer must; device.AlignedPageBuffer
// provides a correctly aligned buffer of one pager page.
type FileBackend struct {
	f    *os.File
	size int64
}

var _ Backend = (*FileBackend)(nil)

// OpenFileBackend opens (or creates, truncating to sizeBytes) path as
// an O_DIRECT backed swap device.
func OpenFileBackend(path string, create bool, sizeBytes int64) (*FileBackend, error) {
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	f, err := directio.OpenFile(path, flag, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "device: open swap file %q", path)
	}
	if create {
		if err := f.Truncate(sizeBytes); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "device: truncate swap file %q to %d bytes", path, sizeBytes)
		}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "device: stat swap file %q", path)
	}
	return &FileBackend{f: f, size: info.Size()}, nil
}

func (fb *FileBackend) ReadAt(p []byte, off int64) (int, error) {
	return fb.f.ReadAt(p, off)
}

func (fb *FileBackend) WriteAt(p []byte, off int64) (int, error) {
	return fb.f.WriteAt(p, off)
}

func (fb *FileBackend) Size() int64 { return fb.size }

func (fb *FileBackend) Close() error { return fb.f.Close() }

// AlignedPageBuffer returns a zeroed buffer of n bytes aligned to
// directio.BlockSize, suitable for direct I/O against a FileBackend.
func AlignedPageBuffer(n int) []byte {
	return directio.AlignedBlock(n)
}
