package dump

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultMaxReadSize is the hard per-call cap on a single read.
// A corrupted length field can never make the reader allocate more.
const DefaultMaxReadSize = 1 << 20

// Reader gives bounded, positioned access to a dump file.
// It never maps or loads the whole file; every access is a pread of at
// most maxRead bytes, so it is safe for concurrent use.
type Reader struct {
	src     io.ReaderAt
	closer  io.Closer
	size    int64
	path    string
	maxRead int
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxReadSize sets the per-call read cap. Non-positive values are ignored.
func WithMaxReadSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxRead = n
		}
	}
}

// Open opens the dump file at path read-only.
// Failures are returned as KindIO errors.
func Open(path string, opts ...ReaderOption) (*Reader, error) {
	f, err := os.Open(path) //nolint:gosec // reading a user-selected dump is the point of the tool
	if err != nil {
		return nil, NewError(KindIO, "open dump", NoOffset, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, NewError(KindIO, "stat dump", NoOffset, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, NewError(KindIO, "open dump", NoOffset, fmt.Errorf("%s is a directory", path))
	}

	r := NewReader(f, info.Size(), opts...)
	r.closer = f
	r.path = path
	return r, nil
}

// NewReader wraps an arbitrary io.ReaderAt of the given size.
// It is used for in-memory fixtures; Close is a no-op for such readers.
func NewReader(src io.ReaderAt, size int64, opts ...ReaderOption) *Reader {
	r := &Reader{
		src:     src,
		size:    size,
		maxRead: DefaultMaxReadSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Size returns the actual size of the file in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Path returns the path the reader was opened from, or "" for in-memory readers.
func (r *Reader) Path() string {
	return r.path
}

// MaxReadSize returns the per-call read cap.
func (r *Reader) MaxReadSize() int {
	return r.maxRead
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// check validates a read of n bytes at off against the cap and the file size.
func (r *Reader) check(off int64, n int) error {
	if n < 0 || n > r.maxRead {
		return NewError(KindIO, fmt.Sprintf("read of %d bytes", n), off,
			fmt.Errorf("exceeds per-read cap of %d bytes", r.maxRead))
	}
	if off < 0 || off > r.size {
		return NewError(KindIO, "read", off, fmt.Errorf("offset outside file of %d bytes", r.size))
	}
	if int64(n) > r.size-off {
		return NewError(KindIO, fmt.Sprintf("read of %d bytes", n), off,
			fmt.Errorf("file truncated: only %d bytes remain", r.size-off))
	}
	return nil
}

// ReadAt implements io.ReaderAt with the reader's bounds checks.
// A read that would cross the end of the file fails before touching it.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if err := r.check(off, len(p)); err != nil {
		return 0, err
	}
	n, err := r.src.ReadAt(p, off)
	if n == len(p) {
		return n, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return n, NewError(KindIO, "read", off, err)
}

// ReadBytes returns length bytes starting at off.
// The buffer is only allocated after the bounds checks pass.
func (r *Reader) ReadBytes(off int64, length int) ([]byte, error) {
	if err := r.check(off, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// Uint64At reads a little-endian uint64 at off.
func (r *Reader) Uint64At(off int64) (uint64, error) {
	var b [8]byte
	if _, err := r.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Uint32At reads a little-endian uint32 at off.
func (r *Reader) Uint32At(off int64) (uint32, error) {
	var b [4]byte
	if _, err := r.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
