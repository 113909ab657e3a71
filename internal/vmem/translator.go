// Package vmem translates kernel virtual addresses to dump-file offsets.
//
// Translation walks the x64 4-level page-table hierarchy (PML4, PDPT, PD,
// PT) rooted at the header's page-table base. Each level costs one 8-byte
// read at the file offset of the entry's physical address, found by binary
// search over the dump's physical memory runs. A Translator holds no
// mutable state and may be shared between goroutines.
package vmem

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nao1215/dumpscan/internal/dump"
)

const (
	pageSize = dump.PageSize

	entryPresent  = 1 << 0
	entryPageSize = 1 << 7

	frameMask   = 0x000FFFFFFFFFF000
	frameMask1G = 0x000FFFFFC0000000
	frameMask2M = 0x000FFFFFFFE00000

	offsetMask1G = 0x3FFFFFFF
	offsetMask2M = 0x1FFFFF
	offsetMask4K = 0xFFF
)

// levels names each paging level with the shift of its index bits.
var levels = [...]struct {
	name  string
	shift uint
}{
	{"PML4", 39},
	{"PDPT", 30},
	{"PD", 21},
	{"PT", 12},
}

// Translator resolves kernel virtual addresses inside one dump.
type Translator struct {
	r    *dump.Reader
	runs dump.RunList
	base uint64
}

// New returns a Translator over r using the run list and the physical
// address of the top-level page table.
func New(r *dump.Reader, runs dump.RunList, pageTableBase uint64) *Translator {
	return &Translator{
		r:    r,
		runs: runs,
		base: pageTableBase & frameMask,
	}
}

// PhysicalOffset maps a physical address to its file offset.
func (t *Translator) PhysicalOffset(pa uint64) (int64, error) {
	off, ok := t.runs.FileOffset(pa)
	if !ok {
		return 0, dump.NewError(dump.KindTranslationFailed, "map physical address", dump.NoOffset,
			fmt.Errorf("physical address %#x is not in the dump", pa))
	}
	return off, nil
}

// Translate returns the file offset holding the byte at va.
// A cleared present bit at any level, or a physical address outside every
// run, fails with KindTranslationFailed without reading further levels.
func (t *Translator) Translate(va uint64) (int64, error) {
	table := t.base
	for i, level := range levels {
		slot := table + ((va>>level.shift)&0x1FF)*8
		off, err := t.PhysicalOffset(slot)
		if err != nil {
			return 0, translationError(va, level.name, err)
		}
		entry, err := t.r.Uint64At(off)
		if err != nil {
			return 0, translationError(va, level.name, err)
		}
		if entry&entryPresent == 0 {
			return 0, translationError(va, level.name, fmt.Errorf("entry %#x not present", entry))
		}

		switch {
		case i == 1 && entry&entryPageSize != 0:
			return t.PhysicalOffset(entry&frameMask1G | va&offsetMask1G)
		case i == 2 && entry&entryPageSize != 0:
			return t.PhysicalOffset(entry&frameMask2M | va&offsetMask2M)
		}
		table = entry & frameMask
	}
	return t.PhysicalOffset(table | va&offsetMask4K)
}

func translationError(va uint64, level string, err error) error {
	return dump.NewError(dump.KindTranslationFailed, fmt.Sprintf("translate %#x at %s", va, level), dump.NoOffset, err)
}

// ReadVirtual reads n bytes starting at va. Reads are split at page
// boundaries and each page is translated separately.
func (t *Translator) ReadVirtual(va uint64, n int) ([]byte, error) {
	if n < 0 || n > t.r.MaxReadSize() {
		return nil, dump.NewError(dump.KindIO, fmt.Sprintf("virtual read of %d bytes", n), dump.NoOffset,
			fmt.Errorf("exceeds per-read cap of %d bytes", t.r.MaxReadSize()))
	}
	buf := make([]byte, n)
	for done := 0; done < n; {
		addr := va + uint64(done)
		chunk := min(n-done, int(pageSize-addr%pageSize))
		off, err := t.Translate(addr)
		if err != nil {
			return nil, err
		}
		if _, err := t.r.ReadAt(buf[done:done+chunk], off); err != nil {
			return nil, err
		}
		done += chunk
	}
	return buf, nil
}

// ReadUint64 reads a little-endian uint64 at va.
func (t *Translator) ReadUint64(va uint64) (uint64, error) {
	b, err := t.ReadVirtual(va, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ImageReader exposes size bytes of virtual memory starting at base as an
// io.ReaderAt, offset 0 being base. It is used to parse loaded PE images.
func (t *Translator) ImageReader(base uint64, size uint32) io.ReaderAt {
	return &imageReader{t: t, base: base, size: int64(size)}
}

type imageReader struct {
	t    *Translator
	base uint64
	size int64
}

// ReadAt implements io.ReaderAt. Reads past the image end return io.EOF
// with the bytes that fit.
func (ir *imageReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= ir.size {
		return 0, io.EOF
	}
	want := int(min(int64(len(p)), ir.size-off))
	step := ir.t.r.MaxReadSize()
	for done := 0; done < want; {
		n := min(want-done, step)
		b, err := ir.t.ReadVirtual(ir.base+uint64(off)+uint64(done), n)
		if err != nil {
			return done, err
		}
		copy(p[done:], b)
		done += n
	}
	if want < len(p) {
		return want, io.EOF
	}
	return want, nil
}
