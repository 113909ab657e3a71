package vmem

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/nao1215/dumpscan/internal/dump"
	"github.com/nao1215/dumpscan/internal/dump/dumptest"
)

const kernelBase uint64 = 0xFFFFF80000000000

type fixture struct {
	data    []byte
	counter *dumptest.CountingReaderAt
	tr      *Translator
}

func newFixture(t *testing.T, b *dumptest.Builder, opts ...dump.ReaderOption) *fixture {
	t.Helper()

	data := b.Bytes()
	counter := &dumptest.CountingReaderAt{R: bytes.NewReader(data)}
	r := dump.NewReader(counter, int64(len(data)), opts...)
	h, err := dump.ParseHeader(r)
	if err != nil {
		t.Fatalf("failed to parse fixture header: %v", err)
	}
	base, err := h.PageTableBase()
	if err != nil {
		t.Fatalf("fixture has no page-table base: %v", err)
	}
	counter.ResetReads()
	return &fixture{data: data, counter: counter, tr: New(r, h.Runs, base)}
}

func index(va uint64, shift uint) uint64 {
	return (va >> shift) & 0x1FF
}

// TestTranslate tests 4 KiB translations through builder-made page tables.
func TestTranslate(t *testing.T) {
	t.Parallel()

	va := kernelBase + 0x12345678
	f := newFixture(t, dumptest.New().WriteVirtual(va, []byte("kernel")))

	off, err := f.tr.Translate(va)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(f.data[off : off+6]); got != "kernel" {
		t.Errorf("content at translated offset = %q, expected %q", got, "kernel")
	}
	if f.counter.Reads() != 4 {
		t.Errorf("Translate made %d reads, expected one per level", f.counter.Reads())
	}

	off2, err := f.tr.Translate(va + 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if off2 != off+3 {
		t.Errorf("Translate(va+3) = %#x, expected %#x", off2, off+3)
	}
}

// TestTranslateFailures tests the TranslationFailed paths.
func TestTranslateFailures(t *testing.T) {
	t.Parallel()

	mapped := kernelBase + 0x200000

	t.Run("PML4 entry not present stops after one read", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, dumptest.New().WriteVirtual(mapped, []byte{1}))
		_, err := f.tr.Translate(0xFFFF800000000000)
		if !errors.Is(err, dump.ErrTranslationFailed) {
			t.Fatalf("expected ErrTranslationFailed, got %v", err)
		}
		if f.counter.Reads() != 1 {
			t.Errorf("made %d reads, expected 1", f.counter.Reads())
		}
	})

	t.Run("PT entry not present", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, dumptest.New().WriteVirtual(mapped, []byte{1}))
		_, err := f.tr.Translate(mapped + dumptest.PageSize)
		if !errors.Is(err, dump.ErrTranslationFailed) {
			t.Fatalf("expected ErrTranslationFailed, got %v", err)
		}
		if f.counter.Reads() != 4 {
			t.Errorf("made %d reads, expected 4", f.counter.Reads())
		}
	})

	t.Run("frame outside every run", func(t *testing.T) {
		t.Parallel()

		b := dumptest.New().WriteVirtual(mapped, []byte{1})
		// A present PML4 entry whose PDPT frame was never written.
		b.WritePhysical64(dumptest.DirectoryTableBase+index(0xFFFF900000000000, 39)*8, 0x7FFF000|0x3)
		f := newFixture(t, b)

		_, err := f.tr.Translate(0xFFFF900000000000)
		if !errors.Is(err, dump.ErrTranslationFailed) {
			t.Fatalf("expected ErrTranslationFailed, got %v", err)
		}
	})

	t.Run("empty run list", func(t *testing.T) {
		t.Parallel()

		r := dump.NewReader(bytes.NewReader(nil), 0)
		tr := New(r, nil, dumptest.DirectoryTableBase)
		if _, err := tr.Translate(mapped); !errors.Is(err, dump.ErrTranslationFailed) {
			t.Errorf("expected ErrTranslationFailed, got %v", err)
		}
	})
}

// TestTranslateLargePages tests the PS bit at the PDPT and PD levels.
func TestTranslateLargePages(t *testing.T) {
	t.Parallel()

	const (
		pml4 = dumptest.DirectoryTableBase
		pdpt = 0x2000
		pd   = 0x3000
	)

	t.Run("2 MiB page", func(t *testing.T) {
		t.Parallel()

		va := kernelBase + 0xA00000 + 0xBCDE
		b := dumptest.New().
			WritePhysical64(pml4+index(va, 39)*8, pdpt|0x3).
			WritePhysical64(pdpt+index(va, 30)*8, pd|0x3).
			WritePhysical64(pd+index(va, 21)*8, 0x200000|0x83).
			WritePhysical(0x200000+0xBCDE, []byte("large"))
		f := newFixture(t, b)

		off, err := f.tr.Translate(va)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := string(f.data[off : off+5]); got != "large" {
			t.Errorf("content = %q, expected %q", got, "large")
		}
		if f.counter.Reads() != 3 {
			t.Errorf("made %d reads, expected 3", f.counter.Reads())
		}
	})

	t.Run("1 GiB page", func(t *testing.T) {
		t.Parallel()

		va := kernelBase + 0x40000000 + 0x1234
		b := dumptest.New().
			WritePhysical64(pml4+index(va, 39)*8, pdpt|0x3).
			WritePhysical64(pdpt+index(va, 30)*8, 0x40000000|0x83).
			WritePhysical(0x40000000+0x1234, []byte("huge"))
		f := newFixture(t, b)

		off, err := f.tr.Translate(va)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := string(f.data[off : off+4]); got != "huge" {
			t.Errorf("content = %q, expected %q", got, "huge")
		}
		if f.counter.Reads() != 2 {
			t.Errorf("made %d reads, expected 2", f.counter.Reads())
		}
	})
}

// TestReadVirtual tests reads that cross page boundaries.
func TestReadVirtual(t *testing.T) {
	t.Parallel()

	va := kernelBase + 0x5000 - 0x10
	payload := []byte("0123456789abcdefGHIJKLMNOPQRSTUV")
	f := newFixture(t, dumptest.New().WriteVirtual(va, payload))

	got, err := f.tr.ReadVirtual(va, len(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadVirtual() = %q, expected %q", got, payload)
	}

	v, err := f.tr.ReadUint64(va)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0x3736353433323130 {
		t.Errorf("ReadUint64() = %#x", v)
	}

	if _, err := f.tr.ReadVirtual(va+0x10, dumptest.PageSize+1); !errors.Is(err, dump.ErrTranslationFailed) {
		t.Errorf("expected ErrTranslationFailed for a read into an unmapped page, got %v", err)
	}
	if _, err := f.tr.ReadVirtual(va, 2<<20); !errors.Is(err, dump.ErrIO) {
		t.Errorf("expected ErrIO for a read over the cap, got %v", err)
	}
}

// TestImageReader tests the io.ReaderAt view over a mapped image.
func TestImageReader(t *testing.T) {
	t.Parallel()

	base := kernelBase + 0x1000000
	image := make([]byte, 3*dumptest.PageSize)
	for i := range image {
		image[i] = byte(i / dumptest.PageSize)
	}
	f := newFixture(t, dumptest.New().WriteVirtual(base, image), dump.WithMaxReadSize(0x2000))
	ir := f.tr.ImageReader(base, uint32(len(image)))

	t.Run("read spanning pages and steps", func(t *testing.T) {
		t.Parallel()

		buf := make([]byte, len(image))
		n, err := ir.ReadAt(buf, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != len(image) || !bytes.Equal(buf, image) {
			t.Errorf("ReadAt returned %d bytes that differ from the image", n)
		}
	})

	t.Run("read past end returns EOF", func(t *testing.T) {
		t.Parallel()

		buf := make([]byte, 0x20)
		n, err := ir.ReadAt(buf, int64(len(image))-0x10)
		if !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF, got %v", err)
		}
		if n != 0x10 {
			t.Errorf("n = %d, expected 16", n)
		}
		if _, err := ir.ReadAt(buf, int64(len(image))); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF at the end, got %v", err)
		}
	})
}
