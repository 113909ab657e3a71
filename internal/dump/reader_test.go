package dump_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nao1215/dumpscan/internal/dump"
)

// TestOpen tests opening dump files from disk.
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("opens a regular file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "MEMORY.DMP")
		if err := os.WriteFile(path, []byte("PAGEDU64"), 0o600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}

		r, err := dump.Open(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer r.Close()

		if r.Size() != 8 {
			t.Errorf("Size() = %d, expected 8", r.Size())
		}
		if r.Path() != path {
			t.Errorf("Path() = %q, expected %q", r.Path(), path)
		}
		if err := r.Close(); err != nil {
			t.Errorf("Close() returned %v", err)
		}
		if err := r.Close(); err != nil {
			t.Errorf("second Close() returned %v", err)
		}
	})

	t.Run("missing file is an IOError", func(t *testing.T) {
		t.Parallel()

		_, err := dump.Open(filepath.Join(t.TempDir(), "missing.dmp"))
		if !errors.Is(err, dump.ErrIO) {
			t.Errorf("expected ErrIO, got %v", err)
		}
	})

	t.Run("directory is an IOError", func(t *testing.T) {
		t.Parallel()

		_, err := dump.Open(t.TempDir())
		if !errors.Is(err, dump.ErrIO) {
			t.Errorf("expected ErrIO, got %v", err)
		}
	})
}

// TestReaderBounds tests the bounds checks of positioned reads.
func TestReaderBounds(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xAB}, 64)
	r := dump.NewReader(bytes.NewReader(data), int64(len(data)), dump.WithMaxReadSize(16))

	testCases := []struct {
		name    string
		off     int64
		length  int
		wantErr bool
	}{
		{"within file", 0, 16, false},
		{"ends at file end", 48, 16, false},
		{"empty read at end", 64, 0, false},
		{"crosses file end", 56, 16, true},
		{"exceeds cap", 0, 17, true},
		{"negative offset", -1, 4, true},
		{"beyond file", 65, 1, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b, err := r.ReadBytes(tc.off, tc.length)
			if tc.wantErr {
				if !errors.Is(err, dump.ErrIO) {
					t.Errorf("expected ErrIO, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(b) != tc.length {
				t.Errorf("got %d bytes, expected %d", len(b), tc.length)
			}
		})
	}
}

// TestReaderIntegers tests the fixed-width integer helpers.
func TestReaderIntegers(t *testing.T) {
	t.Parallel()

	data := []byte{0x50, 0x41, 0x47, 0x45, 0x44, 0x55, 0x36, 0x34}
	r := dump.NewReader(bytes.NewReader(data), int64(len(data)))

	v32, err := r.Uint32At(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v32 != 0x45474150 {
		t.Errorf("Uint32At(0) = %#x, expected 0x45474150", v32)
	}

	v64, err := r.Uint64At(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v64 != 0x3436554445474150 {
		t.Errorf("Uint64At(0) = %#x", v64)
	}

	if _, err := r.Uint64At(4); !errors.Is(err, dump.ErrIO) {
		t.Errorf("expected ErrIO for a read past the end, got %v", err)
	}
}
