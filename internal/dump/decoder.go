package dump

import (
	"encoding/binary"
	"fmt"
)

// Decoder reads little-endian fields at fixed offsets of a block that was
// already fetched from the file. The first out-of-range access is sticky:
// later reads return zero and Err reports the first failure.
type Decoder struct {
	buf  []byte
	what string
	err  error
}

// NewDecoder returns a Decoder over buf. what names the structure for errors.
func NewDecoder(buf []byte, what string) *Decoder {
	return &Decoder{buf: buf, what: what}
}

// Err returns the first decoding failure, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Len returns the size of the underlying block.
func (d *Decoder) Len() int {
	return len(d.buf)
}

func (d *Decoder) span(off, n int) []byte {
	if d.err != nil {
		return nil
	}
	if off < 0 || n < 0 || off+n > len(d.buf) {
		d.err = NewError(KindCorruptHeader, "decode "+d.what, int64(off),
			fmt.Errorf("field of %d bytes outside %d-byte block", n, len(d.buf)))
		return nil
	}
	return d.buf[off : off+n]
}

// U8 reads a byte at off.
func (d *Decoder) U8(off int) uint8 {
	b := d.span(off, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 reads a uint16 at off.
func (d *Decoder) U16(off int) uint16 {
	b := d.span(off, 2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32 reads a uint32 at off.
func (d *Decoder) U32(off int) uint32 {
	b := d.span(off, 4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a uint64 at off.
func (d *Decoder) U64(off int) uint64 {
	b := d.span(off, 8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Ptr reads a pointer of the given width (4 or 8 bytes) at off.
func (d *Decoder) Ptr(off, width int) uint64 {
	if width == 4 {
		return uint64(d.U32(off))
	}
	return d.U64(off)
}

// Bytes returns a copy of n bytes at off.
func (d *Decoder) Bytes(off, n int) []byte {
	b := d.span(off, n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
