package dump

import "fmt"

// MaxExceptionParameters is the number of ExceptionInformation entries kept.
const MaxExceptionParameters = 4

const (
	exceptionRecordSize64 = 0x98
	exceptionRecordSize32 = 0x50
)

// ExceptionRecord is the EXCEPTION_RECORD stored in the header.
type ExceptionRecord struct {
	Code    uint32
	Flags   uint32
	Record  uint64
	Address uint64

	// NumberParameters is the raw count from the record. Parameters holds
	// at most MaxExceptionParameters of them.
	NumberParameters uint32
	Parameters       []uint64
}

// ReadException decodes the exception record referenced by the header.
// It returns nil and no error when the header has none.
func ReadException(r *Reader, h *Header) (*ExceptionRecord, error) {
	if h.ExceptionOffset == 0 {
		return nil, nil
	}

	size, ptr := exceptionRecordSize32, 4
	flagsOff, recOff, addrOff, countOff, paramsOff := 0x4, 0x8, 0xC, 0x10, 0x14
	if h.Is64Bit {
		size, ptr = exceptionRecordSize64, 8
		recOff, addrOff, countOff, paramsOff = 0x8, 0x10, 0x18, 0x20
	}
	buf, err := r.ReadBytes(h.ExceptionOffset, size)
	if err != nil {
		return nil, err
	}

	d := NewDecoder(buf, "exception record")
	rec := &ExceptionRecord{
		Code:             d.U32(0),
		Flags:            d.U32(flagsOff),
		Record:           d.Ptr(recOff, ptr),
		Address:          d.Ptr(addrOff, ptr),
		NumberParameters: d.U32(countOff),
	}
	n := int(min(rec.NumberParameters, MaxExceptionParameters))
	rec.Parameters = make([]uint64, n)
	for i := range n {
		rec.Parameters[i] = d.Ptr(paramsOff+i*ptr, ptr)
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return rec, nil
}

var exceptionNames = map[uint32]string{
	0x80000003: "STATUS_BREAKPOINT",
	0x80000004: "STATUS_SINGLE_STEP",
	0xC0000005: "STATUS_ACCESS_VIOLATION",
	0xC000001D: "STATUS_ILLEGAL_INSTRUCTION",
	0xC0000025: "STATUS_NONCONTINUABLE_EXCEPTION",
	0xC0000026: "STATUS_INVALID_DISPOSITION",
	0xC000008C: "STATUS_ARRAY_BOUNDS_EXCEEDED",
	0xC000008D: "STATUS_FLOAT_DENORMAL_OPERAND",
	0xC000008E: "STATUS_FLOAT_DIVIDE_BY_ZERO",
	0xC000008F: "STATUS_FLOAT_INEXACT_RESULT",
	0xC0000090: "STATUS_FLOAT_INVALID_OPERATION",
	0xC0000091: "STATUS_FLOAT_OVERFLOW",
	0xC0000092: "STATUS_FLOAT_STACK_CHECK",
	0xC0000093: "STATUS_FLOAT_UNDERFLOW",
	0xC0000094: "STATUS_INTEGER_DIVIDE_BY_ZERO",
	0xC0000095: "STATUS_INTEGER_OVERFLOW",
	0xC0000096: "STATUS_PRIVILEGED_INSTRUCTION",
	0xC00000FD: "STATUS_STACK_OVERFLOW",
	0xC0000409: "STATUS_STACK_BUFFER_OVERRUN",
	0xC0000420: "STATUS_ASSERTION_FAILURE",
}

// ExceptionName returns the NTSTATUS name of an exception code.
func ExceptionName(code uint32) (string, bool) {
	name, ok := exceptionNames[code]
	return name, ok
}

// ExceptionLabel returns the exception name, or the code in hex when unknown.
func ExceptionLabel(code uint32) string {
	if name, ok := ExceptionName(code); ok {
		return name
	}
	return fmt.Sprintf("0x%08X", code)
}
