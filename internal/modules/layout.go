package modules

import "github.com/nao1215/dumpscan/internal/dump"

// Field offsets of the x64 KLDR_DATA_TABLE_ENTRY. The entry starts with
// InLoadOrderLinks, so a Flink value is the address of the next entry.
const (
	ldrFlink         = 0x00
	ldrBlink         = 0x08
	ldrDllBase       = 0x30
	ldrEntryPoint    = 0x38
	ldrSizeOfImage   = 0x40
	ldrFullDllName   = 0x48
	ldrBaseDllName   = 0x58
	ldrFlags         = 0x68
	ldrSignatureBits = 0x6E
	ldrTimeDateStamp = 0x9C

	// ldrEntrySize covers every field read from an entry.
	ldrEntrySize = 0xA0
)

// unicodeString is a decoded UNICODE_STRING. Length is in bytes and
// excludes any terminator.
type unicodeString struct {
	Length        uint16
	MaximumLength uint16
	Buffer        uint64
}

func decodeUnicodeString(d *dump.Decoder, off int) unicodeString {
	return unicodeString{
		Length:        d.U16(off),
		MaximumLength: d.U16(off + 2),
		Buffer:        d.U64(off + 8),
	}
}

// ldrEntry is the subset of KLDR_DATA_TABLE_ENTRY the walker uses.
type ldrEntry struct {
	Flink         uint64
	Blink         uint64
	DllBase       uint64
	EntryPoint    uint64
	SizeOfImage   uint32
	FullDllName   unicodeString
	BaseDllName   unicodeString
	Flags         uint32
	SignatureBits uint16
	TimeDateStamp uint32
}

func decodeEntry(buf []byte) (ldrEntry, error) {
	d := dump.NewDecoder(buf, "loaded module entry")
	e := ldrEntry{
		Flink:         d.U64(ldrFlink),
		Blink:         d.U64(ldrBlink),
		DllBase:       d.U64(ldrDllBase),
		EntryPoint:    d.U64(ldrEntryPoint),
		SizeOfImage:   d.U32(ldrSizeOfImage),
		FullDllName:   decodeUnicodeString(d, ldrFullDllName),
		BaseDllName:   decodeUnicodeString(d, ldrBaseDllName),
		Flags:         d.U32(ldrFlags),
		SignatureBits: d.U16(ldrSignatureBits),
		TimeDateStamp: d.U32(ldrTimeDateStamp),
	}
	return e, d.Err()
}

// signatureLevel is the SE_SIGNING_LEVEL held in the low four bits.
func (e ldrEntry) signatureLevel() uint8 {
	return uint8(e.SignatureBits & 0xF)
}

// signatureType is the SE_IMAGE_SIGNATURE_TYPE held in bits 4 to 6.
func (e ldrEntry) signatureType() uint8 {
	return uint8(e.SignatureBits>>4) & 0x7
}
