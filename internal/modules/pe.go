package modules

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// maxResourceBytes caps how much of the resource directory is scanned.
	maxResourceBytes = 64 << 10

	// maxVersionValueBytes caps a version string value.
	maxVersionValueBytes = 512

	fixedFileInfoSignature = 0xFEEF04BD
)

// imageDetails holds what could be recovered from a module's PE image.
type imageDetails struct {
	TimeDateStamp uint32
	Version       string
	Company       string
}

// readImageDetails parses the PE headers of a loaded image and scans its
// resource directory for version information. ok is false when the headers
// cannot be parsed; missing version data only leaves fields empty.
func readImageDetails(ra io.ReaderAt) (details imageDetails, ok bool) {
	// debug/pe accepts headerless COFF objects; a loaded image always
	// starts with a DOS header.
	var magic [2]byte
	if _, err := ra.ReadAt(magic[:], 0); err != nil || string(magic[:]) != "MZ" {
		return details, false
	}

	f, err := pe.NewFile(ra)
	if err != nil {
		return details, false
	}
	details.TimeDateStamp = f.FileHeader.TimeDateStamp

	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_RESOURCE]
	case *pe.OptionalHeader32:
		dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_RESOURCE]
	}
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return details, true
	}

	buf := make([]byte, min(dir.Size, maxResourceBytes))
	n, err := ra.ReadAt(buf, int64(dir.VirtualAddress))
	if err != nil && !errors.Is(err, io.EOF) {
		return details, true
	}
	buf = buf[:n]

	details.Version = fixedFileVersion(buf)
	details.Company = versionString(buf, "CompanyName")
	return details, true
}

// fixedFileVersion finds VS_FIXEDFILEINFO and formats its file version.
func fixedFileVersion(buf []byte) string {
	le := binary.LittleEndian
	for i := 0; i+16 <= len(buf); i += 4 {
		if le.Uint32(buf[i:]) != fixedFileInfoSignature {
			continue
		}
		ms := le.Uint32(buf[i+8:])
		ls := le.Uint32(buf[i+12:])
		return fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xFFFF, ls>>16, ls&0xFFFF)
	}
	return ""
}

// versionString returns the value of a String structure in a
// StringFileInfo table. The structure is wLength, wValueLength (in
// characters), wType, a NUL-terminated UTF-16 key, padding to a 4-byte
// boundary, then the value.
func versionString(buf []byte, key string) string {
	k, err := utf16le.NewEncoder().Bytes([]byte(key))
	if err != nil {
		return ""
	}
	k = append(k, 0, 0)

	for from := 0; from < len(buf); {
		i := bytes.Index(buf[from:], k)
		if i < 0 {
			return ""
		}
		i += from
		from = i + 2
		start := i - 6
		if start < 0 || start%4 != 0 {
			continue
		}
		chars := int(binary.LittleEndian.Uint16(buf[start+2:]))
		valueOff := (i + len(k) + 3) &^ 3
		end := min(valueOff+min(chars*2, maxVersionValueBytes), len(buf))
		if chars == 0 || valueOff >= end {
			return ""
		}
		return decodeUTF16(buf[valueOff:end])
	}
	return ""
}
