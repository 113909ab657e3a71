package dumptest

import "encoding/binary"

// PEImage describes a minimal in-memory PE32+ driver image.
type PEImage struct {
	TimeDateStamp uint32

	// FileVersion is major, minor, build, revision. A zero value omits the
	// VS_FIXEDFILEINFO block.
	FileVersion [4]uint16

	// Company, when set, is written as the CompanyName version string.
	Company string

	// Size is the image size; it defaults to two pages.
	Size int
}

const (
	peHeaderOffset   = 0x80
	resourceRVA      = 0x400
	optionalHdrSize  = 240
	dataDirectoryOff = 112
)

// Bytes returns the image in its loaded (RVA) layout.
func (p PEImage) Bytes() []byte {
	size := p.Size
	if size == 0 {
		size = 2 * PageSize
	}
	img := make([]byte, size)
	le := binary.LittleEndian

	copy(img, "MZ")
	le.PutUint32(img[0x3C:], peHeaderOffset)

	pe := img[peHeaderOffset:]
	copy(pe, "PE\x00\x00")
	coff := pe[4:]
	le.PutUint16(coff[0:], 0x8664)
	le.PutUint16(coff[2:], 0)
	le.PutUint32(coff[4:], p.TimeDateStamp)
	le.PutUint16(coff[16:], optionalHdrSize)
	le.PutUint16(coff[18:], 0x0022)

	opt := coff[20:]
	le.PutUint16(opt[0:], 0x20B)
	le.PutUint32(opt[56:], uint32(size))
	le.PutUint32(opt[60:], resourceRVA)
	le.PutUint32(opt[108:], 16)

	res := p.versionResource()
	if len(res) > 0 {
		dir := opt[dataDirectoryOff+2*8:]
		le.PutUint32(dir[0:], resourceRVA)
		le.PutUint32(dir[4:], uint32(len(res)))
		copy(img[resourceRVA:], res)
	}
	return img
}

// versionResource lays out the parts of a VS_VERSIONINFO block that are
// read back: the fixed file info and a CompanyName string.
func (p PEImage) versionResource() []byte {
	var out []byte
	le := binary.LittleEndian

	// A leading pad keeps the parser from relying on offset zero.
	out = append(out, make([]byte, 0x28)...)

	if p.FileVersion != [4]uint16{} {
		fixed := make([]byte, 52)
		le.PutUint32(fixed[0:], 0xFEEF04BD)
		le.PutUint32(fixed[4:], 0x00010000)
		le.PutUint32(fixed[8:], uint32(p.FileVersion[0])<<16|uint32(p.FileVersion[1]))
		le.PutUint32(fixed[12:], uint32(p.FileVersion[2])<<16|uint32(p.FileVersion[3]))
		out = append(out, fixed...)
	}

	if p.Company != "" {
		key := append(UTF16("CompanyName"), 0, 0)
		value := append(UTF16(p.Company), 0, 0)
		str := make([]byte, 6)
		str = append(str, key...)
		for len(str)%4 != 0 {
			str = append(str, 0)
		}
		str = append(str, value...)
		le.PutUint16(str[0:], uint16(len(str)))
		le.PutUint16(str[2:], uint16(len(value)/2))
		le.PutUint16(str[4:], 1)
		out = append(out, str...)
	}

	if len(out) == 0x28 {
		return nil
	}
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}
