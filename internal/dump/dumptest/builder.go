// Package dumptest builds small synthetic kernel dumps for tests.
//
// A Builder lays out a PAGEDU64 (or PAGEDUMP) header, a physical memory run
// list and the page contents written through it. Virtual writes allocate
// 4-level page tables rooted at DirectoryTableBase, so the result can be fed
// to the address translator and the module walker exactly like a real dump.
package dumptest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"

	"github.com/nao1215/dumpscan/internal/dump"
)

const (
	// PageSize is the small page size used by the builder.
	PageSize = 0x1000

	// DirectoryTableBase is the physical address of the PML4 built by the Builder.
	DirectoryTableBase uint64 = 0x1000

	// ModuleListHead is the kernel address of the synthetic PsLoadedModuleList.
	ModuleListHead uint64 = 0xFFFFF80000100000

	// ModuleEntryBase is where the first KLDR_DATA_TABLE_ENTRY is placed.
	// Entries are ModuleEntryStride apart.
	ModuleEntryBase uint64 = 0xFFFFF80000200000

	// ModuleEntryStride is the distance between two entries. The base name
	// and full path buffers live one and two pages after the entry.
	ModuleEntryStride uint64 = 4 * PageSize

	// PfnDatabase is the value written to the PfnDataBase header field.
	PfnDatabase uint64 = 0xFFFFFA8000000000

	// PfnDatabase32 is the PfnDataBase value of 32-bit headers.
	PfnDatabase32 uint32 = 0x80C00000

	// firstDataPFN is where page allocation starts, leaving low frames
	// free for WritePhysical.
	firstDataPFN = 0x100

	frameMask = 0x000FFFFFFFFFF000

	fill32 = "PAGE"
)

// Module describes one loaded module written into the synthetic list.
type Module struct {
	Name           string
	Path           string
	Base           uint64
	Size           uint32
	TimeDateStamp  uint32
	Flags          uint32
	SignatureLevel uint8
	SignatureType  uint8

	// Image, when set, is written at Base.
	Image []byte
}

type exceptionRecord struct {
	code    uint32
	flags   uint32
	address uint64
	params  []uint64
}

// Builder assembles a synthetic dump. The zero value is not usable; call New.
type Builder struct {
	is32       bool
	bitmap     bool
	major      uint32
	build      uint32
	dumpType   uint32
	machine    uint32
	processors uint32
	bugcheck   uint32
	params     [4]uint64
	systemTime uint64
	dtb        uint64
	declared   *uint64
	listHead   uint64

	context   map[string]uint64
	exception *exceptionRecord

	pages   map[uint64][]byte
	nextPFN uint64
	modules int
}

// New returns a Builder for a 64-bit kernel dump of Windows build 19041
// with an empty memory layout.
func New() *Builder {
	return &Builder{
		major:      0x0F,
		build:      19041,
		dumpType:   2,
		machine:    0x8664,
		processors: 4,
		dtb:        DirectoryTableBase,
		pages:      make(map[uint64][]byte),
		nextPFN:    firstDataPFN,
	}
}

// Arch32 switches the builder to a PAGEDUMP x86 header. Virtual writes are
// not supported on 32-bit dumps.
func (b *Builder) Arch32() *Builder {
	b.is32 = true
	b.machine = 0x014C
	b.dtb = 0
	return b
}

// Build sets the OS build number.
func (b *Builder) Build(build uint32) *Builder {
	b.build = build
	return b
}

// DumpType sets the raw DumpType field.
func (b *Builder) DumpType(t uint32) *Builder {
	b.dumpType = t
	return b
}

// Bitmap writes the physical pages through an SDMP page bitmap instead of
// the header run list. It also sets DumpType to 6.
func (b *Builder) Bitmap() *Builder {
	b.bitmap = true
	b.dumpType = 6
	return b
}

// Processors sets the processor count.
func (b *Builder) Processors(n uint32) *Builder {
	b.processors = n
	return b
}

// Bugcheck sets the stop code and up to four parameters.
func (b *Builder) Bugcheck(code uint32, params ...uint64) *Builder {
	b.bugcheck = code
	copy(b.params[:], params)
	return b
}

// SystemTime sets the crash FILETIME.
func (b *Builder) SystemTime(ft uint64) *Builder {
	b.systemTime = ft
	return b
}

// DirectoryTableBase overrides the page-table base written to the header.
func (b *Builder) DirectoryTableBase(pa uint64) *Builder {
	b.dtb = pa
	return b
}

// DeclaredSize overrides RequiredDumpSpace. By default it is the length of
// the built file.
func (b *Builder) DeclaredSize(n uint64) *Builder {
	b.declared = &n
	return b
}

// Context writes an x64 (or x86 after Arch32) CONTEXT with the given
// register values. Unknown names panic.
func (b *Builder) Context(regs map[string]uint64) *Builder {
	b.context = regs
	return b
}

// Exception writes an exception record.
func (b *Builder) Exception(code uint32, address uint64, params ...uint64) *Builder {
	b.exception = &exceptionRecord{code: code, flags: 1, address: address, params: params}
	return b
}

// WritePhysical stores data at physical address pa.
func (b *Builder) WritePhysical(pa uint64, data []byte) *Builder {
	for len(data) > 0 {
		page := b.page(pa / PageSize)
		off := pa % PageSize
		n := copy(page[off:], data)
		data = data[n:]
		pa += uint64(n)
	}
	return b
}

// WritePhysical64 stores a little-endian uint64 at physical address pa.
func (b *Builder) WritePhysical64(pa, v uint64) *Builder {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return b.WritePhysical(pa, buf[:])
}

// WriteVirtual maps the pages covering [va, va+len(data)) and stores data.
func (b *Builder) WriteVirtual(va uint64, data []byte) *Builder {
	for len(data) > 0 {
		off := va % PageSize
		n := min(uint64(len(data)), PageSize-off)
		b.WritePhysical(b.Map(va)+off, data[:n])
		data = data[n:]
		va += n
	}
	return b
}

// WriteVirtual64 stores a little-endian uint64 at va.
func (b *Builder) WriteVirtual64(va, v uint64) *Builder {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return b.WriteVirtual(va, buf[:])
}

// Map ensures a 4 KiB mapping exists for the page holding va and returns
// the physical address of that page.
func (b *Builder) Map(va uint64) uint64 {
	if b.is32 {
		panic("dumptest: virtual writes are not supported on 32-bit dumps")
	}
	table := DirectoryTableBase
	for _, shift := range []uint{39, 30, 21, 12} {
		slot := table + ((va>>shift)&0x1FF)*8
		entry := b.physical64(slot)
		if entry&1 == 0 {
			entry = b.allocPFN()*PageSize | 0x3
			b.WritePhysical64(slot, entry)
		}
		table = entry & frameMask
	}
	return table
}

// ModuleList creates an empty PsLoadedModuleList head and records it in the header.
func (b *Builder) ModuleList() *Builder {
	if b.listHead == 0 {
		b.listHead = ModuleListHead
		b.WriteVirtual64(ModuleListHead, ModuleListHead)
		b.WriteVirtual64(ModuleListHead+8, ModuleListHead)
	}
	return b
}

// EntryAddress returns the kernel address of the i-th module entry.
func EntryAddress(i int) uint64 {
	return ModuleEntryBase + uint64(i)*ModuleEntryStride
}

// AddModule appends a module to the loaded-module list.
func (b *Builder) AddModule(m Module) *Builder {
	b.ModuleList()

	i := b.modules
	entry := EntryAddress(i)
	prev := ModuleListHead
	if i > 0 {
		prev = EntryAddress(i - 1)
	}
	nameVA := entry + PageSize
	pathVA := entry + 2*PageSize
	name := utf16(m.Name)
	path := utf16(m.Path)

	rec := make([]byte, 0xA0)
	le := binary.LittleEndian
	le.PutUint64(rec[0x00:], ModuleListHead)
	le.PutUint64(rec[0x08:], prev)
	le.PutUint64(rec[0x30:], m.Base)
	le.PutUint64(rec[0x38:], m.Base+PageSize)
	le.PutUint32(rec[0x40:], m.Size)
	putUnicodeString(rec[0x48:], len(path), pathVA)
	putUnicodeString(rec[0x58:], len(name), nameVA)
	le.PutUint32(rec[0x68:], m.Flags)
	le.PutUint16(rec[0x6E:], uint16(m.SignatureLevel&0xF)|uint16(m.SignatureType&0x7)<<4)
	le.PutUint32(rec[0x9C:], m.TimeDateStamp)

	b.WriteVirtual(entry, rec)
	if len(name) > 0 {
		b.WriteVirtual(nameVA, name)
	}
	if len(path) > 0 {
		b.WriteVirtual(pathVA, path)
	}
	b.WriteVirtual64(prev, entry)
	b.WriteVirtual64(ModuleListHead+8, entry)
	if m.Image != nil {
		b.WriteVirtual(m.Base, m.Image)
	}
	b.modules++
	return b
}

// SetFlink overwrites the forward link of the i-th entry.
func (b *Builder) SetFlink(i int, target uint64) *Builder {
	return b.WriteVirtual64(EntryAddress(i), target)
}

// Bytes lays out the dump and returns the file contents.
func (b *Builder) Bytes() []byte {
	headerSize := 0x2000
	if b.is32 {
		headerSize = 0x1000
	}
	header := bytes.Repeat([]byte(fill32), headerSize/len(fill32))

	pfns := make([]uint64, 0, len(b.pages))
	for pfn := range b.pages {
		pfns = append(pfns, pfn)
	}
	sort.Slice(pfns, func(i, j int) bool { return pfns[i] < pfns[j] })

	var body []byte
	if b.bitmap {
		body = b.bitmapBody(pfns, headerSize)
	} else {
		b.writeRuns(header, pfns)
		for _, pfn := range pfns {
			body = append(body, b.pages[pfn]...)
		}
	}

	out := append(header, body...)
	declared := uint64(len(out))
	if b.declared != nil {
		declared = *b.declared
	}
	b.writeHeader(out, declared)
	return out
}

// Reader returns a dump.Reader over the built file.
func (b *Builder) Reader(opts ...dump.ReaderOption) *dump.Reader {
	data := b.Bytes()
	return dump.NewReader(bytes.NewReader(data), int64(len(data)), opts...)
}

func (b *Builder) writeHeader(out []byte, declared uint64) {
	le := binary.LittleEndian
	if b.is32 {
		copy(out, dump.Signature32)
		le.PutUint32(out[0x08:], b.major)
		le.PutUint32(out[0x0C:], b.build)
		le.PutUint32(out[0x10:], uint32(b.dtb))
		le.PutUint32(out[0x14:], PfnDatabase32)
		le.PutUint32(out[0x18:], uint32(b.listHead))
		le.PutUint32(out[0x1C:], 0)
		le.PutUint32(out[0x20:], b.machine)
		le.PutUint32(out[0x24:], b.processors)
		le.PutUint32(out[0x28:], b.bugcheck)
		for i, p := range b.params {
			le.PutUint32(out[0x2C+i*4:], uint32(p))
		}
		le.PutUint32(out[0xF88:], b.dumpType)
		le.PutUint64(out[0xFA0:], declared)
		le.PutUint64(out[0xFC0:], b.systemTime)
		b.writeContext(out[0x320:0x320+dump.ContextSize32], registers32, 0x00)
		b.writeException32(out[0x7D0:])
		return
	}

	copy(out, dump.Signature64)
	le.PutUint32(out[0x08:], b.major)
	le.PutUint32(out[0x0C:], b.build)
	le.PutUint64(out[0x10:], b.dtb)
	le.PutUint64(out[0x18:], PfnDatabase)
	le.PutUint64(out[0x20:], b.listHead)
	le.PutUint64(out[0x28:], 0)
	le.PutUint32(out[0x30:], b.machine)
	le.PutUint32(out[0x34:], b.processors)
	le.PutUint32(out[0x38:], b.bugcheck)
	le.PutUint32(out[0x3C:], 0)
	for i, p := range b.params {
		le.PutUint64(out[0x40+i*8:], p)
	}
	le.PutUint32(out[0xF98:], b.dumpType)
	le.PutUint64(out[0xFA0:], declared)
	le.PutUint64(out[0xFA8:], b.systemTime)
	b.writeContext(out[0x348:0x348+dump.ContextSize64], registers64, 0x30)
	b.writeException64(out[0xF00:])
}

// writeRuns fills the header's physical memory descriptor from the
// allocated page frames.
func (b *Builder) writeRuns(header []byte, pfns []uint64) {
	type run struct{ base, count uint64 }
	var runs []run
	for _, pfn := range pfns {
		if n := len(runs); n > 0 && runs[n-1].base+runs[n-1].count == pfn {
			runs[n-1].count++
			continue
		}
		runs = append(runs, run{base: pfn, count: 1})
	}

	le := binary.LittleEndian
	if b.is32 {
		desc := header[0x64:]
		if len(runs) > 86 {
			panic(fmt.Sprintf("dumptest: %d runs exceed the 32-bit descriptor", len(runs)))
		}
		le.PutUint32(desc[0:], uint32(len(runs)))
		le.PutUint32(desc[4:], uint32(len(pfns)))
		for i, r := range runs {
			le.PutUint32(desc[8+i*8:], uint32(r.base))
			le.PutUint32(desc[12+i*8:], uint32(r.count))
		}
		return
	}

	desc := header[0x88:]
	if len(runs) > 42 {
		panic(fmt.Sprintf("dumptest: %d runs exceed the 64-bit descriptor", len(runs)))
	}
	le.PutUint32(desc[0:], uint32(len(runs)))
	le.PutUint32(desc[4:], 0)
	le.PutUint64(desc[8:], uint64(len(pfns)))
	for i, r := range runs {
		le.PutUint64(desc[0x10+i*16:], r.base)
		le.PutUint64(desc[0x18+i*16:], r.count)
	}
}

// bitmapBody returns the SDMP bitmap header, the bitmap and the page
// contents that follow the dump header.
func (b *Builder) bitmapBody(pfns []uint64, headerSize int) []byte {
	var pages uint64
	if len(pfns) > 0 {
		pages = pfns[len(pfns)-1] + 1
	}
	bitmap := make([]byte, (pages+7)/8)
	for _, pfn := range pfns {
		bitmap[pfn/8] |= 1 << (pfn % 8)
	}

	fixed := make([]byte, 0x38)
	copy(fixed, "SDMP")
	copy(fixed[4:], "DUMP")
	start := uint64(headerSize) + uint64(len(fixed)) + uint64(len(bitmap))
	firstPage := (start + PageSize - 1) &^ (PageSize - 1)
	le := binary.LittleEndian
	le.PutUint64(fixed[0x20:], firstPage)
	le.PutUint64(fixed[0x28:], uint64(len(pfns)))
	le.PutUint64(fixed[0x30:], pages)

	body := append(fixed, bitmap...)
	body = append(body, make([]byte, firstPage-start)...)
	for _, pfn := range pfns {
		body = append(body, b.pages[pfn]...)
	}
	return body
}

type registerSlot struct {
	name  string
	off   int
	width int
}

var registers64 = []registerSlot{
	{"cs", 0x38, 2}, {"ds", 0x3A, 2}, {"es", 0x3C, 2}, {"fs", 0x3E, 2}, {"gs", 0x40, 2}, {"ss", 0x42, 2},
	{"eflags", 0x44, 4},
	{"rax", 0x78, 8}, {"rcx", 0x80, 8}, {"rdx", 0x88, 8}, {"rbx", 0x90, 8},
	{"rsp", 0x98, 8}, {"rbp", 0xA0, 8}, {"rsi", 0xA8, 8}, {"rdi", 0xB0, 8},
	{"r8", 0xB8, 8}, {"r9", 0xC0, 8}, {"r10", 0xC8, 8}, {"r11", 0xD0, 8},
	{"r12", 0xD8, 8}, {"r13", 0xE0, 8}, {"r14", 0xE8, 8}, {"r15", 0xF0, 8},
	{"rip", 0xF8, 8},
}

var registers32 = []registerSlot{
	{"edi", 0x9C, 4}, {"esi", 0xA0, 4}, {"ebx", 0xA4, 4}, {"edx", 0xA8, 4},
	{"ecx", 0xAC, 4}, {"eax", 0xB0, 4}, {"ebp", 0xB4, 4}, {"eip", 0xB8, 4},
	{"cs", 0xBC, 4}, {"eflags", 0xC0, 4}, {"esp", 0xC4, 4}, {"ss", 0xC8, 4},
}

func findSlot(layout []registerSlot, name string) (registerSlot, bool) {
	for _, s := range layout {
		if s.name == name {
			return s, true
		}
	}
	return registerSlot{}, false
}

// writeContext zeroes the whole CONTEXT block in dst, then sets the flags
// and the requested registers.
func (b *Builder) writeContext(dst []byte, layout []registerSlot, flagsOff int) {
	if b.context == nil {
		return
	}
	clear(dst)
	le := binary.LittleEndian
	le.PutUint32(dst[flagsOff:], 0x10001F)
	for name, v := range b.context {
		f, ok := findSlot(layout, name)
		if !ok {
			panic("dumptest: unknown register " + name)
		}
		switch f.width {
		case 2:
			le.PutUint16(dst[f.off:], uint16(v))
		case 4:
			le.PutUint32(dst[f.off:], uint32(v))
		default:
			le.PutUint64(dst[f.off:], v)
		}
	}
}

func (b *Builder) writeException64(dst []byte) {
	e := b.exception
	if e == nil {
		return
	}
	le := binary.LittleEndian
	le.PutUint32(dst[0x00:], e.code)
	le.PutUint32(dst[0x04:], e.flags)
	le.PutUint64(dst[0x08:], 0)
	le.PutUint64(dst[0x10:], e.address)
	le.PutUint32(dst[0x18:], uint32(len(e.params)))
	le.PutUint32(dst[0x1C:], 0)
	for i, p := range e.params {
		le.PutUint64(dst[0x20+i*8:], p)
	}
}

func (b *Builder) writeException32(dst []byte) {
	e := b.exception
	if e == nil {
		return
	}
	le := binary.LittleEndian
	le.PutUint32(dst[0x00:], e.code)
	le.PutUint32(dst[0x04:], e.flags)
	le.PutUint32(dst[0x08:], 0)
	le.PutUint32(dst[0x0C:], uint32(e.address))
	le.PutUint32(dst[0x10:], uint32(len(e.params)))
	for i, p := range e.params {
		le.PutUint32(dst[0x14+i*4:], uint32(p))
	}
}

func (b *Builder) page(pfn uint64) []byte {
	p, ok := b.pages[pfn]
	if !ok {
		p = make([]byte, PageSize)
		b.pages[pfn] = p
	}
	return p
}

func (b *Builder) physical64(pa uint64) uint64 {
	p, ok := b.pages[pa/PageSize]
	if !ok {
		return 0
	}
	return binary.LittleEndian.Uint64(p[pa%PageSize:])
}

func (b *Builder) allocPFN() uint64 {
	for {
		pfn := b.nextPFN
		b.nextPFN++
		if _, used := b.pages[pfn]; !used {
			b.page(pfn)
			return pfn
		}
	}
}

func putUnicodeString(dst []byte, n int, buffer uint64) {
	le := binary.LittleEndian
	le.PutUint16(dst[0:], uint16(n))
	le.PutUint16(dst[2:], uint16(n+2))
	le.PutUint64(dst[8:], buffer)
}

// UTF16 encodes s as UTF-16LE without a terminator.
func UTF16(s string) []byte {
	return utf16(s)
}

func utf16(s string) []byte {
	if s == "" {
		return nil
	}
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		panic(err)
	}
	return out
}

// CountingReaderAt counts the ReadAt calls made against R.
type CountingReaderAt struct {
	R     io.ReaderAt
	reads atomic.Int64
}

// ReadAt implements io.ReaderAt.
func (c *CountingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	c.reads.Add(1)
	return c.R.ReadAt(p, off)
}

// Reads returns the number of ReadAt calls so far.
func (c *CountingReaderAt) Reads() int64 {
	return c.reads.Load()
}

// ResetReads zeroes the counter.
func (c *CountingReaderAt) ResetReads() {
	c.reads.Store(0)
}
