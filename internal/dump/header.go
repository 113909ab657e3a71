package dump

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Sizes and magic values of the kernel dump header.
const (
	// PageSize is the x86/x64 small page size.
	PageSize = 0x1000

	// HeaderSize64 is the size of DUMP_HEADER64.
	HeaderSize64 = 0x2000

	// HeaderSize32 is the size of DUMP_HEADER32.
	HeaderSize32 = 0x1000

	// signatureLen covers "PAGE" followed by "DU64" or "DUMP".
	signatureLen = 8

	// Signature64 and Signature32 are the two accepted leading byte patterns.
	Signature64 = "PAGEDU64"
	Signature32 = "PAGEDUMP"

	// fillPattern32 is "PAGE" read as a little-endian uint32. Unused header
	// space is filled with it, so it doubles as an "absent" marker.
	fillPattern32 = 0x45474150

	// fillPattern64 is "PAGEPAGE" read as a little-endian uint64.
	fillPattern64 = 0x4547415045474150
)

// Machine is the IMAGE_FILE_MACHINE value recorded in the header.
type Machine uint32

// Known machine types.
const (
	MachineI386  Machine = 0x014C
	MachineARM   Machine = 0x01C0
	MachineARMNT Machine = 0x01C4
	MachineAMD64 Machine = 0x8664
	MachineARM64 Machine = 0xAA64
)

// String returns the architecture name used in reports.
func (m Machine) String() string {
	switch m {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineARM, MachineARMNT:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	default:
		return fmt.Sprintf("Unknown (0x%X)", uint32(m))
	}
}

// Type is the kind of dump, decoded from the header's DumpType field.
type Type int

// Dump types.
const (
	TypeUnknown Type = iota
	TypeFull
	TypeKernel
	TypeAutomatic
	TypeMinidump
	TypeLiveKernel
)

// String returns the short name of the dump type.
func (t Type) String() string {
	switch t {
	case TypeFull:
		return "Full"
	case TypeKernel:
		return "Kernel"
	case TypeAutomatic:
		return "Automatic"
	case TypeMinidump:
		return "Minidump"
	case TypeLiveKernel:
		return "LiveKernel"
	default:
		return "Unknown"
	}
}

// DisplayName returns the name Windows uses for the dump type.
func (t Type) DisplayName() string {
	switch t {
	case TypeFull:
		return "Complete Memory Dump"
	case TypeKernel:
		return "Kernel Memory Dump"
	case TypeAutomatic:
		return "Automatic Memory Dump"
	case TypeMinidump:
		return "Small Memory Dump (Minidump)"
	case TypeLiveKernel:
		return "Live Kernel Dump"
	default:
		return "Unknown Dump Type"
	}
}

// rawDumpTypes maps the on-disk DumpType values to Type.
// 5 and 6 are the bitmap variants of full and kernel dumps.
var rawDumpTypes = map[uint32]struct {
	typ    Type
	bitmap bool
}{
	1: {TypeFull, false},
	2: {TypeKernel, false},
	3: {TypeUnknown, false},
	4: {TypeMinidump, false},
	5: {TypeFull, true},
	6: {TypeKernel, true},
	7: {TypeAutomatic, true},
}

// liveDumpBugchecks are the stop codes written by live kernel dumps,
// which do not stop the machine.
var liveDumpBugchecks = map[uint32]bool{
	0x117: true, // VIDEO_TDR_TIMEOUT_DETECTED
	0x141: true, // VIDEO_ENGINE_TIMEOUT_DETECTED
	0x144: true, // BUGCODE_USB3_DRIVER
	0x15C: true, // PDC_WATCHDOG_TIMEOUT_LIVEDUMP
	0x15D: true, // SOC_SUBSYSTEM_FAILURE_LIVEDUMP
	0x161: true, // LIVE_SYSTEM_DUMP
	0x164: true, // WIN32K_CRITICAL_FAILURE_LIVEDUMP
	0x193: true, // VIDEO_DXGKRNL_LIVEDUMP
	0x1C4: true, // DRIVER_VERIFIER_DETECTED_VIOLATION_LIVEDUMP
	0x1C5: true, // IO_THREADPOOL_DEADLOCK_LIVEDUMP
	0x1C8: true, // MANUALLY_INITIATED_POWER_BUTTON_HOLD_LIVEDUMP
	0x1D6: true, // WORKER_THREAD_RETURNED_WITH_SYSTEM_PAGE_PRIORITY_ACTIVE
}

// headerLayout holds the field offsets of one header flavour.
type headerLayout struct {
	size         int
	ptrSize      int
	dirBase      int
	pfnDatabase  int
	moduleList   int
	machine      int
	processors   int
	bugcheck     int
	params       int
	physMem      int
	context      int
	contextFlags int
	exception    int
	dumpType     int
	requiredSize int
	systemTime   int
}

var layout64 = headerLayout{
	size:         HeaderSize64,
	ptrSize:      8,
	dirBase:      0x10,
	pfnDatabase:  0x18,
	moduleList:   0x20,
	machine:      0x30,
	processors:   0x34,
	bugcheck:     0x38,
	params:       0x40,
	physMem:      0x88,
	context:      0x348,
	contextFlags: 0x30,
	exception:    0xF00,
	dumpType:     0xF98,
	requiredSize: 0xFA0,
	systemTime:   0xFA8,
}

var layout32 = headerLayout{
	size:         HeaderSize32,
	ptrSize:      4,
	dirBase:      0x10,
	pfnDatabase:  0x14,
	moduleList:   0x18,
	machine:      0x20,
	processors:   0x24,
	bugcheck:     0x28,
	params:       0x2C,
	physMem:      0x64,
	context:      0x320,
	contextFlags: 0x00,
	exception:    0x7D0,
	dumpType:     0xF88,
	requiredSize: 0xFA0,
	systemTime:   0xFC0,
}

// physMemBufferSize is the space reserved in both headers for the
// PHYSICAL_MEMORY_DESCRIPTOR.
const physMemBufferSize = 700

// ErrNoPageTableBase is wrapped by Header.PageTableBase when the dump does
// not carry a usable kernel page-table base.
var ErrNoPageTableBase = errors.New("page-table base absent")

// Header is the decoded kernel dump header.
type Header struct {
	// Signature is Signature64 or Signature32.
	Signature string

	// MajorVersion is 0xF for free builds and 0xC for checked builds.
	MajorVersion uint32

	// MinorVersion is the OS build number.
	MinorVersion uint32

	// Is64Bit is true for PAGEDU64 dumps.
	Is64Bit bool

	Machine          Machine
	NumberProcessors uint32

	// Type is the decoded dump type; RawType is the on-disk value.
	Type    Type
	RawType uint32

	// Bitmap is true when physical pages are described by a page bitmap
	// instead of the header run list.
	Bitmap bool

	// DeclaredSize is RequiredDumpSpace, the size Windows expected to write.
	DeclaredSize uint64

	// DirectoryTableBase is the physical address of the kernel's top-level
	// page table as recorded in the header.
	DirectoryTableBase uint64

	// PfnDatabase is the kernel virtual address of the PFN database.
	PfnDatabase uint64

	// PsLoadedModuleList is the kernel virtual address of the loaded-module list head.
	PsLoadedModuleList uint64

	// ContextOffset and ExceptionOffset are file offsets of the two
	// optional records. Zero means the record is absent.
	ContextOffset   int64
	ExceptionOffset int64

	BugcheckCode       uint32
	BugcheckParameters [4]uint64

	// SystemTime is the crash time as a Windows FILETIME.
	SystemTime uint64

	// PhysicalPages is NumberOfPages from the physical memory descriptor.
	PhysicalPages uint64

	// Runs lists the physical memory ranges present in the file.
	Runs RunList

	// Size is the on-disk size of the header.
	Size int64

	raw []byte
}

// ParseOption configures ParseHeader.
type ParseOption func(*parseOptions)

type parseOptions struct {
	runTolerancePages uint64
	maxBitmapRuns     int
}

// DefaultRunTolerancePages is how far, in pages, the run list may extend
// past the declared dump size before the header is considered corrupt.
const DefaultRunTolerancePages = 256

// DefaultMaxBitmapRuns bounds the number of runs built from a page bitmap.
const DefaultMaxBitmapRuns = 1 << 20

// WithRunTolerance sets the run-list overflow tolerance in pages.
func WithRunTolerance(pages uint64) ParseOption {
	return func(o *parseOptions) {
		o.runTolerancePages = pages
	}
}

// WithMaxBitmapRuns bounds the number of runs built from a page bitmap.
func WithMaxBitmapRuns(n int) ParseOption {
	return func(o *parseOptions) {
		if n > 0 {
			o.maxBitmapRuns = n
		}
	}
}

// ParseHeader reads and validates the header at offset 0.
//
// A file too small to hold a signature, or one carrying an unknown
// signature, fails with KindInvalidFormat. A known signature on a file
// shorter than its header, or a declared dump size larger than the file,
// fails with KindIO. Inconsistent run lists fail with KindCorruptHeader.
func ParseHeader(r *Reader, opts ...ParseOption) (*Header, error) {
	o := parseOptions{
		runTolerancePages: DefaultRunTolerancePages,
		maxBitmapRuns:     DefaultMaxBitmapRuns,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if r.Size() < signatureLen {
		return nil, NewError(KindInvalidFormat, "read signature", 0,
			fmt.Errorf("file of %d bytes is too small to be a dump", r.Size()))
	}
	sig, err := r.ReadBytes(0, signatureLen)
	if err != nil {
		return nil, err
	}

	var layout headerLayout
	switch string(sig) {
	case Signature64:
		layout = layout64
	case Signature32:
		layout = layout32
	default:
		return nil, NewError(KindInvalidFormat, "read signature", 0,
			fmt.Errorf("unknown signature %q", sig))
	}

	if r.Size() < int64(layout.size) {
		return nil, NewError(KindIO, "read header", 0,
			fmt.Errorf("file of %d bytes is shorter than the %d-byte header", r.Size(), layout.size))
	}
	raw, err := r.ReadBytes(0, layout.size)
	if err != nil {
		return nil, err
	}

	h := decodeHeader(raw, layout)
	h.Signature = string(sig)

	if h.DeclaredSize > uint64(r.Size()) {
		return nil, NewError(KindIO, "check dump size", NoOffset,
			fmt.Errorf("header declares %d bytes but the file holds %d (truncated file)", h.DeclaredSize, r.Size()))
	}

	if err := h.parseRuns(r, raw, layout, o); err != nil {
		return nil, err
	}
	return h, nil
}

func decodeHeader(raw []byte, l headerLayout) *Header {
	d := NewDecoder(raw, "dump header")
	h := &Header{
		MajorVersion:       d.U32(0x08),
		MinorVersion:       d.U32(0x0C),
		Is64Bit:            l.ptrSize == 8,
		DirectoryTableBase: d.Ptr(l.dirBase, l.ptrSize),
		PfnDatabase:        d.Ptr(l.pfnDatabase, l.ptrSize),
		PsLoadedModuleList: d.Ptr(l.moduleList, l.ptrSize),
		Machine:            Machine(d.U32(l.machine)),
		NumberProcessors:   d.U32(l.processors),
		BugcheckCode:       d.U32(l.bugcheck),
		RawType:            d.U32(l.dumpType),
		DeclaredSize:       d.U64(l.requiredSize),
		SystemTime:         d.U64(l.systemTime),
		Size:               int64(l.size),
		raw:                raw,
	}
	for i := range h.BugcheckParameters {
		h.BugcheckParameters[i] = d.Ptr(l.params+i*l.ptrSize, l.ptrSize)
	}
	if h.DeclaredSize == fillPattern64 {
		h.DeclaredSize = 0
	}

	if t, ok := rawDumpTypes[h.RawType]; ok {
		h.Type = t.typ
		h.Bitmap = t.bitmap
	}
	if liveDumpBugchecks[h.BugcheckCode] && h.Type != TypeMinidump {
		h.Type = TypeLiveKernel
	}

	if flags := d.U32(l.context + l.contextFlags); flags != 0 && flags != fillPattern32 {
		h.ContextOffset = int64(l.context)
	}
	if code := d.U32(l.exception); code != 0 && code != fillPattern32 {
		h.ExceptionOffset = int64(l.exception)
	}
	return h
}

// PageTableBase returns the physical address used to translate kernel
// virtual addresses. The error wraps ErrNoPageTableBase when the dump
// type carries no usable base; callers skip the module walk in that case.
func (h *Header) PageTableBase() (uint64, error) {
	switch {
	case !h.Is64Bit:
		return 0, fmt.Errorf("%w: 32-bit dumps use a paging mode that is not walked", ErrNoPageTableBase)
	case h.Type == TypeMinidump:
		return 0, fmt.Errorf("%w: minidumps carry no kernel page tables", ErrNoPageTableBase)
	case h.DirectoryTableBase == 0 || h.DirectoryTableBase == fillPattern64:
		return 0, fmt.Errorf("%w: header DirectoryTableBase is empty", ErrNoPageTableBase)
	}
	return h.DirectoryTableBase, nil
}

// HasModuleList reports whether PsLoadedModuleList holds an address.
func (h *Header) HasModuleList() bool {
	return h.PsLoadedModuleList != 0 && h.PsLoadedModuleList != fillPattern64 &&
		h.PsLoadedModuleList != fillPattern32
}

// PointerSize returns 8 for 64-bit dumps and 4 otherwise.
func (h *Header) PointerSize() int {
	if h.Is64Bit {
		return 8
	}
	return 4
}

// CrashTime converts SystemTime to UTC. It returns the zero time when the
// field is unset or out of range.
func (h *Header) CrashTime() time.Time {
	return FiletimeToTime(h.SystemTime)
}

// filetimeUnixDelta is the number of 100ns intervals between 1601-01-01
// and 1970-01-01.
const filetimeUnixDelta = 116444736000000000

// FiletimeToTime converts a Windows FILETIME to UTC.
func FiletimeToTime(ft uint64) time.Time {
	if ft <= filetimeUnixDelta || ft == fillPattern64 {
		return time.Time{}
	}
	ticks := ft - filetimeUnixDelta
	if ticks > math.MaxInt64/100 {
		return time.Time{}
	}
	return time.Unix(0, int64(ticks)*100).UTC()
}

// OSBuild returns the OS build number.
func (h *Header) OSBuild() uint32 {
	return h.MinorVersion
}

// OSVersion names the Windows release from the build number.
func (h *Header) OSVersion() string {
	build := h.MinorVersion
	name := "Windows NT"
	switch {
	case build >= 22000:
		name = "Windows 11"
	case build >= 10240:
		name = "Windows 10"
	case build >= 9600:
		name = "Windows 8.1"
	case build >= 9200:
		name = "Windows 8"
	case build >= 7600:
		name = "Windows 7"
	}
	version := fmt.Sprintf("%s (build %d)", name, build)
	if h.MajorVersion == 0x0C {
		version += " checked"
	}
	return version
}

// Digest returns a BLAKE2b-256 fingerprint of the raw header. It identifies
// a dump without exposing its path.
func (h *Header) Digest() string {
	sum := blake2b.Sum256(h.raw)
	return hex.EncodeToString(sum[:])
}
