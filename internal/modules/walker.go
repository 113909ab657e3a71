package modules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nao1215/dumpscan/internal/dump"
	"github.com/nao1215/dumpscan/internal/vmem"
)

const (
	// DefaultMaxModules bounds the number of entries a walk visits.
	DefaultMaxModules = 1024

	// DefaultMaxNameBytes bounds a single module name or path read.
	DefaultMaxNameBytes = 1024

	// UnknownName is used when neither the base name nor the path can be read.
	UnknownName = "unknown"
)

// Module is one entry of the kernel's loaded-module list.
type Module struct {
	// Name is the base file name, e.g. "ntoskrnl.exe".
	Name string

	// Path is the full image path as recorded by the loader.
	Path string

	Base          uint64
	Size          uint32
	EntryPoint    uint64
	TimeDateStamp uint32
	Flags         uint32

	// SignatureLevel is the SE_SIGNING_LEVEL the image was validated at.
	SignatureLevel uint8

	// SignatureType is the SE_IMAGE_SIGNATURE_TYPE.
	SignatureType uint8

	// Version and Company come from the image's version resource and are
	// empty when unavailable.
	Version string
	Company string

	// EntryAddress is the kernel address of the KLDR_DATA_TABLE_ENTRY.
	EntryAddress uint64
}

// Contains reports whether addr falls inside the module image.
func (m Module) Contains(addr uint64) bool {
	return addr >= m.Base && addr-m.Base < uint64(m.Size)
}

// Option configures Walk.
type Option func(*options)

type options struct {
	maxModules   int
	maxNameBytes int
	imageDetails bool
}

// WithMaxModules bounds the number of entries visited.
func WithMaxModules(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxModules = n
		}
	}
}

// WithMaxNameBytes bounds each UNICODE_STRING read.
func WithMaxNameBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxNameBytes = n
		}
	}
}

// WithImageDetails enables or disables PE header parsing of each module.
func WithImageDetails(enabled bool) Option {
	return func(o *options) {
		o.imageDetails = enabled
	}
}

// Walk follows InLoadOrderLinks from the list head at PsLoadedModuleList
// and returns the modules in load order.
//
// A repeated entry address, more than the maximum number of entries, or an
// entry that cannot be translated stops the walk. The modules collected so
// far are returned together with a KindPartialModuleList error wrapping the
// cause. Failing to read a name or a PE image does not stop the walk.
func Walk(ctx context.Context, tr *vmem.Translator, head uint64, opts ...Option) ([]Module, error) {
	o := options{
		maxModules:   DefaultMaxModules,
		maxNameBytes: DefaultMaxNameBytes,
		imageDetails: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	flink, err := tr.ReadUint64(head + ldrFlink)
	if err != nil {
		return nil, partial(0, fmt.Errorf("read list head %#x: %w", head, err))
	}

	var mods []Module
	visited := map[uint64]struct{}{head: {}}
	for flink != head {
		if err := ctx.Err(); err != nil {
			return mods, err
		}
		if len(mods) >= o.maxModules {
			return mods, partial(len(mods), fmt.Errorf("more than %d entries", o.maxModules))
		}
		if _, seen := visited[flink]; seen {
			return mods, partial(len(mods), fmt.Errorf("cycle at entry %#x", flink))
		}
		visited[flink] = struct{}{}

		buf, err := tr.ReadVirtual(flink, ldrEntrySize)
		if err != nil {
			return mods, partial(len(mods), fmt.Errorf("read entry %#x: %w", flink, err))
		}
		entry, err := decodeEntry(buf)
		if err != nil {
			return mods, partial(len(mods), err)
		}

		mods = append(mods, buildModule(tr, flink, entry, o))
		flink = entry.Flink
	}
	return mods, nil
}

func partial(count int, cause error) error {
	return dump.NewError(dump.KindPartialModuleList,
		fmt.Sprintf("walk loaded-module list (stopped after %d modules)", count), dump.NoOffset, cause)
}

func buildModule(tr *vmem.Translator, addr uint64, e ldrEntry, o options) Module {
	m := Module{
		Base:           e.DllBase,
		Size:           e.SizeOfImage,
		EntryPoint:     e.EntryPoint,
		TimeDateStamp:  e.TimeDateStamp,
		Flags:          e.Flags,
		SignatureLevel: e.signatureLevel(),
		SignatureType:  e.signatureType(),
		EntryAddress:   addr,
	}

	m.Path, _ = readUnicodeString(tr, e.FullDllName, o.maxNameBytes)
	m.Name, _ = readUnicodeString(tr, e.BaseDllName, o.maxNameBytes)
	if m.Name == "" && m.Path != "" {
		m.Name = baseName(m.Path)
	}
	if m.Name == "" {
		m.Name = UnknownName
	}

	if o.imageDetails && m.Base != 0 && m.Size != 0 {
		if details, ok := readImageDetails(tr.ImageReader(m.Base, m.Size)); ok {
			if m.TimeDateStamp == 0 {
				m.TimeDateStamp = details.TimeDateStamp
			}
			m.Version = details.Version
			m.Company = details.Company
		}
	}
	return m
}

// baseName returns the last element of a Windows or POSIX path.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Index finds the module containing an address.
type Index struct {
	mods []Module
}

// NewIndex returns an Index over mods. Overlapping images resolve to the
// one with the highest base below the address.
func NewIndex(mods []Module) *Index {
	sorted := make([]Module, 0, len(mods))
	for _, m := range mods {
		if m.Size != 0 {
			sorted = append(sorted, m)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })
	return &Index{mods: sorted}
}

// Lookup returns the module containing addr.
func (x *Index) Lookup(addr uint64) (Module, bool) {
	k := sort.Search(len(x.mods), func(k int) bool {
		return addr < x.mods[k].Base
	})
	k--
	if k >= 0 && x.mods[k].Contains(addr) {
		return x.mods[k], true
	}
	return Module{}, false
}
