package drivers

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"

	"github.com/nao1215/dumpscan/internal/model"
	"github.com/nao1215/dumpscan/internal/modules"
	"github.com/nao1215/dumpscan/internal/privacy"
)

// UnknownVersion is reported when a module's version resource is unreadable.
const UnknownVersion = "unknown"

// timestampLayout formats link timestamps in UTC.
const timestampLayout = "2006-01-02 15:04:05"

// Classifier marks modules as Microsoft or third-party and flags known
// problematic drivers. It is safe for concurrent use once built.
type Classifier struct {
	problematic map[string]string
	microsoft   map[string]struct{}
}

// Option extends the built-in tables.
type Option func(*Classifier)

// WithProblematic adds or replaces problematic driver entries.
func WithProblematic(reasons map[string]string) Option {
	return func(c *Classifier) {
		for name, reason := range reasons {
			c.problematic[fold(name)] = reason
		}
	}
}

// WithMicrosoft adds names to the known-Microsoft table.
func WithMicrosoft(names ...string) Option {
	return func(c *Classifier) {
		for _, name := range names {
			c.microsoft[fold(name)] = struct{}{}
		}
	}
}

// NewClassifier returns a Classifier over the built-in tables plus opts.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		problematic: maps.Clone(knownProblematic),
		microsoft:   maps.Clone(knownMicrosoft),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// fold normalizes a driver name for table lookups. A Caser carries state,
// so one is created per call.
func fold(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// IsMicrosoft reports whether m is a Microsoft component. The version
// resource's company wins, then the code-integrity signing level, then the
// known-name table.
func (c *Classifier) IsMicrosoft(m modules.Module) bool {
	if strings.Contains(fold(m.Company), "microsoft") {
		return true
	}
	switch m.SignatureLevel {
	case signingLevelMicrosoft, signingLevelWindows, signingLevelWindowsTCB:
		return true
	}
	_, ok := c.microsoft[fold(m.Name)]
	return ok
}

// Problematic returns the reason a driver name is flagged.
func (c *Classifier) Problematic(name string) (string, bool) {
	reason, ok := c.problematic[fold(name)]
	return reason, ok
}

// Classify converts a walked module into a Driver record.
func (c *Classifier) Classify(m modules.Module) model.Driver {
	d := model.Driver{
		Name:           m.Name,
		BaseAddress:    FormatAddress(m.Base),
		Size:           m.Size,
		SizeHuman:      humanize.IBytes(uint64(m.Size)),
		Path:           privacy.ScrubPath(m.Path),
		Timestamp:      m.TimeDateStamp,
		Version:        m.Version,
		Company:        m.Company,
		SignatureLevel: m.SignatureLevel,
		IsMicrosoft:    c.IsMicrosoft(m),
	}
	if d.Version == "" {
		d.Version = UnknownVersion
	}
	if m.TimeDateStamp != 0 {
		d.TimestampHuman = time.Unix(int64(m.TimeDateStamp), 0).UTC().Format(timestampLayout)
	}
	if reason, ok := c.Problematic(m.Name); ok {
		d.IsProblematic = true
		d.ProblematicReason = reason
	}
	return d
}

// ClassifyAll classifies mods in order.
func (c *Classifier) ClassifyAll(mods []modules.Module) []model.Driver {
	out := make([]model.Driver, 0, len(mods))
	for _, m := range mods {
		out = append(out, c.Classify(m))
	}
	return out
}

// Summarize counts a classified list into DriversInfo.
func Summarize(drivers []model.Driver, method model.ExtractionMethod, note string) *model.DriversInfo {
	info := &model.DriversInfo{
		TotalCount:         len(drivers),
		ExtractionMethod:   method,
		Note:               note,
		Drivers:            drivers,
		ProblematicDrivers: []model.Driver{},
	}
	if info.Drivers == nil {
		info.Drivers = []model.Driver{}
	}
	for _, d := range drivers {
		if d.IsMicrosoft {
			info.MicrosoftCount++
		}
		if d.IsProblematic {
			info.ProblematicCount++
			info.ProblematicDrivers = append(info.ProblematicDrivers, d)
		}
	}
	info.ThirdPartyCount = info.TotalCount - info.MicrosoftCount
	return info
}

// FormatAddress formats a kernel address as 16 hex digits.
func FormatAddress(addr uint64) string {
	return fmt.Sprintf("0x%016X", addr)
}
