package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nao1215/dumpscan/internal/model"
)

const ruleWidth = 70

// SimpleWriter outputs a human-readable text summary.
// The same text is stored as summary.txt in the bundle.
type SimpleWriter struct {
	baseWriter

	// verbose adds registers and the full driver list.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the result in human-readable format.
func (w *SimpleWriter) Write(result *model.AnalysisResult) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, result)
	w.writeSystem(&sb, result.SystemInfo)
	w.writeCrash(&sb, result.CrashSummary)
	w.writeBugcheck(&sb, result.BugcheckAnalysis)
	w.writeStack(&sb, result.StackTrace)
	w.writeDrivers(&sb, result.Drivers)
	w.writeNotes(&sb, result.Metadata.ParserNotes)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
}

// writeHeader writes the banner and run metadata.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, result *model.AnalysisResult) {
	md := result.Metadata
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("                       BSOD ANALYSIS SUMMARY\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Generated:         %s\n", md.AnalysisTimestamp.Format(time.RFC3339))
	fmt.Fprintf(sb, "Dump File:         %s\n", md.DumpFile.Name)
	fmt.Fprintf(sb, "File Size:         %s\n", humanize.IBytes(uint64(max(md.DumpFile.SizeBytes, 0))))
	fmt.Fprintf(sb, "Analysis ID:       %s\n", md.AnalysisID)
	fmt.Fprintf(sb, "Analysis Duration: %.2f seconds\n", md.AnalysisDurationSeconds)
	if result.Success {
		sb.WriteString("Status:            Complete\n")
	} else {
		fmt.Fprintf(sb, "Status:            ERROR - %s\n", result.Error)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSystem(sb *strings.Builder, info *model.SystemInfo) {
	if info == nil {
		return
	}
	section(sb, "SYSTEM INFORMATION")
	fmt.Fprintf(sb, "OS Version:   %s\n", info.OSVersion)
	fmt.Fprintf(sb, "Architecture: %s\n", info.Architecture)
	fmt.Fprintf(sb, "Processors:   %d\n", info.ProcessorCount)
	fmt.Fprintf(sb, "Dump Type:    %s\n", info.DumpType)
	if info.CrashTime != "" {
		fmt.Fprintf(sb, "Crash Time:   %s\n", info.CrashTime)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeCrash(sb *strings.Builder, cs *model.CrashSummary) {
	if cs == nil {
		return
	}
	section(sb, "CRASH INFORMATION")
	fmt.Fprintf(sb, "Bugcheck Code: %s\n", cs.BugcheckCode)
	fmt.Fprintf(sb, "Bugcheck Name: %s\n", cs.BugcheckName)
	for i, p := range cs.Parameters() {
		fmt.Fprintf(sb, "Parameter %d:   %s\n", i+1, p)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeBugcheck(sb *strings.Builder, a *model.BugcheckAnalysis) {
	if a == nil {
		return
	}
	section(sb, "BUGCHECK ANALYSIS")
	fmt.Fprintf(sb, "Category:    %s\n", a.CategoryName)
	fmt.Fprintf(sb, "Severity:    %s\n", a.Severity)
	fmt.Fprintf(sb, "Description: %s\n\n", a.Description)

	sb.WriteString("Parameter Analysis:\n")
	for _, p := range a.Parameters {
		fmt.Fprintf(sb, "  Param %d: %s\n", p.ParameterNumber, p.HexValue)
		fmt.Fprintf(sb, "    %s\n", p.Description)
		if p.Interpretation != "" {
			fmt.Fprintf(sb, "    -> %s\n", p.Interpretation)
		}
	}
	sb.WriteString("\n")

	writeList(sb, "Likely Causes:", "  * ", a.LikelyCauses)
	writeList(sb, "Recommendations:", "  -> ", a.Recommendations)
	if w.verbose {
		writeList(sb, "Key Questions:", "  ? ", a.KeyQuestions)
	}
}

func writeList(sb *strings.Builder, title, bullet string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(title)
	sb.WriteString("\n")
	for _, item := range items {
		sb.WriteString(bullet)
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeStack(sb *strings.Builder, st *model.StackTrace) {
	if st == nil {
		return
	}
	section(sb, "PROCESSOR STATE")
	if st.HasContext {
		fmt.Fprintf(sb, "Instruction Pointer: %s\n", st.InstructionPointer)
		fmt.Fprintf(sb, "Stack Pointer:       %s\n", st.StackPointer)
	}
	if e := st.Exception; e != nil {
		fmt.Fprintf(sb, "Exception:           %s (%s) at %s\n", e.Name, e.CodeHex, e.Address)
	}
	if len(st.RawFrames) > 0 {
		sb.WriteString("\nRaw Frames:\n")
		for _, f := range st.RawFrames {
			fmt.Fprintf(sb, "  #%-2d %s %s [%s]\n", f.Index, f.Address, frameLocation(f), f.Source)
		}
	}
	if w.verbose && len(st.Registers) > 0 {
		sb.WriteString("\nRegisters:\n")
		for _, name := range slices.Sorted(maps.Keys(st.Registers)) {
			fmt.Fprintf(sb, "  %-6s %s\n", name, st.Registers[name])
		}
	}
	if st.Note != "" {
		fmt.Fprintf(sb, "\nNote: %s\n", st.Note)
	}
	sb.WriteString("\n")
}

func frameLocation(f model.Frame) string {
	if f.Module == "" {
		return "?"
	}
	return f.Module + "+" + f.Offset
}

func (w *SimpleWriter) writeDrivers(sb *strings.Builder, d *model.DriversInfo) {
	if d == nil {
		return
	}
	section(sb, "LOADED DRIVERS")
	fmt.Fprintf(sb, "Total:       %d (Microsoft %d, third-party %d)\n", d.TotalCount, d.MicrosoftCount, d.ThirdPartyCount)
	fmt.Fprintf(sb, "Extraction:  %s\n", d.ExtractionMethod)
	if d.Note != "" {
		fmt.Fprintf(sb, "Note:        %s\n", d.Note)
	}

	if len(d.ProblematicDrivers) > 0 {
		sb.WriteString("\nKnown problematic drivers:\n")
		for _, drv := range d.ProblematicDrivers {
			fmt.Fprintf(sb, "  [!] %s (%s) - %s\n", drv.Name, drv.Version, drv.ProblematicReason)
		}
	}

	if w.verbose && len(d.Drivers) > 0 {
		sb.WriteString("\nAll drivers:\n")
		for _, drv := range d.Drivers {
			origin := "3rd"
			if drv.IsMicrosoft {
				origin = "MS "
			}
			fmt.Fprintf(sb, "  [%s] %-24s %s %9s %s\n", origin, drv.Name, drv.BaseAddress, drv.SizeHuman, drv.Version)
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeNotes(sb *strings.Builder, notes []string) {
	if len(notes) == 0 {
		return
	}
	section(sb, "PARSER NOTES")
	for _, n := range notes {
		fmt.Fprintf(sb, "* %s\n", n)
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("END OF SUMMARY\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
}
