package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/dumpscan/internal/model"
)

// MarkdownWriter outputs results in Markdown format for sharing in
// tickets and forum posts. The same document is stored as summary.md.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the result in Markdown format.
func (w *MarkdownWriter) Write(result *model.AnalysisResult) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, result)
	w.writeBugcheck(md, result.BugcheckAnalysis)
	w.writeStack(md, result.StackTrace)
	w.writeDrivers(md, result.Drivers)
	w.writeNotes(md, result.Metadata.ParserNotes)
	w.writeFooter(md, result.Metadata)

	return len(md.String()), md.Build()
}

// writeHeader writes the title, the overview table and a severity alert.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, result *model.AnalysisResult) {
	md.H1("Crash Dump Analysis")
	md.PlainText("")

	rows := [][]string{
		{"Dump File", code(result.Metadata.DumpFile.Name)},
		{"Analyzed", result.Metadata.AnalysisTimestamp.Format("2006-01-02 15:04:05 MST")},
		{"Status", statusText(result)},
	}
	if info := result.SystemInfo; info != nil {
		rows = append(rows,
			[]string{"OS", info.OSVersion},
			[]string{"Architecture", info.Architecture},
			[]string{"Dump Type", info.DumpType},
		)
		if info.CrashTime != "" {
			rows = append(rows, []string{"Crash Time", info.CrashTime})
		}
	}
	if cs := result.CrashSummary; cs != nil {
		rows = append(rows, []string{"Stop Code", code(cs.BugcheckCode) + " " + cs.BugcheckName})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	w.writeAlert(md, result)
}

func statusText(result *model.AnalysisResult) string {
	if !result.Success {
		return "❌ Error - " + result.Error
	}
	if len(result.Metadata.ParserNotes) > 0 {
		return "⚠️ Complete with notes"
	}
	return "✅ Complete"
}

// writeAlert writes an alert matching the stop code severity.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, result *model.AnalysisResult) {
	a := result.BugcheckAnalysis
	if a == nil {
		return
	}
	switch a.Severity {
	case model.SeverityCritical:
		md.Cautionf("%s is a critical stop code. %s", a.Name, a.Description)
	case model.SeverityHigh:
		md.Warningf("%s usually points at a faulty driver or memory. %s", a.Name, a.Description)
	default:
		md.Importantf("%s: %s", a.Name, a.Description)
	}
	md.PlainText("")

	if d := result.Drivers; d != nil && d.ProblematicCount > 0 {
		md.Note(strconv.Itoa(d.ProblematicCount) + " loaded driver(s) are frequently involved in crashes. See the driver section.")
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeBugcheck(md *markdown.Markdown, a *model.BugcheckAnalysis) {
	if a == nil {
		return
	}
	md.H2("Bugcheck Analysis")
	md.PlainText("")
	md.PlainTextf("**Category:** %s | **Severity:** %s", a.CategoryName, a.Severity)
	md.PlainText("")

	rows := make([][]string, 0, len(a.Parameters))
	for _, p := range a.Parameters {
		interp := p.Interpretation
		if interp == "" {
			interp = "-"
		}
		rows = append(rows, []string{strconv.Itoa(p.ParameterNumber), code(p.HexValue), p.Description, interp})
	}
	md.Table(markdown.TableSet{
		Header: []string{"#", "Value", "Meaning", "Interpretation"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(a.LikelyCauses) > 0 {
		md.H2("Likely Causes")
		md.PlainText("")
		md.BulletList(a.LikelyCauses...)
		md.PlainText("")
	}
	if len(a.Recommendations) > 0 {
		md.H2("Recommendations")
		md.PlainText("")
		md.BulletList(a.Recommendations...)
		md.PlainText("")
	}
	if len(a.KeyQuestions) > 0 {
		md.Details("Questions to ask", "- "+strings.Join(a.KeyQuestions, "\n- "))
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeStack(md *markdown.Markdown, st *model.StackTrace) {
	if st == nil {
		return
	}
	md.H2("Processor State")
	md.PlainText("")

	if e := st.Exception; e != nil {
		md.PlainTextf("Exception %s (%s) at %s", code(e.Name), e.CodeHex, code(e.Address))
		md.PlainText("")
	}

	if len(st.RawFrames) > 0 {
		rows := make([][]string, 0, len(st.RawFrames))
		for _, f := range st.RawFrames {
			rows = append(rows, []string{strconv.Itoa(f.Index), code(f.Address), frameLocation(f), f.Source})
		}
		md.Table(markdown.TableSet{
			Header: []string{"#", "Address", "Location", "Source"},
			Rows:   rows,
		})
		md.PlainText("")
	}
	if st.Note != "" {
		md.PlainText("*" + st.Note + "*")
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeDrivers(md *markdown.Markdown, d *model.DriversInfo) {
	if d == nil {
		return
	}
	md.H2("Loaded Drivers")
	md.PlainText("")
	md.PlainTextf("%d drivers, extraction: %s", d.TotalCount, methodTitle(d.ExtractionMethod))
	md.PlainText("")

	if d.TotalCount > 0 {
		w.writePieChart(md, d)
	}

	if len(d.ProblematicDrivers) > 0 {
		rows := make([][]string, 0, len(d.ProblematicDrivers))
		for _, drv := range d.ProblematicDrivers {
			rows = append(rows, []string{code(drv.Name), drv.Version, drv.TimestampHuman, drv.ProblematicReason})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Driver", "Version", "Built", "Why it is flagged"},
			Rows:   rows,
		})
		md.PlainText("")
	}
}

// writePieChart writes a mermaid pie chart of driver origin.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, d *model.DriversInfo) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Driver Origin"),
		piechart.WithShowData(true),
	)

	thirdParty := d.ThirdPartyCount
	if d.MicrosoftCount > 0 {
		chart.LabelAndIntValue("Microsoft", uint64(d.MicrosoftCount))
	}
	// Problematic drivers are counted once, in their own slice.
	problematicThirdParty := 0
	for _, drv := range d.ProblematicDrivers {
		if !drv.IsMicrosoft {
			problematicThirdParty++
		}
	}
	if n := thirdParty - problematicThirdParty; n > 0 {
		chart.LabelAndIntValue("Third-party", uint64(n))
	}
	if problematicThirdParty > 0 {
		chart.LabelAndIntValue("Third-party (flagged)", uint64(problematicThirdParty))
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeNotes(md *markdown.Markdown, notes []string) {
	if len(notes) == 0 {
		return
	}
	md.H2("Parser Notes")
	md.PlainText("")
	md.BulletList(notes...)
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, meta model.Metadata) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by %s %s, analysis %s*", meta.ToolName, meta.ToolVersion, meta.AnalysisID)
}

func methodTitle(m model.ExtractionMethod) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(m), "-", " "))
}

func code(s string) string {
	return "`" + s + "`"
}
