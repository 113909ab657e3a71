package report

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nao1215/dumpscan/internal/model"
	"github.com/nao1215/dumpscan/internal/privacy"
)

// Bundle member names.
const (
	AnalysisFile         = "analysis.json"
	SystemInfoFile       = "system_info.json"
	CrashSummaryFile     = "crash_summary.json"
	BugcheckAnalysisFile = "bugcheck_analysis.json"
	StackTraceFile       = "stack_trace.json"
	DriversFile          = "drivers.json"
	SummaryTextFile      = "summary.txt"
	SummaryMarkdownFile  = "summary.md"
	ReadmeFile           = "README.txt"

	bundlePrefix    = "BSOD_Analysis_"
	bundleTimestamp = "20060102_150405"
)

// Bundle validation errors. They mirror the checks the upload backend
// performs before accepting a bundle.
var (
	// ErrNotBundle is returned when the file is not a readable ZIP archive.
	ErrNotBundle = errors.New("not a valid ZIP bundle")

	// ErrMissingAnalysis is returned when analysis.json is absent.
	ErrMissingAnalysis = errors.New("missing required file: " + AnalysisFile)

	// ErrInvalidAnalysis is returned when analysis.json is not valid JSON.
	ErrInvalidAnalysis = errors.New("invalid JSON in " + AnalysisFile)

	// ErrMissingField is returned when a required top-level field is absent.
	ErrMissingField = errors.New("missing required field")

	// ErrMissingToolName is returned when metadata.tool_name is empty.
	ErrMissingToolName = errors.New("missing tool_name in metadata")

	// ErrNoCrashData is returned when both crash_summary and
	// bugcheck_analysis are missing.
	ErrNoCrashData = errors.New("no crash data found")
)

const readme = `dumpscan - EXTRACTED DATA
=========================

This ZIP file contains diagnostic data extracted from a Windows memory
dump file by dumpscan.

FILES INCLUDED:
---------------
- analysis.json          : Complete analysis in JSON format (for upload)
- summary.txt            : Human-readable summary of the crash
- summary.md             : The same summary in Markdown
- system_info.json       : System information (OS version, architecture, etc.)
- crash_summary.json     : Basic crash information (bugcheck code and parameters)
- bugcheck_analysis.json : Detailed bugcheck interpretation
- stack_trace.json       : CPU register state and exception info (if available)
- drivers.json           : List of loaded drivers (if extractable)

HOW TO USE:
-----------
1. Upload the 'analysis.json' file (or this whole ZIP) for a detailed analysis
2. Review 'summary.txt' or 'summary.md' for a quick overview

PRIVACY NOTE:
-------------
This bundle contains ONLY diagnostic information.
- NO personal files or documents are included
- NO passwords or credentials are included
- NO process memory contents are included
- User profile names in paths are replaced with <user>
`

// BundleName returns the archive name for a dump, stamped with t.
func BundleName(dumpPath string, t time.Time) string {
	name := privacy.BaseName(dumpPath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		stem = "dump"
	}
	return bundlePrefix + stem + "_" + t.Format(bundleTimestamp) + ".zip"
}

// WriteBundle writes the result archive into dir and returns its path.
// Section files are only written for sections that were produced.
func WriteBundle(dir, dumpPath string, result *model.AnalysisResult, now time.Time) (string, error) {
	if result == nil {
		return "", errors.New("write bundle: nil result")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(dir, BundleName(dumpPath, now))
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create bundle: %w", err)
	}

	if err := writeBundle(f, result, now); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close bundle: %w", err)
	}
	return path, nil
}

type bundleMember struct {
	name    string
	present bool
	render  func(io.Writer) error
}

func writeBundle(out io.Writer, result *model.AnalysisResult, now time.Time) error {
	zw := zip.NewWriter(out)

	members := []bundleMember{
		{AnalysisFile, true, jsonMember(result)},
		{SystemInfoFile, result.SystemInfo != nil, jsonMember(result.SystemInfo)},
		{CrashSummaryFile, result.CrashSummary != nil, jsonMember(result.CrashSummary)},
		{BugcheckAnalysisFile, result.BugcheckAnalysis != nil, jsonMember(result.BugcheckAnalysis)},
		{StackTraceFile, result.StackTrace != nil, jsonMember(result.StackTrace)},
		{DriversFile, result.Drivers != nil, jsonMember(result.Drivers)},
		{SummaryTextFile, true, writerMember(result, func(w io.Writer) Writer { return NewSimpleWriter(w, WithVerbose(true)) })},
		{SummaryMarkdownFile, true, writerMember(result, func(w io.Writer) Writer { return NewMarkdownWriter(w) })},
		{ReadmeFile, true, func(w io.Writer) error {
			_, err := io.WriteString(w, readme)
			return err
		}},
	}

	for _, m := range members {
		if !m.present {
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     m.name,
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			return fmt.Errorf("add %s: %w", m.name, err)
		}
		if err := m.render(w); err != nil {
			return fmt.Errorf("write %s: %w", m.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish bundle: %w", err)
	}
	return nil
}

func jsonMember(v any) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := NewJSONWriter(w, WithPrettyPrint()).WriteSection(v)
		return err
	}
}

func writerMember(result *model.AnalysisResult, newWriter func(io.Writer) Writer) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := newWriter(w).Write(result)
		return err
	}
}

// BundleExporter writes result bundles to disk.
type BundleExporter struct {
	// Dir is the output directory. When empty, the bundle is written next
	// to the dump file.
	Dir string

	// Now returns the bundle timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Export writes the bundle for a result and returns its path.
func (e *BundleExporter) Export(ctx context.Context, src string, result *model.AnalysisResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := e.Dir
	if dir == "" {
		dir = filepath.Dir(src)
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return WriteBundle(dir, src, result, now())
}

// ValidateBundle opens a bundle and checks it the way the upload backend
// does. It returns the decoded analysis on success.
func ValidateBundle(path string) (*model.AnalysisResult, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotBundle, err)
	}
	defer zr.Close()

	f, err := zr.Open(AnalysisFile)
	if err != nil {
		return nil, ErrMissingAnalysis
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", AnalysisFile, err)
	}
	return validateAnalysis(data)
}

func validateAnalysis(data []byte) (*model.AnalysisResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAnalysis, err)
	}
	for _, name := range []string{"metadata", "success"} {
		if _, ok := fields[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}

	var result model.AnalysisResult
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAnalysis, err)
	}
	if result.Metadata.ToolName == "" {
		return nil, ErrMissingToolName
	}
	if result.CrashSummary == nil && result.BugcheckAnalysis == nil {
		return nil, ErrNoCrashData
	}
	return &result, nil
}
