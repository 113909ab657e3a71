package model

import "time"

// ToolName identifies this extractor in every result. The upload backend
// rejects bundles whose metadata lacks it.
const ToolName = "dumpscan"

// AnalysisResult is the root document written to analysis.json.
// It is assembled once at the end of a run and not modified afterwards.
// Sections that could not be produced are nil and serialize as null.
type AnalysisResult struct {
	// Metadata describes the run and the input file.
	Metadata Metadata `json:"metadata"`

	// Success is false when a fatal error stopped the run.
	Success bool `json:"success"`

	// Error holds the fatal error message, if any.
	Error string `json:"error,omitempty"`

	// === Extracted sections ===

	SystemInfo       *SystemInfo       `json:"system_info"`
	CrashSummary     *CrashSummary     `json:"crash_summary"`
	BugcheckAnalysis *BugcheckAnalysis `json:"bugcheck_analysis"`
	StackTrace       *StackTrace       `json:"stack_trace"`
	Drivers          *DriversInfo      `json:"drivers"`
}

// Metadata describes an extraction run.
type Metadata struct {
	ToolName    string `json:"tool_name"`
	ToolVersion string `json:"tool_version"`

	// AnalysisID is a random UUID unique to this run.
	AnalysisID string `json:"analysis_id"`

	AnalysisTimestamp       time.Time `json:"analysis_timestamp"`
	AnalysisDurationSeconds float64   `json:"analysis_duration_seconds"`

	DumpFile DumpFile `json:"dump_file"`

	// ParserNotes lists every non-fatal condition met during the run,
	// in the order they were raised.
	ParserNotes []string `json:"parser_notes"`
}

// DumpFile identifies the input file.
type DumpFile struct {
	// Path is the scrubbed path; user profile names are replaced.
	Path      string `json:"path"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	SizeHuman string `json:"size_human"`

	// HeaderDigest is a BLAKE2b-256 fingerprint of the header page.
	// It identifies repeated uploads of the same dump.
	HeaderDigest string `json:"header_digest,omitempty"`
}

// SystemInfo is the machine description decoded from the header.
type SystemInfo struct {
	OSVersion      string `json:"os_version"`
	OSBuild        uint32 `json:"os_build"`
	Architecture   string `json:"architecture"`
	ProcessorCount uint32 `json:"processor_count"`
	DumpType       string `json:"dump_type"`
	DumpSizeBytes  int64  `json:"dump_size_bytes"`
	DumpSizeHuman  string `json:"dump_size_human"`
	Is64Bit        bool   `json:"is_64bit"`

	// CrashTimeRaw is the FILETIME stored in the header.
	CrashTimeRaw uint64 `json:"crash_time_raw"`

	// CrashTime is CrashTimeRaw in RFC 3339, empty when the header carries
	// no usable timestamp.
	CrashTime string `json:"crash_time,omitempty"`
}

// CrashSummary holds the stop code and its parameters as recorded.
type CrashSummary struct {
	BugcheckCode    string `json:"bugcheck_code"`
	BugcheckCodeInt uint32 `json:"bugcheck_code_int"`
	BugcheckName    string `json:"bugcheck_name"`
	Parameter1      string `json:"parameter1"`
	Parameter2      string `json:"parameter2"`
	Parameter3      string `json:"parameter3"`
	Parameter4      string `json:"parameter4"`
	FilePath        string `json:"file_path"`
	FileName        string `json:"file_name"`
}

// Parameters returns the four hex parameter strings in order.
func (c *CrashSummary) Parameters() [4]string {
	return [4]string{c.Parameter1, c.Parameter2, c.Parameter3, c.Parameter4}
}
