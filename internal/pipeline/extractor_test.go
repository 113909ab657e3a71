package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	goerrors "github.com/go-errors/errors"

	"github.com/nao1215/dumpscan/internal/dump"
	"github.com/nao1215/dumpscan/internal/dump/dumptest"
	"github.com/nao1215/dumpscan/internal/model"
)

const (
	stackBase = 0xFFFFF80000500000
	faultIP   = 0xFFFFF80005001234
)

// recordingExporter captures exported results.
type recordingExporter struct {
	mu      sync.Mutex
	results []*model.AnalysisResult
	err     error
}

func (r *recordingExporter) Export(_ context.Context, src string, res *model.AnalysisResult) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.results = append(r.results, res)
	return src + ".zip", nil
}

func writeDump(t *testing.T, dir string, b *dumptest.Builder) string {
	t.Helper()
	return writeBytes(t, dir, b.Bytes())
}

func writeBytes(t *testing.T, dir string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, "MEMORY.DMP")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

// kernelCrash builds a 0x1E kernel dump with a context, an exception
// record, three modules and a stack holding two module addresses.
func kernelCrash() *dumptest.Builder {
	return dumptest.New().
		Bugcheck(0x1E, 0xC0000005, faultIP, 0, 0xFFFFF80000ABC000).
		SystemTime(133000000000000000).
		Context(map[string]uint64{"rip": faultIP, "rsp": stackBase, "rax": 0x42}).
		Exception(0xC0000005, faultIP, 0, 0xFFFFF80000ABC000).
		AddModule(dumptest.Module{
			Name: "ntoskrnl.exe", Path: `\SystemRoot\system32\ntoskrnl.exe`,
			Base: 0xFFFFF80001000000, Size: 0x1000000, SignatureLevel: 14,
		}).
		AddModule(dumptest.Module{
			Name: "hal.dll", Path: `\SystemRoot\system32\hal.dll`,
			Base: 0xFFFFF80003000000, Size: 0x100000,
		}).
		AddModule(dumptest.Module{
			Name: "nvlddmkm.sys", Path: `\SystemRoot\System32\DriverStore\nvlddmkm.sys`,
			Base: 0xFFFFF80005000000, Size: 0x2000000, TimeDateStamp: 1600000000,
		}).
		WriteVirtual64(stackBase, 0xFFFFF80003000100).
		WriteVirtual64(stackBase+8, 0x1234).
		WriteVirtual64(stackBase+16, 0xFFFFF80005000010)
}

// TestExtractKernelDump tests a complete run over a kernel dump.
func TestExtractKernelDump(t *testing.T) {
	t.Parallel()

	path := writeDump(t, t.TempDir(), kernelCrash())
	exp := &recordingExporter{}
	out, err := Extract(context.Background(), path,
		WithExporter(exp),
		WithToolVersion("1.2.3"),
		WithExtractorLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != StateExported {
		t.Errorf("State = %s, expected exported", out.State)
	}
	if out.BundlePath != path+".zip" {
		t.Errorf("BundlePath = %q", out.BundlePath)
	}
	if len(exp.results) != 1 || exp.results[0] != out.Result {
		t.Fatal("expected the exporter to receive the final result")
	}

	res := out.Result
	if !res.Success || res.Error != "" {
		t.Errorf("Success = %v, Error = %q", res.Success, res.Error)
	}

	t.Run("metadata", func(t *testing.T) {
		t.Parallel()

		md := res.Metadata
		if md.ToolName != model.ToolName || md.ToolVersion != "1.2.3" {
			t.Errorf("tool = %q %q", md.ToolName, md.ToolVersion)
		}
		if len(md.AnalysisID) != 36 {
			t.Errorf("AnalysisID = %q, expected a UUID", md.AnalysisID)
		}
		if md.DumpFile.Name != "MEMORY.DMP" || md.DumpFile.SizeBytes == 0 {
			t.Errorf("DumpFile = %+v", md.DumpFile)
		}
		if len(md.DumpFile.HeaderDigest) != 64 {
			t.Errorf("HeaderDigest = %q", md.DumpFile.HeaderDigest)
		}
		if md.ParserNotes == nil {
			t.Error("expected non-nil parser notes")
		}
		data, err := json.Marshal(md)
		if err != nil {
			t.Fatalf("failed to marshal metadata: %v", err)
		}
		if !strings.Contains(string(data), `"parser_notes":[`) {
			t.Errorf("parser_notes must be a JSON array: %s", data)
		}
	})

	t.Run("crash summary", func(t *testing.T) {
		t.Parallel()

		cs := res.CrashSummary
		if cs.BugcheckCode != "0x0000001E" || cs.BugcheckName != "KMODE_EXCEPTION_NOT_HANDLED" {
			t.Errorf("bugcheck = %q %q", cs.BugcheckCode, cs.BugcheckName)
		}
		if cs.Parameter1 != "0x00000000C0000005" || cs.Parameter2 != "0xFFFFF80005001234" {
			t.Errorf("parameters = %v", cs.Parameters())
		}
		if res.SystemInfo.DumpType != "Kernel Memory Dump" || !res.SystemInfo.Is64Bit {
			t.Errorf("SystemInfo = %+v", res.SystemInfo)
		}
		if res.SystemInfo.CrashTime == "" {
			t.Error("expected a crash time")
		}
		if res.BugcheckAnalysis.Category != model.CategoryDriver {
			t.Errorf("Category = %q", res.BugcheckAnalysis.Category)
		}
	})

	t.Run("stack trace", func(t *testing.T) {
		t.Parallel()

		st := res.StackTrace
		if !st.HasContext || !st.HasException {
			t.Fatalf("HasContext = %v, HasException = %v", st.HasContext, st.HasException)
		}
		if st.InstructionPointer != "0xFFFFF80005001234" || st.Registers["rax"] != "0x0000000000000042" {
			t.Errorf("ip = %q, rax = %q", st.InstructionPointer, st.Registers["rax"])
		}
		if st.Exception.Name != "STATUS_ACCESS_VIOLATION" || len(st.Exception.Parameters) != 2 {
			t.Errorf("Exception = %+v", st.Exception)
		}
		if st.Note != noteRawRegister {
			t.Errorf("Note = %q", st.Note)
		}

		want := []model.Frame{
			{Index: 0, Address: "0xFFFFF80005001234", Module: "nvlddmkm.sys", Offset: "0x1234", Source: model.FrameSourceContext},
			{Index: 1, Address: "0xFFFFF80003000100", Module: "hal.dll", Offset: "0x100", Source: model.FrameSourceStackScan},
			{Index: 2, Address: "0xFFFFF80005000010", Module: "nvlddmkm.sys", Offset: "0x10", Source: model.FrameSourceStackScan},
		}
		if st.RawFrameCount != len(want) || len(st.RawFrames) != len(want) {
			t.Fatalf("got %d frames, expected %d: %+v", len(st.RawFrames), len(want), st.RawFrames)
		}
		for i := range want {
			if st.RawFrames[i] != want[i] {
				t.Errorf("frame %d = %+v, expected %+v", i, st.RawFrames[i], want[i])
			}
		}
	})

	t.Run("drivers", func(t *testing.T) {
		t.Parallel()

		d := res.Drivers
		if d.ExtractionMethod != model.ExtractionFullWalk {
			t.Errorf("ExtractionMethod = %q", d.ExtractionMethod)
		}
		if d.TotalCount != 3 || d.MicrosoftCount != 2 || d.ProblematicCount != 1 {
			t.Errorf("counts = %d/%d/%d", d.TotalCount, d.MicrosoftCount, d.ProblematicCount)
		}
		if got := strings.Join(d.Names(), ","); got != "ntoskrnl.exe,hal.dll,nvlddmkm.sys" {
			t.Errorf("Names() = %s", got)
		}
	})
}

// TestExtractFatal tests runs stopped by a fatal error.
func TestExtractFatal(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		data       func() []byte
		wantErr    error
		wantHeader bool
	}{
		{
			name:    "truncated file",
			data:    func() []byte { b := dumptest.New(); return b.DeclaredSize(1 << 30).Bytes() },
			wantErr: dump.ErrIO,
		},
		{
			name:    "bad signature",
			data:    func() []byte { return []byte(strings.Repeat("NOTADUMP", 1024)) },
			wantErr: dump.ErrInvalidFormat,
		},
		{
			name:    "too short",
			data:    func() []byte { return []byte("PAGE") },
			wantErr: dump.ErrInvalidFormat,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			exp := &recordingExporter{}
			path := writeBytes(t, t.TempDir(), tc.data())
			out, err := Extract(context.Background(), path, WithExporter(exp), WithExtractorLogger(discardLogger()))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if !dump.IsFatal(err) {
				t.Error("expected a fatal error")
			}
			if !hasFailureStack(err) {
				t.Errorf("expected %v to carry the stack where the run failed", err)
			}
			if out == nil || out.Result == nil {
				t.Fatal("expected a result even on failure")
			}
			if out.State != StateFailed || !out.Failed() {
				t.Errorf("State = %s", out.State)
			}
			if out.Result.Success || out.Result.Error == "" {
				t.Errorf("Success = %v, Error = %q", out.Result.Success, out.Result.Error)
			}
			if out.Result.SystemInfo != nil || out.Result.Drivers != nil {
				t.Error("expected no sections on a header failure")
			}
			if len(exp.results) != 0 {
				t.Error("a failed run must not be exported")
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "missing.dmp")
		out, err := Extract(context.Background(), path, WithExtractorLogger(discardLogger()))
		if !errors.Is(err, dump.ErrIO) {
			t.Fatalf("expected ErrIO, got %v", err)
		}
		if out.Result.Metadata.DumpFile.Name != "missing.dmp" {
			t.Errorf("Name = %q", out.Result.Metadata.DumpFile.Name)
		}
	})

	t.Run("export failure", func(t *testing.T) {
		t.Parallel()

		path := writeDump(t, t.TempDir(), kernelCrash())
		exp := &recordingExporter{err: errors.New("disk full")}
		out, err := Extract(context.Background(), path, WithExporter(exp), WithExtractorLogger(discardLogger()))
		if err == nil || !strings.Contains(err.Error(), "disk full") {
			t.Fatalf("expected the export error, got %v", err)
		}
		if out.Result.Success || out.Result.CrashSummary == nil {
			t.Errorf("expected a failed result that keeps the extracted sections, got %+v", out.Result)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()

		path := writeDump(t, t.TempDir(), kernelCrash())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out, err := Extract(ctx, path, WithExtractorLogger(discardLogger()))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if out.State != StateFailed {
			t.Errorf("State = %s", out.State)
		}
	})
}

// TestExtractDegraded tests runs that succeed with parser notes.
func TestExtractDegraded(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		builder    func() *dumptest.Builder
		wantMethod model.ExtractionMethod
		wantCount  int
		wantNote   string
	}{
		{
			name:       "minidump",
			builder:    func() *dumptest.Builder { return dumptest.New().DumpType(4).Bugcheck(0xD1) },
			wantMethod: model.ExtractionNotAttempted,
			wantNote:   "Module walk not attempted",
		},
		{
			name:       "no module list head",
			builder:    func() *dumptest.Builder { return dumptest.New().Bugcheck(0x50) },
			wantMethod: model.ExtractionNotAttempted,
			wantNote:   "PsLoadedModuleList",
		},
		{
			name:       "broken link",
			builder:    func() *dumptest.Builder { return kernelCrash().SetFlink(1, 0xFFFFF80099990000) },
			wantMethod: model.ExtractionBestEffort,
			wantCount:  2,
			wantNote:   "stopped early",
		},
		{
			name:       "unknown bugcheck",
			builder:    func() *dumptest.Builder { return dumptest.New().ModuleList().Bugcheck(0xDEAD) },
			wantMethod: model.ExtractionFullWalk,
			wantNote:   "not in the knowledge base",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := writeDump(t, t.TempDir(), tc.builder())
			out, err := Extract(context.Background(), path, WithExtractorLogger(discardLogger()))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			res := out.Result
			if !res.Success || out.State != StateExported {
				t.Errorf("Success = %v, State = %s", res.Success, out.State)
			}
			if res.Drivers.ExtractionMethod != tc.wantMethod {
				t.Errorf("ExtractionMethod = %q, expected %q", res.Drivers.ExtractionMethod, tc.wantMethod)
			}
			if res.Drivers.TotalCount != tc.wantCount {
				t.Errorf("TotalCount = %d, expected %d", res.Drivers.TotalCount, tc.wantCount)
			}
			if !hasNote(res.Metadata.ParserNotes, tc.wantNote) {
				t.Errorf("expected a note containing %q, got %q", tc.wantNote, res.Metadata.ParserNotes)
			}
		})
	}
}

// TestExtractNoContext tests the stack section of a dump without records.
func TestExtractNoContext(t *testing.T) {
	t.Parallel()

	path := writeDump(t, t.TempDir(), dumptest.New().Bugcheck(0x161))
	out, err := Extract(context.Background(), path, WithExtractorLogger(discardLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := out.Result.StackTrace
	if st.HasContext || st.HasException || len(st.Registers) != 0 {
		t.Errorf("unexpected stack state %+v", st)
	}
	if st.RawFrames == nil || st.RawFrameCount != 0 {
		t.Errorf("RawFrames = %v, RawFrameCount = %d", st.RawFrames, st.RawFrameCount)
	}
	if st.Note != noteNoContext+" "+noteNoException {
		t.Errorf("Note = %q", st.Note)
	}
	if out.Result.SystemInfo.DumpType != "Live Kernel Dump" {
		t.Errorf("DumpType = %q", out.Result.SystemInfo.DumpType)
	}
	if !hasNote(out.Result.Metadata.ParserNotes, "Limited stack trace") {
		t.Errorf("notes = %q", out.Result.Metadata.ParserNotes)
	}
}

// TestExtractScrubsPaths tests that profile names never reach the result.
func TestExtractScrubsPaths(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "Users", "alice", "Desktop")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	path := writeDump(t, dir, dumptest.New().Bugcheck(0x1A, 0x41790))

	out, err := Extract(context.Background(), path, WithExtractorLogger(discardLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range []string{out.Result.Metadata.DumpFile.Path, out.Result.CrashSummary.FilePath} {
		if strings.Contains(p, "alice") || !strings.Contains(p, "<user>") {
			t.Errorf("path %q was not scrubbed", p)
		}
	}
}

// TestExtractStackScanDisabled tests a zero scan depth.
func TestExtractStackScanDisabled(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()
	limits.StackScanDepth = 0
	path := writeDump(t, t.TempDir(), kernelCrash())
	out, err := Extract(context.Background(), path, WithLimits(limits), WithExtractorLogger(discardLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	frames := out.Result.StackTrace.RawFrames
	if len(frames) != 1 || frames[0].Source != model.FrameSourceContext {
		t.Errorf("frames = %+v, expected only the instruction pointer", frames)
	}
}

func hasNote(notes []string, substr string) bool {
	for _, n := range notes {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

// hasFailureStack reports whether err carries a stack that passes through
// the pipeline or the extractor.
func hasFailureStack(err error) bool {
	var se *goerrors.Error
	if !errors.As(err, &se) {
		return false
	}
	for _, f := range se.StackFrames() {
		if strings.HasSuffix(f.File, "/pipeline.go") || strings.HasSuffix(f.File, "/extractor.go") {
			return true
		}
	}
	return false
}

// TestExtractHeaderOnlyKernelDump tests a minimal 0x1E kernel dump with
// zero parameters, no context record, no memory runs and no page-table
// base.
func TestExtractHeaderOnlyKernelDump(t *testing.T) {
	t.Parallel()

	b := dumptest.New().DirectoryTableBase(0).Bugcheck(0x1E, 0, 0, 0, 0)
	path := writeDump(t, t.TempDir(), b)
	out, err := Extract(context.Background(), path, WithExtractorLogger(discardLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := out.Result
	if !res.Success || out.State != StateExported {
		t.Errorf("Success = %v, State = %s", res.Success, out.State)
	}

	if res.CrashSummary == nil || res.CrashSummary.BugcheckName != "KMODE_EXCEPTION_NOT_HANDLED" {
		t.Fatalf("CrashSummary = %+v", res.CrashSummary)
	}
	if res.StackTrace == nil || res.StackTrace.HasContext {
		t.Errorf("StackTrace = %+v, expected no context", res.StackTrace)
	}
	if res.Drivers == nil || res.Drivers.TotalCount != 0 {
		t.Fatalf("Drivers = %+v", res.Drivers)
	}
	if res.Drivers.ExtractionMethod != model.ExtractionNotAttempted {
		t.Errorf("ExtractionMethod = %q", res.Drivers.ExtractionMethod)
	}
	if !hasNote(res.Metadata.ParserNotes, "page-table base absent") {
		t.Errorf("expected a page-table base note, got %q", res.Metadata.ParserNotes)
	}
}
