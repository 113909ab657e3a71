package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/dumpscan/internal/model"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *HistoryDB {
	t.Helper()

	db, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func driver(name, version string, microsoft, problematic bool) model.Driver {
	return model.Driver{Name: name, Version: version, IsMicrosoft: microsoft, IsProblematic: problematic}
}

// newResult returns a recorded-style result with the given stop code and drivers.
func newResult(id string, code uint32, digest string, drivers ...model.Driver) *model.AnalysisResult {
	info := &model.DriversInfo{
		TotalCount:       len(drivers),
		ExtractionMethod: model.ExtractionFullWalk,
		Drivers:          drivers,
	}
	for _, d := range drivers {
		if d.IsMicrosoft {
			info.MicrosoftCount++
		}
		if d.IsProblematic {
			info.ProblematicCount++
		}
	}
	info.ThirdPartyCount = info.TotalCount - info.MicrosoftCount

	return &model.AnalysisResult{
		Metadata: model.Metadata{
			ToolName:          model.ToolName,
			AnalysisID:        id,
			AnalysisTimestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			DumpFile:          model.DumpFile{Name: "MEMORY.DMP", HeaderDigest: digest},
			ParserNotes:       []string{},
		},
		Success: true,
		CrashSummary: &model.CrashSummary{
			BugcheckCodeInt: code,
			BugcheckName:    "TEST_BUGCHECK",
		},
		BugcheckAnalysis: &model.BugcheckAnalysis{Code: code, Severity: model.SeverityHigh},
		Drivers:          info,
	}
}

func record(t *testing.T, db *HistoryDB, res *model.AnalysisResult) {
	t.Helper()
	if err := db.Record(context.Background(), res, "/out/"+res.Metadata.AnalysisID+".zip"); err != nil {
		t.Fatalf("failed to record %s: %v", res.Metadata.AnalysisID, err)
	}
}

// TestOpen tests database opening and creation.
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "newdir", "subdir")
		db, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(filepath.Join(dbDir, FileName)); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != filepath.Join(dbDir, FileName) {
			t.Errorf("Path() = %s", db.Path())
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "nonexistent-db")
		_, err := Open(dbDir, Options{CreateIfNotExists: false, EnableWAL: true})
		if err == nil {
			t.Fatal("expected error when CreateIfNotExists=false and database does not exist")
		}
		if !strings.Contains(err.Error(), "history database not found") {
			t.Errorf("unexpected error message %q", err.Error())
		}
		if _, statErr := os.Stat(dbDir); !os.IsNotExist(statErr) {
			t.Error("database directory should not have been created")
		}
	})

	t.Run("CreateIfNotExists=false opens existing database", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "existing-db")
		db1, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		record(t, db1, newResult("persisted", 0x1E, ""))
		_ = db1.Close()

		db2, err := Open(dbDir, Options{CreateIfNotExists: false, EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to open existing database: %v", err)
		}
		defer db2.Close()

		if _, err := db2.Get(context.Background(), "persisted"); err != nil {
			t.Errorf("expected the record to persist: %v", err)
		}
	})
}

// TestDefaultOptions tests the default options values.
func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	if !opts.CreateIfNotExists {
		t.Error("expected CreateIfNotExists to be true by default")
	}
	if !opts.EnableWAL {
		t.Error("expected EnableWAL to be true by default")
	}
}

// TestRecordAndList tests storing and listing analyses.
func TestRecordAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)

	record(t, db, newResult("aaaa-1", 0x1E, "d1", driver("ntoskrnl.exe", "10.0", true, false)))
	record(t, db, newResult("bbbb-2", 0x50, "d2",
		driver("ntoskrnl.exe", "10.0", true, false),
		driver("nvlddmkm.sys", "31.0", false, true),
	))

	failed := &model.AnalysisResult{
		Metadata: model.Metadata{ToolName: model.ToolName, AnalysisID: "cccc-3", DumpFile: model.DumpFile{Name: "bad.dmp"}},
		Error:    "not a supported dump",
	}
	record(t, db, failed)

	entries, err := db.List(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, expected 3", len(entries))
	}
	if entries[0].AnalysisID != "cccc-3" {
		t.Errorf("expected newest first, got %s", entries[0].AnalysisID)
	}

	f := entries[0]
	if f.Success || f.HasBugcheck || f.Severity != "" {
		t.Errorf("failed entry = %+v", f)
	}

	e := entries[1]
	if !e.Success || !e.HasBugcheck || e.BugcheckCode != 0x50 {
		t.Errorf("entry = %+v", e)
	}
	if e.Severity != "High" {
		t.Errorf("Severity = %q", e.Severity)
	}
	if e.DriverCount != 2 || e.ThirdPartyCount != 1 || e.ProblematicCount != 1 {
		t.Errorf("driver counts = %d/%d/%d", e.DriverCount, e.ThirdPartyCount, e.ProblematicCount)
	}
	if e.BundlePath != "/out/bbbb-2.zip" {
		t.Errorf("BundlePath = %q", e.BundlePath)
	}
	if e.AnalyzedAt.IsZero() {
		t.Error("expected AnalyzedAt to be parsed")
	}

	limited, err := db.List(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("got %d entries with limit 1", len(limited))
	}
}

// TestRecordReplace tests that recording an ID twice keeps one row.
func TestRecordReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)

	record(t, db, newResult("same", 0x1E, "", driver("a.sys", "1", false, false)))
	record(t, db, newResult("same", 0x50, "", driver("b.sys", "1", false, false)))

	entries, err := db.List(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].BugcheckCode != 0x50 {
		t.Fatalf("entries = %+v", entries)
	}

	cmp, err := db.Compare(ctx, "same", "same")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmp.Added) != 0 || len(cmp.Removed) != 0 {
		t.Errorf("expected identical driver sets, got %+v", cmp)
	}
}

// TestGet tests retrieval by full ID and by prefix.
func TestGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)
	record(t, db, newResult("1234abcd-0001", 0x1E, ""))
	record(t, db, newResult("1234abcd-0002", 0x50, ""))
	record(t, db, newResult("9999", 0x7F, ""))

	testCases := []struct {
		name     string
		id       string
		wantCode uint32
		wantErr  error
	}{
		{"full ID", "1234abcd-0002", 0x50, nil},
		{"unique prefix", "99", 0x7F, nil},
		{"ambiguous prefix", "1234abcd", 0, ErrAmbiguousID},
		{"unknown", "ffff", 0, ErrNotFound},
		{"wildcards are literal", "%", 0, ErrNotFound},
		{"empty", "", 0, ErrNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res, err := db.Get(ctx, tc.id)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.CrashSummary.BugcheckCodeInt != tc.wantCode {
				t.Errorf("bugcheck = %#x, expected %#x", res.CrashSummary.BugcheckCodeInt, tc.wantCode)
			}
			if res.BugcheckAnalysis.Severity != model.SeverityHigh {
				t.Errorf("Severity = %v", res.BugcheckAnalysis.Severity)
			}
		})
	}
}

// TestCompare tests recurrence and driver set differences.
func TestCompare(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)

	record(t, db, newResult("first", 0x1E, "digest-1",
		driver("ntoskrnl.exe", "10.0.19041.1", true, false),
		driver("nvlddmkm.sys", "31.0.15.3742", false, true),
		driver("oldav.sys", "1.0", false, false),
	))
	record(t, db, newResult("other", 0x50, "digest-2"))
	record(t, db, newResult("second", 0x1E, "digest-1",
		driver("NTOSKRNL.EXE", "10.0.19041.1", true, false),
		driver("nvlddmkm.sys", "31.0.15.5222", false, true),
		driver("vgk.sys", "2.0", false, true),
	))

	cmp, err := db.Compare(ctx, "first", "second")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cmp.SameBugcheck {
		t.Error("expected the same bugcheck")
	}
	if !cmp.SameDump {
		t.Error("expected matching header digests")
	}
	if cmp.Recurrences != 2 {
		t.Errorf("Recurrences = %d, expected 2", cmp.Recurrences)
	}
	if !slices.Equal(cmp.Added, []string{"vgk.sys"}) {
		t.Errorf("Added = %v", cmp.Added)
	}
	if !slices.Equal(cmp.Removed, []string{"oldav.sys"}) {
		t.Errorf("Removed = %v", cmp.Removed)
	}
	if len(cmp.Changed) != 1 || cmp.Changed[0].Name != "nvlddmkm.sys" ||
		cmp.Changed[0].Before != "31.0.15.3742" || cmp.Changed[0].After != "31.0.15.5222" {
		t.Errorf("Changed = %+v", cmp.Changed)
	}
	if !slices.Equal(cmp.Problematic, []string{"nvlddmkm.sys"}) {
		t.Errorf("Problematic = %v", cmp.Problematic)
	}

	t.Run("different stop codes", func(t *testing.T) {
		t.Parallel()

		cmp, err := db.Compare(ctx, "first", "other")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cmp.SameBugcheck || cmp.SameDump {
			t.Errorf("comparison = %+v", cmp)
		}
		if cmp.Recurrences != 1 {
			t.Errorf("Recurrences = %d, expected 1", cmp.Recurrences)
		}
		if len(cmp.Removed) != 3 {
			t.Errorf("Removed = %v", cmp.Removed)
		}
	})

	t.Run("unknown ID", func(t *testing.T) {
		t.Parallel()

		if _, err := db.Compare(ctx, "first", "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestParseTimestamp tests timestamp parsing fallbacks.
func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in       string
		wantZero bool
	}{
		{"2024-03-01 10:00:00", false},
		{"2024-03-01T10:00:00Z", false},
		{"2024-03-01T10:00:00.123456789Z", false},
		{"not a time", true},
		{"", true},
	}

	for _, tc := range testCases {
		if got := parseTimestamp(tc.in); got.IsZero() != tc.wantZero {
			t.Errorf("parseTimestamp(%q) = %v", tc.in, got)
		}
	}
}
