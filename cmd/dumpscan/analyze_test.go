package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/dumpscan/internal/config"
	"github.com/nao1215/dumpscan/internal/dump/dumptest"
	"github.com/nao1215/dumpscan/internal/model"
	"github.com/nao1215/dumpscan/internal/report"
)

const (
	faultIP   = 0xFFFFF80005001234
	stackBase = 0xFFFFF80000500000
)

// kernelCrash builds a 0x1E kernel dump with three loaded modules.
func kernelCrash() *dumptest.Builder {
	return dumptest.New().
		Bugcheck(0x1E, 0xC0000005, faultIP, 0, 0xFFFFF80000ABC000).
		SystemTime(133000000000000000).
		Context(map[string]uint64{"rip": faultIP, "rsp": stackBase}).
		AddModule(dumptest.Module{
			Name: "ntoskrnl.exe", Path: `\SystemRoot\system32\ntoskrnl.exe`,
			Base: 0xFFFFF80001000000, Size: 0x1000000, SignatureLevel: 14,
		}).
		AddModule(dumptest.Module{
			Name: "contoso.sys", Path: `\SystemRoot\System32\drivers\contoso.sys`,
			Base: 0xFFFFF80005000000, Size: 0x100000,
		}).
		WriteVirtual64(stackBase, 0xFFFFF80001000100)
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// emptyConfig writes a config file with no settings so the tests never
// pick up a user's .dumpscan.
func emptyConfig(t *testing.T) string {
	t.Helper()
	return writeFile(t, t.TempDir(), ".dumpscan", []byte("{}\n"))
}

// execute runs the root command and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func zipsIn(t *testing.T, dir string) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, "BSOD_Analysis_*.zip"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	return matches
}

// TestNewAnalyzeCmd tests the analyze command flags.
func TestNewAnalyzeCmd(t *testing.T) {
	t.Parallel()

	cmd := NewAnalyzeCmd()
	for _, name := range []string{"output-dir", "format", "no-bundle", "concurrency", "max-modules", "stack-depth", "config", "record", "db-dir", "log-json"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag", name)
		}
	}
	if def := cmd.Flags().Lookup("concurrency").DefValue; def != "2" {
		t.Errorf("concurrency default = %s, expected 2", def)
	}
}

// TestAnalyzeSingleDump tests a complete run over one dump.
func TestAnalyzeSingleDump(t *testing.T) {
	t.Parallel()

	dumpPath := writeFile(t, t.TempDir(), "MEMORY.DMP", kernelCrash().Bytes())
	outDir := t.TempDir()

	stdout, stderr, err := execute(t, "analyze", "--config", emptyConfig(t), "--output-dir", outDir, dumpPath)
	if err != nil {
		t.Fatalf("unexpected error: %v (stderr: %s)", err, stderr)
	}

	for _, want := range []string{"BSOD ANALYSIS SUMMARY", "KMODE_EXCEPTION_NOT_HANDLED", "contoso.sys"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected stdout to contain %q", want)
		}
	}
	if !strings.Contains(stderr, "Bundle written:") {
		t.Errorf("expected the bundle path on stderr, got %q", stderr)
	}

	bundles := zipsIn(t, outDir)
	if len(bundles) != 1 {
		t.Fatalf("found %d bundles, expected 1", len(bundles))
	}
	res, err := report.ValidateBundle(bundles[0])
	if err != nil {
		t.Fatalf("bundle failed validation: %v", err)
	}
	if res.Drivers == nil || res.Drivers.TotalCount != 2 {
		t.Errorf("Drivers = %+v", res.Drivers)
	}
}

// TestAnalyzeFailures tests fatal errors for a single dump.
func TestAnalyzeFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		path    func(t *testing.T) string
		message string
	}{
		{
			name: "not a dump",
			path: func(t *testing.T) string {
				return writeFile(t, t.TempDir(), "MEMORY.DMP", bytes.Repeat([]byte("X"), 8192))
			},
			message: "MEMORY.DMP: not a supported dump",
		},
		{
			name: "missing file",
			path: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "MEMORY.DMP")
			},
			message: "MEMORY.DMP: could not read file",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			outDir := t.TempDir()
			_, stderr, err := execute(t, "analyze", "--config", emptyConfig(t), "--output-dir", outDir, tc.path(t))
			if err == nil {
				t.Fatal("expected an error")
			}
			if exitCode(err) != exitFatal {
				t.Errorf("exit code = %d, expected %d", exitCode(err), exitFatal)
			}
			if !isReported(err) {
				t.Error("expected the failure to be reported already")
			}
			if !strings.Contains(stderr, tc.message) {
				t.Errorf("expected stderr to contain %q, got %q", tc.message, stderr)
			}
			if len(zipsIn(t, outDir)) != 0 {
				t.Error("no bundle expected for a fatal failure")
			}
		})
	}
}

// TestAnalyzeBatch tests that one failed dump does not stop the others.
func TestAnalyzeBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := writeFile(t, dir, "good.dmp", kernelCrash().Bytes())
	bad := writeFile(t, dir, "bad.dmp", bytes.Repeat([]byte("X"), 8192))
	outDir := t.TempDir()

	stdout, stderr, err := execute(t, "analyze", "--config", emptyConfig(t), "--output-dir", outDir, "--concurrency", "1", good, bad)
	if err == nil {
		t.Fatal("expected an error")
	}
	if exitCode(err) != exitBatchFailure {
		t.Errorf("exit code = %d, expected %d", exitCode(err), exitBatchFailure)
	}
	if !strings.Contains(stdout, "[1/2] good.dmp") || !strings.Contains(stdout, "[2/2] bad.dmp") {
		t.Errorf("expected progress lines, got %q", stdout)
	}
	if !strings.Contains(stdout, "(1 failed)") {
		t.Errorf("expected a failure count, got %q", stdout)
	}
	if !strings.Contains(stderr, "bad.dmp: not a supported dump") {
		t.Errorf("expected the bad dump to be reported, got %q", stderr)
	}
	if n := len(zipsIn(t, outDir)); n != 1 {
		t.Errorf("found %d bundles, expected 1", n)
	}
}

// TestAnalyzeJSONWithoutBundle tests stdout-only JSON output and driver
// rules from the config file.
func TestAnalyzeJSONWithoutBundle(t *testing.T) {
	t.Parallel()

	dumpDir := t.TempDir()
	dumpPath := writeFile(t, dumpDir, "MEMORY.DMP", kernelCrash().Bytes())
	cfgPath := writeFile(t, t.TempDir(), "dumpscan.yaml", []byte(`drivers:
  problematic:
    contoso.sys: "Contoso filter"
`))

	stdout, _, err := execute(t, "analyze", "--config", cfgPath, "--format", "json", "--no-bundle", dumpPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res model.AnalysisResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("stdout is not a JSON result: %v", err)
	}
	if res.Drivers == nil || len(res.Drivers.ProblematicDrivers) != 1 {
		t.Fatalf("Drivers = %+v", res.Drivers)
	}
	if res.Drivers.ProblematicDrivers[0].ProblematicReason != "Contoso filter" {
		t.Errorf("reason = %q", res.Drivers.ProblematicDrivers[0].ProblematicReason)
	}
	if len(zipsIn(t, dumpDir)) != 0 {
		t.Error("no bundle expected with --no-bundle")
	}
}

// TestBuildConfig tests how flags and the config file combine.
func TestBuildConfig(t *testing.T) {
	t.Parallel()

	cfgPath := writeFile(t, t.TempDir(), "dumpscan.yaml", []byte(`output:
  dir: /from/file
  format: markdown
  concurrency: 4
limits:
  stackScanDepth: 0
`))

	t.Run("file values apply", func(t *testing.T) {
		t.Parallel()

		cmd := NewAnalyzeCmd()
		if err := cmd.ParseFlags([]string{"--config", cfgPath}); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, []string{"a.dmp"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.OutputDir != "/from/file" || cfg.Format != config.FormatMarkdown || cfg.Concurrency != 4 {
			t.Errorf("cfg = %+v", cfg)
		}
		if cfg.StackScanDepth != 0 {
			t.Errorf("StackScanDepth = %d, expected 0 from the file", cfg.StackScanDepth)
		}
	})

	t.Run("explicit flags win", func(t *testing.T) {
		t.Parallel()

		cmd := NewAnalyzeCmd()
		if err := cmd.ParseFlags([]string{"--config", cfgPath, "--format", "json", "--concurrency", "1"}); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, []string{"a.dmp"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Format != config.FormatJSON || cfg.Concurrency != 1 {
			t.Errorf("cfg = %+v", cfg)
		}
		if cfg.OutputDir != "/from/file" {
			t.Errorf("OutputDir = %q, expected the file value", cfg.OutputDir)
		}
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		t.Parallel()

		cmd := NewAnalyzeCmd()
		if err := cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}); err != nil {
			t.Fatal(err)
		}
		if _, err := buildConfig(cmd, []string{"a.dmp"}); !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		t.Parallel()

		_, _, err := execute(t, "analyze", "--config", emptyConfig(t), "--format", "yaml", "MEMORY.DMP")
		if !errors.Is(err, config.ErrInvalidFormat) {
			t.Errorf("expected ErrInvalidFormat, got %v", err)
		}
	})
}

// TestAnalyzeVerboseFailure tests that -v prints the stack recorded where
// the extraction failed.
func TestAnalyzeVerboseFailure(t *testing.T) {
	t.Parallel()

	dumpPath := writeFile(t, t.TempDir(), "MEMORY.DMP", bytes.Repeat([]byte("X"), 8192))
	_, stderr, err := execute(t, "-v", "analyze", "--config", emptyConfig(t), "--no-bundle", dumpPath)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(stderr, "MEMORY.DMP: not a supported dump") || !strings.Contains(stderr, "cause: ") {
		t.Errorf("expected the message and the cause, got %q", stderr)
	}
	if !strings.Contains(stderr, "pipeline.go") {
		t.Errorf("expected the failure stack, got %q", stderr)
	}
}
