package main

import (
	"strings"
	"testing"
)

// TestVerifyCmd tests bundle verification.
func TestVerifyCmd(t *testing.T) {
	t.Parallel()

	dumpPath := writeFile(t, t.TempDir(), "MEMORY.DMP", kernelCrash().Bytes())
	outDir := t.TempDir()
	if _, stderr, err := execute(t, "analyze", "--config", emptyConfig(t), "--output-dir", outDir, dumpPath); err != nil {
		t.Fatalf("analyze failed: %v (stderr: %s)", err, stderr)
	}
	bundles := zipsIn(t, outDir)
	if len(bundles) != 1 {
		t.Fatalf("found %d bundles, expected 1", len(bundles))
	}
	bad := writeFile(t, t.TempDir(), "broken.zip", []byte("not a zip"))

	t.Run("valid bundle", func(t *testing.T) {
		t.Parallel()

		stdout, _, err := execute(t, "verify", bundles[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(stdout, "OK ") || !strings.Contains(stdout, "0x0000001E KMODE_EXCEPTION_NOT_HANDLED") {
			t.Errorf("unexpected output %q", stdout)
		}
	})

	t.Run("invalid bundle", func(t *testing.T) {
		t.Parallel()

		stdout, stderr, err := execute(t, "verify", bundles[0], bad)
		if err == nil {
			t.Fatal("expected an error")
		}
		if !isReported(err) || exitCode(err) != exitFatal {
			t.Errorf("unexpected error %v", err)
		}
		if !strings.Contains(stdout, "OK ") {
			t.Error("the valid bundle must still be reported")
		}
		if !strings.Contains(stderr, "INVALID "+bad) {
			t.Errorf("unexpected stderr %q", stderr)
		}
	})
}
