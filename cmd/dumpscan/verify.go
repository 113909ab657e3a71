package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/dumpscan/internal/report"
)

// NewVerifyCmd creates the verify command.
func NewVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <bundle.zip>...",
		Short: "Check that bundles will be accepted for upload",
		Long: `Verify opens each ZIP bundle and applies the checks performed on upload:
- analysis.json is present and is valid JSON
- metadata.tool_name is set
- crash_summary or bugcheck_analysis is present

Examples:
  dumpscan verify BSOD_Analysis_MEMORY_20240301_103005.zip`,
		Args: cobra.MinimumNArgs(1),
		RunE: runVerifyCmd,
	}
}

// runVerifyCmd executes the verify command.
func runVerifyCmd(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	invalid := 0
	for _, path := range args {
		res, err := report.ValidateBundle(path)
		if err != nil {
			invalid++
			fmt.Fprintf(cmd.ErrOrStderr(), "INVALID %s: %v\n", path, err)
			continue
		}
		code := "-"
		if res.CrashSummary != nil {
			code = res.CrashSummary.BugcheckCode + " " + res.CrashSummary.BugcheckName
		}
		fmt.Fprintf(out, "OK      %s (analysis %s, %s)\n", path, res.Metadata.AnalysisID, code)
	}

	if invalid > 0 {
		return reported(exitFatal, fmt.Errorf("%d of %d bundles are invalid", invalid, len(args)))
	}
	return nil
}
