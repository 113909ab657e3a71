package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/dumpscan/internal/config"
	"github.com/nao1215/dumpscan/internal/database"
	"github.com/nao1215/dumpscan/internal/drivers"
	"github.com/nao1215/dumpscan/internal/report"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and compare recorded analyses",
		Long: `History works on the analyses stored with 'dumpscan analyze --record'.

An analysis ID may be shortened to any unique prefix.

Examples:
  # List recorded analyses, newest first
  dumpscan history --list

  # Show a recorded analysis
  dumpscan history --show 3f0c9a5e

  # Compare two crashes: stop code recurrence and driver changes
  dumpscan history --compare 3f0c9a5e 7b21d0aa`,
		Args: cobra.MaximumNArgs(2),
		RunE: runHistoryCmd,
	}

	cmd.Flags().BoolP("list", "l", false,
		"List recorded analyses")
	cmd.Flags().IntP("limit", "n", 20,
		"Maximum number of analyses listed (0 for all)")
	cmd.Flags().StringP("show", "s", "",
		"Show the recorded analysis with this ID")
	cmd.Flags().Bool("compare", false,
		"Compare two recorded analyses given as arguments")
	cmd.Flags().StringP("format", "f", config.DefaultFormat,
		"Output format for --show: text, json or markdown")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")

	cmd.MarkFlagsMutuallyExclusive("list", "show", "compare")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	list, err := flags.GetBool("list")
	if err != nil {
		return err
	}
	show, err := flags.GetString("show")
	if err != nil {
		return err
	}
	compare, err := flags.GetBool("compare")
	if err != nil {
		return err
	}

	// Validate arguments before opening the database.
	switch {
	case compare && len(args) != 2:
		return errors.New("--compare needs two analysis IDs")
	case !compare && len(args) > 0:
		return fmt.Errorf("unexpected arguments: %s", strings.Join(args, " "))
	case !list && show == "" && !compare:
		return errors.New("one of --list, --show or --compare is required")
	}

	dbDir, err := flags.GetString("db-dir")
	if err != nil {
		return err
	}
	db, err := database.Open(dbDir, database.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch {
	case list:
		limit, err := flags.GetInt("limit")
		if err != nil {
			return err
		}
		return listHistory(ctx, out, db, limit)
	case show != "":
		format, err := flags.GetString("format")
		if err != nil {
			return err
		}
		return showAnalysis(ctx, out, db, show, format, getVerboseFlag(cmd))
	default:
		return compareAnalyses(ctx, out, db, args[0], args[1])
	}
}

// listHistory prints recorded analyses as a table.
func listHistory(ctx context.Context, w io.Writer, db *database.HistoryDB, limit int) error {
	entries, err := db.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No recorded analyses.")
		fmt.Fprintln(w, "\nUse 'dumpscan analyze --record <dump>' to record one.")
		return nil
	}

	fmt.Fprintf(w, "Recorded analyses (%d):\n\n", len(entries))
	fmt.Fprintf(w, "  %-8s  %-16s  %-20s  %-10s  %-8s  %s\n", "ID", "Analyzed", "Dump", "Stop code", "Severity", "Drivers")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 84))
	for _, e := range entries {
		fmt.Fprintf(w, "  %-8s  %-16s  %-20s  %-10s  %-8s  %s\n",
			shortID(e.AnalysisID),
			e.AnalyzedAt.Format("2006-01-02 15:04"),
			truncate(e.DumpName, 20),
			stopCode(e),
			orDash(e.Severity),
			driverSummary(e),
		)
	}
	fmt.Fprintln(w, "\nUse 'dumpscan history --show <id>' for details.")
	return nil
}

// showAnalysis renders a recorded analysis.
func showAnalysis(ctx context.Context, w io.Writer, db *database.HistoryDB, id, format string, verbose bool) error {
	res, err := db.Get(ctx, id)
	if err != nil {
		return err
	}
	rw, err := report.NewWriter(format, w, verbose)
	if err != nil {
		return err
	}
	_, err = rw.Write(res)
	return err
}

// compareAnalyses prints how the second analysis differs from the first.
func compareAnalyses(ctx context.Context, w io.Writer, db *database.HistoryDB, before, after string) error {
	cmp, err := db.Compare(ctx, before, after)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Comparing %s (%s) -> %s (%s)\n\n",
		shortID(cmp.Before.AnalysisID), cmp.Before.DumpName,
		shortID(cmp.After.AnalysisID), cmp.After.DumpName)

	fmt.Fprintf(w, "Stop code: %s -> %s\n", stopCode(cmp.Before), stopCode(cmp.After))
	switch {
	case cmp.SameBugcheck:
		fmt.Fprintf(w, "  Same stop code; recorded %d time(s) in total\n", cmp.Recurrences)
	case cmp.After.HasBugcheck:
		fmt.Fprintf(w, "  Different stop code; %s recorded %d time(s)\n", stopCode(cmp.After), cmp.Recurrences)
	}
	if cmp.SameDump {
		fmt.Fprintln(w, "  Both analyses read the same dump file")
	}

	fmt.Fprintln(w)
	writeNames(w, "Drivers added", "+", cmp.Added)
	writeNames(w, "Drivers removed", "-", cmp.Removed)
	if len(cmp.Changed) > 0 {
		fmt.Fprintf(w, "Drivers updated (%d):\n", len(cmp.Changed))
		for _, c := range cmp.Changed {
			fmt.Fprintf(w, "  ~ %s %s -> %s\n", c.Name, orDash(c.Before), orDash(c.After))
		}
		fmt.Fprintln(w)
	}
	writeNames(w, "Problematic drivers present in both", "!", cmp.Problematic)

	if len(cmp.Added)+len(cmp.Removed)+len(cmp.Changed) == 0 {
		fmt.Fprintln(w, "Driver set unchanged.")
	}
	return nil
}

func writeNames(w io.Writer, title, mark string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(w, "%s (%d):\n", title, len(names))
	for _, n := range names {
		fmt.Fprintf(w, "  %s %s\n", mark, n)
	}
	fmt.Fprintln(w)
}

func shortID(id string) string {
	return id[:min(len(id), 8)]
}

func stopCode(e database.Entry) string {
	if !e.HasBugcheck {
		if !e.Success {
			return "failed"
		}
		return "-"
	}
	return fmt.Sprintf("0x%08X", e.BugcheckCode)
}

func driverSummary(e database.Entry) string {
	if e.DriverCount == 0 {
		return "-"
	}
	s := fmt.Sprintf("%d (%d third-party", e.DriverCount, e.ThirdPartyCount)
	if e.ProblematicCount > 0 {
		s += fmt.Sprintf(", %d flagged", e.ProblematicCount)
	}
	return s + ")"
}

func orDash(s string) string {
	if s == "" || s == drivers.UnknownVersion {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
