package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for dumpscan.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dumpscan",
		Short: "Extract diagnostic data from Windows crash dumps",
		Long: `dumpscan reads a Windows kernel crash dump and extracts the data needed to
diagnose a blue screen: system information, the stop code and its
parameters, the processor state at the time of the crash and the list of
loaded drivers.

The result is written as a ZIP bundle next to the dump. The bundle holds
only diagnostic data and can be shared without sharing the dump itself.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewAnalyzeCmd())
	cmd.AddCommand(NewVerifyCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command and exits with the command's exit code.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		if !isReported(err) {
			fmt.Fprintln(os.Stderr, userMessage(err))
		}
		os.Exit(exitCode(err))
	}
}
