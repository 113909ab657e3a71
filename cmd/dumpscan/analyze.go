package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/dumpscan/internal/config"
	"github.com/nao1215/dumpscan/internal/database"
	"github.com/nao1215/dumpscan/internal/drivers"
	"github.com/nao1215/dumpscan/internal/log"
	"github.com/nao1215/dumpscan/internal/pipeline"
	"github.com/nao1215/dumpscan/internal/privacy"
	"github.com/nao1215/dumpscan/internal/report"
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <dump-file>...",
		Short: "Extract diagnostic data from one or more crash dumps",
		Long: `Analyze reads each dump file and writes a ZIP bundle with:
- System information (OS version, architecture, processor count)
- The stop code, its parameters and a knowledge-base interpretation
- The processor state and exception record, if captured
- The loaded driver list, with known problematic drivers flagged

A dump that can only be read partially still produces a bundle; every
problem met on the way is listed as a parser note.

Examples:
  # Analyze the system crash dump
  dumpscan analyze C:\Windows\MEMORY.DMP

  # Analyze every minidump, two at a time, bundles into ./out
  dumpscan analyze --output-dir out C:\Windows\Minidump\*.dmp

  # Print the analysis as JSON without writing a bundle
  dumpscan analyze --format json --no-bundle MEMORY.DMP

  # Keep a local history for later comparison
  dumpscan analyze --record MEMORY.DMP

Configuration file (.dumpscan) example:
  output:
    dir: ./bundles
  drivers:
    problematic:
      examplefilter.sys: "Legacy file system filter"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyzeCmd,
	}

	// Output flags
	cmd.Flags().StringP("output-dir", "o", "",
		"Directory for ZIP bundles (default: next to each dump)")
	cmd.Flags().StringP("format", "f", config.DefaultFormat,
		"Summary format printed to stdout: text, json or markdown")
	cmd.Flags().Bool("no-bundle", false,
		"Do not write a ZIP bundle")

	// Batch flags
	cmd.Flags().Int("concurrency", config.DefaultConcurrency,
		"Number of dumps analyzed at the same time")

	// Extraction limits
	cmd.Flags().Int("max-modules", config.DefaultMaxModules,
		"Maximum number of loaded modules to walk")
	cmd.Flags().Int("stack-depth", config.DefaultStackScanDepth,
		"Stack slots scanned for return addresses (0 disables the scan)")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .dumpscan in current or home directory)")

	// History and logging
	cmd.Flags().BoolP("record", "r", false,
		"Record the analysis in the local history database")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")
	cmd.Flags().Bool("log-json", false,
		"Write logs as JSON")

	return cmd
}

// runAnalyzeCmd executes the analyze command.
func runAnalyzeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runAnalyze(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from defaults, the configuration file and
// the command flags. Flags the user set explicitly win over the file.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicit path that does not exist is an error; a missing default
	// file is not.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		f, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cfg.ApplyFile(f)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	if flags.Changed("output-dir") {
		if cfg.OutputDir, err = flags.GetString("output-dir"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("format") {
		if cfg.Format, err = flags.GetString("format"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("concurrency") {
		if cfg.Concurrency, err = flags.GetInt("concurrency"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("max-modules") {
		if cfg.MaxModules, err = flags.GetInt("max-modules"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("stack-depth") {
		if cfg.StackScanDepth, err = flags.GetInt("stack-depth"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("record") {
		if cfg.Record, err = flags.GetBool("record"); err != nil {
			return nil, err
		}
	}

	if cfg.NoBundle, err = flags.GetBool("no-bundle"); err != nil {
		return nil, err
	}
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = flags.GetBool("log-json"); err != nil {
		return nil, err
	}
	cfg.Verbose = getVerboseFlag(cmd)
	cfg.Paths = args

	return cfg, nil
}

// setupLogger creates the redacting logger for a run.
func setupLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	if cfg.LogJSON {
		return log.NewSecureJSONLogger(w, cfg.Verbose)
	}
	return log.NewSecureLogger(w, cfg.Verbose)
}

// newClassifier builds the driver classifier with the config file's rules.
func newClassifier(cfg *config.Config) *drivers.Classifier {
	if cfg.File == nil {
		return drivers.NewClassifier()
	}
	return drivers.NewClassifier(
		drivers.WithProblematic(cfg.File.Drivers.Problematic),
		drivers.WithMicrosoft(cfg.File.Drivers.Microsoft...),
	)
}

// newExtractor creates the extractor for a run.
func newExtractor(cfg *config.Config, logger *slog.Logger) *pipeline.Extractor {
	opts := []pipeline.ExtractorOption{
		pipeline.WithLimits(pipeline.LimitsFromConfig(cfg)),
		pipeline.WithDriverClassifier(newClassifier(cfg)),
		pipeline.WithToolVersion(getVersion()),
		pipeline.WithExtractorLogger(logger),
	}
	if !cfg.NoBundle {
		opts = append(opts, pipeline.WithExporter(&report.BundleExporter{Dir: cfg.OutputDir}))
	}
	return pipeline.NewExtractor(opts...)
}

// runAnalyze analyzes every dump in cfg.Paths. A single failed dump is a
// fatal error; in a batch, failures are reported per dump and the command
// exits with exitBatchFailure.
func runAnalyze(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting analysis",
		"dumps", len(cfg.Paths),
		"concurrency", cfg.Concurrency,
		"bundle", !cfg.NoBundle,
		"record", cfg.Record,
	)

	var db *database.HistoryDB
	if cfg.Record {
		var err error
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer db.Close()
		logger.Info("history database opened", "dir", cfg.DBDir)
	}

	extractor := newExtractor(cfg, logger)
	bp := pipeline.NewBatchProcessor(extractor.Extract,
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithBatchLogger(logger),
	)

	startTime := time.Now()
	batch := len(cfg.Paths) > 1

	var (
		mu     sync.Mutex
		failed int
		first  error
	)
	err := bp.ProcessBatchWithCallback(ctx, cfg.Paths, func(out *pipeline.Outcome, index int) {
		mu.Lock()
		defer mu.Unlock()

		if batch {
			fmt.Fprintf(stdout, "[%d/%d] %s\n", index+1, len(cfg.Paths), privacy.BaseName(out.Path))
		}
		if err := handleOutcome(ctx, stdout, stderr, cfg, db, out, logger); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	})
	if err != nil {
		return withExitCode(exitFatal, err)
	}

	if batch {
		fmt.Fprintf(stdout, "\nAnalyzed %d dumps in %s (%d failed)\n",
			len(cfg.Paths), time.Since(startTime).Round(time.Millisecond), failed)
		if failed > 0 {
			return reported(exitBatchFailure, fmt.Errorf("%d of %d dumps failed", failed, len(cfg.Paths)))
		}
		return nil
	}
	return reported(exitFatal, first)
}

// handleOutcome prints, records and reports one finished extraction.
// It returns the outcome's fatal error.
func handleOutcome(
	ctx context.Context,
	stdout, stderr io.Writer,
	cfg *config.Config,
	db *database.HistoryDB,
	out *pipeline.Outcome,
	logger *slog.Logger,
) error {
	name := privacy.BaseName(out.Path)

	if out.Result != nil {
		w, err := report.NewWriter(cfg.Format, stdout, cfg.Verbose)
		if err != nil {
			return err
		}
		if _, err := w.Write(out.Result); err != nil {
			logger.Error("failed to render summary", "dump", name, "error", err)
		}
		if cfg.Format == config.FormatText {
			fmt.Fprintln(stdout)
		}
	}

	if out.BundlePath != "" {
		fmt.Fprintf(stderr, "Bundle written: %s\n", out.BundlePath)
	}

	if db != nil && out.Result != nil {
		if err := db.Record(ctx, out.Result, out.BundlePath); err != nil {
			logger.Error("failed to record analysis", "dump", name, "error", err)
		} else {
			logger.Info("analysis recorded", "dump", name, "id", out.Result.Metadata.AnalysisID)
		}
	}

	if out.Failed() {
		printFailure(stderr, name, out.Err, cfg.Verbose)
		return out.Err
	}
	return nil
}
