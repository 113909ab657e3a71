package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// DefaultMaxReadSize caps a single read from the dump file. A corrupted
	// length field can never make the tool allocate more than this.
	DefaultMaxReadSize = 1 << 20

	// DefaultRunTolerancePages is how far, in pages, the physical-memory run
	// list may extend past the declared dump size before the header is
	// treated as corrupt. Windows pads some dumps after the last run.
	DefaultRunTolerancePages = 256

	// DefaultMaxModules bounds the loaded-module walk.
	// Windows 11 systems typically load 200 to 400 kernel modules.
	DefaultMaxModules = 1024

	// DefaultMaxNameBytes bounds a module name or path read.
	DefaultMaxNameBytes = 1024

	// DefaultStackScanDepth is the number of stack slots examined for
	// candidate return addresses.
	DefaultStackScanDepth = 64

	// DefaultConcurrency is the number of dumps analyzed at once. Each
	// analysis is I/O bound over a large file, so a small value keeps the
	// disk from thrashing.
	DefaultConcurrency = 2

	// DefaultFormat is the stdout rendering.
	DefaultFormat = FormatText

	// AppName is the application name used for XDG directory paths.
	AppName = "dumpscan"
)

// Output formats for the stdout rendering.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// Config holds all configuration options for dumpscan.
// It is populated from defaults, then the config file, then CLI flags, and
// passed down explicitly rather than kept in global state.
type Config struct {
	// Paths lists the dump files to analyze.
	Paths []string

	// OutputDir is where bundles are written. When empty, each bundle is
	// written next to its dump file.
	OutputDir string

	// Format selects the stdout rendering: text, json or markdown.
	Format string

	// NoBundle disables writing the ZIP bundle.
	NoBundle bool

	// Concurrency is the number of dumps analyzed at once in batch mode.
	Concurrency int

	// Verbose enables debug logging and stack traces for fatal errors.
	Verbose bool

	// LogJSON switches log output to JSON.
	LogJSON bool

	// ConfigFilePath is the explicit path to the configuration file.
	// If empty, FindConfigFile searches the default locations.
	ConfigFilePath string

	// File holds the loaded configuration file, if any.
	File *File

	// === Extraction limits ===

	MaxReadSize       int
	RunTolerancePages uint64
	MaxModules        int
	MaxNameBytes      int
	StackScanDepth    int

	// ImageDetails enables PE header parsing of resident module images.
	ImageDetails bool

	// === History ===

	// Record stores each analysis in the history database.
	Record bool

	// DBDir is the directory holding the history database.
	// Defaults to the XDG data directory.
	DBDir string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Format:            DefaultFormat,
		Concurrency:       DefaultConcurrency,
		MaxReadSize:       DefaultMaxReadSize,
		RunTolerancePages: DefaultRunTolerancePages,
		MaxModules:        DefaultMaxModules,
		MaxNameBytes:      DefaultMaxNameBytes,
		StackScanDepth:    DefaultStackScanDepth,
		ImageDetails:      true,
		DBDir:             XDGDataDir(),
	}
}

// ApplyFile copies the non-zero settings of f into c. Call it before
// applying CLI flags so that flags take precedence.
func (c *Config) ApplyFile(f *File) {
	if f == nil {
		return
	}
	c.File = f

	if f.Output.Dir != "" {
		c.OutputDir = f.Output.Dir
	}
	if f.Output.Format != "" {
		c.Format = f.Output.Format
	}
	if f.Output.Concurrency != 0 {
		c.Concurrency = f.Output.Concurrency
	}
	if f.Output.Record {
		c.Record = true
	}

	if f.Limits.MaxReadSize != 0 {
		c.MaxReadSize = f.Limits.MaxReadSize
	}
	if f.Limits.RunTolerancePages != nil {
		c.RunTolerancePages = *f.Limits.RunTolerancePages
	}
	if f.Limits.MaxModules != 0 {
		c.MaxModules = f.Limits.MaxModules
	}
	if f.Limits.MaxNameBytes != 0 {
		c.MaxNameBytes = f.Limits.MaxNameBytes
	}
	if f.Limits.StackScanDepth != nil {
		c.StackScanDepth = *f.Limits.StackScanDepth
	}
	if f.Limits.ImageDetails != nil {
		c.ImageDetails = *f.Limits.ImageDetails
	}
}

// XDGDataDir returns the XDG data directory for dumpscan.
// On Linux: ~/.local/share/dumpscan
// On macOS: ~/Library/Application Support/dumpscan
// On Windows: %LOCALAPPDATA%\dumpscan
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for dumpscan.
// On Linux: ~/.config/dumpscan
// On macOS: ~/Library/Application Support/dumpscan
// On Windows: %APPDATA%\dumpscan
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found as a sentinel error.
func (c *Config) Validate() error {
	if len(c.Paths) == 0 {
		return ErrNoTarget
	}

	switch c.Format {
	case FormatText, FormatJSON, FormatMarkdown:
	default:
		return ErrInvalidFormat
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	// A read must at least cover one page; the translator reads whole entries.
	if c.MaxReadSize < 4096 {
		return ErrInvalidMaxReadSize
	}

	if c.MaxModules <= 0 {
		return ErrInvalidMaxModules
	}

	if c.MaxNameBytes <= 0 {
		return ErrInvalidMaxNameBytes
	}

	if c.StackScanDepth < 0 {
		return ErrInvalidStackScanDepth
	}

	return nil
}
