package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() so callers can use
// errors.Is() while the message stays readable for the user.
var (
	// ErrNoTarget is returned when no dump file is specified.
	ErrNoTarget = errors.New("no dump file specified")

	// ErrInvalidFormat is returned for an unknown output format.
	ErrInvalidFormat = errors.New("invalid output format: must be text, json or markdown")

	// ErrInvalidConcurrency is returned when the concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidMaxReadSize is returned when the read cap is smaller than a page.
	ErrInvalidMaxReadSize = errors.New("invalid max read size: must be at least 4096 bytes")

	// ErrInvalidMaxModules is returned when the module bound is not positive.
	ErrInvalidMaxModules = errors.New("invalid max modules: must be positive")

	// ErrInvalidMaxNameBytes is returned when the name bound is not positive.
	ErrInvalidMaxNameBytes = errors.New("invalid max name bytes: must be positive")

	// ErrInvalidStackScanDepth is returned when the stack scan depth is negative.
	// Use 0 to disable the scan.
	ErrInvalidStackScanDepth = errors.New("invalid stack scan depth: must be non-negative")
)
