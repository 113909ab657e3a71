// Package log provides privacy-preserving logging built on log/slog.
//
// Crash dumps are collected on end-user machines and their logs are often
// attached to support requests, so every record passes through a
// SecureHandler before it is written:
//   - user profile names in paths are replaced with "<user>"
//   - values under secret-looking keys (password, token, ...) are masked
//   - values matching credential patterns (bearer tokens, PEM keys) are masked
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Info("opened dump", "path", `C:\Users\alice\MEMORY.DMP`)
//	// path=C:\Users\<user>\MEMORY.DMP
//
// Verbose mode lowers the level from Warn to Debug; scrubbing applies at
// every level.
package log
