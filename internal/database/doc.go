// Package database stores the local history of extraction runs.
//
// HistoryDB keeps one row per analysis with its stop code, severity,
// driver counts and full analysis JSON, plus the loaded driver names of
// each run. The history lets a user see whether a stop code keeps
// recurring and which drivers changed between two crashes.
//
// The database is a single SQLite file (modernc.org/sqlite, no cgo) in
// the XDG data directory, opened in WAL mode.
package database
