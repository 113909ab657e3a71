package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/dumpscan/internal/model"
)

// FileName is the name of the history database inside its directory.
const FileName = "history.db"

var (
	// ErrNotFound is returned when no analysis matches an ID.
	ErrNotFound = errors.New("analysis not found")

	// ErrAmbiguousID is returned when an ID prefix matches several analyses.
	ErrAmbiguousID = errors.New("analysis ID prefix is ambiguous")
)

// HistoryDB is a local index of past extraction runs. Each run is stored
// with its full analysis JSON, so a bundle can be re-rendered after the
// archive itself is gone.
type HistoryDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a HistoryDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("history database not found at %s (run analyze with --record first)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file.
	mode := "rw"
	if opts.CreateIfNotExists {
		mode = "rwc"
	}
	dsn := dbPath + "?mode=" + mode + "&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	hdb := &HistoryDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := hdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return hdb, nil
}

// Path returns the database file path.
func (hdb *HistoryDB) Path() string {
	return hdb.dbPath
}

// Close closes the database connection.
func (hdb *HistoryDB) Close() error {
	return hdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (hdb *HistoryDB) createTables() error {
	schema := `
	-- One row per extraction run
	CREATE TABLE IF NOT EXISTS analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		analysis_id TEXT NOT NULL UNIQUE,
		dump_name TEXT NOT NULL,
		header_digest TEXT,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		analyzed_at TEXT,
		success INTEGER NOT NULL,
		bugcheck_code INTEGER,
		bugcheck_name TEXT,
		severity TEXT,
		driver_total INTEGER DEFAULT 0,
		driver_third_party INTEGER DEFAULT 0,
		driver_problematic INTEGER DEFAULT 0,
		bundle_path TEXT,
		analysis_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_analyses_bugcheck ON analyses(bugcheck_code);
	CREATE INDEX IF NOT EXISTS idx_analyses_digest ON analyses(header_digest);

	-- Loaded drivers per run, for set comparisons
	CREATE TABLE IF NOT EXISTS drivers (
		analysis_id TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT,
		is_microsoft INTEGER NOT NULL,
		is_problematic INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_drivers_analysis ON drivers(analysis_id);
	`

	_, err := hdb.db.ExecContext(context.Background(), schema)
	return err
}

// Entry is the summary row of a recorded analysis.
type Entry struct {
	ID               int64
	AnalysisID       string
	DumpName         string
	HeaderDigest     string
	RecordedAt       time.Time
	AnalyzedAt       time.Time
	Success          bool
	HasBugcheck      bool
	BugcheckCode     uint32
	BugcheckName     string
	Severity         string
	DriverCount      int
	ThirdPartyCount  int
	ProblematicCount int
	BundlePath       string
}

// Record stores a result. Recording the same analysis ID again replaces
// the previous row.
func (hdb *HistoryDB) Record(ctx context.Context, result *model.AnalysisResult, bundlePath string) error {
	if result == nil {
		return errors.New("record analysis: nil result")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize analysis: %w", err)
	}

	var (
		code     sql.NullInt64
		name     sql.NullString
		severity sql.NullString
	)
	if cs := result.CrashSummary; cs != nil {
		code = sql.NullInt64{Int64: int64(cs.BugcheckCodeInt), Valid: true}
		name = sql.NullString{String: cs.BugcheckName, Valid: true}
	}
	if a := result.BugcheckAnalysis; a != nil {
		severity = sql.NullString{String: a.Severity.String(), Valid: true}
	}
	var total, thirdParty, problematic int
	if d := result.Drivers; d != nil {
		total, thirdParty, problematic = d.TotalCount, d.ThirdPartyCount, d.ProblematicCount
	}

	tx, err := hdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
	INSERT INTO analyses (analysis_id, dump_name, header_digest, analyzed_at, success,
		bugcheck_code, bugcheck_name, severity, driver_total, driver_third_party,
		driver_problematic, bundle_path, analysis_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(analysis_id) DO UPDATE SET
		dump_name = excluded.dump_name,
		header_digest = excluded.header_digest,
		analyzed_at = excluded.analyzed_at,
		success = excluded.success,
		bugcheck_code = excluded.bugcheck_code,
		bugcheck_name = excluded.bugcheck_name,
		severity = excluded.severity,
		driver_total = excluded.driver_total,
		driver_third_party = excluded.driver_third_party,
		driver_problematic = excluded.driver_problematic,
		bundle_path = excluded.bundle_path,
		analysis_json = excluded.analysis_json,
		recorded_at = CURRENT_TIMESTAMP
	`
	_, err = tx.ExecContext(ctx, query,
		result.Metadata.AnalysisID,
		result.Metadata.DumpFile.Name,
		result.Metadata.DumpFile.HeaderDigest,
		result.Metadata.AnalysisTimestamp.UTC().Format(time.RFC3339),
		result.Success,
		code,
		name,
		severity,
		total,
		thirdParty,
		problematic,
		bundlePath,
		string(resultJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM drivers WHERE analysis_id = ?", result.Metadata.AnalysisID); err != nil {
		return fmt.Errorf("failed to clear drivers: %w", err)
	}
	if d := result.Drivers; d != nil {
		for _, drv := range d.Drivers {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO drivers (analysis_id, name, version, is_microsoft, is_problematic) VALUES (?, ?, ?, ?, ?)",
				result.Metadata.AnalysisID, drv.Name, drv.Version, drv.IsMicrosoft, drv.IsProblematic,
			)
			if err != nil {
				return fmt.Errorf("failed to insert driver %s: %w", drv.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis: %w", err)
	}
	return nil
}

const entryColumns = `id, analysis_id, dump_name, header_digest, recorded_at, analyzed_at,
	success, bugcheck_code, bugcheck_name, severity, driver_total, driver_third_party,
	driver_problematic, bundle_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e          Entry
		digest     sql.NullString
		recordedAt string
		analyzedAt sql.NullString
		code       sql.NullInt64
		name       sql.NullString
		severity   sql.NullString
		bundle     sql.NullString
	)
	err := row.Scan(
		&e.ID,
		&e.AnalysisID,
		&e.DumpName,
		&digest,
		&recordedAt,
		&analyzedAt,
		&e.Success,
		&code,
		&name,
		&severity,
		&e.DriverCount,
		&e.ThirdPartyCount,
		&e.ProblematicCount,
		&bundle,
	)
	if err != nil {
		return Entry{}, err
	}
	e.HeaderDigest = digest.String
	e.RecordedAt = parseTimestamp(recordedAt)
	e.AnalyzedAt = parseTimestamp(analyzedAt.String)
	e.HasBugcheck = code.Valid
	e.BugcheckCode = uint32(code.Int64) //nolint:gosec // stored from a uint32
	e.BugcheckName = name.String
	e.Severity = severity.String
	e.BundlePath = bundle.String
	return e, nil
}

// List returns recorded analyses, newest first. A limit of zero or less
// returns every row.
func (hdb *HistoryDB) List(ctx context.Context, limit int) ([]Entry, error) {
	query := "SELECT " + entryColumns + " FROM analyses ORDER BY id DESC"
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := hdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Lookup resolves a full analysis ID or a unique prefix of one.
func (hdb *HistoryDB) Lookup(ctx context.Context, id string) (Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Entry{}, ErrNotFound
	}

	query := "SELECT " + entryColumns + " FROM analyses WHERE analysis_id = ? OR analysis_id LIKE ? ESCAPE '\\' ORDER BY analysis_id = ? DESC LIMIT 2"
	rows, err := hdb.db.QueryContext(ctx, query, id, escapeLike(id)+"%", id)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to look up analysis: %w", err)
	}
	defer rows.Close()

	matches := make([]Entry, 0, 2)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return Entry{}, fmt.Errorf("failed to scan analysis: %w", err)
		}
		matches = append(matches, e)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, fmt.Errorf("failed to look up analysis: %w", err)
	}

	switch {
	case len(matches) == 0:
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case matches[0].AnalysisID == id, len(matches) == 1:
		return matches[0], nil
	default:
		return Entry{}, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Get returns the stored result for an analysis ID or unique prefix.
func (hdb *HistoryDB) Get(ctx context.Context, id string) (*model.AnalysisResult, error) {
	e, err := hdb.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	var resultJSON string
	err = hdb.db.QueryRowContext(ctx, "SELECT analysis_json FROM analyses WHERE id = ?", e.ID).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	var result model.AnalysisResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	return &result, nil
}

// CountBugcheck returns how many recorded analyses share a stop code.
func (hdb *HistoryDB) CountBugcheck(ctx context.Context, code uint32) (int, error) {
	var count int
	err := hdb.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses WHERE bugcheck_code = ?", int64(code)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bugcheck: %w", err)
	}
	return count, nil
}

type driverRow struct {
	name        string
	version     string
	problematic bool
}

// driverSet returns the drivers of an analysis keyed by lower-case name.
func (hdb *HistoryDB) driverSet(ctx context.Context, analysisID string) (map[string]driverRow, error) {
	rows, err := hdb.db.QueryContext(ctx,
		"SELECT name, version, is_problematic FROM drivers WHERE analysis_id = ?", analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query drivers: %w", err)
	}
	defer rows.Close()

	set := make(map[string]driverRow)
	for rows.Next() {
		var d driverRow
		var version sql.NullString
		if err := rows.Scan(&d.name, &version, &d.problematic); err != nil {
			return nil, fmt.Errorf("failed to scan driver: %w", err)
		}
		d.version = version.String
		set[strings.ToLower(d.name)] = d
	}
	return set, rows.Err()
}

// DriverChange is a driver whose version differs between two analyses.
type DriverChange struct {
	Name   string
	Before string
	After  string
}

// Comparison describes how a later analysis differs from an earlier one.
type Comparison struct {
	Before Entry
	After  Entry

	// SameBugcheck is true when both runs recorded the same stop code.
	SameBugcheck bool

	// SameDump is true when both runs read the same header page.
	SameDump bool

	// Recurrences counts every recorded analysis with After's stop code.
	Recurrences int

	// Added and Removed list drivers present in only one run.
	Added   []string
	Removed []string

	// Changed lists drivers loaded in both runs with different versions.
	Changed []DriverChange

	// Problematic lists known-problematic drivers loaded in both runs.
	Problematic []string
}

// Compare compares two recorded analyses. IDs may be unique prefixes.
func (hdb *HistoryDB) Compare(ctx context.Context, beforeID, afterID string) (*Comparison, error) {
	before, err := hdb.Lookup(ctx, beforeID)
	if err != nil {
		return nil, err
	}
	after, err := hdb.Lookup(ctx, afterID)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{
		Before:       before,
		After:        after,
		SameBugcheck: before.HasBugcheck && after.HasBugcheck && before.BugcheckCode == after.BugcheckCode,
		SameDump:     before.HeaderDigest != "" && before.HeaderDigest == after.HeaderDigest,
		Added:        []string{},
		Removed:      []string{},
		Changed:      []DriverChange{},
		Problematic:  []string{},
	}
	if after.HasBugcheck {
		if cmp.Recurrences, err = hdb.CountBugcheck(ctx, after.BugcheckCode); err != nil {
			return nil, err
		}
	}

	a, err := hdb.driverSet(ctx, before.AnalysisID)
	if err != nil {
		return nil, err
	}
	b, err := hdb.driverSet(ctx, after.AnalysisID)
	if err != nil {
		return nil, err
	}

	for _, key := range slices.Sorted(maps.Keys(b)) {
		d := b[key]
		old, ok := a[key]
		if !ok {
			cmp.Added = append(cmp.Added, d.name)
			continue
		}
		if old.version != d.version {
			cmp.Changed = append(cmp.Changed, DriverChange{Name: d.name, Before: old.version, After: d.version})
		}
		if d.problematic {
			cmp.Problematic = append(cmp.Problematic, d.name)
		}
	}
	for _, key := range slices.Sorted(maps.Keys(a)) {
		if _, ok := b[key]; !ok {
			cmp.Removed = append(cmp.Removed, a[key].name)
		}
	}

	return cmp, nil
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
