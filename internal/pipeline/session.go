package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	goerrors "github.com/go-errors/errors"

	"github.com/nao1215/dumpscan/internal/dump"
	"github.com/nao1215/dumpscan/internal/model"
	"github.com/nao1215/dumpscan/internal/privacy"
)

// State is the position of a Session in the extraction sequence.
type State int

const (
	// StateIdle is the state of a new session.
	StateIdle State = iota
	// StateHeaderRead means the header was parsed and validated.
	StateHeaderRead
	// StateBugcheckAnalyzed means the stop code was interpreted.
	StateBugcheckAnalyzed
	// StateContextRead means the context and exception records were read.
	StateContextRead
	// StateModulesWalked means the loaded-module list was walked or skipped.
	StateModulesWalked
	// StateExported means the result was assembled and handed to the exporter.
	StateExported
	// StateFailed means a fatal error stopped the run.
	StateFailed
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHeaderRead:
		return "header_read"
	case StateBugcheckAnalyzed:
		return "bugcheck_analyzed"
	case StateContextRead:
		return "context_read"
	case StateModulesWalked:
		return "modules_walked"
	case StateExported:
		return "exported"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrOutOfOrder is returned when a step runs before the steps it depends on.
var ErrOutOfOrder = errors.New("pipeline step out of order")

// Session accumulates everything learned about one dump during a run.
// Steps write into it; the AnalysisResult is assembled from it once, at the
// end of the run.
type Session struct {
	// ID is the analysis identifier reported in the result metadata.
	ID string

	// Path is the dump file path as given by the caller.
	Path string

	// ToolVersion is copied into the result metadata.
	ToolVersion string

	reader *dump.Reader
	header *dump.Header

	context   *dump.Context
	exception *dump.ExceptionRecord

	systemInfo   *model.SystemInfo
	crashSummary *model.CrashSummary
	bugcheck     *model.BugcheckAnalysis
	stack        *model.StackTrace
	drivers      *model.DriversInfo

	notes      []string
	state      State
	err        error
	started    time.Time
	now        func() time.Time
	result     *model.AnalysisResult
	bundlePath string
}

// NewSession creates an idle session for the dump at path. r may be nil
// when the file could not be opened; the session is then only used to
// assemble a failure result.
func NewSession(id, path string, r *dump.Reader) *Session {
	return &Session{
		ID:      id,
		Path:    path,
		reader:  r,
		notes:   []string{},
		started: time.Now(),
		now:     time.Now,
	}
}

// Name returns the base name of the dump file. It is safe to log.
func (s *Session) Name() string {
	return privacy.BaseName(s.Path)
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Err returns the fatal error that stopped the run, if any.
func (s *Session) Err() error {
	return s.err
}

// Notes returns the parser notes raised so far.
func (s *Session) Notes() []string {
	return append([]string{}, s.notes...)
}

// Result returns the assembled result. It is nil until the export step
// ran or the session failed and was assembled by the caller.
func (s *Session) Result() *model.AnalysisResult {
	return s.result
}

// BundlePath returns the path written by the exporter, if any.
func (s *Session) BundlePath() string {
	return s.bundlePath
}

// Note records a non-fatal condition.
func (s *Session) Note(format string, args ...any) {
	s.notes = append(s.notes, privacy.ScrubPath(fmt.Sprintf(format, args...)))
}

// advance moves the session to the next state. Steps call it when they
// finish; skipping a state is a programming error.
func (s *Session) advance(to State) error {
	if s.state == StateFailed {
		return fmt.Errorf("%w: session already failed", ErrOutOfOrder)
	}
	if to != s.state+1 {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrOutOfOrder, s.state, to)
	}
	s.state = to
	return nil
}

// fail moves the session to StateFailed and keeps the first fatal error,
// with the stack of the caller that failed the session.
func (s *Session) fail(err error) {
	if s.err == nil {
		s.err = goerrors.Wrap(err, 1)
	}
	s.state = StateFailed
}

// assemble builds the immutable result from what the session collected.
func (s *Session) assemble() *model.AnalysisResult {
	end := s.now()
	res := &model.AnalysisResult{
		Metadata: model.Metadata{
			ToolName:                model.ToolName,
			ToolVersion:             s.ToolVersion,
			AnalysisID:              s.ID,
			AnalysisTimestamp:       s.started.UTC(),
			AnalysisDurationSeconds: end.Sub(s.started).Seconds(),
			DumpFile: model.DumpFile{
				Path: privacy.ScrubPath(s.Path),
				Name: s.Name(),
			},
			ParserNotes: s.Notes(),
		},
		Success:          s.err == nil,
		SystemInfo:       s.systemInfo,
		CrashSummary:     s.crashSummary,
		BugcheckAnalysis: s.bugcheck,
		StackTrace:       s.stack,
		Drivers:          s.drivers,
	}
	if s.reader != nil {
		res.Metadata.DumpFile.SizeBytes = s.reader.Size()
		res.Metadata.DumpFile.SizeHuman = humanize.IBytes(uint64(s.reader.Size()))
	}
	if s.header != nil {
		res.Metadata.DumpFile.HeaderDigest = s.header.Digest()
	}
	if s.err != nil {
		res.Error = privacy.ScrubPath(s.err.Error())
	}
	s.result = res
	return res
}
