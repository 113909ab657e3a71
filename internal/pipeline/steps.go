package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nao1215/dumpscan/internal/bugcheck"
	"github.com/nao1215/dumpscan/internal/drivers"
	"github.com/nao1215/dumpscan/internal/dump"
	"github.com/nao1215/dumpscan/internal/model"
	"github.com/nao1215/dumpscan/internal/modules"
	"github.com/nao1215/dumpscan/internal/privacy"
	"github.com/nao1215/dumpscan/internal/vmem"
)

// Stack trace notes.
const (
	noteNoContext   = "Context record not found or invalid."
	noteNoException = "No exception record. This may be a live dump or the exception was not captured."
	noteRawRegister = "Full stack trace requires debug symbols (PDBs). Raw register state captured."
)

// HeaderStep parses and validates the dump header and fills the system
// information and crash summary.
type HeaderStep struct {
	opts []dump.ParseOption
}

// NewHeaderStep creates a header step passing opts to dump.ParseHeader.
func NewHeaderStep(opts ...dump.ParseOption) *HeaderStep {
	return &HeaderStep{opts: opts}
}

// Name returns the step name.
func (s *HeaderStep) Name() string {
	return "header"
}

// Do executes the header step.
func (s *HeaderStep) Do(_ context.Context, sess *Session) error {
	if sess.reader == nil {
		return dump.NewError(dump.KindIO, "read header", dump.NoOffset, errors.New("dump file is not open"))
	}
	h, err := dump.ParseHeader(sess.reader, s.opts...)
	if err != nil {
		return err
	}
	sess.header = h

	info := &model.SystemInfo{
		OSVersion:      h.OSVersion(),
		OSBuild:        h.OSBuild(),
		Architecture:   h.Machine.String(),
		ProcessorCount: h.NumberProcessors,
		DumpType:       h.Type.DisplayName(),
		DumpSizeBytes:  sess.reader.Size(),
		DumpSizeHuman:  humanize.IBytes(uint64(sess.reader.Size())),
		Is64Bit:        h.Is64Bit,
		CrashTimeRaw:   h.SystemTime,
	}
	if t := h.CrashTime(); !t.IsZero() {
		info.CrashTime = t.Format(time.RFC3339)
	}
	sess.systemInfo = info

	params := h.BugcheckParameters
	sess.crashSummary = &model.CrashSummary{
		BugcheckCode:    bugcheck.FormatCode(h.BugcheckCode),
		BugcheckCodeInt: h.BugcheckCode,
		BugcheckName:    bugcheck.Name(h.BugcheckCode),
		Parameter1:      bugcheck.FormatParameter(params[0]),
		Parameter2:      bugcheck.FormatParameter(params[1]),
		Parameter3:      bugcheck.FormatParameter(params[2]),
		Parameter4:      bugcheck.FormatParameter(params[3]),
		FilePath:        privacy.ScrubPath(sess.Path),
		FileName:        sess.Name(),
	}

	if h.Type == dump.TypeUnknown {
		sess.Note("Unrecognized dump type %d; reporting header fields only", h.RawType)
	}
	return sess.advance(StateHeaderRead)
}

// BugcheckStep interprets the stop code and its parameters.
type BugcheckStep struct{}

// NewBugcheckStep creates a bugcheck step.
func NewBugcheckStep() *BugcheckStep {
	return &BugcheckStep{}
}

// Name returns the step name.
func (s *BugcheckStep) Name() string {
	return "bugcheck"
}

// Do executes the bugcheck step.
func (s *BugcheckStep) Do(_ context.Context, sess *Session) error {
	if sess.header == nil {
		return fmt.Errorf("%w: bugcheck analysis needs a parsed header", ErrOutOfOrder)
	}
	a := bugcheck.Analyze(sess.header.BugcheckCode, sess.header.BugcheckParameters)
	sess.bugcheck = &a
	if a.Category == model.CategoryUnknown {
		sess.Note("Bugcheck %s is not in the knowledge base", a.CodeHex)
	}
	return sess.advance(StateBugcheckAnalyzed)
}

// ContextStep reads the CPU context and exception records.
type ContextStep struct {
	logger *slog.Logger
}

// NewContextStep creates a context step.
func NewContextStep(logger *slog.Logger) *ContextStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextStep{logger: logger}
}

// Name returns the step name.
func (s *ContextStep) Name() string {
	return "context"
}

// Do executes the context step. Both records are optional; a record that
// cannot be decoded is treated as absent and noted.
func (s *ContextStep) Do(_ context.Context, sess *Session) error {
	h := sess.header
	if h == nil {
		return fmt.Errorf("%w: context read needs a parsed header", ErrOutOfOrder)
	}

	cpu, err := dump.ReadContext(sess.reader, h)
	if err != nil {
		s.logger.Debug("context record unreadable", "dump", sess.Name(), "error", err)
		sess.Note("Context record could not be decoded: %v", err)
		cpu = nil
	}
	exc, err := dump.ReadException(sess.reader, h)
	if err != nil {
		s.logger.Debug("exception record unreadable", "dump", sess.Name(), "error", err)
		sess.Note("Exception record could not be decoded: %v", err)
		exc = nil
	}
	sess.context = cpu
	sess.exception = exc

	st := &model.StackTrace{
		HasContext:   cpu != nil,
		HasException: exc != nil,
		Registers:    map[string]string{},
		RawFrames:    []model.Frame{},
	}
	if cpu != nil {
		for _, reg := range cpu.Registers {
			st.Registers[reg.Name] = hex64(reg.Value)
		}
		st.InstructionPointer = hex64(cpu.InstructionPointer())
		st.StackPointer = hex64(cpu.StackPointer())
	}
	if exc != nil {
		st.Exception = exceptionInfo(exc)
	}
	st.Note = stackNote(st.HasContext, st.HasException)
	sess.stack = st

	if cpu == nil && exc == nil {
		sess.Note("Limited stack trace info available (live dump or no captured context)")
	}
	return sess.advance(StateContextRead)
}

func exceptionInfo(rec *dump.ExceptionRecord) *model.ExceptionInfo {
	info := &model.ExceptionInfo{
		Code:             rec.Code,
		CodeHex:          hex32(rec.Code),
		Name:             dump.ExceptionLabel(rec.Code),
		Flags:            hex32(rec.Flags),
		Record:           hex64(rec.Record),
		Address:          hex64(rec.Address),
		NumberParameters: rec.NumberParameters,
		Parameters:       make([]string, 0, len(rec.Parameters)),
	}
	for _, p := range rec.Parameters {
		info.Parameters = append(info.Parameters, hex64(p))
	}
	return info
}

func stackNote(hasContext, hasException bool) string {
	switch {
	case hasContext:
		return noteRawRegister
	case hasException:
		return noteNoContext
	default:
		return noteNoContext + " " + noteNoException
	}
}

// ModulesStep walks the loaded-module list, classifies the drivers and
// attributes raw stack frames to modules.
type ModulesStep struct {
	walkOpts       []modules.Option
	classifier     *drivers.Classifier
	stackScanDepth int
	logger         *slog.Logger
}

// ModulesStepOption configures a ModulesStep.
type ModulesStepOption func(*ModulesStep)

// WithWalkOptions sets the options passed to modules.Walk.
func WithWalkOptions(opts ...modules.Option) ModulesStepOption {
	return func(s *ModulesStep) {
		s.walkOpts = opts
	}
}

// WithClassifier sets the driver classifier.
func WithClassifier(c *drivers.Classifier) ModulesStepOption {
	return func(s *ModulesStep) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithStackScanDepth sets how many stack slots are examined for return
// addresses. Zero disables the scan.
func WithStackScanDepth(n int) ModulesStepOption {
	return func(s *ModulesStep) {
		if n >= 0 {
			s.stackScanDepth = n
		}
	}
}

// WithModulesLogger sets a custom logger for the modules step.
func WithModulesLogger(logger *slog.Logger) ModulesStepOption {
	return func(s *ModulesStep) {
		s.logger = logger
	}
}

// NewModulesStep creates a modules step.
func NewModulesStep(opts ...ModulesStepOption) *ModulesStep {
	s := &ModulesStep{
		classifier:     drivers.NewClassifier(),
		stackScanDepth: DefaultStackScanDepth,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *ModulesStep) Name() string {
	return "modules"
}

// Do executes the modules step.
func (s *ModulesStep) Do(ctx context.Context, sess *Session) error {
	h := sess.header
	if h == nil {
		return fmt.Errorf("%w: module walk needs a parsed header", ErrOutOfOrder)
	}

	base, err := h.PageTableBase()
	switch {
	case err != nil:
		s.notAttempted(sess, err.Error())
		s.addFrames(sess, nil, nil)
		return sess.advance(StateModulesWalked)
	case !h.HasModuleList():
		s.notAttempted(sess, "header carries no PsLoadedModuleList address")
		s.addFrames(sess, nil, nil)
		return sess.advance(StateModulesWalked)
	}

	tr := vmem.New(sess.reader, h.Runs, base)
	mods, err := modules.Walk(ctx, tr, h.PsLoadedModuleList, s.walkOpts...)

	method, note := model.ExtractionFullWalk, ""
	switch {
	case err == nil:
		if len(mods) == 0 {
			note = "Loaded-module list is empty"
			sess.Note("%s", note)
		}
	case errors.Is(err, dump.ErrPartialModuleList):
		method = model.ExtractionBestEffort
		note = fmt.Sprintf("Module list walk stopped early after %d modules; the driver list may be incomplete", len(mods))
		sess.Note("%s: %v", note, err)
	default:
		return err
	}

	s.logger.Debug("module walk finished",
		"dump", sess.Name(),
		"modules", len(mods),
		"method", string(method),
	)

	sess.drivers = drivers.Summarize(s.classifier.ClassifyAll(mods), method, note)
	s.addFrames(sess, tr, modules.NewIndex(mods))
	return sess.advance(StateModulesWalked)
}

func (s *ModulesStep) notAttempted(sess *Session, reason string) {
	note := "Module walk not attempted: " + reason
	sess.Note("%s", note)
	sess.drivers = drivers.Summarize(nil, model.ExtractionNotAttempted, note)
}

// addFrames builds the raw frame list: the instruction pointer first, then
// stack slots that point into a loaded module. Without a translator only
// the instruction pointer is reported.
func (s *ModulesStep) addFrames(sess *Session, tr *vmem.Translator, idx *modules.Index) {
	st := sess.stack
	if st == nil || sess.context == nil {
		return
	}

	frames := []model.Frame{newFrame(0, sess.context.InstructionPointer(), idx, model.FrameSourceContext)}

	if tr != nil && idx != nil && s.stackScanDepth > 0 {
		sp := sess.context.StackPointer()
		for i := range s.stackScanDepth {
			v, err := tr.ReadUint64(sp + uint64(i)*8)
			if err != nil {
				sess.Note("Stack scan stopped after %d slots: %v", i, err)
				break
			}
			if _, ok := idx.Lookup(v); !ok {
				continue
			}
			frames = append(frames, newFrame(len(frames), v, idx, model.FrameSourceStackScan))
		}
	}

	st.RawFrames = frames
	st.RawFrameCount = len(frames)
}

func newFrame(i int, addr uint64, idx *modules.Index, source string) model.Frame {
	f := model.Frame{
		Index:   i,
		Address: hex64(addr),
		Source:  source,
	}
	if idx != nil {
		if m, ok := idx.Lookup(addr); ok {
			f.Module = m.Name
			f.Offset = fmt.Sprintf("0x%X", addr-m.Base)
		}
	}
	return f
}

// Exporter persists an assembled result. src is the dump path as given by
// the caller; the returned string is where the result was written.
type Exporter interface {
	Export(ctx context.Context, src string, result *model.AnalysisResult) (string, error)
}

// ExportStep assembles the final result and hands it to the exporter.
type ExportStep struct {
	exporter Exporter
}

// NewExportStep creates an export step. A nil exporter only assembles
// the result.
func NewExportStep(exporter Exporter) *ExportStep {
	return &ExportStep{exporter: exporter}
}

// Name returns the step name.
func (s *ExportStep) Name() string {
	return "export"
}

// Do executes the export step.
func (s *ExportStep) Do(ctx context.Context, sess *Session) error {
	if sess.state != StateModulesWalked {
		return fmt.Errorf("%w: export before the module walk", ErrOutOfOrder)
	}
	res := sess.assemble()
	if s.exporter != nil {
		path, err := s.exporter.Export(ctx, sess.Path, res)
		if err != nil {
			return fmt.Errorf("export analysis: %w", err)
		}
		sess.bundlePath = path
	}
	return sess.advance(StateExported)
}

func hex32(v uint32) string {
	return fmt.Sprintf("0x%08X", v)
}

func hex64(v uint64) string {
	return fmt.Sprintf("0x%016X", v)
}
