package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nao1215/dumpscan/internal/config"
	"github.com/nao1215/dumpscan/internal/drivers"
	"github.com/nao1215/dumpscan/internal/dump"
	"github.com/nao1215/dumpscan/internal/model"
	"github.com/nao1215/dumpscan/internal/modules"
)

// DefaultStackScanDepth is the number of stack slots examined for
// candidate return addresses.
const DefaultStackScanDepth = config.DefaultStackScanDepth

// Limits bounds the work done on a single dump.
type Limits struct {
	// MaxReadSize caps a single read from the file.
	MaxReadSize int

	// RunTolerancePages is how far the run list may extend past the
	// declared dump size.
	RunTolerancePages uint64

	MaxModules     int
	MaxNameBytes   int
	StackScanDepth int

	// ImageDetails enables PE parsing of resident module images.
	ImageDetails bool
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{
		MaxReadSize:       config.DefaultMaxReadSize,
		RunTolerancePages: config.DefaultRunTolerancePages,
		MaxModules:        config.DefaultMaxModules,
		MaxNameBytes:      config.DefaultMaxNameBytes,
		StackScanDepth:    config.DefaultStackScanDepth,
		ImageDetails:      true,
	}
}

// LimitsFromConfig copies the extraction limits out of cfg.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxReadSize:       cfg.MaxReadSize,
		RunTolerancePages: cfg.RunTolerancePages,
		MaxModules:        cfg.MaxModules,
		MaxNameBytes:      cfg.MaxNameBytes,
		StackScanDepth:    cfg.StackScanDepth,
		ImageDetails:      cfg.ImageDetails,
	}
}

// Outcome is what one extraction produced. Result is never nil: a run
// that failed before any data was read still reports its metadata and
// error. Such a failure record carries no crash data, and no bundle is
// ever written for a fatal run. Err keeps the stack where the run failed.
type Outcome struct {
	// Path is the dump path as given by the caller.
	Path string

	Result *model.AnalysisResult

	// BundlePath is where the exporter wrote the result, if anywhere.
	BundlePath string

	// State is the final session state.
	State State

	// Err is the fatal error, if any.
	Err error
}

// Failed reports whether the run ended with a fatal error.
func (o *Outcome) Failed() bool {
	return o.Err != nil
}

// Extractor runs the default pipeline over dump files. It holds no
// per-run state and is safe for concurrent use.
type Extractor struct {
	limits      Limits
	classifier  *drivers.Classifier
	exporter    Exporter
	toolVersion string
	logger      *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLimits sets the extraction limits.
func WithLimits(l Limits) ExtractorOption {
	return func(e *Extractor) {
		e.limits = l
	}
}

// WithDriverClassifier sets the classifier used for the driver list.
func WithDriverClassifier(c *drivers.Classifier) ExtractorOption {
	return func(e *Extractor) {
		e.classifier = c
	}
}

// WithExporter sets where assembled results are written.
func WithExporter(x Exporter) ExtractorOption {
	return func(e *Extractor) {
		e.exporter = x
	}
}

// WithToolVersion sets the version reported in result metadata.
func WithToolVersion(v string) ExtractorOption {
	return func(e *Extractor) {
		e.toolVersion = v
	}
}

// WithExtractorLogger sets a custom logger for the extractor and its steps.
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor creates an Extractor with the given options.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		limits:      DefaultLimits(),
		classifier:  drivers.NewClassifier(),
		toolVersion: "dev",
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	return e
}

// Pipeline returns the default step sequence configured from the
// extractor's settings.
func (e *Extractor) Pipeline() *Pipeline {
	p := New(WithLogger(e.logger))
	p.AddSteps(
		NewHeaderStep(dump.WithRunTolerance(e.limits.RunTolerancePages)),
		NewBugcheckStep(),
		NewContextStep(e.logger),
		NewModulesStep(
			WithWalkOptions(
				modules.WithMaxModules(e.limits.MaxModules),
				modules.WithMaxNameBytes(e.limits.MaxNameBytes),
				modules.WithImageDetails(e.limits.ImageDetails),
			),
			WithClassifier(e.classifier),
			WithStackScanDepth(e.limits.StackScanDepth),
			WithModulesLogger(e.logger),
		),
		NewExportStep(e.exporter),
	)
	return p
}

// Extract analyzes the dump at path. The file is opened for the duration
// of the run and closed on every exit path. The returned Outcome always
// carries a result; the error is the fatal error, if any, and is also
// stored in Outcome.Err.
func (e *Extractor) Extract(ctx context.Context, path string) (*Outcome, error) {
	out := &Outcome{Path: path}

	r, err := dump.Open(path, dump.WithMaxReadSize(e.limits.MaxReadSize))
	if err != nil {
		sess := e.newSession(path, nil)
		sess.fail(err)
		return e.finish(out, sess), sess.Err()
	}
	defer r.Close()

	sess := e.newSession(path, r)
	if err := e.Pipeline().Execute(ctx, sess); err != nil {
		e.logger.Warn("extraction failed", "dump", sess.Name(), "state", sess.State().String(), "error", err)
	}
	return e.finish(out, sess), sess.Err()
}

func (e *Extractor) newSession(path string, r *dump.Reader) *Session {
	sess := NewSession(uuid.NewString(), path, r)
	sess.ToolVersion = e.toolVersion
	return sess
}

// finish copies the session's outcome. A failed session is assembled
// again so that the result carries the error.
func (e *Extractor) finish(out *Outcome, sess *Session) *Outcome {
	res := sess.Result()
	if res == nil || sess.Err() != nil {
		res = sess.assemble()
	}
	out.Result = res
	out.BundlePath = sess.BundlePath()
	out.State = sess.State()
	out.Err = sess.Err()
	return out
}

// Extract analyzes the dump at path with a default Extractor configured
// by opts.
func Extract(ctx context.Context, path string, opts ...ExtractorOption) (*Outcome, error) {
	return NewExtractor(opts...).Extract(ctx, path)
}
