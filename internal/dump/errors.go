package dump

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure raised while extracting data from a dump.
// InvalidFormat, CorruptHeader and IOError are fatal to a run.
// TranslationFailed and PartialModuleList are recorded as parser notes.
type ErrorKind int

const (
	// KindInvalidFormat means the file does not carry a known dump signature.
	KindInvalidFormat ErrorKind = iota + 1

	// KindCorruptHeader means the header is internally inconsistent
	// (offsets, run list or bitmap disagree with each other or the file).
	KindCorruptHeader

	// KindIO means the file could not be opened or was truncated mid-read.
	KindIO

	// KindTranslationFailed means a virtual address could not be resolved
	// to a file offset. It applies to a single address.
	KindTranslationFailed

	// KindPartialModuleList means the loaded-module walk stopped early.
	KindPartialModuleList
)

// Sentinel errors matching each ErrorKind. A *Error matches its kind's
// sentinel through errors.Is.
var (
	// ErrInvalidFormat is matched by errors of KindInvalidFormat.
	ErrInvalidFormat = errors.New("not a supported dump")

	// ErrCorruptHeader is matched by errors of KindCorruptHeader.
	ErrCorruptHeader = errors.New("corrupt dump header")

	// ErrIO is matched by errors of KindIO.
	ErrIO = errors.New("could not read file")

	// ErrTranslationFailed is matched by errors of KindTranslationFailed.
	ErrTranslationFailed = errors.New("address translation failed")

	// ErrPartialModuleList is matched by errors of KindPartialModuleList.
	ErrPartialModuleList = errors.New("partial module list")
)

// NoOffset marks an Error that is not tied to a file offset.
const NoOffset int64 = -1

// String returns the taxonomy name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidFormat:
		return "InvalidFormat"
	case KindCorruptHeader:
		return "CorruptHeader"
	case KindIO:
		return "IOError"
	case KindTranslationFailed:
		return "TranslationFailed"
	case KindPartialModuleList:
		return "PartialModuleList"
	default:
		return "Unknown"
	}
}

// Fatal reports whether errors of this kind abort an extraction run.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindInvalidFormat, KindCorruptHeader, KindIO:
		return true
	default:
		return false
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidFormat:
		return ErrInvalidFormat
	case KindCorruptHeader:
		return ErrCorruptHeader
	case KindIO:
		return ErrIO
	case KindTranslationFailed:
		return ErrTranslationFailed
	case KindPartialModuleList:
		return ErrPartialModuleList
	default:
		return nil
	}
}

// Error is the typed failure returned by every package that touches the
// dump file.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Op describes what was being done, e.g. "read header".
	Op string

	// Offset is the file offset involved, or NoOffset.
	Offset int64

	// Err is the underlying cause, if any.
	Err error
}

// NewError builds an *Error. Pass NoOffset when no file offset applies.
func NewError(kind ErrorKind, op string, offset int64, err error) *Error {
	return &Error{Kind: kind, Op: op, Offset: offset, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Op
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset %#x", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf extracts the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// IsFatal reports whether err should abort an extraction run.
// Errors that do not carry a kind (cancellation, programming errors)
// are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := KindOf(err)
	if !ok {
		return true
	}
	return kind.Fatal()
}
