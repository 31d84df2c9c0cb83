// Package errs holds the error taxonomy shared by tracking, lineage and the pipeline.
//
// Fatal errors are *Error values carrying the frame and cell they refer to.
// Recoverable conditions are reported as Warning values attached to operation results.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies failures
type Kind uint16

const (
	// KindInput is a malformed label image, a shape mismatch between frames or an empty video
	KindInput Kind = iota + 1
	// KindInvariant is an invariant violation detected after a lineage operation
	KindInvariant
	// KindAmbiguous is a bud left without mother. Recovered locally as a warning
	KindAmbiguous
	// KindSegmenter is a failure of the pluggable segmenter
	KindSegmenter
	// KindCancelled is cooperative cancellation
	KindCancelled
	// KindNotFound is a reference to a frame or a cell which does not exist
	KindNotFound
	// KindRejected is an edit which is not valid for the target (e.g. not a division target)
	KindRejected
	// KindReleased is an S pair broken because one partner vanished. Warning only
	KindReleased
)

// String returns human readable kind name
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input error"
	case KindInvariant:
		return "invariant violation"
	case KindAmbiguous:
		return "ambiguous assignment"
	case KindSegmenter:
		return "segmenter error"
	case KindCancelled:
		return "cancelled"
	case KindNotFound:
		return "not found"
	case KindRejected:
		return "rejected"
	case KindReleased:
		return "released"
	default:
		return "unknown"
	}
}

// MarshalText encodes kind by its name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes kind name produced by MarshalText
func (k *Kind) UnmarshalText(text []byte) error {
	for kind := KindInput; kind <= KindReleased; kind++ {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	return errors.Errorf("unknown error kind '%s'", text)
}

// NoFrame and NoCell mark errors which are not bound to a frame or a cell
const (
	NoFrame = -1
	NoCell  = 0
)

// Error is a fatal error of an operation
type Error struct {
	Kind   Kind
	Frame  int
	CellID int
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	if e.Frame != NoFrame {
		msg += fmt.Sprintf(" (frame %d", e.Frame)
		if e.CellID != NoCell {
			msg += fmt.Sprintf(", cell %d", e.CellID)
		}
		msg += ")"
	} else if e.CellID != NoCell {
		msg += fmt.Sprintf(" (cell %d)", e.CellID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns underlying error if any
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates new error of given kind
func New(kind Kind, frame, cellID int, reason string) *Error {
	return &Error{Kind: kind, Frame: frame, CellID: cellID, Reason: reason}
}

// Newf creates new error of given kind with formatted reason
func Newf(kind Kind, frame, cellID int, format string, args ...any) *Error {
	return New(kind, frame, cellID, fmt.Sprintf(format, args...))
}

// Wrap attaches kind and location to an existing error
func Wrap(err error, kind Kind, frame, cellID int, reason string) *Error {
	return &Error{Kind: kind, Frame: frame, CellID: cellID, Reason: reason, Err: err}
}

// Input is shorthand for KindInput errors
func Input(frame int, format string, args ...any) *Error {
	return Newf(KindInput, frame, NoCell, format, args...)
}

// ErrCancelled is returned (wrapped) when an operation stops because its context is done
var ErrCancelled = errors.New("operation cancelled")

// Cancelled wraps context error into KindCancelled error at the given frame boundary
func Cancelled(frame int, cause error) *Error {
	if cause == nil {
		cause = ErrCancelled
	}
	return Wrap(cause, KindCancelled, frame, NoCell, "stopped at frame boundary")
}

// KindOf extracts kind of error. Returns 0 for foreign errors
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return 0
}

// Is reports whether err (or anything it wraps) is an *Error of the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Warning is a recoverable condition reported alongside a successful result
type Warning struct {
	Kind   Kind   `json:"kind"`
	Frame  int    `json:"frame_index"`
	CellID int    `json:"cell_id"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s at frame %d, cell %d: %s", w.Kind, w.Frame, w.CellID, w.Reason)
}
