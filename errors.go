package anda

import (
	"errors"
	"fmt"
)

// Kind is the exhaustive set of error categories surfaced by the engine.
// See spec §7; the propagation policy is: Parse/Validation/NotFound/
// Duplicate/SchemaMismatch/DimensionMismatch are returned to the caller
// unchanged and are never retried by the core; Conflict surfaces so the
// caller can re-plan; Corruption aborts the open/load path; Cancelled
// unwinds cooperatively.
type Kind uint8

const (
	KindInternal Kind = iota
	KindParse
	KindValidation
	KindNotFound
	KindDuplicate
	KindSchemaMismatch
	KindDimensionMismatch
	KindConflict
	KindIO
	KindCorruption
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "Parse"
	case KindValidation:
		return "Validation"
	case KindNotFound:
		return "NotFound"
	case KindDuplicate:
		return "Duplicate"
	case KindSchemaMismatch:
		return "SchemaMismatch"
	case KindDimensionMismatch:
		return "DimensionMismatch"
	case KindConflict:
		return "Conflict"
	case KindIO:
		return "Io"
	case KindCorruption:
		return "Corruption"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Error is the typed error every public operation returns. The underlying
// cause (if any) is reachable via errors.Unwrap.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type Error struct {
	Kind    Kind
	Path    string // dotted field/path this error concerns, if any (dry-run reporting)
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is(err, ErrNotFound)-style sentinel comparisons by kind.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return e.Kind == o.Kind
	}
	return false
}

func newErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// ErrNotFound is a sentinel matched via errors.Is against any *Error with
// Kind == KindNotFound.
var ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}

// ErrDuplicate is a sentinel matched via errors.Is against any *Error with
// Kind == KindDuplicate.
var ErrDuplicate = &Error{Kind: KindDuplicate, Message: "duplicate"}

// ErrConflict is a sentinel matched via errors.Is against any *Error with
// Kind == KindConflict.
var ErrConflict = &Error{Kind: KindConflict, Message: "optimistic lock conflict"}

// ErrCancelled is a sentinel matched via errors.Is against any *Error with
// Kind == KindCancelled.
var ErrCancelled = &Error{Kind: KindCancelled, Message: "cancelled"}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) error { return newErr(KindNotFound, nil, format, args...) }

// Duplicatef builds a KindDuplicate error.
func Duplicatef(format string, args ...any) error { return newErr(KindDuplicate, nil, format, args...) }

// Validationf builds a KindValidation error, optionally tagged with a path.
func Validationf(path, format string, args ...any) error {
	e := newErr(KindValidation, nil, format, args...)
	e.Path = path
	return e
}

// Parsef builds a KindParse error.
func Parsef(format string, args ...any) error { return newErr(KindParse, nil, format, args...) }

// SchemaMismatchf builds a KindSchemaMismatch error.
func SchemaMismatchf(format string, args ...any) error {
	return newErr(KindSchemaMismatch, nil, format, args...)
}

// DimensionMismatch builds a KindDimensionMismatch error carrying the
// expected/actual lengths.
func DimensionMismatch(expected, actual int) error {
	return newErr(KindDimensionMismatch, nil, "dimension mismatch: expected %d, got %d", expected, actual)
}

// Conflictf builds a KindConflict error.
func Conflictf(format string, args ...any) error { return newErr(KindConflict, nil, format, args...) }

// IOErrorf wraps a transport/storage error as KindIO.
func IOErrorf(cause error, format string, args ...any) error {
	return newErr(KindIO, cause, format, args...)
}

// Corruptionf builds a KindCorruption error.
func Corruptionf(cause error, format string, args ...any) error {
	return newErr(KindCorruption, cause, format, args...)
}

// Internalf builds a KindInternal error.
func Internalf(cause error, format string, args ...any) error {
	return newErr(KindInternal, cause, format, args...)
}

// AsKind extracts the Kind of err if it is (or wraps) an *Error.
func AsKind(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
