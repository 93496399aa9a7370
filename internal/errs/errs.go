// Package errs defines the error taxonomy surfaced across component
// boundaries, per spec §7: a small closed kind enum wrapped in a
// single Error type that participates in errors.Is/errors.As like any
// wrapped stdlib error.
package errs

import (
	"errors"
	"fmt"

	"contentd/internal/logging"
)

// Kind is one of the seven error categories callers may branch on.
type Kind string

const (
	NotFound      Kind = "not_found"
	InvalidField  Kind = "invalid_field"
	InvalidSchema Kind = "invalid_schema"
	Conflict      Kind = "conflict"
	Storage       Kind = "storage"
	AuditFailure  Kind = "audit_failure"
	Configuration Kind = "configuration"
)

// Error wraps an underlying cause with a taxonomy Kind and structured
// context fields used by InvalidField/InvalidSchema/Storage.
type Error struct {
	Kind Kind
	// FieldID is set for InvalidField.
	FieldID string
	// Path, Line, Column are set for InvalidSchema.
	Path   string
	Line   int
	Column int
	// Retryable is set for Storage.
	Retryable bool
	// CorrelationID is set for Storage and AuditFailure, the two kinds
	// §7 maps to a 500-equivalent response with an opaque id a caller
	// can hand back for support without leaking internals.
	CorrelationID string

	msg string
	err error
}

func (e *Error) Error() string {
	if e.CorrelationID != "" {
		if e.err != nil {
			return fmt.Sprintf("%s: %s: %v [%s]", e.Kind, e.msg, e.err, e.CorrelationID)
		}
		return fmt.Sprintf("%s: %s [%s]", e.Kind, e.msg, e.CorrelationID)
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is lets errors.Is(err, errs.NotFoundErr) style sentinel checks work
// by kind rather than by identity, since every Error of a given kind
// should compare equal for routing purposes.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, err: cause}
}

// New wraps cause (which may be nil) as the given Kind with a message.
func New(kind Kind, msg string, cause error) *Error {
	return newErr(kind, msg, cause)
}

// Newf formats msg the way fmt.Errorf does, then wraps it.
func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return newErr(kind, fmt.Sprintf(format, args...), cause)
}

// NotFoundErr is used as a target for errors.Is(err, errs.NotFoundErr).
var NotFoundErr = &Error{Kind: NotFound}

// Field builds an InvalidField error for fieldID.
func Field(fieldID, reason string) *Error {
	return &Error{Kind: InvalidField, FieldID: fieldID, msg: reason}
}

// Schema builds an InvalidSchema error carrying a file location.
func Schema(path string, line, column int, reason string) *Error {
	return &Error{Kind: InvalidSchema, Path: path, Line: line, Column: column, msg: reason}
}

// StorageErr builds a Storage error, marked retryable when the
// underlying cause is a transient condition (timeout, lock
// contention). It carries a fresh correlation id so a caller at the
// edge can log the internal cause once and hand back only the id.
func StorageErr(cause error, retryable bool, msg string) *Error {
	return &Error{Kind: Storage, Retryable: retryable, CorrelationID: logging.NewCorrelationID(), msg: msg, err: cause}
}

// AuditFailureErr builds an AuditFailure error, tagged with a
// correlation id the same way StorageErr is.
func AuditFailureErr(cause error, msg string) *Error {
	return &Error{Kind: AuditFailure, CorrelationID: logging.NewCorrelationID(), msg: msg, err: cause}
}

// Of reports the Kind of err if it (or something it wraps) is an
// *Error, and whether one was found at all.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind matches kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
