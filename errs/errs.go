// Package errs defines RefineDB's structured error taxonomy. Every error
// produced by the schema compiler, the storage-plan builder, and the
// TreeWalker VM carries a Kind, an optional source Location, and a human
// message, so callers can branch on failure class instead of parsing text.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the class of a RefineDB error.
type Kind string

const (
	ParseError          Kind = "ParseError"
	InvalidLiteral       Kind = "InvalidLiteral"
	TypeError            Kind = "TypeError"
	RecursionError       Kind = "RecursionError"
	PlanMigrationConflict Kind = "PlanMigrationConflict"
	MissingField         Kind = "MissingField"
	NullUnwrap           Kind = "NullUnwrap"
	InvalidSelect        Kind = "InvalidSelect"
	BackendError         Kind = "BackendError"
	TransactionConflict  Kind = "TransactionConflict"
	UserThrow            Kind = "UserThrow"
)

// Location is a source position, when one is available. Line/Col are
// 1-based; a zero Line means "no location" (e.g. errors raised against a
// plan or schema built programmatically rather than parsed from text).
type Location struct {
	File string
	Line int
	Col  int
}

func (l Location) String() string {
	if l.Line == 0 {
		return ""
	}
	if l.File == "" {
		return fmt.Sprintf("%d:%d", l.Line, l.Col)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// Error is the concrete error type returned throughout RefineDB.
type Error struct {
	Kind     Kind
	Loc      Location
	Message  string
	Cause    error
	ThrowVal any // populated only for Kind == UserThrow
}

func (e *Error) Error() string {
	loc := e.Loc.String()
	if loc != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s at %s: %s: %v", e.Kind, loc, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s at %s: %s", e.Kind, loc, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no location and no cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// At builds an Error tied to a source location.
func At(kind Kind, loc Location, format string, args ...any) *Error {
	return &Error{Kind: kind, Loc: loc, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a backend/IO failure, preserving a stack trace
// via github.com/pkg/errors so BackendError diagnostics can be traced back
// to the originating KV call.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: errors.WithStack(cause)}
}

// Throw builds the error carried by a TreeWalker `throw` statement. The
// user-supplied value is preserved verbatim so the caller can inspect it.
func Throw(value any, message string) *Error {
	return &Error{Kind: UserThrow, Message: message, ThrowVal: value}
}

// Is reports whether err (or anything it wraps) is a RefineDB *Error of the
// given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
