// Package errz defines the structured error types used throughout the
// classfile module.
package errz

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of an error.
type ErrorKind int

const (
	// ErrFormat indicates malformed input bytes. Parsing aborts and the
	// error carries the byte offset where the inconsistency was found.
	ErrFormat ErrorKind = iota
	// ErrCapacity indicates that a count exceeded the class file format's
	// addressable range (constant pool slots, code bytes, locals, stack).
	ErrCapacity
	// ErrResolution indicates that the type hierarchy oracle could not
	// determine a common supertype under strict resolution.
	ErrResolution
	// ErrUsage indicates a programming error by a caller: an unbound label
	// at finalize, interning into a finalized pool, or events delivered
	// out of order.
	ErrUsage
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrFormat:
		return "format error"
	case ErrCapacity:
		return "capacity error"
	case ErrResolution:
		return "resolution error"
	case ErrUsage:
		return "usage error"
	default:
		return "error"
	}
}

// Error is a structured error with a kind and kind-specific context.
type Error struct {
	Message string
	Kind    ErrorKind

	// Offset is the byte offset of a format error, or -1 when not applicable.
	Offset int64

	// Count and Limit describe a capacity error.
	Count int
	Limit int

	// TypeA and TypeB are the two conflicting types of a resolution error,
	// and Block is the basic block in which the conflict occurred.
	TypeA string
	TypeB string
	Block int

	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case ErrFormat:
		if e.Offset >= 0 {
			return fmt.Sprintf("%s: %s (offset %d)", e.Kind.String(), e.Message, e.Offset)
		}
	case ErrCapacity:
		return fmt.Sprintf("%s: %s (%d exceeds limit %d)", e.Kind.String(), e.Message, e.Count, e.Limit)
	case ErrResolution:
		return fmt.Sprintf("%s: %s (types %s and %s in block %d)",
			e.Kind.String(), e.Message, e.TypeA, e.TypeB, e.Block)
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsFatal returns whether the error indicates a contract violation by the
// caller, as opposed to bad input data.
func (e *Error) IsFatal() bool {
	return e.Kind == ErrUsage
}

// WithCause wraps the error with a cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Format creates a format error at the given byte offset.
func Format(offset int64, format string, args ...any) *Error {
	return &Error{
		Kind:    ErrFormat,
		Message: fmt.Sprintf(format, args...),
		Offset:  offset,
	}
}

// Capacity creates a capacity error for the named quantity.
func Capacity(what string, count, limit int) *Error {
	return &Error{
		Kind:    ErrCapacity,
		Message: what,
		Offset:  -1,
		Count:   count,
		Limit:   limit,
	}
}

// Resolution creates a resolution error naming the two conflicting types
// and the basic block where they met.
func Resolution(typeA, typeB string, block int, format string, args ...any) *Error {
	return &Error{
		Kind:    ErrResolution,
		Message: fmt.Sprintf(format, args...),
		Offset:  -1,
		TypeA:   typeA,
		TypeB:   typeB,
		Block:   block,
	}
}

// Usage creates a usage error describing a caller contract violation.
func Usage(format string, args ...any) *Error {
	return &Error{
		Kind:    ErrUsage,
		Message: fmt.Sprintf(format, args...),
		Offset:  -1,
	}
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
