// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package schederrors defines the structured status values the scheduler
// surfaces across its public operations: every error carries a Kind in
// addition to a human-readable message, rather than being an untyped
// error or an asynchronously thrown exception.
package schederrors

import "github.com/pkg/errors"

// Kind classifies why a scheduler operation failed.
type Kind int

const (
	// KindInvariant means a schedule failed a structural invariant: an
	// instruction missing from a schedule, scheduled twice, or scheduled
	// before an operand or control predecessor. Raised by the Verifier and
	// by UpdateSchedule after patching, and by internal counters that
	// would otherwise go negative.
	KindInvariant Kind = iota
	// KindPrecondition means the caller violated an API precondition, such
	// as calling ScheduleOneComputation on a fusion computation. Treated
	// as a programmer bug.
	KindPrecondition
	// KindUpstream means a collaborator (points-to analysis, heap
	// simulator) returned an error, propagated unchanged in substance.
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindInvariant:
		return "invariant violation"
	case KindPrecondition:
		return "precondition violation"
	case KindUpstream:
		return "upstream failure"
	default:
		return "unknown error"
	}
}

// Error is the structured status value returned by the scheduler's public
// operations.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.err.Error() }

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.err }

// Invariantf reports an invariant violation, identifying the offending
// instruction or computation in the formatted message.
func Invariantf(format string, args ...interface{}) error {
	return &Error{Kind: KindInvariant, err: errors.Errorf(format, args...)}
}

// Preconditionf reports a precondition violation.
func Preconditionf(format string, args ...interface{}) error {
	return &Error{Kind: KindPrecondition, err: errors.Errorf(format, args...)}
}

// Upstream wraps an error returned by an external collaborator, tagging it
// as an upstream failure. Returns nil if err is nil.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindUpstream, err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == kind
}
