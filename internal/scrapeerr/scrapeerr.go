// Package scrapeerr defines the error taxonomy shared by the pipeline stages.
//
// Kinds split into two tiers:
//   - task level: Network, Parse. The current task yields an empty Result Set
//     and the run continues.
//   - record level: Extraction. One record is skipped.
//   - run level: IO. The run stops and the command exits non-zero.
//
// Errors are matched with errors.Is against the Kind sentinels:
//
//	if errors.Is(err, scrapeerr.Network) { ... }
package scrapeerr

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Unknown is returned by KindOf for errors outside the taxonomy.
	Unknown Kind = iota
	// Network covers connect failures, timeouts and non-2xx responses.
	Network
	// Parse covers bodies that cannot be decoded in the requested mode.
	Parse
	// Extraction covers an unexpected tree shape inside one record.
	Extraction
	// IO covers output write failures.
	IO
)

func (k Kind) String() string {
	switch k {
	case Network:
		return "NetworkError"
	case Parse:
		return "ParseError"
	case Extraction:
		return "ExtractionError"
	case IO:
		return "IOError"
	default:
		return "UnknownError"
	}
}

// Error implements error so a Kind can be used directly as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Error is a classified failure. Op names the operation that failed
// (e.g. "fetch", "write csv") and prefixes the cause in Error().
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind sentinel.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New classifies err under kind. The cause is wrapped with eris so the stack of
// the classification site is kept for %+v formatting.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return &Error{Kind: kind, Op: op}
	}
	return &Error{Kind: kind, Op: op, Err: eris.Wrap(err, op)}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: eris.Wrap(eris.Errorf(format, args...), op)}
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// TaskLevel reports whether err should abort only the current task.
func TaskLevel(err error) bool {
	switch KindOf(err) {
	case Network, Parse:
		return true
	default:
		return false
	}
}
