// Package ofperror implements the error taxonomy used throughout the
// agent core to classify internal failures and map the ones that must
// be surfaced to a controller onto an OFPT_ERROR wire message.
package ofperror

import (
	"fmt"

	"github.com/netrack/ofagent/ofp"
)

// Kind enumerates the classes of failure a validating function may
// report. Most kinds are purely internal bookkeeping; only OFPError
// carries a wire-visible OpenFlow error.
type Kind int

const (
	// InvalidArgs is returned when a caller-supplied argument fails
	// validation before any OpenFlow semantics are involved.
	InvalidArgs Kind = iota

	// NoMemory is returned when an internal allocation (a pool, a
	// reassembly table slot) is exhausted.
	NoMemory

	// OutOfRange is returned when a value exceeds a hard-coded limit
	// (MAX_POLLS, MAX_DP_POLLS, MAX_BRIDGES).
	OutOfRange

	// AlreadyExists is returned when a registration collides with an
	// existing entry (a dpid already registered with bridgequeue).
	AlreadyExists

	// NotFound is returned when a lookup misses.
	NotFound

	// NotDefined is returned when an optional value (the channel
	// list's generation-id) was never set.
	NotDefined

	// Busy is returned when an object cannot be freed because its
	// reference count is still positive.
	Busy

	// InvalidObject is returned when an operation is attempted on an
	// object in the wrong lifecycle state.
	InvalidObject

	// NotOperational is returned when the agent or a bridge is not
	// in a state that can service the request.
	NotOperational

	// TimedOut is returned when a bounded blocking operation exceeds
	// its deadline.
	TimedOut

	// OFPError carries a wire-ready OpenFlow error; Err holds the
	// *ofp.Error to encode.
	OFPError

	// AnyFailure is a catch-all for conditions that do not fit any
	// of the above.
	AnyFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidArgs:
		return "invalid-args"
	case NoMemory:
		return "no-memory"
	case OutOfRange:
		return "out-of-range"
	case AlreadyExists:
		return "already-exists"
	case NotFound:
		return "not-found"
	case NotDefined:
		return "not-defined"
	case Busy:
		return "busy"
	case InvalidObject:
		return "invalid-object"
	case NotOperational:
		return "not-operational"
	case TimedOut:
		return "timed-out"
	case OFPError:
		return "ofp-error"
	default:
		return "any-failure"
	}
}

// Error wraps a Kind and, for Kind == OFPError, the *ofp.Error that
// must be encoded back to the originating channel.
type Error struct {
	Kind    Kind
	Err     *ofp.Error
	Message string
}

func (e *Error) Error() string {
	if e.Kind == OFPError && e.Err != nil {
		return fmt.Sprintf("ofperror: %s: %s", e.Kind, e.Err.String())
	}

	if e.Message != "" {
		return fmt.Sprintf("ofperror: %s: %s", e.Kind, e.Message)
	}

	return fmt.Sprintf("ofperror: %s", e.Kind)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped *ofp.Error.
func (e *Error) Unwrap() error {
	if e.Err == nil {
		return nil
	}

	return e.Err
}

// New returns a non-wire error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// OFP returns a wire error of the given OpenFlow type/code, carrying
// up to 64 bytes of the offending request.
func OFP(t ofp.ErrType, code ofp.ErrCode, offending []byte) *Error {
	return &Error{Kind: OFPError, Err: &ofp.Error{
		Type: t, Code: code, Data: Truncate(offending),
	}}
}

// Truncate returns at most the first 64 bytes of b, per the OpenFlow
// 1.3 convention for echoing the offending request in an error.
func Truncate(b []byte) []byte {
	const maxOffending = 64

	if len(b) <= maxOffending {
		return b
	}

	return b[:maxOffending]
}

// IsWire reports whether err is an *Error carrying a wire-visible
// OFPT_ERROR.
func IsWire(err error) (*Error, bool) {
	e, ok := err.(*Error)
	if !ok || e.Kind != OFPError {
		return nil, false
	}

	return e, true
}
