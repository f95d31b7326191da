// Package status defines the closed set of error kinds that cross package
// boundaries in uacore, plus the typed error used to carry them.
//
// Every fallible operation in this module returns an error built with
// [New] or [Wrap], never a bare sentinel, so callers can both branch on
// [Kind] (via [KindOf]) and unwrap to an underlying cause with
// [errors.Unwrap].
package status

import "fmt"

// Kind is a coarse, stable error category. It is not an OPC UA status code;
// mapping to the wire status code enum is a service-layer concern outside
// this module.
type Kind int

const (
	// Internal means unreachable/unknown; forces the owning component to ERROR.
	Internal Kind = iota
	// InvalidArgument means a bad parameter shape/type.
	InvalidArgument
	// ConnectionRejected means array/scalar mismatch or pre-handshake peer rejection.
	ConnectionRejected
	// ConnectionClosed means the peer closed, or an unrecoverable transport error occurred mid-stream.
	ConnectionClosed
	// OutOfMemory means allocation failed; any partial state was rolled back.
	OutOfMemory
	// NotFound means lookup by id (connectionId, channelId, callbackId) failed.
	NotFound
	// SecurityPolicyRejected means OPN security parameters were unacceptable.
	SecurityPolicyRejected
	// SequenceNumberInvalid means a SecureChannel sequence-number invariant was violated.
	SequenceNumberInvalid
	// TokenUnknown means a SecureChannel token id did not match any issued token.
	TokenUnknown
	// MultipleHello means a connection already completed its HEL/ACK
	// handshake received a second Hello.
	MultipleHello
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Internal:
		return "Internal"
	case InvalidArgument:
		return "InvalidArgument"
	case ConnectionRejected:
		return "ConnectionRejected"
	case ConnectionClosed:
		return "ConnectionClosed"
	case OutOfMemory:
		return "OutOfMemory"
	case NotFound:
		return "NotFound"
	case SecurityPolicyRejected:
		return "SecurityPolicyRejected"
	case SequenceNumberInvalid:
		return "SequenceNumberInvalid"
	case TokenUnknown:
		return "TokenUnknown"
	case MultipleHello:
		return "MultipleHello"
	default:
		return "Unknown"
	}
}

// Error is the typed error carried across package boundaries in this module.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for use with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind carried by err, walking the Unwrap chain. Returns
// (Internal, false) if err does not wrap a *status.Error.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Internal, false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
