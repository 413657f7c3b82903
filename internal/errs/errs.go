// Package errs defines the closed set of error kinds surfaced by the agent,
// per the error handling design: every failure is observable either as a
// negative return or a later callback, and reason phrases preserve upstream
// SIP response codes.
package errs

import "fmt"

// Kind is one of the exhaustive set of error categories the agent can raise.
type Kind int

const (
	TransportInit Kind = iota
	TransportSend
	TransportClosed
	SipParse
	SipProtocolViolation
	AuthReject
	Timeout
	CallFailed
	InvalidState
	SdpParse
	SdpIncompatible
	IceGatherFailed
	IceFailed
	MediaTransportError
	ResourceExhausted
	ConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case TransportInit:
		return "TransportInit"
	case TransportSend:
		return "TransportSend"
	case TransportClosed:
		return "TransportClosed"
	case SipParse:
		return "SipParse"
	case SipProtocolViolation:
		return "SipProtocolViolation"
	case AuthReject:
		return "AuthReject"
	case Timeout:
		return "Timeout"
	case CallFailed:
		return "CallFailed"
	case InvalidState:
		return "InvalidState"
	case SdpParse:
		return "SdpParse"
	case SdpIncompatible:
		return "SdpIncompatible"
	case IceGatherFailed:
		return "IceGatherFailed"
	case IceFailed:
		return "IceFailed"
	case MediaTransportError:
		return "MediaTransportError"
	case ResourceExhausted:
		return "ResourceExhausted"
	case ConfigInvalid:
		return "ConfigInvalid"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Error is the concrete error type carrying a Kind, an optional SIP status
// code and reason (for CallFailed), a human detail, and an optional cause.
type Error struct {
	Kind   Kind
	Code   int    // SIP status code, when Kind == CallFailed; 0 otherwise
	Reason string // SIP reason phrase, when Kind == CallFailed
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Kind == CallFailed {
		return fmt.Sprintf("%s: %d %s: %s", e.Kind, e.Code, e.Reason, e.Detail)
	}
	if e.Detail == "" {
		return e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given kind and detail message.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf builds an *Error with a formatted detail message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Detail: cause.Error(), Cause: cause}
}

// CallFailure builds the CallFailed variant carrying a SIP status code and
// reason phrase, as required by §7 propagation policy.
func CallFailure(code int, reason string) *Error {
	return &Error{Kind: CallFailed, Code: code, Reason: reason}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
