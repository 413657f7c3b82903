package agent

import (
	"github.com/sipcore/agent/internal/dialog"
	"github.com/sipcore/agent/internal/errs"
)

// RegistrationState is the lifecycle state of this agent's registration
// with its configured registrar.
type RegistrationState int

const (
	RegistrationUnregistered RegistrationState = iota
	RegistrationRegistering
	RegistrationRegistered
	RegistrationFailed
)

func (s RegistrationState) String() string {
	switch s {
	case RegistrationUnregistered:
		return "Unregistered"
	case RegistrationRegistering:
		return "Registering"
	case RegistrationRegistered:
		return "Registered"
	case RegistrationFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// CallState mirrors the dialog states callers observe, plus the terminal
// Failed state the spec's CallFailed(code,reason) error produces.
type CallState int

const (
	CallRinging CallState = iota
	CallEarlyMedia
	CallConfirmed
	CallTerminating
	CallTerminated
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallRinging:
		return "Ringing"
	case CallEarlyMedia:
		return "EarlyMedia"
	case CallConfirmed:
		return "Confirmed"
	case CallTerminating:
		return "Terminating"
	case CallTerminated:
		return "Terminated"
	case CallFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Handlers is the set of callbacks an Agent invokes, always on the thread
// that called Loop, per §4.6/§5. Any handler may be nil.
type Handlers struct {
	OnRegistrationState func(state RegistrationState, code int)
	OnCallState         func(d *dialog.Dialog, state CallState)
	OnIncomingCall      func(d *dialog.Dialog, from, to string, remoteSDP []byte)
	OnIncomingMessage   func(from, to, content string)
	OnSessionSDPReady   func(session *Session, localSDP []byte)
	OnSessionConnected  func(session *Session)
	OnSessionDisconnected func(session *Session, reason error)
	OnError             func(kind errs.Kind, detail string)
}

func (h Handlers) fireRegistrationState(state RegistrationState, code int) {
	if h.OnRegistrationState != nil {
		h.OnRegistrationState(state, code)
	}
}

func (h Handlers) fireCallState(d *dialog.Dialog, state CallState) {
	if h.OnCallState != nil {
		h.OnCallState(d, state)
	}
}

func (h Handlers) fireIncomingCall(d *dialog.Dialog, from, to string, remoteSDP []byte) {
	if h.OnIncomingCall != nil {
		h.OnIncomingCall(d, from, to, remoteSDP)
	}
}

func (h Handlers) fireIncomingMessage(from, to, content string) {
	if h.OnIncomingMessage != nil {
		h.OnIncomingMessage(from, to, content)
	}
}

func (h Handlers) fireSessionSDPReady(s *Session, sdp []byte) {
	if h.OnSessionSDPReady != nil {
		h.OnSessionSDPReady(s, sdp)
	}
}

func (h Handlers) fireSessionConnected(s *Session) {
	if h.OnSessionConnected != nil {
		h.OnSessionConnected(s)
	}
}

func (h Handlers) fireSessionDisconnected(s *Session, reason error) {
	if h.OnSessionDisconnected != nil {
		h.OnSessionDisconnected(s, reason)
	}
}

func (h Handlers) fireError(kind errs.Kind, detail string) {
	if h.OnError != nil {
		h.OnError(kind, detail)
	}
}
