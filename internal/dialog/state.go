package dialog

import "fmt"

// State is the lifecycle state of a SIP dialog, per the data model's literal
// four-state enumeration. The "200 OK sent, awaiting ACK" condition that a
// naive reading might want as a fifth state is tracked on the owning INVITE
// server transaction instead (internal/siptx), not here: the spec's Dialog
// invariants speak only of Early/Confirmed/Terminating/Terminated.
type State int

const (
	StateEarly State = iota
	StateConfirmed
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateEarly:
		return "Early"
	case StateConfirmed:
		return "Confirmed"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

var validTransitions = map[State][]State{
	StateEarly:       {StateConfirmed, StateTerminated},
	StateConfirmed:   {StateTerminating, StateTerminated},
	StateTerminating: {StateTerminated},
	StateTerminated:  {},
}

// CanTransitionTo reports whether next is a valid transition from s.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is the final state.
func (s State) IsTerminal() bool { return s == StateTerminated }

// TerminateReason explains why a dialog reached StateTerminated.
type TerminateReason int

const (
	ReasonLocalBYE TerminateReason = iota
	ReasonRemoteBYE
	ReasonCancel
	ReasonTimeout
	ReasonRejected
	ReasonError
)

func (r TerminateReason) String() string {
	switch r {
	case ReasonLocalBYE:
		return "LocalBYE"
	case ReasonRemoteBYE:
		return "RemoteBYE"
	case ReasonCancel:
		return "Cancel"
	case ReasonTimeout:
		return "Timeout"
	case ReasonRejected:
		return "Rejected"
	case ReasonError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}
