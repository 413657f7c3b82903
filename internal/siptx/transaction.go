// Package siptx implements the transaction half of the Dialog+Transaction
// store (component D) and the RFC 3261 transaction state machines that
// component S drives. It is hand-rolled on top of the raw sip.Request/
// sip.Response types from internal/sipmsg rather than delegated to sipgo's
// own client/server transaction layer, per the specification's "the core"
// boundary.
package siptx

import (
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sipcore/agent/internal/timer"
)

// Kind distinguishes the four transaction state machines of RFC 3261.
type Kind int

const (
	InviteClient Kind = iota
	NonInviteClient
	InviteServer
	NonInviteServer
)

func (k Kind) String() string {
	switch k {
	case InviteClient:
		return "InviteClient"
	case NonInviteClient:
		return "NonInviteClient"
	case InviteServer:
		return "InviteServer"
	case NonInviteServer:
		return "NonInviteServer"
	default:
		return "Unknown"
	}
}

// State is a transaction's position in its RFC 3261 state diagram. Not
// every state applies to every Kind; see the diagrams referenced in §4.4.
type State int

const (
	StateCalling State = iota
	StateTrying
	StateProceeding
	StateCompleted
	StateConfirmed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCalling:
		return "Calling"
	case StateTrying:
		return "Trying"
	case StateProceeding:
		return "Proceeding"
	case StateCompleted:
		return "Completed"
	case StateConfirmed:
		return "Confirmed"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Timing holds the T1/T2/T4 tunables from §4.4.
type Timing struct {
	T1 time.Duration
	T2 time.Duration
	T4 time.Duration
}

// DefaultTiming returns the spec's default retransmit intervals.
func DefaultTiming() Timing {
	return Timing{T1: 500 * time.Millisecond, T2: 4 * time.Second, T4: 5 * time.Second}
}

// SendFunc transmits raw bytes to the transaction's destination.
type SendFunc func(raw []byte) error

// Transaction is one SIP request in flight, tracked per the data model in
// §3: kind, method, branch, destination, optional dialog association, an
// RFC 3261 state machine, and the byte-identical last-sent message retained
// for retransmission.
type Transaction struct {
	Kind   Kind
	Method string
	Branch string
	Dest   string

	// DialogCallID/DialogLocalTag/DialogRemoteTag identify the owning
	// dialog, if any; REGISTER/OPTIONS/out-of-dialog MESSAGE transactions
	// leave these empty.
	DialogCallID    string
	DialogLocalTag  string
	DialogRemoteTag string

	state State
	raw   []byte // byte-identical serialized request (client) or response (server)

	timing Timing
	wheel  *timer.Wheel
	send   SendFunc

	retransmitInterval time.Duration
	timerHandle        timer.Handle
	startedAt          time.Time

	// OnProvisional is invoked for each 1xx on a client transaction.
	OnProvisional func(*sip.Response)
	// OnFinal is invoked once with the final response on a client
	// transaction, or with a nil response and a non-nil reason when a
	// retransmitting transaction times out or a retransmission fails to
	// send. HandleACK does not invoke it.
	OnFinal func(resp *sip.Response, reason error)
	// OnTerminated fires once, when the transaction enters Terminated: after
	// its drain timer, on timeout or send failure, or via Terminate.
	OnTerminated func()
}

func (t *Transaction) State() State { return t.state }

// Key identifies a transaction for O(1) store lookup: (branch, method,
// role). Role distinguishes a client and server transaction that might
// otherwise collide on the same branch+method (never happens per RFC 3261
// branch uniqueness, but keeping role in the key costs nothing).
type Key struct {
	Branch string
	Method string
	Client bool
}

func (t *Transaction) Key() Key {
	client := t.Kind == InviteClient || t.Kind == NonInviteClient
	return Key{Branch: t.Branch, Method: t.Method, Client: client}
}

// newBase fills the fields common to every constructor.
func newBase(kind Kind, method, branch, dest string, timing Timing, wheel *timer.Wheel, send SendFunc) *Transaction {
	return &Transaction{
		Kind:   kind,
		Method: method,
		Branch: branch,
		Dest:   dest,
		timing: timing,
		wheel:  wheel,
		send:   send,
	}
}

// NewInviteClient creates and arms an INVITE client transaction, sending req
// immediately and scheduling the first retransmit at T1 per §4.4.
func NewInviteClient(req *sip.Request, raw []byte, branch, dest string, timing Timing, wheel *timer.Wheel, now time.Time, send SendFunc) (*Transaction, error) {
	t := newBase(InviteClient, sip.INVITE.String(), branch, dest, timing, wheel, send)
	t.raw = raw
	t.state = StateCalling
	t.startedAt = now
	if err := t.send(t.raw); err != nil {
		return nil, err
	}
	t.retransmitInterval = timing.T1
	t.armRetransmit(now)
	return t, nil
}

// NewNonInviteClient creates and arms a non-INVITE client transaction
// (REGISTER, BYE, CANCEL, MESSAGE, ...).
func NewNonInviteClient(method, raw []byte, branch, dest, methodName string, timing Timing, wheel *timer.Wheel, now time.Time, send SendFunc) (*Transaction, error) {
	t := newBase(NonInviteClient, methodName, branch, dest, timing, wheel, send)
	t.raw = method
	t.state = StateTrying
	t.startedAt = now
	if err := t.send(t.raw); err != nil {
		return nil, err
	}
	t.retransmitInterval = timing.T1
	t.armRetransmit(now)
	return t, nil
}

// NewInviteServer creates an INVITE server transaction in Proceeding,
// awaiting the application's final response via Respond.
func NewInviteServer(branch, dest string, timing Timing, wheel *timer.Wheel, send SendFunc) *Transaction {
	t := newBase(InviteServer, sip.INVITE.String(), branch, dest, timing, wheel, send)
	t.state = StateProceeding
	return t
}

// NewNonInviteServer creates a non-INVITE server transaction in Trying.
func NewNonInviteServer(methodName, branch, dest string, timing Timing, wheel *timer.Wheel, send SendFunc) *Transaction {
	t := newBase(NonInviteServer, methodName, branch, dest, timing, wheel, send)
	t.state = StateTrying
	return t
}

// armRetransmit schedules the next retransmission of t.raw after the current
// interval. onRetransmitTimer then resends and doubles the interval (capped at
// 64*T1 for INVITE client transactions and at T2 otherwise), failing the
// transaction with Timeout once 64*T1 has elapsed since the first send.
func (t *Transaction) armRetransmit(now time.Time) {
	t.timerHandle = t.wheel.Schedule(now, t.retransmitInterval, t.onRetransmitTimer)
}

func (t *Transaction) onRetransmitTimer(now time.Time) {
	retransmitting := t.state == StateCalling || t.state == StateTrying ||
		(t.Kind == InviteServer && t.state == StateCompleted)
	if !retransmitting {
		return
	}
	if !now.Before(t.startedAt.Add(64 * t.timing.T1)) {
		t.state = StateTerminated
		if t.OnFinal != nil {
			t.OnFinal(nil, fmt.Errorf("siptx: transaction timeout after 64*T1"))
		}
		if t.OnTerminated != nil {
			t.OnTerminated()
		}
		return
	}
	if err := t.send(t.raw); err != nil {
		t.state = StateTerminated
		if t.OnFinal != nil {
			t.OnFinal(nil, err)
		}
		if t.OnTerminated != nil {
			t.OnTerminated()
		}
		return
	}
	next := t.retransmitInterval * 2
	ceiling := t.timing.T2
	if t.Kind == InviteClient {
		// Non-INVITE client interval is capped at T2; INVITE client
		// doubles unbounded until a provisional response arrives (RFC
		// 3261 §17.1.1.2 timer A), but we still cap for sanity against
		// pathological configurations.
		ceiling = 64 * t.timing.T1
	}
	if next > ceiling {
		next = ceiling
	}
	t.retransmitInterval = next
	t.armRetransmit(now)
}

// HandleResponse processes an inbound response on a client transaction.
// Retransmission stops on any response per RFC 3261; a final response
// (>=200) moves to Completed/Terminated.
func (t *Transaction) HandleResponse(resp *sip.Response, now time.Time) {
	if t.Kind != InviteClient && t.Kind != NonInviteClient {
		return
	}
	if t.state == StateTerminated || t.state == StateCompleted || t.state == StateConfirmed {
		return
	}
	t.wheel.Cancel(t.timerHandle)

	if resp.StatusCode < 200 {
		t.state = StateProceeding
		if t.OnProvisional != nil {
			t.OnProvisional(resp)
		}
		return
	}

	t.state = StateCompleted
	if t.OnFinal != nil {
		t.OnFinal(resp, nil)
	}
	t.armDrainTimer(now)
}

// armDrainTimer schedules the move to Terminated after the appropriate
// Timer D/K-equivalent drain period once a final response has been seen.
func (t *Transaction) armDrainTimer(now time.Time) {
	drain := t.timing.T4
	if t.Kind == InviteClient {
		drain = 32 * time.Second // Timer D floor per RFC 3261 §17.1.1.2
	}
	t.timerHandle = t.wheel.Schedule(now, drain, func(now time.Time) {
		t.state = StateTerminated
		if t.OnTerminated != nil {
			t.OnTerminated()
		}
	})
}

// Respond sends a response from a server transaction, retaining raw for
// retransmission and moving to Completed (INVITE, awaiting ACK) or
// Completed+drain (non-INVITE, Timer J).
func (t *Transaction) Respond(raw []byte, statusCode int, now time.Time) error {
	if t.Kind != InviteServer && t.Kind != NonInviteServer {
		return fmt.Errorf("siptx: Respond called on client transaction")
	}
	if err := t.send(raw); err != nil {
		return err
	}
	if statusCode < 200 {
		t.state = StateProceeding
		return nil
	}

	t.raw = raw
	t.state = StateCompleted

	if t.Kind == InviteServer {
		if statusCode >= 300 {
			// Non-2xx final responses retransmit until ACK, per Timer G;
			// reuse the client-side retransmit machinery's doubling.
			t.retransmitInterval = t.timing.T1
			t.startedAt = now
			t.armRetransmit(now)
		}
		// A 2xx response to INVITE is sent once and not retransmitted by
		// this transaction or any other component; the transaction stays
		// in Completed until HandleACK or Terminate.
		return nil
	}

	t.armDrainTimer(now)
	return nil
}

// HandleACK processes an ACK for a non-2xx final response, moving an INVITE
// server transaction from Completed to Confirmed and arming Timer I before
// Terminated.
func (t *Transaction) HandleACK(now time.Time) {
	if t.Kind != InviteServer || t.state != StateCompleted {
		return
	}
	t.wheel.Cancel(t.timerHandle)
	t.state = StateConfirmed
	t.timerHandle = t.wheel.Schedule(now, t.timing.T4, func(now time.Time) {
		t.state = StateTerminated
		if t.OnTerminated != nil {
			t.OnTerminated()
		}
	})
}

// HandleRetransmittedRequest re-sends the stored final response when the
// peer retransmits the request during Completed, per RFC 3261's
// retransmission-absorption rule.
func (t *Transaction) HandleRetransmittedRequest() {
	if t.state == StateCompleted && len(t.raw) > 0 {
		_ = t.send(t.raw)
	}
}

// Terminate forcibly ends the transaction (e.g. transport closed), firing
// OnTerminated at most once.
func (t *Transaction) Terminate() {
	if t.state == StateTerminated {
		return
	}
	t.wheel.Cancel(t.timerHandle)
	t.state = StateTerminated
	if t.OnTerminated != nil {
		t.OnTerminated()
	}
}
