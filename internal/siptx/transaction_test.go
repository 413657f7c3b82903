package siptx

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sipcore/agent/internal/timer"
)

func newTestRequest(method sip.RequestMethod) *sip.Request {
	recipient := sip.Uri{Scheme: "sip", User: "bob", Host: "example.com"}
	return sip.NewRequest(method, recipient)
}

func newTestResponse(req *sip.Request, code int) *sip.Response {
	return sip.NewResponseFromRequest(req, sip.StatusCode(code), "OK", nil)
}

func TestInviteClientSendsImmediatelyAndArmsRetransmit(t *testing.T) {
	w := timer.New()
	var sent [][]byte
	now := time.Now()
	req := newTestRequest(sip.INVITE)

	tx, err := NewInviteClient(req, []byte("INVITE sip:bob@example.com SIP/2.0\r\n\r\n"), "branch1", "10.0.0.1:5060", DefaultTiming(), w, now, func(b []byte) error {
		sent = append(sent, b)
		return nil
	})
	if err != nil {
		t.Fatalf("NewInviteClient() error = %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d messages on creation, want 1", len(sent))
	}
	if tx.State() != StateCalling {
		t.Fatalf("State() = %v, want Calling", tx.State())
	}
	if w.Len() != 1 {
		t.Fatalf("Wheel.Len() = %d, want 1 (retransmit timer armed)", w.Len())
	}
}

func TestInviteClientRetransmitsUntilStoppedByResponse(t *testing.T) {
	w := timer.New()
	var sendCount int
	now := time.Now()
	req := newTestRequest(sip.INVITE)

	tx, err := NewInviteClient(req, []byte("raw"), "branch1", "dest", DefaultTiming(), w, now, func(b []byte) error {
		sendCount++
		return nil
	})
	if err != nil {
		t.Fatalf("NewInviteClient() error = %v", err)
	}

	// T1 = 500ms; fire slightly past it to trigger one retransmit.
	fired := w.FireDue(now.Add(600 * time.Millisecond))
	if fired != 1 {
		t.Fatalf("FireDue() fired = %d, want 1", fired)
	}
	if sendCount != 2 {
		t.Fatalf("sendCount = %d after one retransmit window, want 2", sendCount)
	}

	resp := newTestResponse(req, 200)
	tx.HandleResponse(resp, now.Add(650*time.Millisecond))
	if tx.State() != StateCompleted {
		t.Fatalf("State() = %v after 2xx, want Completed", tx.State())
	}

	// No further retransmits should fire even far in the future, since the
	// response canceled the retransmit timer.
	sendCount = 0
	w.FireDue(now.Add(10 * time.Second))
	if sendCount != 0 {
		t.Fatalf("sendCount = %d after response, want 0 (no more retransmits)", sendCount)
	}
}

func TestInviteClientProvisionalInvokesCallbackWithoutEndingTransaction(t *testing.T) {
	w := timer.New()
	now := time.Now()
	req := newTestRequest(sip.INVITE)

	tx, _ := NewInviteClient(req, []byte("raw"), "branch1", "dest", DefaultTiming(), w, now, func(b []byte) error { return nil })

	var gotProvisional *sip.Response
	tx.OnProvisional = func(resp *sip.Response) { gotProvisional = resp }

	resp := newTestResponse(req, 180)
	tx.HandleResponse(resp, now.Add(10*time.Millisecond))

	if gotProvisional != resp {
		t.Fatal("OnProvisional was not invoked with the 180 response")
	}
	if tx.State() != StateProceeding {
		t.Fatalf("State() = %v after 1xx, want Proceeding", tx.State())
	}
}

func TestInviteClientTimesOutAfter64T1(t *testing.T) {
	w := timer.New()
	now := time.Now()
	req := newTestRequest(sip.INVITE)
	timing := DefaultTiming()

	var finalReason error
	var terminated bool
	tx, _ := NewInviteClient(req, []byte("raw"), "branch1", "dest", timing, w, now, func(b []byte) error { return nil })
	tx.OnFinal = func(resp *sip.Response, reason error) { finalReason = reason }
	tx.OnTerminated = func() { terminated = true }

	// Drive the wheel well past 64*T1 (32s for default T1=500ms) so every
	// scheduled retransmit fires, ending in the timeout branch.
	deadline := now.Add(64*timing.T1 + time.Second)
	for i := 0; i < 20 && w.Len() > 0; i++ {
		w.FireDue(deadline)
	}

	if finalReason == nil {
		t.Fatal("OnFinal was not invoked with a timeout reason")
	}
	if !terminated {
		t.Fatal("OnTerminated was not invoked after timeout")
	}
	if tx.State() != StateTerminated {
		t.Fatalf("State() = %v after timeout, want Terminated", tx.State())
	}
}

func TestNonInviteServerRespondArmsDrainTimer(t *testing.T) {
	w := timer.New()
	now := time.Now()

	var sent [][]byte
	tx := NewNonInviteServer(sip.MESSAGE.String(), "branch1", "dest", DefaultTiming(), w, func(b []byte) error {
		sent = append(sent, b)
		return nil
	})
	if tx.State() != StateTrying {
		t.Fatalf("State() = %v on creation, want Trying", tx.State())
	}

	if err := tx.Respond([]byte("SIP/2.0 200 OK\r\n\r\n"), 200, now); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if tx.State() != StateCompleted {
		t.Fatalf("State() = %v after 200 response, want Completed", tx.State())
	}
	if w.Len() != 1 {
		t.Fatalf("Wheel.Len() = %d, want 1 (drain timer armed)", w.Len())
	}

	var terminated bool
	tx.OnTerminated = func() { terminated = true }
	w.FireDue(now.Add(10 * time.Second))
	if !terminated {
		t.Fatal("OnTerminated was not invoked once the drain timer fired")
	}
	if tx.State() != StateTerminated {
		t.Fatalf("State() = %v after drain, want Terminated", tx.State())
	}
}

func TestInviteServerNonSuccessRetransmitsUntilACK(t *testing.T) {
	w := timer.New()
	now := time.Now()
	var sendCount int

	tx := NewInviteServer("branch1", "dest", DefaultTiming(), w, func(b []byte) error {
		sendCount++
		return nil
	})
	if err := tx.Respond([]byte("SIP/2.0 486 Busy Here\r\n\r\n"), 486, now); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if sendCount != 1 {
		t.Fatalf("sendCount = %d after Respond, want 1", sendCount)
	}
	if tx.State() != StateCompleted {
		t.Fatalf("State() = %v after non-2xx Respond, want Completed", tx.State())
	}

	w.FireDue(now.Add(600 * time.Millisecond))
	if sendCount != 2 {
		t.Fatalf("sendCount = %d after one retransmit window, want 2 (response resent pending ACK)", sendCount)
	}

	tx.HandleACK(now.Add(650 * time.Millisecond))
	if tx.State() != StateConfirmed {
		t.Fatalf("State() = %v after ACK, want Confirmed", tx.State())
	}

	var terminated bool
	tx.OnTerminated = func() { terminated = true }
	w.FireDue(now.Add(10 * time.Second))
	if !terminated {
		t.Fatal("OnTerminated was not invoked after Timer I drain")
	}
}

func TestHandleRetransmittedRequestResendsStoredFinalResponse(t *testing.T) {
	w := timer.New()
	now := time.Now()
	var sent [][]byte

	tx := NewNonInviteServer(sip.BYE.String(), "branch1", "dest", DefaultTiming(), w, func(b []byte) error {
		sent = append(sent, b)
		return nil
	})
	resp := []byte("SIP/2.0 200 OK\r\n\r\n")
	_ = tx.Respond(resp, 200, now)

	tx.HandleRetransmittedRequest()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2 (original response + resend)", len(sent))
	}
}

func TestTerminateFiresOnTerminatedExactlyOnce(t *testing.T) {
	w := timer.New()
	now := time.Now()
	req := newTestRequest(sip.INVITE)

	tx, _ := NewInviteClient(req, []byte("raw"), "branch1", "dest", DefaultTiming(), w, now, func(b []byte) error { return nil })

	count := 0
	tx.OnTerminated = func() { count++ }
	tx.Terminate()
	tx.Terminate()

	if count != 1 {
		t.Fatalf("OnTerminated invoked %d times, want 1", count)
	}
	if tx.State() != StateTerminated {
		t.Fatalf("State() = %v after Terminate, want Terminated", tx.State())
	}
}

func TestKeyDistinguishesClientAndServerRoles(t *testing.T) {
	w := timer.New()
	now := time.Now()
	req := newTestRequest(sip.INVITE)

	clientTx, _ := NewInviteClient(req, []byte("raw"), "branch1", "dest", DefaultTiming(), w, now, func(b []byte) error { return nil })
	serverTx := NewInviteServer("branch1", "dest", DefaultTiming(), w, func(b []byte) error { return nil })

	if clientTx.Key() == serverTx.Key() {
		t.Fatalf("client and server transaction keys collided: %+v", clientTx.Key())
	}
	if !clientTx.Key().Client {
		t.Error("client transaction Key().Client = false, want true")
	}
	if serverTx.Key().Client {
		t.Error("server transaction Key().Client = true, want false")
	}
}
