package agent

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sipcore/agent/internal/dialog"
	"github.com/sipcore/agent/internal/sipmsg"
	"github.com/sipcore/agent/internal/transport"
)

func buildInvite(t *testing.T, callID, fromTag string) *sip.Request {
	t.Helper()
	recipient := sip.Uri{Scheme: "sip", User: "bob", Host: "example.com"}
	req := sip.NewRequest(sip.INVITE, recipient)

	from := &sip.FromHeader{Address: sip.Uri{Scheme: "sip", User: "alice", Host: "example.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", fromTag)
	req.AppendHeader(from)

	req.AppendHeader(&sip.ToHeader{Address: recipient, Params: sip.NewParams()})

	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)

	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	return req
}

func buildResponse(t *testing.T, req *sip.Request, code int, toTag string) *sip.Response {
	t.Helper()
	resp := sip.NewResponseFromRequest(req, sip.StatusCode(code), "OK", nil)
	if to := resp.To(); to != nil {
		to.Params.Add("tag", toTag)
	}
	return resp
}

// fakeSubstrate is an in-memory transport.Substrate double: Send records
// every outbound frame, and Poll drains a queue the test fills directly,
// letting a test drive one Loop iteration deterministically without a real
// socket.
type fakeSubstrate struct {
	sent  [][]byte
	inbox []transport.Datagram
}

func (f *fakeSubstrate) Open() error { return nil }

func (f *fakeSubstrate) Send(dest string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeSubstrate) Poll(timeout time.Duration) ([]transport.Datagram, error) {
	dgs := f.inbox
	f.inbox = nil
	return dgs, nil
}

func (f *fakeSubstrate) LocalAddress() string { return "10.0.0.5:5060" }
func (f *fakeSubstrate) Close() error         { return nil }
func (f *fakeSubstrate) Kind() transport.Kind { return transport.KindUDP }

func newTestAgent(t *testing.T, h Handlers) (*Agent, *fakeSubstrate) {
	t.Helper()
	cfg := validConfig()
	cfg.ServerHost = "127.0.0.1"
	cfg.ServerPort = 5060

	a, err := Create(cfg, h, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	fake := &fakeSubstrate{}
	a.sub = fake
	a.running = true
	a.localContact = sip.Uri{Scheme: "sip", User: cfg.Identity.Username, Host: "10.0.0.5", Port: 5060}
	return a, fake
}

func TestRegisterHappyPath(t *testing.T) {
	var states []RegistrationState
	a, fake := newTestAgent(t, Handlers{
		OnRegistrationState: func(state RegistrationState, code int) { states = append(states, state) },
	})

	if err := a.Register(); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages after Register(), want 1", len(fake.sent))
	}

	reqMsg, err := sipmsg.ParseDatagram(fake.sent[0])
	if err != nil {
		t.Fatalf("parsing sent REGISTER: %v", err)
	}
	resp := sip.NewResponseFromRequest(reqMsg.Request, 200, "OK", nil)
	resp.AppendHeader(sip.NewHeader("Expires", "3600"))
	fake.inbox = append(fake.inbox, transport.Datagram{Data: []byte(resp.String()), RemoteKey: "127.0.0.1:5060", Kind: transport.KindUDP})

	a.Loop(0)

	if len(states) == 0 || states[len(states)-1] != RegistrationRegistered {
		t.Fatalf("registration states = %v, want last state Registered", states)
	}
}

func TestRegisterRejectsConcurrentCall(t *testing.T) {
	a, _ := newTestAgent(t, Handlers{})
	if err := a.Register(); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := a.Register(); err == nil {
		t.Fatal("second concurrent Register() error = nil, want error")
	}
}

func TestIncomingInviteWhileOneOutstandingIsRejectedBusy(t *testing.T) {
	var incomingCount int
	a, fake := newTestAgent(t, Handlers{
		OnIncomingCall: func(d *dialog.Dialog, from, to string, remoteSDP []byte) { incomingCount++ },
	})

	first := buildInvite(t, "call-busy-1", "tag-caller-1")
	a.handleRequestMsg(first, "peer1:5060", time.Now())
	if incomingCount != 1 {
		t.Fatalf("incomingCount after first INVITE = %d, want 1", incomingCount)
	}

	second := buildInvite(t, "call-busy-2", "tag-caller-2")
	fake.sent = nil
	a.handleRequestMsg(second, "peer2:5060", time.Now())

	if incomingCount != 1 {
		t.Fatalf("incomingCount after second INVITE = %d, want still 1 (busy, no new incoming-call callback)", incomingCount)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages for busy rejection, want 1", len(fake.sent))
	}
	reply, err := sipmsg.ParseDatagram(fake.sent[0])
	if err != nil {
		t.Fatalf("parsing busy rejection: %v", err)
	}
	if !reply.IsResponse() || reply.Response.StatusCode != 486 {
		t.Fatalf("busy rejection = %+v, want 486 response", reply)
	}
}

func TestHangupDuringConfirmedSendsBYE(t *testing.T) {
	a, fake := newTestAgent(t, Handlers{})

	invite := buildInvite(t, "call-bye-1", "tag-caller")
	resp := buildResponse(t, invite, 200, "tag-callee")
	d := dialog.NewOutbound(invite, resp)
	d.SetSession(a.sessions.Insert(&Session{callID: d.CallID}))
	a.dialogStore.Insert(d)

	if err := a.Hangup(d); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages after Hangup(), want 1", len(fake.sent))
	}
	sentMsg, err := sipmsg.ParseDatagram(fake.sent[0])
	if err != nil {
		t.Fatalf("parsing sent BYE: %v", err)
	}
	if !sentMsg.IsRequest() || sentMsg.Request.Method != sip.BYE {
		t.Fatalf("Hangup() sent %+v, want a BYE request", sentMsg)
	}
	if d.State() != dialog.StateTerminating {
		t.Fatalf("dialog state after Hangup() = %v, want Terminating (awaiting BYE's 200 OK)", d.State())
	}
}
