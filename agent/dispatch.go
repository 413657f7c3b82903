package agent

import (
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sipcore/agent/internal/dialog"
	"github.com/sipcore/agent/internal/errs"
	"github.com/sipcore/agent/internal/sipmsg"
	"github.com/sipcore/agent/internal/siptx"
)

// handleSIPMessage dispatches one parsed inbound message to the request or
// response path, per §4.4's transaction-matching rules.
func (a *Agent) handleSIPMessage(msg sipmsg.Message, remoteKey string, now time.Time) {
	switch {
	case msg.IsResponse():
		a.handleResponseMsg(msg.Response, now)
	case msg.IsRequest():
		a.handleRequestMsg(msg.Request, remoteKey, now)
	}
}

func (a *Agent) handleResponseMsg(resp *sip.Response, now time.Time) {
	cseq := resp.CSeq()
	via := resp.Via()
	if cseq == nil || via == nil {
		return
	}
	branch, _ := via.Params.Get("branch")
	tx, ok := a.txStore.Find(siptx.Key{Branch: branch, Method: cseq.MethodName.String(), Client: true})
	if !ok {
		a.log.Debug("agent: response matched no transaction", "method", cseq.MethodName, "status", resp.StatusCode)
		return
	}
	tx.HandleResponse(resp, now)
}

func (a *Agent) handleRequestMsg(req *sip.Request, remoteKey string, now time.Time) {
	switch req.Method {
	case sip.INVITE:
		a.handleInvite(req, remoteKey, now)
	case sip.ACK:
		a.handleAck(req, now)
	case sip.BYE:
		a.handleBye(req, remoteKey, now)
	case sip.CANCEL:
		a.handleCancel(req, remoteKey, now)
	case sip.MESSAGE:
		a.handleMessage(req, remoteKey, now)
	case sip.OPTIONS:
		a.respondSimple(req, remoteKey, 200, "OK", now)
	default:
		a.respondSimple(req, remoteKey, 501, "Not Implemented", now)
	}
}

func (a *Agent) handleInvite(req *sip.Request, remoteKey string, now time.Time) {
	callID := requestCallID(req)

	if existing, ok := a.dialogStore.FindByCallID(callID); ok {
		branch := topViaBranch(req)
		if tx, ok := a.txStore.Find(siptx.Key{Branch: branch, Method: sip.INVITE.String(), Client: false}); ok {
			tx.HandleRetransmittedRequest()
			return
		}
		// A re-INVITE or other repeat on an existing dialog is out of scope;
		// it is dropped without any response.
		_ = existing
		return
	}

	if a.incomingInviteCallID != "" {
		resp := sip.NewResponseFromRequest(req, 486, "Busy Here", nil)
		if toHdr := resp.To(); toHdr != nil {
			toHdr.Params.Add("tag", a.newTag())
		}
		_ = a.send(remoteKey, []byte(resp.String()))
		return
	}

	d := dialog.NewInbound(req)
	d.LocalTag = a.newTag()
	a.dialogStore.Insert(d)
	a.incomingInviteCallID = callID

	branch := topViaBranch(req)
	dest := remoteKey
	tx := siptx.NewInviteServer(branch, dest, siptx.DefaultTiming(), a.wheel, func(b []byte) error {
		return a.send(dest, b)
	})
	tx.OnTerminated = func() {
		a.txStore.Remove(tx)
		if a.incomingInviteCallID == callID {
			a.incomingInviteCallID = ""
		}
	}
	a.txStore.Insert(tx)

	fromURI, toURI := "", ""
	if from := req.From(); from != nil {
		fromURI = from.Address.String()
	}
	if to := req.To(); to != nil {
		toURI = to.Address.String()
	}
	a.handlers.fireIncomingCall(d, fromURI, toURI, req.Body())
}

func (a *Agent) handleAck(req *sip.Request, now time.Time) {
	branch := topViaBranch(req)
	if tx, ok := a.txStore.Find(siptx.Key{Branch: branch, Method: sip.INVITE.String(), Client: false}); ok {
		tx.HandleACK(now)
		return
	}

	key := dialog.Key{CallID: requestCallID(req), LocalTag: requestToTag(req), RemoteTag: requestFromTag(req)}
	d, ok := a.dialogStore.Find(key)
	if !ok {
		return
	}
	if d.State() == dialog.StateEarly {
		_ = d.TransitionTo(dialog.StateConfirmed)
		if tx, ok := a.findInviteServerTx(d); ok {
			tx.Terminate()
		}
		a.handlers.fireCallState(d, CallConfirmed)
	}
}

func (a *Agent) handleBye(req *sip.Request, remoteKey string, now time.Time) {
	callID := requestCallID(req)
	tagA, tagB := requestToTag(req), requestFromTag(req)
	d, ok := a.dialogStore.Find(dialog.Key{CallID: callID, LocalTag: tagA, RemoteTag: tagB})
	if !ok {
		d, ok = a.dialogStore.FindByCallID(callID)
	}
	if !ok {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		_ = a.send(remoteKey, []byte(resp.String()))
		return
	}

	branch := topViaBranch(req)
	tx := siptx.NewNonInviteServer(sip.BYE.String(), branch, remoteKey, siptx.DefaultTiming(), a.wheel, func(b []byte) error {
		return a.send(remoteKey, b)
	})
	resp := sip.NewResponseFromRequest(req, 200, "OK", nil)
	_ = tx.Respond([]byte(resp.String()), 200, now)
	tx.OnTerminated = func() { a.txStore.Remove(tx) }
	a.txStore.Insert(tx)

	d.SetTerminateReason(dialog.ReasonRemoteBYE)
	_ = d.TransitionTo(dialog.StateTerminated)
	a.handlers.fireCallState(d, CallTerminated)
	a.teardownDialogSession(d)
}

func (a *Agent) handleCancel(req *sip.Request, remoteKey string, now time.Time) {
	branch := topViaBranch(req)

	tx := siptx.NewNonInviteServer(sip.CANCEL.String(), branch, remoteKey, siptx.DefaultTiming(), a.wheel, func(b []byte) error {
		return a.send(remoteKey, b)
	})
	resp := sip.NewResponseFromRequest(req, 200, "OK", nil)
	_ = tx.Respond([]byte(resp.String()), 200, now)
	tx.OnTerminated = func() { a.txStore.Remove(tx) }
	a.txStore.Insert(tx)

	inviteTx, ok := a.txStore.Find(siptx.Key{Branch: branch, Method: sip.INVITE.String(), Client: false})
	callID := requestCallID(req)
	d, dok := a.dialogStore.FindByCallID(callID)
	if !ok || !dok {
		return
	}

	terminated := sip.NewResponseFromRequest(d.InviteRequest, 487, "Request Terminated", nil)
	if toHdr := terminated.To(); toHdr != nil {
		toHdr.Params.Add("tag", d.LocalTag)
	}
	_ = inviteTx.Respond([]byte(terminated.String()), 487, now)

	d.SetTerminateReason(dialog.ReasonCancel)
	_ = d.TransitionTo(dialog.StateTerminated)
	a.handlers.fireCallState(d, CallTerminated)
	a.teardownDialogSession(d)
	if a.incomingInviteCallID == callID {
		a.incomingInviteCallID = ""
	}
}

func (a *Agent) handleMessage(req *sip.Request, remoteKey string, now time.Time) {
	branch := topViaBranch(req)
	tx := siptx.NewNonInviteServer(sip.MESSAGE.String(), branch, remoteKey, siptx.DefaultTiming(), a.wheel, func(b []byte) error {
		return a.send(remoteKey, b)
	})
	resp := sip.NewResponseFromRequest(req, 200, "OK", nil)
	_ = tx.Respond([]byte(resp.String()), 200, now)
	tx.OnTerminated = func() { a.txStore.Remove(tx) }
	a.txStore.Insert(tx)

	fromURI, toURI := "", ""
	if from := req.From(); from != nil {
		fromURI = from.Address.String()
	}
	if to := req.To(); to != nil {
		toURI = to.Address.String()
	}
	a.handlers.fireIncomingMessage(fromURI, toURI, string(req.Body()))
}

func (a *Agent) respondSimple(req *sip.Request, remoteKey string, code int, reason string, now time.Time) {
	branch := topViaBranch(req)
	tx := siptx.NewNonInviteServer(req.Method.String(), branch, remoteKey, siptx.DefaultTiming(), a.wheel, func(b []byte) error {
		return a.send(remoteKey, b)
	})
	resp := sip.NewResponseFromRequest(req, sip.StatusCode(code), reason, nil)
	if err := tx.Respond([]byte(resp.String()), code, now); err != nil {
		a.handlers.fireError(errs.TransportSend, err.Error())
	}
	tx.OnTerminated = func() { a.txStore.Remove(tx) }
	a.txStore.Insert(tx)
}
