package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sipcore/agent/internal/auth"
	"github.com/sipcore/agent/internal/dialog"
	"github.com/sipcore/agent/internal/errs"
	"github.com/sipcore/agent/internal/media"
	"github.com/sipcore/agent/internal/siptx"
)

// pendingOutbound tracks a Session gathering candidates on the way to
// sending an initial INVITE, per §4.6's make_call continuation design: the
// INVITE is not sent until every enabled stream has produced its local
// description.
type pendingOutbound struct {
	callID      string
	localTag    string
	peer        sip.Uri
	session     *Session
	audioParams *media.StreamParams
	videoParams *media.StreamParams
	sent        bool
}

func (p *pendingOutbound) ready() bool {
	if p.session.audio != nil && p.audioParams == nil {
		return false
	}
	if p.session.video != nil && p.videoParams == nil {
		return false
	}
	return true
}

// pendingInbound is the mirror image for answer_call: the local answer SDP
// is built once gathering completes for every stream offered by the peer.
type pendingInbound struct {
	dialog      *dialog.Dialog
	session     *Session
	audioParams *media.StreamParams
	videoParams *media.StreamParams
}

func (p *pendingInbound) ready() bool {
	if p.session.audio != nil && p.audioParams == nil {
		return false
	}
	if p.session.video != nil && p.videoParams == nil {
		return false
	}
	return true
}

// MakeCall allocates a Session for a call to peerURI, begins candidate
// gathering on its enabled streams, and registers the sdp_ready continuation
// that sends the initial INVITE once gathering completes, per §4.6.
func (a *Agent) MakeCall(peerURI string) (*Session, error) {
	var peer sip.Uri
	if err := sip.ParseUri(peerURI, &peer); err != nil {
		return nil, errs.Wrap(errs.SipParse, err)
	}

	sess := &Session{callID: a.newCallID()}
	pending := &pendingOutbound{callID: sess.callID, localTag: a.newTag(), peer: peer, session: sess}

	if a.cfg.Audio.Enabled {
		sess.audio = a.newMediaSession("audio", a.cfg.Audio, a.cfg.ICE, media.RoleControlling)
		sess.audio.OnSDPReady = func(p media.StreamParams) { pending.audioParams = &p }
		sess.audio.OnConnected = func() { a.handlers.fireSessionConnected(sess) }
		sess.audio.OnDisconnected = func(reason error) { a.handlers.fireSessionDisconnected(sess, reason) }
	}
	if a.cfg.Video.Enabled {
		sess.video = a.newMediaSession("video", a.cfg.Video, a.cfg.ICE, media.RoleControlling)
		sess.video.OnSDPReady = func(p media.StreamParams) { pending.videoParams = &p }
		sess.video.OnConnected = func() { a.handlers.fireSessionConnected(sess) }
		sess.video.OnDisconnected = func(reason error) { a.handlers.fireSessionDisconnected(sess, reason) }
	}

	sess.handle = a.sessions.Insert(sess)

	if sess.audio != nil {
		if err := sess.audio.GatherCandidates(a.localContact.Host); err != nil {
			a.sessions.Remove(sess.handle)
			return nil, errs.Wrap(errs.IceGatherFailed, err)
		}
	}
	if sess.video != nil {
		if err := sess.video.GatherCandidates(a.localContact.Host); err != nil {
			a.sessions.Remove(sess.handle)
			return nil, errs.Wrap(errs.IceGatherFailed, err)
		}
	}

	a.outbound[sess.callID] = pending
	return sess, nil
}

// AnswerCall builds the local answer for an inbound dialog's offered
// streams, gathers candidates for it, and sends the 200 OK once gathering
// completes, per §4.4's answer_call operation.
func (a *Agent) AnswerCall(d *dialog.Dialog) error {
	if d.State() != dialog.StateEarly {
		return errs.New(errs.InvalidState, "dialog is not answerable")
	}
	sessionIP, streams, err := media.ParseSDP(d.InviteRequest.Body())
	if err != nil {
		return errs.Wrap(errs.SdpParse, err)
	}

	sess := &Session{callID: d.CallID}
	pending := &pendingInbound{dialog: d, session: sess}

	for _, s := range streams {
		if s.RemoteIP == "" {
			s.RemoteIP = sessionIP
		}
		switch s.Kind {
		case "audio":
			if !a.cfg.Audio.Enabled {
				continue
			}
			sess.audio = a.newMediaSession("audio", a.cfg.Audio, a.cfg.ICE, media.RoleControlled)
			if err := sess.audio.SetRemoteDescription(s); err != nil {
				return errs.Wrap(errs.SdpIncompatible, err)
			}
			sess.audio.OnSDPReady = func(p media.StreamParams) { pending.audioParams = &p }
			sess.audio.OnConnected = func() { a.handlers.fireSessionConnected(sess) }
			sess.audio.OnDisconnected = func(reason error) { a.handlers.fireSessionDisconnected(sess, reason) }
		case "video":
			if !a.cfg.Video.Enabled {
				continue
			}
			sess.video = a.newMediaSession("video", a.cfg.Video, a.cfg.ICE, media.RoleControlled)
			if err := sess.video.SetRemoteDescription(s); err != nil {
				return errs.Wrap(errs.SdpIncompatible, err)
			}
			sess.video.OnSDPReady = func(p media.StreamParams) { pending.videoParams = &p }
			sess.video.OnConnected = func() { a.handlers.fireSessionConnected(sess) }
			sess.video.OnDisconnected = func(reason error) { a.handlers.fireSessionDisconnected(sess, reason) }
		}
	}
	if sess.audio == nil && sess.video == nil {
		return errs.New(errs.SdpIncompatible, "no offered stream matches an enabled local stream")
	}

	sess.handle = a.sessions.Insert(sess)
	d.SetSession(sess.handle)

	if sess.audio != nil {
		if err := sess.audio.GatherCandidates(a.localContact.Host); err != nil {
			return errs.Wrap(errs.IceGatherFailed, err)
		}
	}
	if sess.video != nil {
		if err := sess.video.GatherCandidates(a.localContact.Host); err != nil {
			return errs.Wrap(errs.IceGatherFailed, err)
		}
	}

	a.inbound[d.CallID] = pending
	return nil
}

// RejectCall sends code to the stored server-INVITE transaction and
// terminates the dialog.
func (a *Agent) RejectCall(d *dialog.Dialog, code int) error {
	tx, ok := a.findInviteServerTx(d)
	if !ok {
		return errs.New(errs.InvalidState, "no pending invite transaction")
	}
	resp := sip.NewResponseFromRequest(d.InviteRequest, sip.StatusCode(code), reasonPhrase(code), nil)
	if toHdr := resp.To(); toHdr != nil {
		toHdr.Params.Add("tag", d.LocalTag)
	}
	if err := tx.Respond([]byte(resp.String()), code, time.Now()); err != nil {
		return errs.Wrap(errs.TransportSend, err)
	}
	d.SetTerminateReason(dialog.ReasonRejected)
	_ = d.TransitionTo(dialog.StateTerminated)
	a.handlers.fireCallState(d, CallFailed)
	delete(a.inbound, d.CallID)
	return nil
}

// Ringing sends a 180 Ringing to the stored server-INVITE transaction.
func (a *Agent) Ringing(d *dialog.Dialog) error {
	tx, ok := a.findInviteServerTx(d)
	if !ok {
		return errs.New(errs.InvalidState, "no pending invite transaction")
	}
	resp := sip.NewResponseFromRequest(d.InviteRequest, 180, "Ringing", nil)
	if toHdr := resp.To(); toHdr != nil {
		toHdr.Params.Add("tag", d.LocalTag)
	}
	if err := tx.Respond([]byte(resp.String()), 180, time.Now()); err != nil {
		return errs.Wrap(errs.TransportSend, err)
	}
	a.handlers.fireCallState(d, CallRinging)
	return nil
}

// Hangup sends BYE within a confirmed dialog, or CANCEL for an outbound one
// still early (Cancel rejects an early inbound dialog), per §4.4's
// direction-dependent hangup rule.
func (a *Agent) Hangup(d *dialog.Dialog) error {
	switch d.State() {
	case dialog.StateConfirmed:
		req, err := d.BuildBYE(a.localContact)
		if err != nil {
			return errs.Wrap(errs.InvalidState, err)
		}
		raw := []byte(req.String())
		branch := topViaBranch(req)
		dest := a.dialogDest(d)
		tx, err := siptx.NewNonInviteClient(raw, raw, branch, dest, sip.BYE.String(), siptx.DefaultTiming(), a.wheel, time.Now(), func(b []byte) error {
			return a.send(dest, b)
		})
		if err != nil {
			return errs.Wrap(errs.TransportSend, err)
		}
		_ = d.TransitionTo(dialog.StateTerminating)
		tx.OnFinal = func(resp *sip.Response, reason error) {
			d.SetTerminateReason(dialog.ReasonLocalBYE)
			_ = d.TransitionTo(dialog.StateTerminated)
			a.handlers.fireCallState(d, CallTerminated)
			a.teardownDialogSession(d)
		}
		tx.OnTerminated = func() { a.txStore.Remove(tx) }
		a.txStore.Insert(tx)
		return nil
	case dialog.StateEarly:
		return a.Cancel(d)
	default:
		return errs.New(errs.InvalidState, "dialog has no active call to hang up")
	}
}

// Cancel sends CANCEL referring to the original outbound INVITE transaction.
func (a *Agent) Cancel(d *dialog.Dialog) error {
	if d.Direction != dialog.DirectionOutbound {
		return errs.New(errs.InvalidState, "cancel only applies to a call this agent originated")
	}
	branch := topViaBranch(d.InviteRequest)
	inviteTx, ok := a.txStore.Find(siptx.Key{Branch: branch, Method: sip.INVITE.String(), Client: true})
	if !ok || inviteTx.State() == siptx.StateTerminated || inviteTx.State() == siptx.StateCompleted {
		return errs.New(errs.InvalidState, "no cancelable invite in flight")
	}

	req := sip.NewRequest(sip.CANCEL, d.InviteRequest.Recipient)
	if via := d.InviteRequest.Via(); via != nil {
		req.AppendHeader(&sip.ViaHeader{ProtocolName: via.ProtocolName, ProtocolVersion: via.ProtocolVersion, Transport: via.Transport, Host: via.Host, Port: via.Port, Params: via.Params.Clone()})
	}
	if from := d.InviteRequest.From(); from != nil {
		req.AppendHeader(&sip.FromHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params.Clone()})
	}
	if to := d.InviteRequest.To(); to != nil {
		req.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params.Clone()})
	}
	cid := sip.CallIDHeader(d.CallID)
	req.AppendHeader(&cid)
	if cseq := d.InviteRequest.CSeq(); cseq != nil {
		req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	raw := []byte(req.String())
	dest := a.dialogDest(d)
	tx, err := siptx.NewNonInviteClient(raw, raw, branch, dest, sip.CANCEL.String(), siptx.DefaultTiming(), a.wheel, time.Now(), func(b []byte) error {
		return a.send(dest, b)
	})
	if err != nil {
		return errs.Wrap(errs.TransportSend, err)
	}
	tx.OnTerminated = func() { a.txStore.Remove(tx) }
	a.txStore.Insert(tx)
	return nil
}

// SendMessage sends a fire-and-forget MESSAGE request to peerURI.
func (a *Agent) SendMessage(peerURI, content string) error {
	var peer sip.Uri
	if err := sip.ParseUri(peerURI, &peer); err != nil {
		return errs.Wrap(errs.SipParse, err)
	}
	req := a.buildRequest(sip.MESSAGE, peer, a.newCallID(), a.newTag(), a.nextCSeq(), []byte(content), "text/plain")
	raw := []byte(req.String())
	branch := topViaBranch(req)
	dest := uriDest(peer)
	tx, err := siptx.NewNonInviteClient(raw, raw, branch, dest, sip.MESSAGE.String(), siptx.DefaultTiming(), a.wheel, time.Now(), func(b []byte) error {
		return a.send(dest, b)
	})
	if err != nil {
		return errs.Wrap(errs.TransportSend, err)
	}
	tx.OnFinal = func(resp *sip.Response, reason error) {
		if reason != nil {
			a.handlers.fireError(errs.Timeout, reason.Error())
		}
	}
	tx.OnTerminated = func() { a.txStore.Remove(tx) }
	a.txStore.Insert(tx)
	return nil
}

// checkPendingOutbound sends the initial INVITE for every outbound call
// whose streams have all produced their local SDP, driven once per Loop
// iteration.
func (a *Agent) checkPendingOutbound(now time.Time) {
	for callID, p := range a.outbound {
		if p.sent || !p.ready() {
			continue
		}
		p.sent = true
		delete(a.outbound, callID)

		sdpBody, err := a.buildLocalOffer(p.audioParams, p.videoParams, now)
		if err != nil {
			a.handlers.fireError(errs.SdpParse, err.Error())
			continue
		}
		a.handlers.fireSessionSDPReady(p.session, sdpBody)

		req := a.buildRequest(sip.INVITE, p.peer, p.callID, p.localTag, a.nextCSeq(), sdpBody, "application/sdp")
		d := dialog.NewOutboundEarly(req)
		a.dialogStore.Insert(d)

		a.sendInviteClient(d, p, req, now)
	}
}

func (a *Agent) sendInviteClient(d *dialog.Dialog, p *pendingOutbound, req *sip.Request, now time.Time) {
	d.SetSession(p.session.handle)
	raw := []byte(req.String())
	branch := topViaBranch(req)
	dest := uriDest(p.peer)

	tx, err := siptx.NewInviteClient(req, raw, branch, dest, siptx.DefaultTiming(), a.wheel, now, func(b []byte) error {
		return a.send(dest, b)
	})
	if err != nil {
		d.SetTerminateReason(dialog.ReasonError)
		_ = d.TransitionTo(dialog.StateTerminated)
		a.handlers.fireCallState(d, CallFailed)
		return
	}
	tx.OnProvisional = func(resp *sip.Response) {
		a.dialogStore.PromoteRemoteTag(d, responseToTag(resp))
		a.handlers.fireCallState(d, CallRinging)
	}
	tx.OnFinal = func(resp *sip.Response, reason error) {
		a.onInviteClientFinal(d, p, resp, reason)
	}
	tx.OnTerminated = func() { a.txStore.Remove(tx) }
	a.txStore.Insert(tx)
}

func (a *Agent) onInviteClientFinal(d *dialog.Dialog, p *pendingOutbound, resp *sip.Response, reason error) {
	if reason != nil {
		d.SetTerminateReason(dialog.ReasonTimeout)
		_ = d.TransitionTo(dialog.StateTerminated)
		a.handlers.fireCallState(d, CallFailed)
		a.teardownSession(p.session, reason)
		return
	}

	if resp.StatusCode == 401 || resp.StatusCode == 407 {
		a.retryInviteWithAuth(d, p, resp)
		return
	}

	if resp.StatusCode >= 300 {
		a.dialogStore.PromoteRemoteTag(d, responseToTag(resp))
		d.SetTerminateReason(dialog.ReasonRejected)
		_ = d.TransitionTo(dialog.StateTerminated)
		a.ackNonSuccess(d, resp)
		a.handlers.fireCallState(d, CallFailed)
		a.teardownSession(p.session, errs.CallFailure(int(resp.StatusCode), resp.Reason))
		return
	}

	a.dialogStore.PromoteRemoteTag(d, responseToTag(resp))
	d.PromoteConfirmed(resp)
	_ = d.TransitionTo(dialog.StateConfirmed)

	if len(resp.Body()) > 0 {
		sessionIP, streams, err := media.ParseSDP(resp.Body())
		if err != nil {
			a.handlers.fireError(errs.SdpParse, err.Error())
		} else {
			a.applyRemoteSDP(p.session, sessionIP, streams)
		}
	}

	ackReq := a.buildAck(d, resp)
	_ = a.send(a.dialogDest(d), []byte(ackReq.String()))

	a.handlers.fireCallState(d, CallConfirmed)
}

func (a *Agent) retryInviteWithAuth(d *dialog.Dialog, p *pendingOutbound, resp *sip.Response) {
	headerName := "WWW-Authenticate"
	if resp.StatusCode == 407 {
		headerName = "Proxy-Authenticate"
	}
	h := resp.GetHeader(headerName)
	if h == nil {
		d.SetTerminateReason(dialog.ReasonRejected)
		_ = d.TransitionTo(dialog.StateTerminated)
		a.handlers.fireCallState(d, CallFailed)
		return
	}
	chal, err := auth.ParseChallenge(h.Value())
	if err != nil {
		a.handlers.fireError(errs.AuthReject, err.Error())
		return
	}
	authVal, err := a.authEngine.Authorize(auth.RequestKey(d.CallID), sip.INVITE.String(), p.peer.String(), chal)
	if err != nil {
		d.SetTerminateReason(dialog.ReasonRejected)
		_ = d.TransitionTo(dialog.StateTerminated)
		a.handlers.fireCallState(d, CallFailed)
		return
	}

	req := a.buildRequest(sip.INVITE, p.peer, d.CallID, d.LocalTag, d.NextLocalCSeq(), d.InviteRequest.Body(), "application/sdp")
	authHeaderName := "Authorization"
	if resp.StatusCode == 407 {
		authHeaderName = "Proxy-Authorization"
	}
	req.AppendHeader(sip.NewHeader(authHeaderName, authVal))

	now := time.Now()
	a.sendInviteClient(d, p, req, now)
}

// applyRemoteSDP negotiates codecs and starts ICE connectivity checks for
// each stream the peer's answer describes.
func (a *Agent) applyRemoteSDP(sess *Session, sessionIP string, streams []media.ParsedStream) {
	for _, s := range streams {
		var ms *media.Session
		switch s.Kind {
		case "audio":
			ms = sess.audio
		case "video":
			ms = sess.video
		}
		if ms == nil {
			continue
		}
		if s.RemoteIP == "" {
			s.RemoteIP = sessionIP
		}
		if err := ms.SetRemoteDescription(s); err != nil {
			a.handlers.fireError(errs.SdpIncompatible, err.Error())
			continue
		}
		if err := ms.StartICE(context.Background()); err != nil {
			a.handlers.fireError(errs.IceFailed, err.Error())
		}
	}
}

// checkPendingInbound sends the 200 OK for every inbound call whose answer
// streams have all produced their local SDP.
func (a *Agent) checkPendingInbound(now time.Time) {
	for callID, p := range a.inbound {
		if !p.ready() {
			continue
		}
		delete(a.inbound, callID)

		sdpBody, err := a.buildLocalOffer(p.audioParams, p.videoParams, now)
		if err != nil {
			a.handlers.fireError(errs.SdpParse, err.Error())
			continue
		}
		a.handlers.fireSessionSDPReady(p.session, sdpBody)

		tx, ok := a.findInviteServerTx(p.dialog)
		if !ok {
			continue
		}
		resp := sip.NewResponseFromRequest(p.dialog.InviteRequest, 200, "OK", sdpBody)
		resp.AppendHeader(&sip.ContactHeader{Address: a.localContact})
		if toHdr := resp.To(); toHdr != nil {
			toHdr.Params.Add("tag", p.dialog.LocalTag)
		}
		if err := tx.Respond([]byte(resp.String()), 200, now); err != nil {
			a.handlers.fireError(errs.TransportSend, err.Error())
			continue
		}

		if p.session.audio != nil {
			if err := p.session.audio.StartICE(context.Background()); err != nil {
				a.handlers.fireError(errs.IceFailed, err.Error())
			}
		}
		if p.session.video != nil {
			if err := p.session.video.StartICE(context.Background()); err != nil {
				a.handlers.fireError(errs.IceFailed, err.Error())
			}
		}
	}
}

func (a *Agent) buildLocalOffer(audio, video *media.StreamParams, now time.Time) ([]byte, error) {
	var streams []media.StreamParams
	if audio != nil {
		streams = append(streams, *audio)
	}
	if video != nil {
		streams = append(streams, *video)
	}
	return media.BuildSDP(media.Offer{
		OriginUsername: a.cfg.Identity.Username,
		SessionID:      uint64(now.UnixNano()),
		SessionVersion: uint64(now.UnixNano()),
		LocalIP:        a.localContact.Host,
		Streams:        streams,
	})
}

func (a *Agent) newMediaSession(kind string, streamCfg MediaStreamConfig, iceCfg ICEConfig, role media.Role) *media.Session {
	cfg := media.Config{
		Kind:           kind,
		LocalPort:      streamCfg.LocalRTPPort,
		Codecs:         streamCfg.Codecs,
		Direction:      media.DirSendRecv,
		RTCPMux:        true,
		ICEEnabled:     iceCfg.Enabled,
		Role:           role,
		GatherTimeout:  iceCfg.GatherTimeout,
		ConnectTimeout: iceCfg.ConnectTimeout,
	}
	if iceCfg.Enabled {
		cfg.STUNServers = []string{fmt.Sprintf("stun:%s:%d", iceCfg.STUNServer, iceCfg.STUNPort)}
		if iceCfg.TURNEnabled {
			cfg.TURNServers = []string{fmt.Sprintf("turn:%s:%d", iceCfg.TURNServer, iceCfg.TURNPort)}
			cfg.TURNUsername = iceCfg.TURNUsername
			cfg.TURNPassword = iceCfg.TURNPassword
		}
	}
	return media.New(cfg)
}

func (a *Agent) findInviteServerTx(d *dialog.Dialog) (*siptx.Transaction, bool) {
	branch := topViaBranch(d.InviteRequest)
	return a.txStore.Find(siptx.Key{Branch: branch, Method: sip.INVITE.String(), Client: false})
}

func (a *Agent) teardownSession(sess *Session, reason error) {
	if sess == nil {
		return
	}
	if sess.audio != nil {
		sess.audio.Stop(reason)
	}
	if sess.video != nil {
		sess.video.Stop(reason)
	}
	a.sessions.Remove(sess.handle)
}

func (a *Agent) teardownDialogSession(d *dialog.Dialog) {
	sess, ok := a.sessions.Get(d.Session)
	if !ok {
		return
	}
	a.teardownSession(sess, fmt.Errorf("agent: call ended"))
}

func (a *Agent) buildAck(d *dialog.Dialog, resp *sip.Response) *sip.Request {
	recipient := d.PeerURI
	if c := resp.Contact(); c != nil {
		recipient = c.Address
	}
	req := sip.NewRequest(sip.ACK, recipient)

	via := &sip.ViaHeader{ProtocolName: "SIP", ProtocolVersion: "2.0", Transport: transportName(a.cfg.TransportType), Host: a.localContact.Host, Port: a.localContact.Port, Params: sip.NewParams()}
	via.Params.Add("branch", a.newBranch())
	req.AppendHeader(via)

	from := &sip.FromHeader{DisplayName: a.cfg.Identity.DisplayName, Address: a.localContact, Params: sip.NewParams()}
	from.Params.Add("tag", d.LocalTag)
	req.AppendHeader(from)

	if to := resp.To(); to != nil {
		req.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params.Clone()})
	}

	cid := sip.CallIDHeader(d.CallID)
	req.AppendHeader(&cid)

	var cseqNo uint32
	if cseq := d.InviteRequest.CSeq(); cseq != nil {
		cseqNo = cseq.SeqNo
	}
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseqNo, MethodName: sip.ACK})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	return req
}

// ackNonSuccess acknowledges a non-2xx final response to an INVITE, reusing
// the original request's Via/branch per RFC 3261 §17.1.1.3.
func (a *Agent) ackNonSuccess(d *dialog.Dialog, resp *sip.Response) {
	req := sip.NewRequest(sip.ACK, d.InviteRequest.Recipient)
	if via := d.InviteRequest.Via(); via != nil {
		req.AppendHeader(&sip.ViaHeader{ProtocolName: via.ProtocolName, ProtocolVersion: via.ProtocolVersion, Transport: via.Transport, Host: via.Host, Port: via.Port, Params: via.Params.Clone()})
	}
	if from := d.InviteRequest.From(); from != nil {
		req.AppendHeader(&sip.FromHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params.Clone()})
	}
	if to := resp.To(); to != nil {
		req.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params.Clone()})
	}
	cid := sip.CallIDHeader(d.CallID)
	req.AppendHeader(&cid)
	if cseq := d.InviteRequest.CSeq(); cseq != nil {
		req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	_ = a.send(a.dialogDest(d), []byte(req.String()))
}

func (a *Agent) dialogDest(d *dialog.Dialog) string {
	if d.RemoteContactURI != "" {
		var u sip.Uri
		if err := sip.ParseUri(d.RemoteContactURI, &u); err == nil {
			return uriDest(u)
		}
	}
	return uriDest(d.PeerURI)
}

func uriDest(u sip.Uri) string {
	port := u.Port
	if port == 0 {
		port = 5060
	}
	return fmt.Sprintf("%s:%d", u.Host, port)
}

func reasonPhrase(code int) string {
	switch code {
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 480:
		return "Temporarily Unavailable"
	case 486:
		return "Busy Here"
	case 487:
		return "Request Terminated"
	case 600:
		return "Busy Everywhere"
	case 603:
		return "Decline"
	default:
		return "Call Rejected"
	}
}
