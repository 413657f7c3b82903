// Package dialog implements the dialog half of the Dialog+Transaction store
// (component D): Call-ID/tag/CSeq bookkeeping and BYE/re-INVITE header
// construction, generalized from the teacher's dialog package but collapsed
// to the specification's literal four dialog states.
package dialog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sipcore/agent/internal/handle"
)

// Direction records which side sent the initial INVITE.
type Direction int

const (
	DirectionOutbound Direction = iota // we sent the INVITE (UAC)
	DirectionInbound                   // we received the INVITE (UAS)
)

// Dialog is one confirmed or early SIP dialog, per the data model in §3.
type Dialog struct {
	mu sync.RWMutex

	CallID    string
	LocalTag  string
	RemoteTag string
	Direction Direction

	PeerURI    sip.Uri
	LocalURI   sip.Uri
	ContactURI sip.Uri
	RouteSet   []sip.Uri

	state          State
	createdAt      time.Time
	stateChangedAt time.Time

	// Retained for BYE/re-INVITE construction; never re-derived from
	// individual headers to avoid breaking server-side transaction matching.
	InviteRequest  *sip.Request
	InviteResponse *sip.Response

	// RemoteContactURI is the Contact from the 200 OK (UAC) or the original
	// INVITE (UAS), used as the Request-URI for in-dialog requests.
	RemoteContactURI string

	// Session is the associated media session, referenced weakly via an
	// opaque handle so the Dialog does not own the Session's lifetime.
	Session handle.Handle

	localCSeq  atomic.Uint32
	remoteCSeq atomic.Uint32

	terminateReason TerminateReason
}

// NewInbound creates a Dialog for an incoming INVITE, in StateEarly until a
// final response is sent.
func NewInbound(req *sip.Request) *Dialog {
	now := time.Now()
	d := &Dialog{
		CallID:         callIDOf(req),
		RemoteTag:      tagOf(req.From()),
		Direction:      DirectionInbound,
		state:          StateEarly,
		createdAt:      now,
		stateChangedAt: now,
		InviteRequest:  req,
	}
	if cseq := req.CSeq(); cseq != nil {
		d.remoteCSeq.Store(cseq.SeqNo)
	}
	if from := req.From(); from != nil {
		d.PeerURI = from.Address
	}
	if to := req.To(); to != nil {
		d.LocalURI = to.Address
	}
	if contact := req.Contact(); contact != nil {
		d.RemoteContactURI = contact.Address.String()
	}
	return d
}

// NewOutbound creates a Dialog for a call we originated, once a 2xx response
// to our INVITE has arrived.
func NewOutbound(invite *sip.Request, resp *sip.Response) *Dialog {
	now := time.Now()
	d := &Dialog{
		CallID:         callIDOf(invite),
		LocalTag:       tagOf(invite.From()),
		RemoteTag:      toTagOf(resp.To()),
		Direction:      DirectionOutbound,
		state:          StateConfirmed,
		createdAt:      now,
		stateChangedAt: now,
		InviteRequest:  invite,
		InviteResponse: resp,
	}
	if cseq := invite.CSeq(); cseq != nil {
		d.localCSeq.Store(cseq.SeqNo)
	}
	if to := invite.To(); to != nil {
		d.PeerURI = to.Address
	}
	if from := invite.From(); from != nil {
		d.LocalURI = from.Address
	}
	if contact := resp.Contact(); contact != nil {
		d.RemoteContactURI = contact.Address.String()
	}
	return d
}

// NewOutboundEarly creates a Dialog for a call we are originating,
// immediately after sending the INVITE and before any response has
// arrived — the remote tag is filled in later, from a tagged 1xx or the 2xx,
// via Store.PromoteRemoteTag, so the store can find this dialog by
// (Call-ID, local-tag) alone until then.
func NewOutboundEarly(invite *sip.Request) *Dialog {
	now := time.Now()
	d := &Dialog{
		CallID:         callIDOf(invite),
		LocalTag:       tagOf(invite.From()),
		Direction:      DirectionOutbound,
		state:          StateEarly,
		createdAt:      now,
		stateChangedAt: now,
		InviteRequest:  invite,
	}
	if cseq := invite.CSeq(); cseq != nil {
		d.localCSeq.Store(cseq.SeqNo)
	}
	if to := invite.To(); to != nil {
		d.PeerURI = to.Address
	}
	if from := invite.From(); from != nil {
		d.LocalURI = from.Address
	}
	return d
}

// PromoteConfirmed records the 2xx response on an outbound dialog created
// with NewOutboundEarly, together with the remote Contact it carries. It
// does not set the remote tag or change the dialog state.
func (d *Dialog) PromoteConfirmed(resp *sip.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InviteResponse = resp
	if contact := resp.Contact(); contact != nil {
		d.RemoteContactURI = contact.Address.String()
	}
}

func callIDOf(req *sip.Request) string {
	if h := req.CallID(); h != nil {
		return h.Value()
	}
	return ""
}

func tagOf(h *sip.FromHeader) string {
	if h == nil {
		return ""
	}
	if tag, ok := h.Params.Get("tag"); ok {
		return tag
	}
	return ""
}

func toTagOf(h *sip.ToHeader) string {
	if h == nil {
		return ""
	}
	if tag, ok := h.Params.Get("tag"); ok {
		return tag
	}
	return ""
}

// Key returns the (Call-ID, local-tag, remote-tag) triple the store indexes
// dialogs by.
func (d *Dialog) Key() Key {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Key{CallID: d.CallID, LocalTag: d.LocalTag, RemoteTag: d.RemoteTag}
}

// State returns the current dialog state.
func (d *Dialog) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// TransitionTo moves the dialog to next, failing if the transition is not
// allowed by the state machine.
func (d *Dialog) TransitionTo(next State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.state.CanTransitionTo(next) {
		return fmt.Errorf("dialog %s: invalid transition %s -> %s", d.CallID, d.state, next)
	}
	d.state = next
	d.stateChangedAt = time.Now()
	return nil
}

// SetRemoteTag assigns the remote tag once, per the invariant that tags are
// immutable once assigned.
func (d *Dialog) SetRemoteTag(tag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.RemoteTag == "" {
		d.RemoteTag = tag
	}
}

// SetSession records the associated media session handle.
func (d *Dialog) SetSession(h handle.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Session = h
}

// SetTerminateReason records why the dialog ended, for the final
// on_call_state callback.
func (d *Dialog) SetTerminateReason(r TerminateReason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminateReason = r
}

func (d *Dialog) TerminateReason() TerminateReason {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.terminateReason
}

// NextLocalCSeq atomically increments and returns the next CSeq number this
// side should send, enforcing the per-dialog strictly-increasing invariant.
func (d *Dialog) NextLocalCSeq() uint32 {
	return d.localCSeq.Add(1)
}

// remoteRecipient picks the Request-URI for an in-dialog request, following
// the same direction-dependent rule as the teacher: UAC dialogs target the
// Contact learned from the 200 OK, UAS dialogs target the Contact from the
// original INVITE.
func (d *Dialog) remoteRecipient() (sip.Uri, error) {
	if d.Direction == DirectionOutbound {
		if d.RemoteContactURI != "" {
			var u sip.Uri
			if err := sip.ParseUri(d.RemoteContactURI, &u); err != nil {
				return sip.Uri{}, fmt.Errorf("dialog: parse remote contact: %w", err)
			}
			return u, nil
		}
		if d.InviteResponse != nil && d.InviteResponse.Contact() != nil {
			return d.InviteResponse.Contact().Address, nil
		}
		if to := d.InviteRequest.To(); to != nil {
			return to.Address, nil
		}
	} else {
		if contact := d.InviteRequest.Contact(); contact != nil {
			u := contact.Address
			u.UriParams = sip.NewParams()
			return u, nil
		}
		if from := d.InviteRequest.From(); from != nil {
			return from.Address, nil
		}
	}
	return sip.Uri{}, fmt.Errorf("dialog %s: no recipient available", d.CallID)
}

// BuildBYE constructs a BYE request within this dialog, per RFC 3261
// §12.2.1.1: in-dialog requests reuse the dialog's tags and route set and
// carry a freshly incremented local CSeq.
func (d *Dialog) BuildBYE(localContact sip.Uri) (*sip.Request, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildInDialogRequest(sip.BYE, localContact, nil, "")
}

// BuildReINVITE constructs a re-INVITE carrying a new SDP offer.
func (d *Dialog) BuildReINVITE(localContact sip.Uri, sdpOffer []byte) (*sip.Request, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildInDialogRequest(sip.INVITE, localContact, sdpOffer, "application/sdp")
}

func (d *Dialog) buildInDialogRequest(method sip.RequestMethod, localContact sip.Uri, body []byte, contentType string) (*sip.Request, error) {
	if d.InviteRequest == nil {
		return nil, fmt.Errorf("dialog %s: missing original INVITE", d.CallID)
	}
	recipient, err := d.remoteRecipient()
	if err != nil {
		return nil, err
	}

	req := sip.NewRequest(method, recipient)

	if len(d.InviteRequest.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", d.InviteRequest, req)
	}

	from, to := d.fromToHeaders()
	if from != nil {
		req.AppendHeader(from)
	}
	if to != nil {
		req.AppendHeader(to)
	}

	if callIDHdr := d.InviteRequest.CallID(); callIDHdr != nil {
		req.AppendHeader(callIDHdr)
	}

	newSeq := d.localCSeq.Add(1)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: newSeq, MethodName: method})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.ContactHeader{Address: localContact})

	if len(body) > 0 {
		req.SetBody(body)
		req.AppendHeader(sip.NewHeader("Content-Type", contentType))
	}

	return req, nil
}

// fromToHeaders builds the From/To header pair for an in-dialog request,
// swapped relative to the original INVITE when we are the UAS (the original
// From becomes the dialog's "their identity", now the request's To).
func (d *Dialog) fromToHeaders() (*sip.FromHeader, *sip.ToHeader) {
	if d.Direction == DirectionOutbound {
		var fromHdr *sip.FromHeader
		if from := d.InviteRequest.From(); from != nil {
			fromHdr = &sip.FromHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params.Clone()}
		}
		var toHdr *sip.ToHeader
		if to := d.InviteRequest.To(); to != nil {
			toHdr = &sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: sip.NewParams()}
			if d.RemoteTag != "" {
				toHdr.Params.Add("tag", d.RemoteTag)
			}
		}
		return fromHdr, toHdr
	}

	var fromHdr *sip.FromHeader
	if d.InviteResponse != nil {
		if to := d.InviteResponse.To(); to != nil {
			fromHdr = &sip.FromHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params.Clone()}
		}
	} else if to := d.InviteRequest.To(); to != nil {
		fromHdr = &sip.FromHeader{DisplayName: to.DisplayName, Address: to.Address, Params: sip.NewParams()}
		if d.LocalTag != "" {
			fromHdr.Params.Add("tag", d.LocalTag)
		}
	}
	var toHdr *sip.ToHeader
	if from := d.InviteRequest.From(); from != nil {
		toHdr = &sip.ToHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params.Clone()}
	}
	return fromHdr, toHdr
}
