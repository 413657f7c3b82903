package agent

import (
	"fmt"

	"github.com/emiago/sipgo/sip"
)

// buildRequest constructs a self-contained out-of-dialog request (REGISTER,
// INVITE, MESSAGE, OPTIONS), filling in every mandatory header RFC 3261
// §8.1.1 requires, following the same must-header assembly the example
// client code uses. In-dialog requests (BYE, re-INVITE) instead go through
// dialog.Dialog.BuildBYE/BuildReINVITE, which reuse the dialog's own tags and
// route set.
func (a *Agent) buildRequest(method sip.RequestMethod, recipient sip.Uri, callID, fromTag string, cseq uint32, body []byte, contentType string) *sip.Request {
	req := sip.NewRequest(method, recipient)

	via := &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       transportName(a.cfg.TransportType),
		Host:            a.localContact.Host,
		Port:            a.localContact.Port,
		Params:          sip.NewParams(),
	}
	via.Params.Add("branch", a.newBranch())
	req.AppendHeader(via)

	from := &sip.FromHeader{
		DisplayName: a.cfg.Identity.DisplayName,
		Address:     a.localContact,
		Params:      sip.NewParams(),
	}
	from.Params.Add("tag", fromTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: recipient, Params: sip.NewParams()}
	req.AppendHeader(to)

	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)

	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: method})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.ContactHeader{Address: a.localContact})

	if len(body) > 0 {
		req.SetBody(body)
		req.AppendHeader(sip.NewHeader("Content-Type", contentType))
	}

	return req
}

func transportName(t TransportType) string {
	switch t {
	case TransportTCP:
		return "TCP"
	case TransportTLS:
		return "TLS"
	case TransportMQTT:
		return "MQTT"
	default:
		return "UDP"
	}
}

func (a *Agent) newCallID() string {
	return fmt.Sprintf("%s@%s", a.newTag(), a.localContact.Host)
}

// topViaBranch extracts the branch parameter off a request's topmost Via,
// the value the transaction layer keys on.
func topViaBranch(req *sip.Request) string {
	via := req.Via()
	if via == nil {
		return ""
	}
	branch, _ := via.Params.Get("branch")
	return branch
}

// responseToTag/responseFromTag extract the tag parameter off a response's
// To/From headers.
func responseToTag(resp *sip.Response) string {
	to := resp.To()
	if to == nil {
		return ""
	}
	tag, _ := to.Params.Get("tag")
	return tag
}

func responseFromTag(resp *sip.Response) string {
	from := resp.From()
	if from == nil {
		return ""
	}
	tag, _ := from.Params.Get("tag")
	return tag
}

func requestFromTag(req *sip.Request) string {
	from := req.From()
	if from == nil {
		return ""
	}
	tag, _ := from.Params.Get("tag")
	return tag
}

func requestToTag(req *sip.Request) string {
	to := req.To()
	if to == nil {
		return ""
	}
	tag, _ := to.Params.Get("tag")
	return tag
}

func requestCallID(req *sip.Request) string {
	if h := req.CallID(); h != nil {
		return h.Value()
	}
	return ""
}
