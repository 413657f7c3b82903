package agent

import (
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sipcore/agent/internal/auth"
	"github.com/sipcore/agent/internal/errs"
	"github.com/sipcore/agent/internal/siptx"
)

// Register enters Registering and sends a REGISTER with Expires set to the
// configured value, per §4.4's register() operation. A later
// on_registration_state callback reports the outcome.
func (a *Agent) Register() error {
	if a.regState == RegistrationRegistering {
		return errs.New(errs.InvalidState, "registration already in progress")
	}
	a.regCallID = a.newCallID()
	a.regState = RegistrationRegistering
	a.handlers.fireRegistrationState(a.regState, 0)
	return a.sendRegister(a.cfg.Expires, "")
}

// Unregister sends a REGISTER with Expires=0, transitioning Registered to
// Unregistered on 2xx.
func (a *Agent) Unregister() error {
	if a.regState != RegistrationRegistered {
		return errs.New(errs.InvalidState, "not registered")
	}
	a.wheel.Cancel(a.regHandle)
	return a.sendRegister(0, "")
}

func (a *Agent) sendRegister(expires int, authorization string) error {
	registrar := sip.Uri{Scheme: "sip", Host: a.cfg.ServerHost, Port: a.cfg.ServerPort}
	req := a.buildRequest(sip.REGISTER, registrar, a.regCallID, a.newTag(), a.nextCSeq(), nil, "")
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", expires)))
	if authorization != "" {
		req.AppendHeader(sip.NewHeader("Authorization", authorization))
	}

	raw := []byte(req.String())
	branch := topViaBranch(req)
	dest := a.serverAddr

	tx, err := siptx.NewNonInviteClient(raw, raw, branch, dest, sip.REGISTER.String(), siptx.DefaultTiming(), a.wheel, time.Now(), func(b []byte) error {
		return a.send(dest, b)
	})
	if err != nil {
		a.regState = RegistrationFailed
		a.handlers.fireRegistrationState(a.regState, 0)
		return err
	}
	tx.OnFinal = func(resp *sip.Response, reason error) {
		a.onRegisterFinal(req, resp, reason)
	}
	tx.OnTerminated = func() { a.txStore.Remove(tx) }
	a.txStore.Insert(tx)
	return nil
}

func (a *Agent) onRegisterFinal(req *sip.Request, resp *sip.Response, reason error) {
	if reason != nil {
		a.regState = RegistrationFailed
		a.handlers.fireRegistrationState(a.regState, 0)
		a.handlers.fireError(errs.Timeout, reason.Error())
		return
	}

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 407:
		a.retryRegisterWithAuth(req, resp)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		expiresHdr := resp.GetHeader("Expires")
		if expiresHdr == nil {
			expiresHdr = req.GetHeader("Expires")
		}
		expires := a.cfg.Expires
		if expiresHdr != nil {
			if n, convErr := parseIntHeader(expiresHdr.Value()); convErr == nil {
				expires = n
			}
		}
		if expires == 0 {
			a.regState = RegistrationUnregistered
			a.handlers.fireRegistrationState(a.regState, int(resp.StatusCode))
			return
		}
		a.regState = RegistrationRegistered
		a.handlers.fireRegistrationState(a.regState, int(resp.StatusCode))
		a.authEngine.Forget(auth.RequestKey(a.regCallID))
		a.regHandle = a.wheel.Schedule(time.Now(), time.Duration(float64(expires)*0.5*float64(time.Second)), func(time.Time) {
			_ = a.sendRegister(a.cfg.Expires, "")
		})
	default:
		a.regState = RegistrationFailed
		a.handlers.fireRegistrationState(a.regState, int(resp.StatusCode))
	}
}

func (a *Agent) retryRegisterWithAuth(req *sip.Request, resp *sip.Response) {
	headerName := "WWW-Authenticate"
	if resp.StatusCode == 407 {
		headerName = "Proxy-Authenticate"
	}
	h := resp.GetHeader(headerName)
	if h == nil {
		a.regState = RegistrationFailed
		a.handlers.fireRegistrationState(a.regState, int(resp.StatusCode))
		return
	}
	chal, err := auth.ParseChallenge(h.Value())
	if err != nil {
		a.regState = RegistrationFailed
		a.handlers.fireError(errs.AuthReject, err.Error())
		return
	}
	registrar := sip.Uri{Scheme: "sip", Host: a.cfg.ServerHost, Port: a.cfg.ServerPort}
	authVal, err := a.authEngine.Authorize(auth.RequestKey(a.regCallID), sip.REGISTER.String(), registrar.String(), chal)
	if err != nil {
		a.regState = RegistrationFailed
		a.handlers.fireError(errs.AuthReject, err.Error())
		return
	}
	_ = a.sendRegister(a.cfg.Expires, authVal)
}

func parseIntHeader(v string) (int, error) {
	n := 0
	if v == "" {
		return 0, fmt.Errorf("agent: empty header value")
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("agent: not an integer: %q", v)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
