package agent

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sipcore/agent/internal/auth"
	"github.com/sipcore/agent/internal/dialog"
	"github.com/sipcore/agent/internal/errs"
	"github.com/sipcore/agent/internal/handle"
	"github.com/sipcore/agent/internal/media"
	"github.com/sipcore/agent/internal/sipmsg"
	"github.com/sipcore/agent/internal/siptx"
	"github.com/sipcore/agent/internal/timer"
	"github.com/sipcore/agent/internal/transport"
)

// Agent is the facade (component G): it owns the transport, timer wheel,
// dialog/transaction stores, and every media session, and drives them all
// from Loop. No field here is touched from any goroutine other than the one
// calling Loop/the API methods, per §5's single-threaded model.
type Agent struct {
	cfg      Config
	handlers Handlers
	log      *slog.Logger

	sub transport.Substrate

	wheel       *timer.Wheel
	txStore     *siptx.Store
	dialogStore *dialog.Store
	sessions    *handle.Arena[*Session]

	authEngine *auth.Engine

	localContact sip.Uri
	serverAddr   string

	regState   RegistrationState
	regHandle  timer.Handle
	regCallID  string
	running    bool

	cseqCounter atomic.Uint32

	// incomingInviteCallID tracks the single unanswered inbound INVITE this
	// agent will entertain at a time; a second concurrent INVITE is
	// auto-rejected with 486, per the documented Open Question decision.
	incomingInviteCallID string

	outbound map[string]*pendingOutbound
	inbound  map[string]*pendingInbound
}

// Create validates cfg and wires a new Agent, opening no transport yet
// (Start does that). Returns ConfigInvalid synchronously on a bad Config,
// per §7.
func Create(cfg Config, handlers Handlers, logger *slog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		cfg:         cfg,
		handlers:    handlers,
		log:         logger,
		wheel:       timer.New(),
		txStore:     siptx.NewStore(),
		dialogStore: dialog.NewStore(),
		sessions:    handle.NewArena[*Session](),
		authEngine:  auth.New(auth.Credentials{Username: cfg.Identity.Username, Password: cfg.Identity.Password}),
		serverAddr:  fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		outbound:    make(map[string]*pendingOutbound),
		inbound:     make(map[string]*pendingInbound),
	}
	return a, nil
}

// Start opens the transport substrate and returns. It does not register;
// call Register explicitly once started, matching the teacher's split
// between server construction and Start's bind step.
func (a *Agent) Start() error {
	sub, err := a.openSubstrate()
	if err != nil {
		return errs.Wrap(errs.TransportInit, err)
	}
	if err := sub.Open(); err != nil {
		return errs.Wrap(errs.TransportInit, err)
	}
	a.sub = sub
	a.running = true

	host, port, _ := splitHostPort(sub.LocalAddress())
	a.localContact = sip.Uri{
		Scheme: "sip",
		User:   a.cfg.Identity.Username,
		Host:   host,
		Port:   port,
	}
	return nil
}

func (a *Agent) openSubstrate() (transport.Substrate, error) {
	bindAddr := fmt.Sprintf(":%d", a.cfg.LocalPort)
	switch a.cfg.TransportType {
	case TransportUDP:
		return transport.NewUDP(bindAddr)
	case TransportTCP:
		return transport.NewTCP(a.serverAddr), nil
	case TransportTLS:
		return transport.NewTLS(a.serverAddr, transport.TLSMaterial{
			CA: a.cfg.TLS.CA, Cert: a.cfg.TLS.Cert, Key: a.cfg.TLS.Key,
		}), nil
	case TransportMQTT:
		broker := fmt.Sprintf("%s:%d", a.cfg.MQTT.BrokerHost, a.cfg.MQTT.BrokerPort)
		clientID := a.cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "sipagent-" + uuid.NewString()
		}
		return transport.NewMQTT(broker, clientID, a.cfg.MQTT.PubTopic, a.cfg.MQTT.SubTopic, 1), nil
	default:
		return nil, fmt.Errorf("agent: unknown transport_type %v", a.cfg.TransportType)
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "0.0.0.0", 0, err
	}
	port, _ := strconv.Atoi(portStr)
	return host, port, nil
}

// Stop terminates every live dialog and stops every media session, firing
// their final callbacks, then closes the transport and sets the registration
// state to Unregistered. Pending timers are left scheduled; they fire only
// from Loop, which does nothing once the agent is stopped.
func (a *Agent) Stop() {
	if !a.running {
		return
	}
	a.running = false

	a.dialogStore.ForEach(func(d *dialog.Dialog) {
		if !d.State().IsTerminal() {
			d.SetTerminateReason(dialog.ReasonError)
			_ = d.TransitionTo(dialog.StateTerminated)
			a.handlers.fireCallState(d, CallTerminated)
		}
	})

	a.sessions.Each(func(h handle.Handle, s *Session) {
		if s.audio != nil {
			s.audio.Stop(fmt.Errorf("agent: stopped"))
		}
		if s.video != nil {
			s.video.Stop(fmt.Errorf("agent: stopped"))
		}
		a.handlers.fireSessionDisconnected(s, fmt.Errorf("agent: stopped"))
	})

	if a.sub != nil {
		_ = a.sub.Close()
	}
	a.regState = RegistrationUnregistered
}

// Loop performs one iteration of the event loop: (1) process transport
// receive, (2) fire due timers, (3) flush outgoing queues (a no-op here —
// this implementation issues sends inline rather than queuing them, so
// nothing to flush). It blocks at most timeout on transport readiness, per
// §4.6.
func (a *Agent) Loop(timeout time.Duration) {
	if !a.running {
		return
	}

	dgs, err := a.sub.Poll(timeout)
	if err != nil {
		a.handlers.fireError(errs.TransportClosed, err.Error())
		a.running = false
		return
	}
	now := time.Now()
	for _, dg := range dgs {
		a.handleDatagram(dg, now)
	}

	a.wheel.FireDue(now)
	a.txStore.Sweep()

	a.sessions.Each(func(h handle.Handle, s *Session) {
		if s.audio != nil {
			s.audio.Tick(now, now, now, a.localContact.Host)
		}
		if s.video != nil {
			s.video.Tick(now, now, now, a.localContact.Host)
		}
	})

	a.checkPendingOutbound(now)
	a.checkPendingInbound(now)
}

func (a *Agent) handleDatagram(dg transport.Datagram, now time.Time) {
	class := transport.Classify(dg.Data)
	switch class {
	case transport.FrameSIP:
		msg, err := sipmsg.ParseDatagram(dg.Data)
		if err != nil {
			a.handlers.fireError(errs.SipParse, err.Error())
			return
		}
		a.handleSIPMessage(msg, dg.RemoteKey, now)
	default:
		// STUN/RTP traffic landing on the signaling substrate is not
		// expected in the default configuration (ICE and non-ICE media
		// sessions bind their own sockets), so it is dropped rather than
		// misrouted.
		a.log.Debug("agent: dropped non-SIP frame on signaling substrate", "class", class.String())
	}
}

func (a *Agent) send(dest string, raw []byte) error {
	if err := a.sub.Send(dest, raw); err != nil {
		a.handlers.fireError(errs.TransportSend, err.Error())
		return errs.Wrap(errs.TransportSend, err)
	}
	return nil
}

func (a *Agent) nextCSeq() uint32 {
	return a.cseqCounter.Add(1)
}

func (a *Agent) newBranch() string {
	return sip.GenerateBranchN(16)
}

func (a *Agent) newTag() string {
	return sip.GenerateTagN(16)
}
