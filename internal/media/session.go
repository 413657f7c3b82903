// Package media implements the media session coordinator (component M):
// ICE candidate gathering, SDP offer/answer generation and parsing, and the
// RTP/RTCP endpoint lifecycle bound to a negotiated stream.
package media

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/randutil"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// State is the session lifecycle state from §4.5.
type State int

const (
	StateIdle State = iota
	StateGathering
	StateGathered
	StateConnecting
	StateConnected
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateGathering:
		return "Gathering"
	case StateGathered:
		return "Gathered"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var validTransitions = map[State][]State{
	StateIdle:         {StateGathering, StateClosed},
	StateGathering:     {StateGathered, StateDisconnected, StateClosed},
	StateGathered:      {StateConnecting, StateDisconnected, StateClosed},
	StateConnecting:    {StateConnected, StateDisconnected, StateClosed},
	StateConnected:     {StateDisconnected, StateClosed},
	StateDisconnected:  {StateClosed},
	StateClosed:        {},
}

func (s State) canTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Role mirrors the configured ICE role.
type Role int

const (
	RoleControlling Role = iota
	RoleControlled
	RoleLite
)

// Config configures one media session's ICE/codec behavior, drawn from the
// agent-wide media configuration (§3's Configuration list).
type Config struct {
	Kind         string // "audio" or "video"
	LocalPort    int    // 0 = auto-assign
	Codecs       PreferenceList
	Direction    StreamDirection
	RTCPMux      bool
	ICEEnabled   bool
	Role         Role
	STUNServers  []string
	TURNServers  []string
	TURNUsername string
	TURNPassword string
	GatherTimeout  time.Duration
	ConnectTimeout time.Duration
	RTCPInterval   time.Duration
}

// Frame is one decoded media frame handed to/from the application.
type Frame struct {
	Payload     []byte
	TimestampRTP uint32
	Marker      bool
}

// Session is one negotiated audio or video stream: its ICE agent, RTP
// socket, and codec state. Every mutation happens on the thread driving
// Tick/HandleInboundRTP — no internal goroutine calls back into application
// code directly; results from pion/ice's own background gathering/
// connectivity-check goroutines are buffered and drained by Tick.
type Session struct {
	mu sync.Mutex

	cfg   Config
	state State

	iceAgent *ice.Agent
	localUfrag, localPwd string
	localCandidates []ice.Candidate

	remoteUfrag, remotePwd string
	remoteCandidates       []ice.Candidate

	conn net.Conn // nominated ICE conn (or a plain UDP conn when ICE is disabled)

	payloadType uint8
	clockRate   uint32
	ssrc        uint32
	seq         uint16

	lastRTCP time.Time

	candidateEvents chan ice.Candidate
	stateEvents     chan ice.ConnectionState
	dialResult      chan dialOutcome

	// OnSDPReady fires once local candidate gathering completes and the
	// local SDP stream description is ready to send.
	OnSDPReady func(StreamParams)
	// OnConnected fires once ICE nominates a nominated pair and the RTP
	// send endpoint is bound.
	OnConnected func()
	// OnDisconnected fires when the session tears down, successfully or
	// not.
	OnDisconnected func(reason error)
	// OnFrame delivers a depacketized inbound media frame.
	OnFrame func(Frame)
	// OnError surfaces a non-fatal session error (e.g. one RTP send
	// failure) without transitioning state.
	OnError func(error)
}

type dialOutcome struct {
	conn net.Conn
	err  error
}

// New creates an idle Session for cfg.
func New(cfg Config) *Session {
	if cfg.GatherTimeout == 0 {
		cfg.GatherTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RTCPInterval == 0 {
		cfg.RTCPInterval = 5 * time.Second
	}
	ssrc := randutil.NewMathRandomGenerator().Uint32()
	return &Session{
		cfg:             cfg,
		state:           StateIdle,
		candidateEvents: make(chan ice.Candidate, 32),
		stateEvents:     make(chan ice.ConnectionState, 8),
		dialResult:      make(chan dialOutcome, 1),
		ssrc:            ssrc,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(next State) error {
	if !s.state.canTransitionTo(next) {
		return fmt.Errorf("media: invalid session transition %s -> %s", s.state, next)
	}
	s.state = next
	return nil
}

// GatherCandidates begins ICE candidate collection (or, with ICE disabled,
// resolves a plain local UDP port) and arms for completion within
// cfg.GatherTimeout. Grounded on the teacher's pion/sdp builder for the SDP
// half and on pion-webrtc's ICEGatherer.Gather/agent.OnCandidate wiring for
// the ICE half, generalized to a single agent per session with both
// gathering and connectivity-check roles.
func (s *Session) GatherCandidates(localIP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(StateGathering); err != nil {
		return err
	}

	if !s.cfg.ICEEnabled {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.cfg.LocalPort})
		if err != nil {
			s.state = StateDisconnected
			return fmt.Errorf("media: bind local rtp port: %w", err)
		}
		s.conn = conn
		s.state = StateGathered
		s.emitSDPReadyLocked(localIP)
		return nil
	}

	agentCfg := &ice.AgentConfig{
		NetworkTypes: []ice.NetworkType{ice.NetworkTypeUDP4, ice.NetworkTypeUDP6},
	}
	if s.cfg.LocalPort != 0 {
		agentCfg.PortMin = uint16(s.cfg.LocalPort)
		agentCfg.PortMax = uint16(s.cfg.LocalPort)
	}

	urls, err := s.iceServerURLs()
	if err != nil {
		s.state = StateDisconnected
		return fmt.Errorf("media: parse ice server urls: %w", err)
	}
	agentCfg.Urls = urls

	agent, err := ice.NewAgent(agentCfg)
	if err != nil {
		s.state = StateDisconnected
		return fmt.Errorf("media: create ice agent: %w", err)
	}
	s.iceAgent = agent

	ufrag, pwd, err := agent.GetLocalUserCredentials()
	if err != nil {
		s.state = StateDisconnected
		return fmt.Errorf("media: ice local credentials: %w", err)
	}
	s.localUfrag, s.localPwd = ufrag, pwd

	_ = agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			return // nil signals gathering complete
		}
		select {
		case s.candidateEvents <- c:
		default:
		}
	})

	if err := agent.GatherCandidates(); err != nil {
		s.state = StateDisconnected
		return fmt.Errorf("media: gather candidates: %w", err)
	}

	return nil
}

// iceServerURLs builds the STUN/TURN server list for the ICE agent from
// cfg, attaching long-term credentials to any TURN URL per the scheme
// pion-webrtc's ICEServer.urls() uses.
func (s *Session) iceServerURLs() ([]*ice.URL, error) {
	var urls []*ice.URL
	for _, raw := range s.cfg.STUNServers {
		u, err := ice.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("stun url %q: %w", raw, err)
		}
		urls = append(urls, u)
	}
	for _, raw := range s.cfg.TURNServers {
		u, err := ice.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("turn url %q: %w", raw, err)
		}
		u.Username = s.cfg.TURNUsername
		u.Password = s.cfg.TURNPassword
		urls = append(urls, u)
	}
	return urls, nil
}

// Tick drains buffered ICE events and, once gathering or connecting has
// satisfied its condition, performs the associated state transition and
// callback. It must be called regularly from the owning agent's loop.
func (s *Session) Tick(now time.Time, gatherDeadline, connectDeadline time.Time, localIP string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateGathering:
		s.drainCandidates()
		if len(s.localCandidates) > 0 && !now.Before(gatherDeadline) {
			s.state = StateGathered
			s.emitSDPReadyLocked(localIP)
		}
	case StateConnecting:
		select {
		case outcome := <-s.dialResult:
			if outcome.err != nil {
				s.state = StateDisconnected
				if s.OnDisconnected != nil {
					s.OnDisconnected(outcome.err)
				}
				return
			}
			s.conn = outcome.conn
			s.state = StateConnected
			if s.OnConnected != nil {
				s.OnConnected()
			}
		default:
			if !now.Before(connectDeadline) {
				s.state = StateDisconnected
				if s.OnDisconnected != nil {
					s.OnDisconnected(fmt.Errorf("media: ice connect timeout"))
				}
			}
		}
	}

	if s.state == StateConnected && now.Sub(s.lastRTCP) >= s.cfg.RTCPInterval {
		s.emitRTCPLocked()
	}
}

func (s *Session) drainCandidates() {
	for {
		select {
		case c := <-s.candidateEvents:
			s.localCandidates = append(s.localCandidates, c)
		default:
			return
		}
	}
}

func (s *Session) emitSDPReadyLocked(localIP string) {
	codec := s.cfg.Codecs
	params := StreamParams{
		Kind:      s.cfg.Kind,
		Port:      s.localRTPPort(),
		Codecs:    codec,
		Direction: s.cfg.Direction,
		RTCPMux:   s.cfg.RTCPMux,
	}
	if s.cfg.ICEEnabled {
		params.ICEUfrag = s.localUfrag
		params.ICEPwd = s.localPwd
		for _, c := range s.localCandidates {
			params.Candidates = append(params.Candidates, c.Marshal())
		}
	}
	if s.OnSDPReady != nil {
		s.OnSDPReady(params)
	}
}

func (s *Session) localRTPPort() int {
	if s.cfg.LocalPort != 0 {
		return s.cfg.LocalPort
	}
	if s.conn != nil {
		if udpAddr, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
			return udpAddr.Port
		}
	}
	return 0
}

// SetRemoteDescription records the peer's negotiated stream parameters
// (ICE credentials and codec) once an SDP answer/offer has been parsed.
func (s *Session) SetRemoteDescription(remote ParsedStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteUfrag = remote.ICEUfrag
	s.remotePwd = remote.ICEPwd

	if len(remote.Codecs) > 0 {
		chosen := s.cfg.Codecs.Intersect(remote.Codecs)
		if len(chosen) == 0 {
			return fmt.Errorf("media: no common codec with remote offer")
		}
		d, ok := Descriptor(chosen[0])
		if !ok {
			return fmt.Errorf("media: no rtp descriptor for negotiated codec")
		}
		s.payloadType = d.PayloadType
		s.clockRate = d.ClockRate
	}
	return nil
}

// StartICE begins connectivity checks using the configured role and the
// remote credentials recorded by SetRemoteDescription, per §4.5's
// Gathered -> Connecting transition. The actual Dial/Accept blocks
// internally in pion/ice, so it runs on a dedicated goroutine whose result
// is only ever consumed by Tick on the loop thread.
func (s *Session) StartICE(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(StateConnecting); err != nil {
		return err
	}

	if !s.cfg.ICEEnabled {
		// Without ICE, the remote address from SDP is already known and
		// RTP can flow directly, so Connecting completes immediately.
		s.state = StateConnected
		if s.OnConnected != nil {
			s.OnConnected()
		}
		return nil
	}

	if err := s.iceAgent.OnConnectionStateChange(func(st ice.ConnectionState) {
		select {
		case s.stateEvents <- st:
		default:
		}
	}); err != nil {
		return fmt.Errorf("media: ice connection state hook: %w", err)
	}

	agent := s.iceAgent
	ufrag, pwd := s.remoteUfrag, s.remotePwd
	role := s.cfg.Role

	go func() {
		var conn net.Conn
		var err error
		switch role {
		case RoleControlling:
			conn, err = agent.Dial(ctx, ufrag, pwd)
		default:
			conn, err = agent.Accept(ctx, ufrag, pwd)
		}
		s.dialResult <- dialOutcome{conn: conn, err: err}
	}()

	return nil
}

// SendFrame packetizes and sends a media frame through the session's bound
// endpoint, applicable only in Connected.
func (s *Session) SendFrame(f Frame, samplesPerFrame uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return fmt.Errorf("media: send on non-connected session (state %s)", s.state)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.payloadType,
			SequenceNumber: s.seq,
			Timestamp:      f.TimestampRTP,
			SSRC:           s.ssrc,
			Marker:         f.Marker,
		},
		Payload: f.Payload,
	}
	s.seq++

	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("media: marshal rtp packet: %w", err)
	}
	if _, err := s.conn.Write(raw); err != nil {
		if s.OnError != nil {
			s.OnError(fmt.Errorf("media: rtp send: %w", err))
		}
		return err
	}
	return nil
}

// HandleInboundRTP depacketizes one inbound RTP packet and delivers the
// resulting Frame via OnFrame.
func (s *Session) HandleInboundRTP(data []byte) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return fmt.Errorf("media: unmarshal rtp packet: %w", err)
	}
	if s.OnFrame != nil {
		s.OnFrame(Frame{Payload: pkt.Payload, TimestampRTP: pkt.Timestamp, Marker: pkt.Marker})
	}
	return nil
}

// HandleInboundRTCP processes one inbound RTCP compound packet (only
// needed when rtcp-mux is not negotiated and RTCP lands on its own port;
// with mux, the caller routes by packet type after Classify identifies the
// datagram as RTP-range traffic).
func (s *Session) HandleInboundRTCP(data []byte) error {
	if _, err := rtcp.Unmarshal(data); err != nil {
		return fmt.Errorf("media: unmarshal rtcp packet: %w", err)
	}
	return nil
}

func (s *Session) emitRTCPLocked() {
	s.lastRTCP = time.Now()
	report := &rtcp.ReceiverReport{SSRC: s.ssrc}
	raw, err := report.Marshal()
	if err != nil || s.conn == nil {
		return
	}
	_, _ = s.conn.Write(raw)
}

// Stop tears down ICE and RTP and moves the session from any state straight
// to Closed.
func (s *Session) Stop(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.iceAgent != nil {
		_ = s.iceAgent.Close()
		s.iceAgent = nil
	}
	s.state = StateClosed
	if s.OnDisconnected != nil {
		s.OnDisconnected(reason)
	}
}
