// Package transport implements the four wire substrates the agent can speak
// SIP over (UDP, TCP, TLS, MQTT) behind one uniform, non-blocking interface,
// plus datagram classification so a single receive path can demux SIP, STUN,
// and RTP/RTCP traffic landing on the same socket.
package transport

import (
	"time"

	"github.com/pion/stun/v3"
)

// Kind names a substrate's wire protocol.
type Kind int

const (
	KindUDP Kind = iota
	KindTCP
	KindTLS
	KindMQTT
)

func (k Kind) String() string {
	switch k {
	case KindUDP:
		return "udp"
	case KindTCP:
		return "tcp"
	case KindTLS:
		return "tls"
	case KindMQTT:
		return "mqtt"
	default:
		return "unknown"
	}
}

// Datagram is one received unit: a UDP packet, a fully framed TCP/TLS SIP
// message, or a decoded MQTT publish payload, tagged with where it came from.
type Datagram struct {
	Data      []byte
	RemoteKey string // peer address (UDP/TCP/TLS) or source topic (MQTT)
	Kind      Kind
}

// FrameClass is the result of classifying a Datagram's leading bytes, per
// §4.1's demultiplexing rule.
type FrameClass int

const (
	FrameUnknown FrameClass = iota
	FrameSTUN
	FrameSIP
	FrameRTP
)

func (c FrameClass) String() string {
	switch c {
	case FrameSTUN:
		return "stun"
	case FrameSIP:
		return "sip"
	case FrameRTP:
		return "rtp"
	default:
		return "unknown"
	}
}

// Classify identifies which protocol a datagram carries by inspecting its
// first bytes only, never parsing the full payload: STUN via
// stun.IsMessage's magic-cookie check, SIP by an ASCII request line or
// status line, and RTP/RTCP by the classic first-byte heuristic (0x80-0xBF)
// used to distinguish it from STUN/SIP sharing the same port.
func Classify(data []byte) FrameClass {
	if stun.IsMessage(data) {
		return FrameSTUN
	}
	if len(data) >= 1 && data[0] >= 0x80 && data[0] <= 0xBF {
		return FrameRTP
	}
	if looksLikeSIP(data) {
		return FrameSIP
	}
	return FrameUnknown
}

// looksLikeSIP reports whether data begins with a SIP request line (a
// registered method followed by a space) or a status line ("SIP/2.0").
func looksLikeSIP(data []byte) bool {
	if len(data) >= 8 && string(data[:8]) == "SIP/2.0 " {
		return true
	}
	for _, method := range []string{
		"INVITE ", "ACK ", "BYE ", "CANCEL ", "OPTIONS ", "REGISTER ",
		"PRACK ", "SUBSCRIBE ", "NOTIFY ", "PUBLISH ", "INFO ", "REFER ",
		"MESSAGE ", "UPDATE ",
	} {
		if len(data) >= len(method) && string(data[:len(method)]) == method {
			return true
		}
	}
	return false
}

// Substrate is the uniform transport capability the agent event loop drives:
// open once, non-blocking send, bounded poll, query the bound local address,
// and close. No implementation may spawn an internal goroutine that invokes
// agent callbacks; all data enters the system through Poll.
type Substrate interface {
	// Open binds/dials the substrate. For connection-oriented substrates
	// (TCP/TLS/MQTT) this establishes the connection; for UDP it binds the
	// local socket.
	Open() error

	// Send transmits data to dest. dest is a "host:port" string for
	// UDP/TCP/TLS, or an MQTT topic name for MQTT.
	Send(dest string, data []byte) error

	// Poll blocks for at most timeout waiting for inbound data, returning
	// as soon as at least one Datagram is available or the timeout
	// elapses. A zero timeout polls without blocking.
	Poll(timeout time.Duration) ([]Datagram, error)

	// LocalAddress returns the substrate's bound local address, or the
	// empty string if not yet open.
	LocalAddress() string

	// Close releases the substrate's resources. Idempotent.
	Close() error

	Kind() Kind
}
