// Package sipmsg wraps the emiago/sipgo message types and streaming parser
// behind the narrow SipCodec capability: encode a message to wire bytes,
// and parse wire bytes (from a datagram or a growing TCP/TLS/MQTT buffer)
// into zero or more complete messages, reporting when more bytes are needed.
//
// The transaction, dialog, and SIP-agent state machines built on top of this
// package are hand-rolled (internal/siptx, internal/dialog, agent) rather
// than delegated to sipgo's own Client/Server/transaction layer: sipgo here
// plays the role of the message codec only.
package sipmsg

import (
	"errors"
	"fmt"

	"github.com/emiago/sipgo/sip"
)

// Message is a SIP request or response. Exactly one of Request/Response is
// non-nil.
type Message struct {
	Request  *sip.Request
	Response *sip.Response
}

func (m Message) IsRequest() bool  { return m.Request != nil }
func (m Message) IsResponse() bool { return m.Response != nil }

func (m Message) String() string {
	if m.Request != nil {
		return m.Request.StartLine()
	}
	if m.Response != nil {
		return m.Response.StartLine()
	}
	return "<empty>"
}

// Encode serializes m to wire bytes with CRLF line endings, per RFC 3261.
func Encode(m Message) []byte {
	switch {
	case m.Request != nil:
		return []byte(m.Request.String())
	case m.Response != nil:
		return []byte(m.Response.String())
	default:
		return nil
	}
}

// ErrNeedMore is returned by StreamParser.ParseNext when the buffered bytes
// do not yet contain a complete message.
var ErrNeedMore = errors.New("sipmsg: need more bytes")

// sipStream is satisfied by the object sip.Parser.NewSIPStream() returns;
// declared locally so this package does not need to spell out sipgo's
// internal stream-parser type name.
type sipStream interface {
	Write(data []byte) (int, error)
	ParseNext() (sip.Message, int, error)
}

// StreamParser incrementally parses SIP messages out of a growing byte
// stream (TCP/TLS framing by Content-Length) or a sequence of whole
// datagrams (UDP/MQTT, one message per Write).
type StreamParser struct {
	stream sipStream
}

// NewStreamParser creates a parser suitable for one transport connection's
// lifetime.
func NewStreamParser() *StreamParser {
	return &StreamParser{stream: sip.NewParser().NewSIPStream()}
}

// Feed appends newly-received bytes to the parser's internal buffer.
func (p *StreamParser) Feed(data []byte) {
	_, _ = p.stream.Write(data)
}

// ParseNext attempts to extract one complete message from the buffered
// bytes. It returns ErrNeedMore itself when the buffer holds a partial
// message; callers should Feed more bytes and retry. Call it in a loop after
// every Feed since one Write can contain more than one message (e.g. two
// REGISTER datagrams concatenated over a TCP stream).
func (p *StreamParser) ParseNext() (Message, error) {
	msg, _, err := p.stream.ParseNext()
	if err != nil {
		if errors.Is(err, sip.ErrParseSipPartial) {
			return Message{}, ErrNeedMore
		}
		return Message{}, fmt.Errorf("sipmsg: parse: %w", err)
	}
	switch v := msg.(type) {
	case *sip.Request:
		return Message{Request: v}, nil
	case *sip.Response:
		return Message{Response: v}, nil
	default:
		return Message{}, fmt.Errorf("sipmsg: unexpected message type %T", msg)
	}
}

// ParseDatagram parses exactly one self-delimited message out of a single
// UDP or MQTT payload. It is a convenience wrapper around a fresh
// StreamParser for transports where each inbound unit is already one
// message.
func ParseDatagram(data []byte) (Message, error) {
	p := NewStreamParser()
	p.Feed(data)
	return p.ParseNext()
}
