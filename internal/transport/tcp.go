package transport

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// TCP is a connection-oriented Substrate to a single remote peer (the
// registrar/proxy a user agent dials), delimiting SIP messages by the
// Content-Length framing rule in §4.1 rather than relying on datagram
// boundaries. Adapted from the teacher's net.Dial/net.Conn idiom for bridged
// media sockets, reworked from UDP sockets to a buffered stream reader
// driven by Poll's deadline instead of a dedicated goroutine.
type TCP struct {
	remoteAddr string
	conn       net.Conn
	dial       func(network, addr string) (net.Conn, error)

	buf     []byte
	readBuf []byte
}

// NewTCP creates a TCP substrate that will dial remoteAddr ("host:port") on
// Open.
func NewTCP(remoteAddr string) *TCP {
	return &TCP{remoteAddr: remoteAddr, dial: net.Dial, readBuf: make([]byte, 65535)}
}

func (t *TCP) Kind() Kind { return KindTCP }

func (t *TCP) Open() error {
	conn, err := t.dial("tcp", t.remoteAddr)
	if err != nil {
		return fmt.Errorf("transport: dial tcp %s: %w", t.remoteAddr, err)
	}
	t.conn = conn
	return nil
}

func (t *TCP) Send(dest string, data []byte) error {
	if t.conn == nil {
		return fmt.Errorf("transport: tcp substrate not open")
	}
	_, err := t.conn.Write(data)
	return err
}

func (t *TCP) Poll(timeout time.Duration) ([]Datagram, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("transport: tcp substrate not open")
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, err := t.conn.Read(t.readBuf)
	if n > 0 {
		t.buf = append(t.buf, t.readBuf[:n]...)
	}
	if err != nil && !isTimeout(err) {
		return nil, err
	}

	var out []Datagram
	for {
		frame, rest, ok := extractSIPFrame(t.buf)
		if !ok {
			break
		}
		t.buf = rest
		out = append(out, Datagram{Data: frame, RemoteKey: t.remoteAddr, Kind: KindTCP})
	}
	return out, nil
}

func (t *TCP) LocalAddress() string {
	if t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

func (t *TCP) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// extractSIPFrame scans buf for one complete SIP message delimited by a
// blank-line-terminated header block plus a Content-Length body, per RFC
// 3261 §7.5. It returns (frame, remainder, true) when a full message is
// available, or (nil, buf, false) if more bytes are needed.
func extractSIPFrame(buf []byte) ([]byte, []byte, bool) {
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(buf, sep)
	if idx < 0 {
		return nil, buf, false
	}
	headerBlock := buf[:idx]
	contentLength := 0
	for _, line := range strings.Split(string(headerBlock), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if strings.EqualFold(name, "Content-Length") || name == "l" {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err == nil {
				contentLength = n
			}
		}
	}
	total := idx + len(sep) + contentLength
	if len(buf) < total {
		return nil, buf, false
	}
	frame := make([]byte, total)
	copy(frame, buf[:total])
	remainder := make([]byte, len(buf)-total)
	copy(remainder, buf[total:])
	return frame, remainder, true
}
