package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// UDP is a connectionless Substrate bound to a single local port, the
// default substrate for SIP-over-UDP (media sessions bind their own sockets
// for RTP/RTCP/STUN). Grounded
// on the teacher's bridge socket handling (net.ListenUDP/ReadFromUDP/
// WriteToUDP), adapted to the deadline-bounded Poll this package requires
// instead of a dedicated reader goroutine per socket.
type UDP struct {
	laddr *net.UDPAddr
	conn  *net.UDPConn

	readBuf []byte
}

// NewUDP creates a UDP substrate that will bind to bindAddr ("host:port",
// host may be empty for all interfaces) once Open is called.
func NewUDP(bindAddr string) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve udp addr %q: %w", bindAddr, err)
	}
	return &UDP{laddr: laddr, readBuf: make([]byte, 65535)}, nil
}

func (u *UDP) Kind() Kind { return KindUDP }

func (u *UDP) Open() error {
	conn, err := net.ListenUDP("udp", u.laddr)
	if err != nil {
		return fmt.Errorf("transport: listen udp %s: %w", u.laddr, err)
	}
	u.conn = conn
	return nil
}

func (u *UDP) Send(dest string, data []byte) error {
	if u.conn == nil {
		return fmt.Errorf("transport: udp substrate not open")
	}
	raddr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return fmt.Errorf("transport: resolve dest %q: %w", dest, err)
	}
	_, err = u.conn.WriteToUDP(data, raddr)
	return err
}

func (u *UDP) Poll(timeout time.Duration) ([]Datagram, error) {
	if u.conn == nil {
		return nil, fmt.Errorf("transport: udp substrate not open")
	}
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, raddr, err := u.conn.ReadFromUDP(u.readBuf)
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	data := make([]byte, n)
	copy(data, u.readBuf[:n])
	return []Datagram{{Data: data, RemoteKey: raddr.String(), Kind: KindUDP}}, nil
}

func (u *UDP) LocalAddress() string {
	if u.conn == nil {
		return ""
	}
	return u.conn.LocalAddr().String()
}

func (u *UDP) Close() error {
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
