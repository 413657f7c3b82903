package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"
)

// TLSMaterial holds the in-memory PEM buffers the spec requires (§9's
// "Memory mode TLS" design note): no filesystem dependency for cert, key, or
// CA.
type TLSMaterial struct {
	Cert []byte
	Key  []byte
	CA   []byte // optional, for verifying the peer
}

// TLS is a Substrate identical in framing to TCP but negotiated over
// crypto/tls using in-memory certificate material, never touching disk.
type TLS struct {
	remoteAddr string
	material   TLSMaterial
	conn       net.Conn
	buf        []byte
	readBuf    []byte
}

// NewTLS creates a TLS substrate that will dial remoteAddr on Open using mat
// for the client certificate and CA pool.
func NewTLS(remoteAddr string, mat TLSMaterial) *TLS {
	return &TLS{remoteAddr: remoteAddr, material: mat, readBuf: make([]byte, 65535)}
}

func (t *TLS) Kind() Kind { return KindTLS }

func (t *TLS) Open() error {
	cfg := &tls.Config{}

	if len(t.material.Cert) > 0 && len(t.material.Key) > 0 {
		cert, err := tls.X509KeyPair(t.material.Cert, t.material.Key)
		if err != nil {
			return fmt.Errorf("transport: parse in-memory tls cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if len(t.material.CA) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(t.material.CA) {
			return fmt.Errorf("transport: parse in-memory tls CA material")
		}
		cfg.RootCAs = pool
	}

	host, _, err := net.SplitHostPort(t.remoteAddr)
	if err == nil {
		cfg.ServerName = host
	}

	conn, err := tls.Dial("tcp", t.remoteAddr, cfg)
	if err != nil {
		return fmt.Errorf("transport: tls dial %s: %w", t.remoteAddr, err)
	}
	t.conn = conn
	return nil
}

func (t *TLS) Send(dest string, data []byte) error {
	if t.conn == nil {
		return fmt.Errorf("transport: tls substrate not open")
	}
	_, err := t.conn.Write(data)
	return err
}

func (t *TLS) Poll(timeout time.Duration) ([]Datagram, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("transport: tls substrate not open")
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
		out = append(out, Datagram{Data: frame, RemoteKey: t.remoteAddr, Kind: KindTLS})
	}
	return out, nil
}

func (t *TLS) LocalAddress() string {
	if t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

func (t *TLS) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
