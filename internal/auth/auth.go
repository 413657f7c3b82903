// Package auth implements the digest authentication engine (component A):
// HTTP digest challenge/response per RFC 2617/7616, with per-realm
// nonce/cnonce/nc bookkeeping and a one-retry-per-request policy that the
// underlying icholy/digest primitive does not itself provide.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/icholy/digest"

	"github.com/sipcore/agent/internal/errs"
)

// Credentials are the identity used to answer any challenge.
type Credentials struct {
	Username string
	Password string
}

// realmState tracks the nonce last seen for a realm and how many times it
// has been used, per RFC 2617's nc counter.
type realmState struct {
	nonce     string
	cnonce    string
	nc        uint32
	algorithm string
	qop       string
	opaque    string
}

// Engine computes Authorization/Proxy-Authorization header values and
// enforces the spec's bounded-retry policy: a request may be retried with
// credentials exactly once; a second challenge for the same request is
// fatal.
type Engine struct {
	creds Credentials

	mu     sync.Mutex
	realms map[string]*realmState
	tried  map[string]bool // requestKey -> already retried once
}

// New creates an Engine for the given identity.
func New(creds Credentials) *Engine {
	return &Engine{
		creds:  creds,
		realms: make(map[string]*realmState),
		tried:  make(map[string]bool),
	}
}

// Challenge is the parsed content of a WWW-Authenticate/Proxy-Authenticate
// header.
type Challenge struct {
	Realm     string
	Nonce     string
	Qop       string
	Algorithm string
	Opaque    string
	Stale     bool
}

// ParseChallenge parses a raw WWW-Authenticate/Proxy-Authenticate header
// value.
func ParseChallenge(headerValue string) (Challenge, error) {
	chal, err := digest.ParseChallenge(headerValue)
	if err != nil {
		return Challenge{}, errs.Wrap(errs.SipParse, err)
	}
	return Challenge{
		Realm:     chal.Realm,
		Nonce:     chal.Nonce,
		Qop:       chal.QOP,
		Algorithm: chal.Algorithm,
		Opaque:    chal.Opaque,
		Stale:     chal.Stale,
	}, nil
}

// RequestKey identifies an original request for the purpose of the
// one-retry bound; callers should use something stable for the lifetime of
// a single request attempt, e.g. Call-ID + CSeq number.
type RequestKey string

// Authorize builds an Authorization (or Proxy-Authorization, by convention
// of the caller choosing the header name) value for method+uri challenged
// by chal. It enforces exactly one retry per RequestKey: a second call with
// the same key returns AuthReject.
func (e *Engine) Authorize(key RequestKey, method, uri string, chal Challenge) (headerValue string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tried[string(key)] {
		return "", errs.New(errs.AuthReject, "second challenge for the same request")
	}

	state := e.realms[chal.Realm]
	if state == nil || state.nonce != chal.Nonce || chal.Stale {
		cnonce, cerr := randomHex(16)
		if cerr != nil {
			return "", errs.Wrap(errs.AuthReject, cerr)
		}
		state = &realmState{
			nonce:     chal.Nonce,
			cnonce:    cnonce,
			nc:        0,
			algorithm: chal.Algorithm,
			qop:       chal.Qop,
			opaque:    chal.Opaque,
		}
		e.realms[chal.Realm] = state
	}
	state.nc++

	opts := digest.Options{
		Method:   method,
		URI:      uri,
		Username: e.creds.Username,
		Password: e.creds.Password,
		Count:    state.nc,
		Cnonce:   state.cnonce,
	}
	libChal := &digest.Challenge{
		Realm:     chal.Realm,
		Nonce:     chal.Nonce,
		QOP:       chal.Qop,
		Algorithm: normalizeAlgorithm(chal.Algorithm),
		Opaque:    chal.Opaque,
	}
	cred, derr := digest.Digest(libChal, opts)
	if derr != nil {
		return "", errs.Wrap(errs.AuthReject, derr)
	}

	e.tried[string(key)] = true
	return cred.String(), nil
}

// Forget drops the bounded-retry marker for key, for use once a request's
// full lifecycle (including any retry) has completed, so the key can be
// reused for a later, unrelated request (e.g. REGISTER refresh).
func (e *Engine) Forget(key RequestKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tried, string(key))
}

func normalizeAlgorithm(a string) string {
	if a == "" {
		return "MD5"
	}
	upper := make([]byte, len(a))
	for i := 0; i < len(a); i++ {
		c := a[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	return string(upper)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate cnonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
