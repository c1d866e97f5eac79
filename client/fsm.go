// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"time"

	"github.com/pkg/errors"

	"github.com/xtaci/vpntun/vpncrypto"
	"github.com/xtaci/vpntun/wire"
)

// State is one of the client peer's four states (§4.6).
type State int

const (
	Disconnected State = iota
	Handshaking
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Handshaking:
		return "HANDSHAKING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
	handshakeWait  = 5 * time.Second
)

// FSM is the client peer's connection state machine. Like the gateway's
// Dispatcher, it is only ever touched from the one goroutine running the
// client's event loop, so it carries no internal locking.
type FSM struct {
	State State

	username string
	keyPair  vpncrypto.KeyPair

	VPNIP        uint32
	SessionID    uint32
	ServerPubKey [32]byte
	sessionKey   [vpncrypto.KeySize]byte

	lastPingSent     time.Time
	lastPongReceived time.Time
	keepaliveEvery   time.Duration
	pongTimeout      time.Duration

	attempt       int
	maxAttempts   int
	autoReconnect bool
	backoff       time.Duration

	seq wire.SequenceCounter
}

// NewFSM builds an FSM in the Disconnected state with a fresh Curve25519
// identity.
func NewFSM(username string, keepalive, pongTimeout time.Duration, autoReconnect bool, maxAttempts int) (*FSM, error) {
	kp, err := vpncrypto.GenerateKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "client: generate identity")
	}
	return &FSM{
		State:          Disconnected,
		username:       username,
		keyPair:        kp,
		keepaliveEvery: keepalive,
		pongTimeout:    pongTimeout,
		autoReconnect:  autoReconnect,
		maxAttempts:    maxAttempts,
		backoff:        initialBackoff,
	}, nil
}

// BuildHandshakeRequest encodes a CONNECT_REQ carrying this client's
// identity public key in the auth_token field (§4.6, §9).
func (f *FSM) BuildHandshakeRequest() []byte {
	buf := make([]byte, wire.HeaderSize+wire.UsernameSize+wire.AuthTokenSize)
	n := wire.BuildConnectRequest(buf, f.seq.Next(), f.username, f.keyPair.Public)
	f.State = Handshaking
	return buf[:n]
}

// HandleConnectResp processes a CONNECT_RESP frame. On success it stores
// the assigned session and derives the session key with the identical KDF
// parameters as the enclave; on failure or a non-zero status it leaves the
// FSM ready to transition to Reconnecting.
func (f *FSM) HandleConnectResp(payload []byte) error {
	resp, err := wire.ParseConnectResponse(payload)
	if err != nil {
		return errors.Wrap(err, "client: malformed CONNECT_RESP")
	}
	if resp.Status != 0 {
		return errors.Errorf("client: CONNECT_REQ rejected, status=%d", resp.Status)
	}

	f.VPNIP = resp.VPNIP
	f.SessionID = resp.SessionID
	f.ServerPubKey = resp.ServerPubKey

	shared, err := vpncrypto.SharedSecret(f.keyPair.Private(), f.ServerPubKey)
	if err != nil {
		return errors.Wrap(err, "client: ECDH")
	}
	f.sessionKey = vpncrypto.DeriveSessionKey(shared)
	vpncrypto.ZeroArray(&shared)

	return nil
}

// EnterConnected arms the keepalive clock and transitions to Connected.
func (f *FSM) EnterConnected(now time.Time) {
	f.State = Connected
	f.lastPingSent = now
	f.lastPongReceived = now
	f.attempt = 0
	f.backoff = initialBackoff
}

// EncryptOutbound seals a plaintext inner packet under the session key.
func (f *FSM) EncryptOutbound(plaintext []byte) []byte {
	nonce, ct, err := vpncrypto.Encrypt(f.sessionKey, plaintext)
	if err != nil {
		return nil
	}
	sealed := make([]byte, 0, len(nonce)+len(ct))
	sealed = append(sealed, nonce...)
	sealed = append(sealed, ct...)

	buf := make([]byte, wire.HeaderSize+len(sealed))
	n := wire.BuildData(buf, f.seq.Next(), sealed)
	return buf[:n]
}

// DecryptInbound opens a DATA frame's payload under the session key.
func (f *FSM) DecryptInbound(payload []byte) ([]byte, error) {
	sealed, err := wire.ParseData(payload)
	if err != nil {
		return nil, err
	}
	if len(sealed) < vpncrypto.NonceSize {
		return nil, errors.New("client: DATA payload too short for nonce")
	}
	return vpncrypto.Decrypt(f.sessionKey, sealed[:vpncrypto.NonceSize], sealed[vpncrypto.NonceSize:])
}

// BuildPing encodes a keepalive PING frame.
func (f *FSM) BuildPing() []byte {
	buf := make([]byte, wire.HeaderSize)
	n := wire.BuildControl(buf, wire.Ping, f.seq.Next())
	return buf[:n]
}

// BuildDisconnect encodes a best-effort DISCONNECT frame (§4.6 shutdown).
func (f *FSM) BuildDisconnect() []byte {
	buf := make([]byte, wire.HeaderSize)
	n := wire.BuildControl(buf, wire.Disconnect, f.seq.Next())
	return buf[:n]
}

// ShouldPing reports whether a new PING is due.
func (f *FSM) ShouldPing(now time.Time) bool {
	return now.Sub(f.lastPingSent) >= f.keepaliveEvery
}

// MarkPingSent records that a PING was just sent.
func (f *FSM) MarkPingSent(now time.Time) {
	f.lastPingSent = now
}

// MarkPongReceived records that a PONG just arrived.
func (f *FSM) MarkPongReceived(now time.Time) {
	f.lastPongReceived = now
}

// ConnectionLost reports whether the pong timeout has elapsed.
func (f *FSM) ConnectionLost(now time.Time) bool {
	return now.Sub(f.lastPongReceived) > f.pongTimeout
}

// EnterReconnecting transitions to Reconnecting and reports whether the
// caller should actually retry: false means reconnection is disabled or the
// attempt budget is exhausted and the FSM should settle into Disconnected.
func (f *FSM) EnterReconnecting() bool {
	f.State = Reconnecting
	if !f.autoReconnect || (f.maxAttempts > 0 && f.attempt >= f.maxAttempts) {
		f.State = Disconnected
		return false
	}
	return true
}

// NextBackoff returns the delay to sleep before the next handshake attempt,
// then doubles it (capped at maxBackoff) and advances the attempt counter,
// per §4.6's reconnection policy: 1s, 2s, 4s, ..., capped at 60s.
func (f *FSM) NextBackoff() time.Duration {
	delay := f.backoff
	f.attempt++
	f.backoff *= 2
	if f.backoff > maxBackoff {
		f.backoff = maxBackoff
	}
	return delay
}

// ScrubSessionKey zeroes the session key, per §4.6 shutdown.
func (f *FSM) ScrubSessionKey() {
	vpncrypto.ZeroArray(&f.sessionKey)
}
