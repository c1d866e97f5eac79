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
	"log"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/xtaci/vpntun/tunif"
	"github.com/xtaci/vpntun/wire"
)

const loopTimeout = time.Second

// Session runs the client peer's state machine end to end (§4.6): it owns
// the FSM, the TUN interface (reused across reconnects), and drives
// Handshaking -> Connected -> Reconnecting until told to stop.
type Session struct {
	fsm        *FSM
	remoteAddr *net.UDPAddr
	tunName    string

	tun  tunif.Device
	conn *net.UDPConn
	stop chan struct{}
}

// NewSession builds a Session for the given remote gateway address.
func NewSession(fsm *FSM, remoteAddr *net.UDPAddr, tunName string) *Session {
	return &Session{fsm: fsm, remoteAddr: remoteAddr, tunName: tunName, stop: make(chan struct{})}
}

// Stop requests the session to tear down at its next opportunity.
func (s *Session) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Run drives the FSM until Stop is called or reconnection is exhausted.
func (s *Session) Run() error {
	for {
		select {
		case <-s.stop:
			return nil
		default:
		}

		switch s.fsm.State {
		case Disconnected, Reconnecting:
			if s.fsm.State == Reconnecting {
				delay := s.fsm.NextBackoff()
				select {
				case <-time.After(delay):
				case <-s.stop:
					return nil
				}
			}
			s.fsm.State = Handshaking

		case Handshaking:
			if err := s.handshake(); err != nil {
				log.Println("client: handshake failed:", err)
				if !s.fsm.EnterReconnecting() {
					return errors.Wrap(err, "client: giving up after handshake failure")
				}
				continue
			}
			s.fsm.EnterConnected(time.Now())

		case Connected:
			if err := s.ensureTun(); err != nil {
				return err
			}
			lost := s.runConnected()
			if lost {
				if !s.fsm.EnterReconnecting() {
					return errors.New("client: connection lost and reconnection exhausted")
				}
			} else {
				return nil // clean shutdown requested
			}
		}
	}
}

func (s *Session) ensureTun() error {
	if s.tun != nil {
		return nil
	}
	dev, err := tunif.Open(s.tunName)
	if err != nil {
		return errors.Wrap(err, "client: open tun")
	}
	addr := uint32ToVPNIP(s.fsm.VPNIP)
	if err := tunif.Configure(dev, addr); err != nil {
		color.Red("WARNING: tun configure failed, interface may be unusable: %v", err)
	}
	s.tun = dev
	return nil
}

func uint32ToVPNIP(v uint32) [4]byte {
	return [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// ensureConn lazily dials the gateway once and keeps the socket for the
// life of the Session. The gateway registers a client by the source address
// of its CONNECT_REQ and routes data-plane traffic back to that same
// (ip, port); handshake and datapath must therefore share one socket (§4.6).
func (s *Session) ensureConn() error {
	if s.conn != nil {
		return nil
	}
	conn, err := net.DialUDP("udp", nil, s.remoteAddr)
	if err != nil {
		return errors.Wrap(err, "client: dial gateway")
	}
	s.conn = conn
	return nil
}

// handshake sends CONNECT_REQ on the session's UDP socket and waits up to 5
// seconds for CONNECT_RESP (§4.6).
func (s *Session) handshake() error {
	if err := s.ensureConn(); err != nil {
		return err
	}

	req := s.fsm.BuildHandshakeRequest()
	if _, err := s.conn.Write(req); err != nil {
		return errors.Wrap(err, "client: send CONNECT_REQ")
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(handshakeWait)); err != nil {
		return errors.Wrap(err, "client: set read deadline")
	}

	buf := make([]byte, 2048)
	n, err := s.conn.Read(buf)
	if err != nil {
		return errors.Wrap(err, "client: CONNECT_RESP timed out")
	}
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return errors.Wrap(err, "client: clear read deadline")
	}

	hdr, err := wire.DecodeHeader(buf[:n])
	if err != nil {
		return errors.Wrap(err, "client: malformed CONNECT_RESP")
	}
	if hdr.Type != wire.ConnectResp {
		return errors.Errorf("client: expected CONNECT_RESP, got %v", hdr.Type)
	}

	return s.fsm.HandleConnectResp(wire.Payload(buf[:n], hdr))
}

// runConnected is the full-duplex datapath loop, structurally identical to
// the gateway's (§4.6): select over TUN and UDP with a 1-second timeout.
// It returns true if the connection was lost and a reconnect should be
// attempted, false on a clean shutdown request.
func (s *Session) runConnected() bool {
	if err := s.ensureConn(); err != nil {
		log.Println("client:", err)
		return true
	}

	udpCh := make(chan []byte, 64)
	tunCh := make(chan []byte, 64)
	readStop := make(chan struct{})
	defer close(readStop)

	go readLoop(s.conn, udpCh, readStop)
	go readLoop(s.tun, tunCh, readStop)

	ticker := time.NewTicker(loopTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.conn.Write(s.fsm.BuildDisconnect())
			s.fsm.ScrubSessionKey()
			return false

		case pkt, ok := <-udpCh:
			if !ok {
				return true
			}
			hdr, err := wire.DecodeHeader(pkt)
			if err != nil {
				continue
			}
			switch hdr.Type {
			case wire.Data:
				plain, err := s.fsm.DecryptInbound(wire.Payload(pkt, hdr))
				if err != nil {
					continue
				}
				s.tun.Write(plain)
			case wire.Pong:
				s.fsm.MarkPongReceived(time.Now())
			}

		case pkt, ok := <-tunCh:
			if !ok {
				return true
			}
			frame := s.fsm.EncryptOutbound(pkt)
			if frame != nil {
				s.conn.Write(frame)
			}

		case now := <-ticker.C:
			if s.fsm.ShouldPing(now) {
				s.conn.Write(s.fsm.BuildPing())
				s.fsm.MarkPingSent(now)
			}
			if s.fsm.ConnectionLost(now) {
				log.Println("client: pong timeout, connection lost")
				return true
			}
		}
	}
}

type reader interface {
	Read(p []byte) (int, error)
}

func readLoop(r reader, out chan<- []byte, stop <-chan struct{}) {
	defer close(out)
	buf := make([]byte, 2048)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case out <- cp:
		case <-stop:
			return
		}
	}
}
