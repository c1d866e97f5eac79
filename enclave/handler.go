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

	"github.com/xtaci/vpntun/ipc"
	"github.com/xtaci/vpntun/vpncrypto"
)

// Service is the enclave's key-custody core (§4.3). It owns the server
// identity keypair and the session-key table, and is the only thing in the
// process ever touched by plaintext key material. It is driven from the
// single goroutine running ipc.Server.Serve, so — like the gateway's
// Dispatcher and the client's FSM — it needs no internal locking of its
// own beyond what KeyTable already provides for testability.
type Service struct {
	identity vpncrypto.KeyPair
	keys     *vpncrypto.KeyTable
	listener net.Listener
	quiet    bool
}

// NewService builds a Service around a freshly-generated server identity.
func NewService(listener net.Listener, quiet bool) (*Service, error) {
	identity, err := vpncrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Service{
		identity: identity,
		keys:     vpncrypto.NewKeyTable(),
		listener: listener,
		quiet:    quiet,
	}, nil
}

func vpnIPBytes(v uint32) [4]byte {
	return [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func fail() ipc.Response {
	return ipc.Response{Status: -1}
}

func ok(data []byte) ipc.Response {
	return ipc.Response{Status: 0, Data: data}
}

// Handle dispatches one decoded request per §4.3's per-command behaviors.
// It is wired as the ipc.Handler passed to ipc.Server.Serve.
func (s *Service) Handle(req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.Ping:
		return s.handlePing()
	case ipc.AddKey:
		return s.handleAddKey(req)
	case ipc.RemoveKey:
		return s.handleRemoveKey(req)
	case ipc.Encrypt:
		return s.handleEncrypt(req)
	case ipc.Decrypt:
		return s.handleDecrypt(req)
	case ipc.Handshake:
		return s.handleHandshake(req)
	case ipc.Shutdown:
		return s.handleShutdown()
	default:
		if !s.quiet {
			log.Println("enclave: unknown command", req.Command)
		}
		return fail()
	}
}

func (s *Service) handlePing() ipc.Response {
	return ok(nil)
}

// handleAddKey installs a caller-supplied session key directly (§4.3
// ADD_KEY), as opposed to HANDSHAKE which derives one. Last-writer-wins for
// a vpn_ip that already has an active key, matching KeyTable.Add.
func (s *Service) handleAddKey(req ipc.Request) ipc.Response {
	if len(req.Data) != vpncrypto.KeySize {
		return fail()
	}
	var key [vpncrypto.KeySize]byte
	copy(key[:], req.Data)
	if err := s.keys.Add(vpnIPBytes(req.VPNIP), key); err != nil {
		return fail()
	}
	return ok(nil)
}

// handleRemoveKey scrubs and deactivates a key entry. Idempotent per §4.3.
func (s *Service) handleRemoveKey(req ipc.Request) ipc.Response {
	s.keys.Remove(vpnIPBytes(req.VPNIP))
	return ok(nil)
}

// handleEncrypt seals req.Data (a plaintext inner IP packet) under the
// session key for req.VPNIP, replying nonce ∥ ciphertext ∥ tag.
func (s *Service) handleEncrypt(req ipc.Request) ipc.Response {
	key, found := s.keys.Get(vpnIPBytes(req.VPNIP))
	if !found {
		return fail()
	}
	nonce, ciphertext, err := vpncrypto.Encrypt(key, req.Data)
	if err != nil {
		return fail()
	}
	sealed := make([]byte, 0, len(nonce)+len(ciphertext))
	sealed = append(sealed, nonce...)
	sealed = append(sealed, ciphertext...)
	return ok(sealed)
}

// handleDecrypt opens req.Data (nonce ∥ ciphertext ∥ tag) under the session
// key for req.VPNIP. Authentication failure never leaks plaintext (§4.3).
func (s *Service) handleDecrypt(req ipc.Request) ipc.Response {
	key, found := s.keys.Get(vpnIPBytes(req.VPNIP))
	if !found {
		return fail()
	}
	if len(req.Data) < vpncrypto.NonceSize+vpncrypto.TagSize {
		return fail()
	}
	nonce := req.Data[:vpncrypto.NonceSize]
	ciphertext := req.Data[vpncrypto.NonceSize:]
	plaintext, err := vpncrypto.Decrypt(key, nonce, ciphertext)
	if err != nil {
		return fail()
	}
	return ok(plaintext)
}

// handleHandshake runs the server side of the ECDH handshake (§4.3, §3):
// derive the session key from the client's public key and this enclave's
// identity, install it keyed by the request's vpn_ip, and reply with the
// server public key followed by the session key.
func (s *Service) handleHandshake(req ipc.Request) ipc.Response {
	if len(req.Data) != vpncrypto.KeySize {
		return fail()
	}
	var clientPub [vpncrypto.KeySize]byte
	copy(clientPub[:], req.Data)

	shared, err := vpncrypto.SharedSecret(s.identity.Private(), clientPub)
	if err != nil {
		if !s.quiet {
			log.Println("enclave: ECDH failed:", err)
		}
		return fail()
	}
	sessionKey := vpncrypto.DeriveSessionKey(shared)
	vpncrypto.ZeroArray(&shared)

	if err := s.keys.Add(vpnIPBytes(req.VPNIP), sessionKey); err != nil {
		return fail()
	}

	reply := make([]byte, 0, 2*vpncrypto.KeySize)
	reply = append(reply, s.identity.Public[:]...)
	reply = append(reply, sessionKey[:]...)
	return ok(reply)
}

// handleShutdown replies success then closes the listener so the next
// Accept in ipc.Server.Serve fails and the accept loop returns, letting
// main unwind into clean teardown (§4.3, §5 "unlinked... at clean
// shutdown").
func (s *Service) handleShutdown() ipc.Response {
	go s.listener.Close()
	return ok(nil)
}
