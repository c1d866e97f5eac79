package main

import (
	"net"
	"testing"

	"github.com/xtaci/vpntun/ipc"
	"github.com/xtaci/vpntun/vpncrypto"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(fakeListener{}, false)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

// fakeListener stands in for a net.Listener so tests can exercise
// handleShutdown's Close call without a real socket.
type fakeListener struct{}

func (fakeListener) Accept() (net.Conn, error) { select {} }
func (fakeListener) Close() error              { return nil }
func (fakeListener) Addr() net.Addr            { return fakeAddr{} }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake" }

func TestPingRepliesSuccessWithNoData(t *testing.T) {
	s := newTestService(t)
	resp := s.Handle(ipc.Request{Command: ipc.Ping})
	if !resp.Ok() || len(resp.Data) != 0 {
		t.Fatalf("expected empty success response, got %+v", resp)
	}
}

func TestHandshakeInstallsKeyAndRepliesServerPubAndSessionKey(t *testing.T) {
	s := newTestService(t)
	clientKP, err := vpncrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	resp := s.Handle(ipc.Request{Command: ipc.Handshake, VPNIP: 0x0A080002, Data: clientKP.Public[:]})
	if !resp.Ok() {
		t.Fatalf("expected successful handshake")
	}
	if len(resp.Data) != 2*vpncrypto.KeySize {
		t.Fatalf("expected server_pub||session_key (%d bytes), got %d", 2*vpncrypto.KeySize, len(resp.Data))
	}

	var serverPub [32]byte
	copy(serverPub[:], resp.Data[:32])
	if serverPub != s.identity.Public {
		t.Fatalf("expected the reply to carry the enclave's own public key")
	}

	expectedShared, err := vpncrypto.SharedSecret(clientKP.Private(), s.identity.Public)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	expectedSessionKey := vpncrypto.DeriveSessionKey(expectedShared)

	var gotSessionKey [32]byte
	copy(gotSessionKey[:], resp.Data[32:])
	if gotSessionKey != expectedSessionKey {
		t.Fatalf("expected client and enclave to agree on the derived session key")
	}

	key, found := s.keys.Get(vpnIPBytes(0x0A080002))
	if !found || key != expectedSessionKey {
		t.Fatalf("expected the session key to be installed in the key table under the requested vpn_ip")
	}
}

func TestHandshakeRejectsWrongSizedPublicKey(t *testing.T) {
	s := newTestService(t)
	resp := s.Handle(ipc.Request{Command: ipc.Handshake, VPNIP: 1, Data: []byte{1, 2, 3}})
	if resp.Ok() {
		t.Fatalf("expected a malformed public key to be rejected")
	}
}

func TestEncryptDecryptRoundTripThroughKeyTable(t *testing.T) {
	s := newTestService(t)
	vpnIP := uint32(0x0A080003)
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	if resp := s.Handle(ipc.Request{Command: ipc.AddKey, VPNIP: vpnIP, Data: key[:]}); !resp.Ok() {
		t.Fatalf("expected ADD_KEY to succeed")
	}

	plaintext := []byte("encapsulated ip packet")
	encResp := s.Handle(ipc.Request{Command: ipc.Encrypt, VPNIP: vpnIP, Data: plaintext})
	if !encResp.Ok() {
		t.Fatalf("expected ENCRYPT to succeed")
	}
	if len(encResp.Data) != vpncrypto.NonceSize+len(plaintext)+vpncrypto.TagSize {
		t.Fatalf("unexpected sealed length %d", len(encResp.Data))
	}

	decResp := s.Handle(ipc.Request{Command: ipc.Decrypt, VPNIP: vpnIP, Data: encResp.Data})
	if !decResp.Ok() {
		t.Fatalf("expected DECRYPT to succeed")
	}
	if string(decResp.Data) != string(plaintext) {
		t.Fatalf("expected round-tripped plaintext %q, got %q", plaintext, decResp.Data)
	}
}

func TestEncryptFailsWithoutAnInstalledKey(t *testing.T) {
	s := newTestService(t)
	resp := s.Handle(ipc.Request{Command: ipc.Encrypt, VPNIP: 0x0A080099, Data: []byte("x")})
	if resp.Ok() {
		t.Fatalf("expected ENCRYPT to fail for an unknown vpn_ip")
	}
}

func TestDecryptRejectsShortData(t *testing.T) {
	s := newTestService(t)
	vpnIP := uint32(0x0A080004)
	var key [32]byte
	s.Handle(ipc.Request{Command: ipc.AddKey, VPNIP: vpnIP, Data: key[:]})

	resp := s.Handle(ipc.Request{Command: ipc.Decrypt, VPNIP: vpnIP, Data: []byte("too short")})
	if resp.Ok() {
		t.Fatalf("expected DECRYPT to reject data shorter than nonce+tag")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	s := newTestService(t)
	vpnIP := uint32(0x0A080005)
	var key [32]byte
	for i := range key {
		key[i] = byte(2 * i)
	}
	s.Handle(ipc.Request{Command: ipc.AddKey, VPNIP: vpnIP, Data: key[:]})

	encResp := s.Handle(ipc.Request{Command: ipc.Encrypt, VPNIP: vpnIP, Data: []byte("hello")})
	tampered := append([]byte{}, encResp.Data...)
	tampered[len(tampered)-1] ^= 0xFF

	decResp := s.Handle(ipc.Request{Command: ipc.Decrypt, VPNIP: vpnIP, Data: tampered})
	if decResp.Ok() {
		t.Fatalf("expected a tampered ciphertext to fail authentication")
	}
	if len(decResp.Data) != 0 {
		t.Fatalf("expected no plaintext to leak on authentication failure")
	}
}

func TestAddKeyFailsWhenTableIsFull(t *testing.T) {
	s := newTestService(t)
	var key [32]byte
	for i := 0; i < vpncrypto.MaxKeys; i++ {
		vpnIP := uint32(i + 1)
		if resp := s.Handle(ipc.Request{Command: ipc.AddKey, VPNIP: vpnIP, Data: key[:]}); !resp.Ok() {
			t.Fatalf("insert %d: expected success while the table has room", i)
		}
	}
	resp := s.Handle(ipc.Request{Command: ipc.AddKey, VPNIP: uint32(vpncrypto.MaxKeys + 1), Data: key[:]})
	if resp.Ok() {
		t.Fatalf("expected ADD_KEY to fail once the table is full")
	}
}

func TestRemoveKeyIsIdempotentAndDisablesFurtherUse(t *testing.T) {
	s := newTestService(t)
	vpnIP := uint32(0x0A080006)
	var key [32]byte
	s.Handle(ipc.Request{Command: ipc.AddKey, VPNIP: vpnIP, Data: key[:]})

	if resp := s.Handle(ipc.Request{Command: ipc.RemoveKey, VPNIP: vpnIP}); !resp.Ok() {
		t.Fatalf("expected REMOVE_KEY to succeed")
	}
	if resp := s.Handle(ipc.Request{Command: ipc.RemoveKey, VPNIP: vpnIP}); !resp.Ok() {
		t.Fatalf("expected a repeat REMOVE_KEY to be a harmless no-op")
	}

	if resp := s.Handle(ipc.Request{Command: ipc.Encrypt, VPNIP: vpnIP, Data: []byte("x")}); resp.Ok() {
		t.Fatalf("expected ENCRYPT to fail once the key has been removed")
	}
}

func TestUnknownCommandFails(t *testing.T) {
	s := newTestService(t)
	resp := s.Handle(ipc.Request{Command: ipc.Command(0x7F)})
	if resp.Ok() {
		t.Fatalf("expected an unrecognized command to fail")
	}
}

func TestShutdownRepliesSuccess(t *testing.T) {
	s := newTestService(t)
	resp := s.Handle(ipc.Request{Command: ipc.Shutdown})
	if !resp.Ok() {
		t.Fatalf("expected SHUTDOWN to reply success")
	}
}
