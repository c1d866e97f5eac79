package main

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/vpntun/tunif/fake"
	"github.com/xtaci/vpntun/vpncrypto"
	"github.com/xtaci/vpntun/wire"
)

// TestRunConnectedFullDuplexOverRealUDP exercises the client's datapath loop
// end to end: a fake TUN device stands in for the kernel, a real loopback
// UDP socket stands in for the gateway. This wires tunif/fake through the
// same Session.runConnected code path main.go drives in production, rather
// than calling FSM encrypt/decrypt helpers directly.
func TestRunConnectedFullDuplexOverRealUDP(t *testing.T) {
	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer peerConn.Close()

	fsm := newTestFSM(t)
	serverKP, err := vpncrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	fsm.BuildHandshakeRequest()
	shared, err := vpncrypto.SharedSecret(serverKP.Private(), fsm.keyPair.Public)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	peerSessKey := vpncrypto.DeriveSessionKey(shared)

	buf := make([]byte, wire.HeaderSize+64)
	n := wire.BuildConnectResponse(buf, 1, wire.ConnectResponse{Status: 0, ServerPubKey: serverKP.Public})
	hdr, _ := wire.DecodeHeader(buf[:n])
	if err := fsm.HandleConnectResp(wire.Payload(buf[:n], hdr)); err != nil {
		t.Fatalf("HandleConnectResp: %v", err)
	}
	fsm.EnterConnected(time.Now())

	tunDev := fake.New("tun-test")
	session := NewSession(fsm, peerConn.LocalAddr().(*net.UDPAddr), "tun-test")
	session.tun = tunDev

	done := make(chan bool, 1)
	go func() { done <- session.runConnected() }()

	// Egress: a packet pushed onto the fake TUN should arrive at the peer,
	// encrypted, as a DATA frame.
	innerPacket := []byte("inner-ip-packet-outbound")
	tunDev.Push(innerPacket)

	peerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	recvBuf := make([]byte, 2048)
	n, clientAddr, err := peerConn.ReadFromUDP(recvBuf)
	if err != nil {
		t.Fatalf("peer ReadFromUDP: %v", err)
	}
	frame := recvBuf[:n]
	fHdr, err := wire.DecodeHeader(frame)
	if err != nil || fHdr.Type != wire.Data {
		t.Fatalf("expected a DATA frame from the client, got header=%+v err=%v", fHdr, err)
	}
	sealed, err := wire.ParseData(wire.Payload(frame, fHdr))
	if err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	got, err := vpncrypto.Decrypt(peerSessKey, sealed[:vpncrypto.NonceSize], sealed[vpncrypto.NonceSize:])
	if err != nil {
		t.Fatalf("peer Decrypt: %v", err)
	}
	if string(got) != string(innerPacket) {
		t.Fatalf("expected %q, got %q", innerPacket, got)
	}

	// Ingress: a DATA frame sent by the peer should arrive decrypted on the
	// fake TUN's Outbound channel.
	reply := []byte("inner-ip-packet-inbound")
	nonce, ct, err := vpncrypto.Encrypt(peerSessKey, reply)
	if err != nil {
		t.Fatalf("peer Encrypt: %v", err)
	}
	sealedReply := append(append([]byte{}, nonce...), ct...)
	dbuf := make([]byte, wire.HeaderSize+len(sealedReply))
	dn := wire.BuildData(dbuf, 99, sealedReply)
	if _, err := peerConn.WriteToUDP(dbuf[:dn], clientAddr); err != nil {
		t.Fatalf("peer WriteToUDP: %v", err)
	}

	select {
	case out := <-tunDev.Outbound:
		if string(out) != string(reply) {
			t.Fatalf("expected tun to receive %q, got %q", reply, out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for decrypted packet to reach the fake tun")
	}

	session.Stop()
	select {
	case lost := <-done:
		if lost {
			t.Fatalf("expected a clean shutdown (lost=false), got lost=true")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runConnected did not return after Stop")
	}
}
