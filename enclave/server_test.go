package main

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/xtaci/vpntun/ipc"
	"github.com/xtaci/vpntun/vpncrypto"
)

// TestServeOverUnixSocketHandlesHandshakeAndShutdown exercises the full
// stack (net.Listen("unix", ...) -> ipc.Server -> Service.Handle ->
// ipc.Client) the way the gateway and enclave binaries actually wire it,
// rather than calling Service.Handle directly.
func TestServeOverUnixSocketHandlesHandshakeAndShutdown(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "enclave.sock")
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	service, err := NewService(listener, true)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	server := ipc.NewServer(listener)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(service.Handle) }()

	client, err := ipc.Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if resp, err := client.Call(ipc.Ping, 0, nil); err != nil || !resp.Ok() {
		t.Fatalf("PING: resp=%+v err=%v", resp, err)
	}

	clientKP, err := vpncrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	resp, err := client.Call(ipc.Handshake, 0x0A080002, clientKP.Public[:])
	if err != nil || !resp.Ok() {
		t.Fatalf("HANDSHAKE: resp=%+v err=%v", resp, err)
	}
	if len(resp.Data) != 2*vpncrypto.KeySize {
		t.Fatalf("expected a 64-byte HANDSHAKE reply, got %d bytes", len(resp.Data))
	}

	if _, err := client.Call(ipc.Shutdown, 0, nil); err != nil {
		t.Fatalf("SHUTDOWN: %v", err)
	}

	if err := <-serveErr; err == nil {
		t.Fatalf("expected Serve to return once SHUTDOWN closed the listener")
	}
}
