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
	"encoding/binary"
	"log"
	"net"
	"time"

	"github.com/xtaci/vpntun/clienttable"
	"github.com/xtaci/vpntun/ipc"
	"github.com/xtaci/vpntun/std"
	"github.com/xtaci/vpntun/wire"
)

const (
	gatewayVPNIP = "10.8.0.1" // reserved, never allocated to a client (§3)
	maxPacket    = 2048       // per-packet buffer cap (§5 resource caps)
)

// Dispatcher owns every piece of gateway state: the client table and the
// enclave IPC connection. It is never touched from more than one goroutine
// (§5 — "all state is owned by the loop; there is no locking because there
// is no sharing"), so none of its methods take a lock.
type Dispatcher struct {
	table       *clienttable.Table
	enclave     *ipc.Client
	counters    *std.Counters
	idleTimeout time.Duration
	seq         wire.SequenceCounter
}

// NewDispatcher builds a Dispatcher around an already-connected enclave
// client and an empty client table.
func NewDispatcher(enclave *ipc.Client, idleTimeout time.Duration, counters *std.Counters) *Dispatcher {
	return &Dispatcher{
		table:       clienttable.New(),
		enclave:     enclave,
		counters:    counters,
		idleTimeout: idleTimeout,
	}
}

func vpnIPToUint32(ip [4]byte) uint32 {
	return binary.BigEndian.Uint32(ip[:])
}

func uint32ToVPNIP(v uint32) [4]byte {
	var ip [4]byte
	binary.BigEndian.PutUint32(ip[:], v)
	return ip
}

// Ingress handles one received UDP datagram (§4.5). It returns a non-nil
// udpReply when a frame must be sent back to from, and a non-nil tunFrame
// when plaintext must be written to the TUN device.
func (d *Dispatcher) Ingress(pkt []byte, from *net.UDPAddr, now time.Time) (udpReply, tunFrame []byte) {
	h, err := wire.DecodeHeader(pkt)
	if err != nil {
		log.Println("gateway: dropping malformed frame from", from, ":", err)
		return nil, nil
	}
	payload := wire.Payload(pkt, h)
	d.counters.PacketsIn++

	switch h.Type {
	case wire.ConnectReq:
		return d.handleConnectReq(payload, from, now), nil
	case wire.Data:
		return nil, d.handleData(payload, from, now)
	case wire.Ping:
		return d.handlePing(from, now), nil
	case wire.Disconnect:
		d.handleDisconnect(from)
		return nil, nil
	default:
		d.counters.UnknownType++
		log.Println("gateway: unknown packet type from", from, ":", h.Type)
		return nil, nil
	}
}

func (d *Dispatcher) handleConnectReq(payload []byte, from *net.UDPAddr, now time.Time) []byte {
	req, err := wire.ParseConnectRequest(payload)
	if err != nil {
		log.Println("gateway: bad CONNECT_REQ from", from, ":", err)
		return nil
	}

	// A repeat CONNECT_REQ from an address already in the table is a retry,
	// not a re-key: refresh activity and hand back the existing vpn_ip
	// instead of allocating a second slot and re-running the handshake.
	if idx, existing := d.table.LookupByAddr(from); existing != nil {
		d.table.Touch(idx, now)
		buf := make([]byte, wire.HeaderSize+64)
		n := wire.BuildConnectResponse(buf, d.seq.Next(), wire.ConnectResponse{
			Status:       0,
			VPNIP:        vpnIPToUint32(existing.VPNIP),
			SessionID:    existing.SessionID,
			ServerPubKey: existing.ServerPubKey,
		})
		return buf[:n]
	}

	entry, err := d.table.Insert(from, d.seq.Next(), now)
	if err != nil {
		d.counters.ConnectsFailed++
		return d.failConnectResp(err.Error())
	}

	resp, err := d.enclave.Call(ipc.Handshake, vpnIPToUint32(entry.VPNIP), req.AuthToken[:])
	if err != nil || !resp.Ok() {
		d.table.Remove(entry.VPNIP)
		d.counters.ConnectsFailed++
		if err != nil {
			log.Println("gateway: enclave handshake failed:", err)
		}
		return d.failConnectResp("handshake failed")
	}
	if len(resp.Data) < 32 {
		d.table.Remove(entry.VPNIP)
		d.counters.ConnectsFailed++
		return d.failConnectResp("malformed enclave handshake response")
	}

	var serverPub [32]byte
	copy(serverPub[:], resp.Data[:32])

	if eidx, _ := d.table.LookupByVPNIP(entry.VPNIP); eidx >= 0 {
		d.table.SetServerPubKey(eidx, serverPub)
	}

	buf := make([]byte, wire.HeaderSize+64)
	n := wire.BuildConnectResponse(buf, d.seq.Next(), wire.ConnectResponse{
		Status:       0,
		VPNIP:        vpnIPToUint32(entry.VPNIP),
		SessionID:    entry.SessionID,
		ServerPubKey: serverPub,
	})
	return buf[:n]
}

func (d *Dispatcher) failConnectResp(reason string) []byte {
	log.Println("gateway: CONNECT_REQ rejected:", reason)
	buf := make([]byte, wire.HeaderSize+64)
	n := wire.BuildConnectResponse(buf, d.seq.Next(), wire.ConnectResponse{Status: 1})
	return buf[:n]
}

func (d *Dispatcher) handleData(payload []byte, from *net.UDPAddr, now time.Time) []byte {
	idx, entry := d.table.LookupByAddr(from)
	if entry == nil {
		return nil
	}
	d.table.Touch(idx, now)

	sealed, err := wire.ParseData(payload)
	if err != nil {
		return nil
	}

	resp, err := d.enclave.Call(ipc.Decrypt, vpnIPToUint32(entry.VPNIP), sealed)
	if err != nil || !resp.Ok() {
		d.counters.DecryptFailed++
		return nil
	}
	return resp.Data
}

func (d *Dispatcher) handlePing(from *net.UDPAddr, now time.Time) []byte {
	idx, entry := d.table.LookupByAddr(from)
	if entry == nil {
		return nil
	}
	d.table.Touch(idx, now)

	buf := make([]byte, wire.HeaderSize)
	n := wire.BuildControl(buf, wire.Pong, d.seq.Next())
	return buf[:n]
}

func (d *Dispatcher) handleDisconnect(from *net.UDPAddr) {
	_, entry := d.table.LookupByAddr(from)
	if entry == nil {
		return
	}
	d.enclave.Call(ipc.RemoveKey, vpnIPToUint32(entry.VPNIP), nil)
	d.table.RemoveByAddr(from)
}

// Egress handles one packet read from the TUN device (§4.5). It returns a
// non-nil frame and destination address when the packet should be sent on
// the wire; both are nil when the packet is dropped.
func (d *Dispatcher) Egress(pkt []byte, now time.Time) ([]byte, *net.UDPAddr) {
	if len(pkt) < 20 {
		return nil, nil
	}
	version := pkt[0] >> 4
	if version == 6 {
		return nil, nil // IPv6 unsupported (§4.5)
	}
	if version != 4 {
		return nil, nil
	}

	var dst [4]byte
	copy(dst[:], pkt[16:20])

	idx, entry := d.table.LookupByVPNIP(dst)
	if entry == nil {
		return nil, nil
	}

	resp, err := d.enclave.Call(ipc.Encrypt, vpnIPToUint32(entry.VPNIP), pkt)
	if err != nil || !resp.Ok() {
		log.Println("gateway: encrypt failed for", entry.VPNIP, ":", err)
		return nil, nil
	}

	buf := make([]byte, wire.HeaderSize+len(resp.Data))
	n := wire.BuildData(buf, d.seq.Next(), resp.Data)
	d.table.Touch(idx, now)
	d.counters.PacketsOut++
	return buf[:n], entry.Addr
}

// Maintenance runs the periodic idle sweep and reports the still-active
// client count (§4.4, §4.5). Evicted clients' keys are purged from the
// enclave.
func (d *Dispatcher) Maintenance(now time.Time) []clienttable.Entry {
	evicted := d.table.SweepIdle(now, d.idleTimeout)
	for _, e := range evicted {
		d.enclave.Call(ipc.RemoveKey, vpnIPToUint32(e.VPNIP), nil)
	}
	d.counters.ActiveClients = uint64(d.table.Count())
	return evicted
}

// EnclaveAlive performs a liveness check against the enclave process,
// matching §4.5's "liveness check that the enclave process still exists."
func (d *Dispatcher) EnclaveAlive() bool {
	_, err := d.enclave.Call(ipc.Ping, 0, nil)
	return err == nil
}
