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

	"github.com/xtaci/vpntun/std"
	"github.com/xtaci/vpntun/tunif"
)

const (
	loopTimeout   = time.Second
	sweepInterval = 30 * time.Second
)

type udpPacket struct {
	data []byte
	from *net.UDPAddr
}

// Loop is the gateway's single-threaded, level-triggered event processor
// (§4.5). Two reader goroutines feed it from the UDP socket and the TUN
// device; everything that mutates the dispatcher's state happens on the
// one goroutine running Run, matching the single-task-owns-mutation
// discipline of §5.
type Loop struct {
	conn       *net.UDPConn
	tun        tunif.Device
	dispatcher *Dispatcher
	stop       chan struct{}
}

// NewLoop wires a Loop around an already-bound UDP socket and TUN device.
func NewLoop(conn *net.UDPConn, tun tunif.Device, dispatcher *Dispatcher) *Loop {
	return &Loop{conn: conn, tun: tun, dispatcher: dispatcher, stop: make(chan struct{})}
}

// Stop requests the loop to exit at its next iteration (§5 cancellation).
func (l *Loop) Stop() {
	close(l.stop)
}

// Run drives the gateway event loop until Stop is called or the enclave is
// found to be gone.
func (l *Loop) Run() {
	udpCh := make(chan udpPacket, 64)
	tunCh := make(chan []byte, 64)

	go l.readUDP(udpCh)
	go l.readTUN(tunCh)

	lastSweep := time.Now()
	ticker := time.NewTicker(loopTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return

		case pkt := <-udpCh:
			udpReply, tunFrame := l.dispatcher.Ingress(pkt.data, pkt.from, time.Now())
			if udpReply != nil {
				if _, err := l.conn.WriteToUDP(udpReply, pkt.from); err != nil {
					log.Println("gateway: udp write:", err)
				}
			}
			if tunFrame != nil {
				if _, err := l.tun.Write(tunFrame); err != nil {
					log.Println("gateway: tun write:", err)
				}
			}

		case pkt := <-tunCh:
			frame, dest := l.dispatcher.Egress(pkt, time.Now())
			if frame != nil && dest != nil {
				if _, err := l.conn.WriteToUDP(frame, dest); err != nil {
					log.Println("gateway: udp write:", err)
				}
			}

		case now := <-ticker.C:
			if now.Sub(lastSweep) >= sweepInterval {
				l.dispatcher.Maintenance(now)
				lastSweep = now
			}
			if !l.dispatcher.EnclaveAlive() {
				log.Println("gateway: enclave unreachable, shutting down")
				return
			}
		}
	}
}

func (l *Loop) readUDP(out chan<- udpPacket) {
	buf := make([]byte, maxPacket)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.stop:
				return
			default:
			}
			log.Println("gateway: udp read:", err)
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case out <- udpPacket{data: cp, from: from}:
		case <-l.stop:
			return
		}
	}
}

func (l *Loop) readTUN(out chan<- []byte) {
	buf := make([]byte, maxPacket)
	for {
		n, err := l.tun.Read(buf)
		if err != nil {
			select {
			case <-l.stop:
				return
			default:
			}
			log.Println("gateway: tun read:", err)
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case out <- cp:
		case <-l.stop:
			return
		}
	}
}

// statsCounters exposes the dispatcher's counters to the stats logger
// without leaking the dispatcher itself.
func (l *Loop) statsCounters() *std.Counters {
	return l.dispatcher.counters
}
