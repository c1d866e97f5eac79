// Package fake provides an in-memory tunif.Device double so the gateway
// and client event loops can be exercised in tests without a real kernel
// interface.
package fake

import (
	"io"
)

// Device is a pipe-backed stand-in for a TUN interface: writes by the code
// under test land on Outbound for the test to receive directly; Inbound
// lets a test push a packet as though it arrived from the kernel.
type Device struct {
	name     string
	Inbound  chan []byte
	Outbound chan []byte
	closed   chan struct{}
}

// New returns a named fake device with buffered channels.
func New(name string) *Device {
	return &Device{
		name:     name,
		Inbound:  make(chan []byte, 64),
		Outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (d *Device) Name() string { return d.name }

// Read blocks until a packet is pushed via Inbound or the device is closed.
func (d *Device) Read(p []byte) (int, error) {
	select {
	case b, ok := <-d.Inbound:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, b), nil
	case <-d.closed:
		return 0, io.EOF
	}
}

// Write delivers a copy of p to Outbound for the test to observe.
func (d *Device) Write(p []byte) (int, error) {
	b := make([]byte, len(p))
	copy(b, p)
	select {
	case d.Outbound <- b:
	case <-d.closed:
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}

// Close unblocks any pending Read/Write and marks the device closed.
func (d *Device) Close() error {
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
	return nil
}

// Push injects an inbound packet, as if received from the kernel.
func (d *Device) Push(p []byte) {
	b := make([]byte, len(p))
	copy(b, p)
	d.Inbound <- b
}
