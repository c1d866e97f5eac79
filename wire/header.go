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

// Package wire implements the VPN tunnel's on-the-wire packet format: a
// fixed 16-byte header followed by a type-specific payload.
package wire

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// PacketType identifies the kind of VPN packet carried after the header.
type PacketType uint8

const (
	ConnectReq  PacketType = 0x01
	ConnectResp PacketType = 0x02
	Data        PacketType = 0x03
	Ping        PacketType = 0x04
	Pong        PacketType = 0x05
	Disconnect  PacketType = 0x06
)

func (t PacketType) String() string {
	switch t {
	case ConnectReq:
		return "CONNECT_REQ"
	case ConnectResp:
		return "CONNECT_RESP"
	case Data:
		return "DATA"
	case Ping:
		return "PING"
	case Pong:
		return "PONG"
	case Disconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

const (
	// ProtocolVersion is the only version this codec accepts.
	ProtocolVersion uint8 = 0x01

	// HeaderSize is the fixed size of every VPN wire frame's header.
	HeaderSize = 16
)

// Header is the 16-byte prefix carried by every VPN wire frame.
type Header struct {
	Type      PacketType
	Version   uint8
	Length    uint16 // payload length in bytes
	Sequence  uint32 // per-sender monotonic counter, informational
	Timestamp uint64 // sender wall-clock ms, informational
}

// SequenceCounter is a small piece of per-sender state: a monotonic counter
// incremented before use, as required by §4.1. It is not a package-level
// global; each sender (the gateway's dispatcher, shared across all of its
// clients, or the client process itself) owns one.
type SequenceCounter struct {
	n uint32
}

// Next increments and returns the counter's new value.
func (c *SequenceCounter) Next() uint32 {
	return atomic.AddUint32(&c.n, 1)
}

// EncodeHeader writes a 16-byte header into buf[:16]. buf must be at least
// HeaderSize bytes. version is always ProtocolVersion; the timestamp is the
// current wall-clock time in milliseconds.
func EncodeHeader(buf []byte, typ PacketType, length uint16, seq uint32) {
	_ = buf[HeaderSize-1] // bounds check hint
	buf[0] = byte(typ)
	buf[1] = ProtocolVersion
	binary.BigEndian.PutUint16(buf[2:4], length)
	binary.BigEndian.PutUint32(buf[4:8], seq)
	binary.BigEndian.PutUint64(buf[8:16], uint64(time.Now().UnixMilli()))
}

// DecodeHeader parses and validates the header of a received frame. It fails
// if the buffer is shorter than HeaderSize, the version does not match, or
// the declared payload length exceeds what was actually received.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.Errorf("wire: short frame: %d bytes, need at least %d", len(buf), HeaderSize)
	}

	h := Header{
		Type:      PacketType(buf[0]),
		Version:   buf[1],
		Length:    binary.BigEndian.Uint16(buf[2:4]),
		Sequence:  binary.BigEndian.Uint32(buf[4:8]),
		Timestamp: binary.BigEndian.Uint64(buf[8:16]),
	}

	if h.Version != ProtocolVersion {
		return Header{}, errors.Errorf("wire: unsupported version %d", h.Version)
	}

	if int(h.Length) > len(buf)-HeaderSize {
		return Header{}, errors.Errorf("wire: declared length %d exceeds received payload %d", h.Length, len(buf)-HeaderSize)
	}

	return h, nil
}

// Payload returns the payload bytes following a validated header, sized
// according to the header's declared length rather than the whole buffer.
func Payload(buf []byte, h Header) []byte {
	return buf[HeaderSize : HeaderSize+int(h.Length)]
}
