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

// Package ipc implements the framed request/response protocol the gateway
// uses to talk to the enclave over a local stream socket (§4.2). Requests
// are strictly serialized: one outstanding request per connection at a
// time.
package ipc

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Command identifies an enclave operation.
type Command uint8

const (
	Ping      Command = 0x01
	Encrypt   Command = 0x02
	Decrypt   Command = 0x03
	AddKey    Command = 0x04
	RemoveKey Command = 0x05
	Handshake Command = 0x06
	Shutdown  Command = 0xFF
)

func (c Command) String() string {
	switch c {
	case Ping:
		return "PING"
	case Encrypt:
		return "ENCRYPT"
	case Decrypt:
		return "DECRYPT"
	case AddKey:
		return "ADD_KEY"
	case RemoveKey:
		return "REMOVE_KEY"
	case Handshake:
		return "HANDSHAKE"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

const (
	// MaxDataLen is the IPC protocol's data-section cap (§4.2).
	MaxDataLen = 4096

	requestHeaderSize  = 1 + 4 + 4 + 2
	responseHeaderSize = 4 + 1 + 2
)

// Request is one IPC request: a command, a client-assigned request id used
// to match the response, the client's VPN IP, and a variable-length data
// section.
type Request struct {
	Command   Command
	RequestID uint32
	VPNIP     uint32
	Data      []byte
}

// Response is the enclave's reply: the echoed request id, a signed status
// (0 success, -1 failure), and a variable-length data section.
type Response struct {
	RequestID uint32
	Status    int8
	Data      []byte
}

// Ok reports whether the response indicates success.
func (r Response) Ok() bool { return r.Status == 0 }

// WriteRequest serializes req to w: fixed header first, then exactly
// len(req.Data) bytes.
func WriteRequest(w io.Writer, req Request) error {
	if len(req.Data) > MaxDataLen {
		return errors.Errorf("ipc: request data_len %d exceeds max %d", len(req.Data), MaxDataLen)
	}
	buf := make([]byte, requestHeaderSize+len(req.Data))
	buf[0] = byte(req.Command)
	binary.BigEndian.PutUint32(buf[1:5], req.RequestID)
	binary.BigEndian.PutUint32(buf[5:9], req.VPNIP)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(req.Data)))
	copy(buf[requestHeaderSize:], req.Data)

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "ipc: write request")
	}
	return nil
}

// ReadRequest reads the fixed header, then exactly data_len bytes. A short
// read, a data_len above MaxDataLen, or a closed peer are hard errors.
func ReadRequest(r io.Reader) (Request, error) {
	var hdr [requestHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Request{}, errors.Wrap(err, "ipc: read request header")
	}

	dataLen := binary.BigEndian.Uint16(hdr[9:11])
	if int(dataLen) > MaxDataLen {
		return Request{}, errors.Errorf("ipc: request data_len %d exceeds max %d", dataLen, MaxDataLen)
	}

	data := make([]byte, dataLen)
	if dataLen > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return Request{}, errors.Wrap(err, "ipc: read request data")
		}
	}

	return Request{
		Command:   Command(hdr[0]),
		RequestID: binary.BigEndian.Uint32(hdr[1:5]),
		VPNIP:     binary.BigEndian.Uint32(hdr[5:9]),
		Data:      data,
	}, nil
}

// WriteResponse serializes resp to w.
func WriteResponse(w io.Writer, resp Response) error {
	if len(resp.Data) > MaxDataLen {
		return errors.Errorf("ipc: response data_len %d exceeds max %d", len(resp.Data), MaxDataLen)
	}
	buf := make([]byte, responseHeaderSize+len(resp.Data))
	binary.BigEndian.PutUint32(buf[0:4], resp.RequestID)
	buf[4] = byte(resp.Status)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(resp.Data)))
	copy(buf[responseHeaderSize:], resp.Data)

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "ipc: write response")
	}
	return nil
}

// ReadResponse reads a full response: fixed header, then exactly data_len
// bytes. No partial delivery is ever accepted as a complete message.
func ReadResponse(r io.Reader) (Response, error) {
	var hdr [responseHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Response{}, errors.Wrap(err, "ipc: read response header")
	}

	dataLen := binary.BigEndian.Uint16(hdr[5:7])
	if int(dataLen) > MaxDataLen {
		return Response{}, errors.Errorf("ipc: response data_len %d exceeds max %d", dataLen, MaxDataLen)
	}

	data := make([]byte, dataLen)
	if dataLen > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return Response{}, errors.Wrap(err, "ipc: read response data")
		}
	}

	return Response{
		RequestID: binary.BigEndian.Uint32(hdr[0:4]),
		Status:    int8(hdr[4]),
		Data:      data,
	}, nil
}
