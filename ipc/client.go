package ipc

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrPeerGone is returned when the enclave connection has been lost.
var ErrPeerGone = errors.New("ipc: peer gone")

// Client is the gateway-side IPC client. It serializes request/response
// pairs — the next request is never sent until the prior response has been
// fully read (§4.2) — which also makes a single Client safe to share across
// goroutines, though in this codebase only the gateway's one dispatcher
// goroutine ever calls it.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	nextReq uint32
}

// Dial connects to the enclave's unix-domain socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, errors.Wrap(err, "ipc: dial enclave")
	}
	return NewClient(conn), nil
}

// NewClient wraps an already-established connection. Dial is the normal
// entry point; this is exposed directly so tests can substitute an
// in-memory net.Pipe for the unix socket.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends a request and blocks for the matching response. Any IPC
// failure here is treated as fatal to the in-flight packet by the caller
// (§4.2); repeated failures should drive the gateway to reconnect or exit.
func (c *Client) Call(cmd Command, vpnIP uint32, data []byte) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqID := atomic.AddUint32(&c.nextReq, 1)
	req := Request{Command: cmd, RequestID: reqID, VPNIP: vpnIP, Data: data}

	if err := WriteRequest(c.conn, req); err != nil {
		return Response{}, errors.Wrap(ErrPeerGone, err.Error())
	}

	resp, err := ReadResponse(c.conn)
	if err != nil {
		return Response{}, errors.Wrap(ErrPeerGone, err.Error())
	}
	if resp.RequestID != reqID {
		return Response{}, errors.Errorf("ipc: response id %d does not match request id %d", resp.RequestID, reqID)
	}
	return resp, nil
}
