package ipc

import (
	"log"
	"net"

	"github.com/pkg/errors"
)

// Handler processes one decoded request and returns the response to send
// back. It is called from the single accept/serve goroutine — the enclave
// is single-threaded per §4.3 — so it may touch enclave state without
// further synchronization.
type Handler func(Request) Response

// Server is the enclave-side IPC listener. Per §4.3, only one gateway is
// served at a time: if a second connection arrives, the first is drained
// (its loop runs to completion, i.e. until it errors or the peer closes)
// before the next Accept is serviced — which, for a blocking accept loop,
// simply falls out of serveConn returning before the next iteration's
// Accept call.
type Server struct {
	listener net.Listener
}

// NewServer wraps an already-bound listener (typically a unix-domain
// socket) for sequential single-connection service.
func NewServer(listener net.Listener) *Server {
	return &Server{listener: listener}
}

// Serve accepts connections one at a time and processes each to
// completion via handler before accepting the next. It returns when the
// listener is closed.
func (s *Server) Serve(handler Handler) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return errors.Wrap(err, "ipc: accept")
		}
		s.serveConn(conn, handler)
	}
}

func (s *Server) serveConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	for {
		req, err := ReadRequest(conn)
		if err != nil {
			log.Println("ipc: connection terminated:", err)
			return
		}

		resp := handler(req)
		resp.RequestID = req.RequestID

		if err := WriteResponse(conn, resp); err != nil {
			log.Println("ipc: failed to write response:", err)
			return
		}

		if req.Command == Shutdown {
			return
		}
	}
}
