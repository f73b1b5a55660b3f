package page

import (
	"fmt"
	"io"
	"net"
)

// Status lines and headers, byte-for-byte as they go on the wire. Only the
// error responses carry a header; the others end their status line with a
// blank line directly.
//
// 401 is used for unimplemented methods where HTTP specifies 501. Existing
// clients depend on it, so it is kept.
const (
	StatusOK             = "HTTP/1.0 200 OK\n\n"
	StatusForbidden      = "HTTP/1.0 403 Forbidden\n"
	StatusNotFound       = "HTTP/1.0 404 Not Found\n"
	StatusNotImplemented = "HTTP/1.0 401 Not Implemented\n\n"

	HTMLContentType = "Content-Type: text/html; charset=utf-8\n\n"
)

// UnimplementedBody is the diagnostic body echoing an unhandled request.
func UnimplementedBody(request string) []byte {
	return []byte(fmt.Sprintf("\nI don't handle this request: %s\n", request))
}

// Transmit writes all of msg to w.
//
// A single Write is not trusted to flush the whole payload: Transmit keeps
// writing the remainder until the cumulative count reaches len(msg). A
// Write that makes no progress and reports no error yields io.ErrShortWrite.
//
// Returns the number of bytes written and the first write error.
func Transmit(w io.Writer, msg []byte) (int, error) {
	sent := 0
	for sent < len(msg) {
		n, err := w.Write(msg[sent:])
		sent += n
		if err != nil {
			return sent, fmt.Errorf("transmit: %w", err)
		}
		if n == 0 {
			return sent, fmt.Errorf("transmit: %w", io.ErrShortWrite)
		}
	}
	return sent, nil
}

// TransmitAll sends each part in order with Transmit, stopping at the first
// error. Returns the total number of bytes written.
func TransmitAll(w io.Writer, parts ...[]byte) (int, error) {
	total := 0
	for _, part := range parts {
		n, err := Transmit(w, part)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// CloseConn shuts the connection down in both directions, when the
// connection supports half-close, and then closes it. Shutdown errors are
// ignored; a peer that already went away is not a failure here.
func CloseConn(conn net.Conn) error {
	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseWrite()
		_ = hc.CloseRead()
	}
	return conn.Close()
}
