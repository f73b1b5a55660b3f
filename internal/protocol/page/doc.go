// Package page implements the wire format of the page server: a severely
// restricted subset of HTTP/1.0.
//
// # Requests
//
// A request is whatever arrives in the first read of at most MaxRequestSize
// bytes. Only the first two whitespace-separated tokens matter: the method,
// which must be "GET", and the target. Headers and bodies are ignored.
//
// # Responses
//
// A response is a status line followed by a body, written in one or more
// parts with Transmit. Error responses add a single Content-Type header.
// Every connection carries exactly one response and is then closed with
// CloseConn.
//
// # Limitations
//
//   - no read loop: a request line split across segments is not reassembled
//   - no timeouts: a stalled peer blocks its handler
//   - no keep-alive, pipelining or chunked transfer
package page
