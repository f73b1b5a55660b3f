package page

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxRequestSize is the size of the single read performed per connection.
// Anything past the first read is never looked at.
const MaxRequestSize = 1024

// MethodGet is the only method the server handles.
const MethodGet = "GET"

// RootTarget is answered with the root page instead of a file.
const RootTarget = "/"

// DecodeError is returned when the request bytes are not valid UTF-8.
type DecodeError struct {
	// Raw holds the bytes that failed to decode.
	Raw []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("request is not valid UTF-8 (%d bytes)", len(e.Raw))
}

// Kind classifies a parsed request line.
type Kind int

const (
	// KindUnimplemented covers anything that is not "GET <target>".
	KindUnimplemented Kind = iota
	// KindRoot is a GET for exactly "/".
	KindRoot
	// KindPath is a GET for any other target.
	KindPath
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindPath:
		return "path"
	default:
		return "unimplemented"
	}
}

// Request is a parsed request line. Target is untrusted.
type Request struct {
	Method string
	Target string
	Raw    string
	Kind   Kind
}

// ReadRequest performs exactly one read of up to MaxRequestSize bytes and
// decodes the result as UTF-8.
//
// There is no read loop: a request split across TCP segments is not
// reassembled. A peer that closes without sending anything produces the
// empty request, which parses as unimplemented.
//
// Returns:
//   - the decoded request text
//   - *DecodeError if the bytes are not valid UTF-8
//   - the read error if the read failed for any reason other than EOF
func ReadRequest(r io.Reader) (string, error) {
	buf := make([]byte, MaxRequestSize)
	n, err := r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read request: %w", err)
	}

	data := buf[:n]
	if !utf8.Valid(data) {
		return "", &DecodeError{Raw: data}
	}
	return string(data), nil
}

// ParseRequest splits the request text on whitespace and classifies it.
func ParseRequest(text string) Request {
	req := Request{Raw: text, Kind: KindUnimplemented}

	parts := strings.Fields(text)
	if len(parts) < 2 {
		if len(parts) == 1 {
			req.Method = parts[0]
		}
		return req
	}

	req.Method = parts[0]
	req.Target = parts[1]
	if req.Method != MethodGet {
		return req
	}

	if req.Target == RootTarget {
		req.Kind = KindRoot
	} else {
		req.Kind = KindPath
	}
	return req
}
