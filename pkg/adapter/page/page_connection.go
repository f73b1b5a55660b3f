package page

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
	"unicode/utf8"

	"github.com/marmos91/pageserver/internal/docroot"
	"github.com/marmos91/pageserver/internal/logger"
	proto "github.com/marmos91/pageserver/internal/protocol/page"
)

// IOError is returned when a resolved file cannot be read as text.
// The connection is closed without a response.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

var errNotText = errors.New("file is not valid UTF-8 text")

// PageConnection runs the dispatcher for one accepted connection:
// receive the request, route it, transmit one response, close.
type PageConnection struct {
	server *PageAdapter
	conn   net.Conn
	log    *logger.Logger
}

func NewPageConnection(server *PageAdapter, conn net.Conn) *PageConnection {
	return &PageConnection{
		server: server,
		conn:   conn,
		log:    server.log.With("client", conn.RemoteAddr().String()),
	}
}

// Serve handles the connection to completion.
//
// The connection is shut down and closed exactly once, on every path,
// including decode failures, read failures and panics. Errors never leave
// this method: they are logged and recorded against the connection only.
func (c *PageConnection) Serve() {
	start := time.Now()
	route := proto.RouteAborted
	written := 0

	defer func() {
		// Panic recovery - prevents a single connection from crashing the server
		if r := recover(); r != nil {
			c.log.Error("Panic in connection handler: %v", r)
			route = proto.RouteAborted
		}

		if err := proto.CloseConn(c.conn); err != nil {
			c.log.Debug("Error closing connection: %v", err)
		}

		c.server.metrics.RecordResponse(route.String(), route.StatusCode(), written, time.Since(start))
		c.log.Debug("Connection closed: route=%s bytes=%d duration=%v", route, written, time.Since(start))
	}()

	var err error
	route, written, err = c.handle()
	if err != nil {
		c.logError(route, err)
	}
}

func (c *PageConnection) logError(route proto.Route, err error) {
	var decodeErr *proto.DecodeError
	var ioErr *IOError

	switch {
	case errors.As(err, &decodeErr):
		c.log.Warn("Closing connection without response: %v", err)
	case errors.As(err, &ioErr):
		c.log.Error("Closing connection without response: %v", err)
	default:
		c.log.Debug("Error handling %s route: %v", route, err)
	}
}

// handle runs ReceivingRequest -> Routing -> route and returns the route
// taken, the number of bytes written and the first error. The caller closes
// the connection.
func (c *PageConnection) handle() (proto.Route, int, error) {
	text, err := proto.ReadRequest(c.conn)
	if err != nil {
		return proto.RouteAborted, 0, err
	}

	c.log.Debug("Received request: %q", text)
	req := proto.ParseRequest(text)

	switch req.Kind {
	case proto.KindUnimplemented:
		c.log.Info("Unhandled request: %q", text)
		return c.respond(proto.RouteUnimplemented,
			[]byte(proto.StatusNotImplemented),
			proto.UnimplementedBody(text))

	case proto.KindRoot:
		return c.respond(proto.RouteRoot,
			[]byte(proto.StatusOK),
			c.server.catalog.Root)
	}

	resolved, err := c.server.resolver.Resolve(req.Target)
	switch {
	case errors.Is(err, docroot.ErrForbidden):
		c.log.Warn("Forbidden target %q", req.Target)
		return c.respond(proto.RouteForbidden,
			[]byte(proto.StatusForbidden),
			[]byte(proto.HTMLContentType),
			c.server.catalog.Forbidden)

	case errors.Is(err, docroot.ErrNotFound):
		c.log.Info("Not found: %q", req.Target)
		return c.respond(proto.RouteNotFound,
			[]byte(proto.StatusNotFound),
			[]byte(proto.HTMLContentType),
			c.server.catalog.NotFound)

	case err != nil:
		return proto.RouteAborted, 0, err
	}

	contents, err := readTextFile(resolved.AbsolutePath)
	if err != nil {
		return proto.RouteAborted, 0, err
	}

	c.log.Debug("Serving %s (%d bytes)", resolved.AbsolutePath, len(contents))
	return c.respond(proto.RouteFile,
		[]byte(proto.StatusOK),
		contents)
}

func (c *PageConnection) respond(route proto.Route, parts ...[]byte) (proto.Route, int, error) {
	n, err := proto.TransmitAll(c.conn, parts...)
	return route, n, err
}

// readTextFile reads the whole file and requires it to be UTF-8 text.
func readTextFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	if !utf8.Valid(data) {
		return nil, &IOError{Path: path, Err: errNotText}
	}
	return data, nil
}
