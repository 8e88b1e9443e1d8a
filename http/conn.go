package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type connState uint8

const (
	stateReadingRequest connState = iota
	stateRoutingAndValidating
	stateBuildingResponse
	stateWritingResponse
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateReadingRequest:
		return "reading_request"
	case stateRoutingAndValidating:
		return "routing_and_validating"
	case stateBuildingResponse:
		return "building_response"
	case stateWritingResponse:
		return "writing_response"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// conn serves the requests of one connection strictly in sequence: a
// request is read, handled and written before the next one is read.
type conn struct {
	srv    *Server
	rwc    net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	routes *Router
	remote string
	state  connState
	served int
}

// ServeConn runs the connection loop on rwc and closes it when done.
func (s *Server) ServeConn(rwc net.Conn, routes *Router) {
	c := &conn{
		srv:    s,
		rwc:    rwc,
		br:     bufio.NewReaderSize(&idleReader{conn: rwc, timeout: s.IdleTimeout}, DefaultBufferSize),
		bw:     bufio.NewWriterSize(rwc, DefaultBufferSize),
		routes: routes,
	}
	if addr := rwc.RemoteAddr(); addr != nil {
		c.remote = addr.String()
	}

	ctx := context.Background()
	s.inst.connOpened(ctx)
	defer func() {
		c.state = stateClosed
		rwc.Close()
		s.untrack(rwc)
		s.inst.connClosed(ctx)
		s.Logger.Debug("connection closed",
			slog.String("remote", c.remote),
			slog.Int("requests", c.served),
		)
	}()

	for c.serve(ctx) {
	}
}

// serve handles one request and reports whether the connection may be
// reused for another.
func (c *conn) serve(ctx context.Context) bool {
	srv := c.srv
	limits := srv.Limits

	c.state = stateReadingRequest
	if !srv.markIdle(c.rwc) {
		return false
	}

	req, err := ReadStartLine(c.br, limits.MaxRequestLine)
	srv.markActive(c.rwc)
	if err != nil {
		if isProtocolError(err) {
			c.reject(ctx, err)
		} else if !isQuietClose(err) {
			srv.Logger.Debug("read request failed",
				slog.String("remote", c.remote),
				slog.String("state", c.state.String()),
				slog.Any("error", err),
			)
		}
		return false
	}
	req.RemoteAddr = c.remote

	start := time.Now()
	ctx, span := srv.inst.startRequest(ctx, req)
	req.ctx = ctx

	c.state = stateRoutingAndValidating
	match, found := c.routes.Resolve(req.Method, req.URI)

	// Unrouted requests still have their headers and body consumed so the
	// next request on the stream starts at the right byte.
	if err := req.ParseHeaders(c.br, limits.MaxHeaderSize); err != nil {
		if !isProtocolError(err) {
			span.End()
			return false
		}
		return c.finish(ctx, span, req, match.Route, start, c.failure(err), false)
	}
	keepAlive, err := attachBody(req, c.br, limits, req.wantsKeepAlive())
	if err != nil {
		return c.finish(ctx, span, req, match.Route, start, c.failure(err), false)
	}

	handler, params := srv.NotFound, Params(nil)
	if found {
		handler, params = match.Handler, match.Params
	}

	res := c.dispatch(handler, req, params)

	// A body that failed mid-read leaves the stream misaligned.
	if body, ok := req.Body.(*sizedBody); ok && body.err != nil {
		keepAlive = false
	}
	return c.finish(ctx, span, req, match.Route, start, res, keepAlive)
}

// dispatch runs both handler phases. Failures and panics become status-only
// responses; they never reach the transport.
func (c *conn) dispatch(h Handler, req *Request, params Params) (res *Response) {
	defer func() {
		if r := recover(); r != nil {
			c.srv.Logger.ErrorContext(req.Context(), "handler panicked",
				slog.String("remote", c.remote),
				slog.String("method", req.Method),
				slog.String("uri", req.URI),
				slog.String("state", c.state.String()),
				slog.Any("panic", r),
			)
			res = statusResponse(fmt.Errorf("http: handler panic: %v", r))
		}
	}()

	v, err := h.Validate(req, params, nil)
	if err != nil {
		return c.failure(err)
	}

	c.state = stateBuildingResponse
	res, err = h.BuildResponse(req, params, v)
	if err != nil {
		return c.failure(err)
	}
	if res == nil {
		return statusResponse(Error(StatusInternalServerError))
	}
	return res
}

func (c *conn) failure(err error) *Response {
	if StatusOf(err) >= StatusInternalServerError {
		c.srv.Logger.Warn("request failed",
			slog.String("remote", c.remote),
			slog.String("state", c.state.String()),
			slog.Any("error", err),
		)
	}
	return statusResponse(err)
}

// finish writes res and reports whether the connection lives on. Protocol
// errors, a handler asking to close, or the client's framing all end it.
func (c *conn) finish(ctx context.Context, span trace.Span, req *Request, route Route, start time.Time, res *Response, keepAlive bool) bool {
	srv := c.srv
	c.served++

	res.KeepAlive = res.KeepAlive && keepAlive && !srv.shuttingDown()
	res.omitBody = req.Method == MethodHead
	res.stamp(srv.Name, time.Now())

	c.state = stateWritingResponse
	if srv.WriteTimeout > 0 {
		c.rwc.SetWriteDeadline(time.Now().Add(srv.WriteTimeout))
	}
	err := res.Write(c.bw)
	srv.inst.endRequest(ctx, span, req, route.Pattern, res.Status, start)

	srv.Logger.DebugContext(ctx, "request served",
		slog.String("remote", c.remote),
		slog.String("method", req.Method),
		slog.String("uri", req.URI),
		slog.Int("status", int(res.Status)),
		slog.Bool("keep_alive", res.KeepAlive),
	)

	if err != nil {
		srv.Logger.Debug("write response failed",
			slog.String("remote", c.remote),
			slog.String("state", c.state.String()),
			slog.Any("error", err),
		)
		return false
	}
	if !res.KeepAlive {
		return false
	}
	if err := drainBody(req); err != nil {
		srv.Logger.Debug("drain request body failed",
			slog.String("remote", c.remote),
			slog.Any("error", err),
		)
		return false
	}
	return true
}

// reject answers a request whose start line could not be read and closes.
func (c *conn) reject(ctx context.Context, err error) {
	c.srv.Logger.DebugContext(ctx, "malformed request",
		slog.String("remote", c.remote),
		slog.String("state", c.state.String()),
		slog.Any("error", err),
	)

	res := statusResponse(err)
	res.KeepAlive = false
	res.stamp(c.srv.Name, time.Now())

	c.state = stateWritingResponse
	if c.srv.WriteTimeout > 0 {
		c.rwc.SetWriteDeadline(time.Now().Add(c.srv.WriteTimeout))
	}
	res.Write(c.bw)
}

// isQuietClose reports errors that end a connection without anything worth
// logging: the peer went away, the idle timeout fired, or we closed it.
func isQuietClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// idleReader pushes the read deadline forward before every read, so the
// timeout bounds silence on the wire rather than the whole request.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if r.timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return 0, err
		}
	}
	return r.conn.Read(p)
}
