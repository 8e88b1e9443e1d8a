package http

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	nethttp "net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	srv, err := New("127.0.0.1:0", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { srv.listener.Close() })
	return srv
}

type pipeClient struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
	done chan struct{}
}

// servePipe runs the connection loop on one end of a pipe and returns the
// other end.
func servePipe(t *testing.T, srv *Server, routes *Router) *pipeClient {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeConn(serverConn, routes)
	}()
	t.Cleanup(func() {
		clientConn.Close()
		<-done
	})
	return &pipeClient{t: t, conn: clientConn, br: bufio.NewReader(clientConn), done: done}
}

func (c *pipeClient) send(raw string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := io.WriteString(c.conn, raw)
	require.NoError(c.t, err)
}

func (c *pipeClient) receive(method string) (*nethttp.Response, string) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	res, err := nethttp.ReadResponse(c.br, &nethttp.Request{Method: method})
	require.NoError(c.t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(c.t, err)
	res.Body.Close()
	return res, string(body)
}

// closed reports whether the server hung up.
func (c *pipeClient) closed() bool {
	c.t.Helper()
	select {
	case <-c.done:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func textHandler(text string) Handler {
	return HandlerFunc(func(req *Request, params Params, v Validation) (*Response, error) {
		return NewResponse(StatusOK).WithText(text), nil
	})
}

// echoHandler answers with the request body.
func echoHandler() Handler {
	return HandlerFunc(func(req *Request, params Params, v Validation) (*Response, error) {
		if req.Body == nil {
			return NewResponse(StatusOK).WithText(""), nil
		}
		body, err := req.ReadBody()
		if err != nil {
			return nil, err
		}
		return NewResponse(StatusOK).WithText(string(body)), nil
	})
}

func TestServerKeepAlive(t *testing.T) {
	routes := NewRouter()
	routes.Get("/", textHandler("OK"))

	client := servePipe(t, newTestServer(t), routes)
	for range 3 {
		client.send("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
		res, body := client.receive(MethodGet)
		assert.Equal(t, 200, res.StatusCode)
		assert.Equal(t, "OK", body)
		assert.Equal(t, "keep-alive", res.Header.Get("Connection"))
		assert.NotEmpty(t, res.Header.Get("Date"))
		assert.Equal(t, DefaultServerName, res.Header.Get("Server"))
	}
}

func TestServerConnectionCloseEndsConnection(t *testing.T) {
	routes := NewRouter()
	routes.Get("/", textHandler("OK"))

	client := servePipe(t, newTestServer(t), routes)
	client.send("GET / HTTP/1.1\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")
	res, _ := client.receive(MethodGet)
	assert.Equal(t, "close", res.Header.Get("Connection"))
	assert.True(t, client.closed())
}

func TestServerIdentityWithoutLengthEndsConnection(t *testing.T) {
	routes := NewRouter()
	routes.Post("/", textHandler("OK"))

	client := servePipe(t, newTestServer(t), routes)
	client.send("POST / HTTP/1.1\r\nTransfer-Encoding: identity\r\n\r\n")
	res, _ := client.receive(MethodPost)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "close", res.Header.Get("Connection"))
	assert.True(t, client.closed())
}

func TestServerHTTP10Closes(t *testing.T) {
	routes := NewRouter()
	routes.Get("/", textHandler("OK"))

	client := servePipe(t, newTestServer(t), routes)
	client.send("GET / HTTP/1.0\r\n\r\n")
	res, _ := client.receive(MethodGet)
	assert.Equal(t, "close", res.Header.Get("Connection"))
	assert.True(t, client.closed())
}

func TestServerRejectsLengthAndEncodingTogether(t *testing.T) {
	routes := NewRouter()
	routes.Post("/", echoHandler())

	client := servePipe(t, newTestServer(t), routes)
	client.send("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 3\r\n\r\n0\r\n\r\n")
	res, _ := client.receive(MethodPost)
	assert.Equal(t, 400, res.StatusCode)
	assert.True(t, client.closed())
}

func TestServerRejectsUnknownEncoding(t *testing.T) {
	routes := NewRouter()
	routes.Post("/", echoHandler())

	client := servePipe(t, newTestServer(t), routes)
	client.send("POST / HTTP/1.1\r\nTransfer-Encoding: gzip, chunked\r\n\r\n0\r\n\r\n")
	res, _ := client.receive(MethodPost)
	assert.Equal(t, 400, res.StatusCode)
	assert.True(t, client.closed())
}

func TestServerMalformedRequestLine(t *testing.T) {
	client := servePipe(t, newTestServer(t), NewRouter())
	client.send("NONSENSE\r\n\r\n")
	res, _ := client.receive(MethodGet)
	assert.Equal(t, 400, res.StatusCode)
	assert.True(t, client.closed())
}

func TestServerRequestLineTooLong(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxRequestLine = 32

	client := servePipe(t, newTestServer(t, WithLimits(limits)), NewRouter())
	client.send("GET /" + strings.Repeat("a", 64) + " HTTP/1.1\r\n\r\n")
	res, _ := client.receive(MethodGet)
	assert.Equal(t, 414, res.StatusCode)
}

func TestServerNotFoundKeepsConnection(t *testing.T) {
	routes := NewRouter()
	routes.Get("/", textHandler("OK"))

	client := servePipe(t, newTestServer(t), routes)
	client.send("POST /missing HTTP/1.1\r\nContent-Length: 4\r\n\r\nbody")
	res, _ := client.receive(MethodPost)
	assert.Equal(t, 404, res.StatusCode)
	assert.Equal(t, "keep-alive", res.Header.Get("Connection"))

	client.send("GET / HTTP/1.1\r\n\r\n")
	res, body := client.receive(MethodGet)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "OK", body)
}

func TestServerChunkedRequestBody(t *testing.T) {
	routes := NewRouter()
	routes.Post("/echo", echoHandler())

	client := servePipe(t, newTestServer(t), routes)
	client.send("POST /echo HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n")
	res, body := client.receive(MethodPost)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "Wikipedia", body)
	assert.Equal(t, "keep-alive", res.Header.Get("Connection"))
}

func TestServerDrainsUnreadBody(t *testing.T) {
	routes := NewRouter()
	routes.Post("/", textHandler("ignored the body"))
	routes.Get("/next", textHandler("next"))

	client := servePipe(t, newTestServer(t), routes)
	client.send("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n")
	client.receive(MethodPost)

	client.send("GET /next HTTP/1.1\r\n\r\n")
	res, body := client.receive(MethodGet)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "next", body)
}

func TestServerBodyTooLarge(t *testing.T) {
	routes := NewRouter()
	routes.Post("/", echoHandler())

	limits := DefaultLimits()
	limits.MaxRequestSize = 8

	client := servePipe(t, newTestServer(t, WithLimits(limits)), routes)
	client.send("POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\n")
	res, _ := client.receive(MethodPost)
	assert.Equal(t, 413, res.StatusCode)
	assert.True(t, client.closed())
}

func TestServerChunkedBodyTooLarge(t *testing.T) {
	routes := NewRouter()
	routes.Post("/", echoHandler())

	limits := DefaultLimits()
	limits.MaxRequestSize = 8

	client := servePipe(t, newTestServer(t, WithLimits(limits)), routes)
	client.send("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n10\r\n0123456789abcdef\r\n0\r\n\r\n")
	res, _ := client.receive(MethodPost)
	assert.Equal(t, 413, res.StatusCode)
	assert.Equal(t, "close", res.Header.Get("Connection"))
}

type countingHandler struct {
	validateErr error
	validations atomic.Int32
	builds      atomic.Int32
}

func (h *countingHandler) Validate(_ *Request, _ Params, v Validation) (Validation, error) {
	h.validations.Add(1)
	if h.validateErr != nil {
		return nil, h.validateErr
	}
	return v, nil
}

func (h *countingHandler) BuildResponse(_ *Request, _ Params, _ Validation) (*Response, error) {
	h.builds.Add(1)
	return NewResponse(StatusOK), nil
}

func TestServerValidateShortCircuits(t *testing.T) {
	handler := &countingHandler{validateErr: Error(StatusForbidden)}
	routes := NewRouter()
	routes.Get("/secret", handler)

	client := servePipe(t, newTestServer(t), routes)
	client.send("GET /secret HTTP/1.1\r\n\r\n")
	res, body := client.receive(MethodGet)

	assert.Equal(t, 403, res.StatusCode)
	assert.Contains(t, body, "Forbidden")
	assert.Equal(t, "keep-alive", res.Header.Get("Connection"))
	assert.Equal(t, int32(1), handler.validations.Load())
	assert.Equal(t, int32(0), handler.builds.Load())
}

func TestServerInternalErrorsAreHidden(t *testing.T) {
	routes := NewRouter()
	routes.Get("/fail", HandlerFunc(func(*Request, Params, Validation) (*Response, error) {
		return nil, errors.New("database password is hunter2")
	}))
	routes.Get("/panic", HandlerFunc(func(*Request, Params, Validation) (*Response, error) {
		panic("boom")
	}))

	client := servePipe(t, newTestServer(t), routes)
	for _, path := range []string{"/fail", "/panic"} {
		client.send("GET " + path + " HTTP/1.1\r\n\r\n")
		res, body := client.receive(MethodGet)
		assert.Equal(t, 500, res.StatusCode)
		assert.NotContains(t, body, "hunter2")
		assert.NotContains(t, body, "boom")
	}
}

func TestServerHeadOmitsBody(t *testing.T) {
	routes := NewRouter()
	routes.Head("/", textHandler("hello"))
	routes.Get("/after", textHandler("after"))

	client := servePipe(t, newTestServer(t), routes)
	client.send("HEAD / HTTP/1.1\r\n\r\n")
	res, body := client.receive(MethodHead)
	assert.Equal(t, int64(5), res.ContentLength)
	assert.Empty(t, body)

	client.send("GET /after HTTP/1.1\r\n\r\n")
	_, body = client.receive(MethodGet)
	assert.Equal(t, "after", body)
}

func TestServerIdleTimeout(t *testing.T) {
	routes := NewRouter()
	routes.Get("/", textHandler("OK"))

	client := servePipe(t, newTestServer(t, WithIdleTimeout(50*time.Millisecond)), routes)
	client.send("GET / HTTP/1.1\r\n\r\n")
	client.receive(MethodGet)
	assert.True(t, client.closed())
}

func TestServerIdleTimeoutResetsOnEachRead(t *testing.T) {
	routes := NewRouter()
	routes.Post("/echo", echoHandler())

	client := servePipe(t, newTestServer(t, WithIdleTimeout(200*time.Millisecond)), routes)
	pieces := []string{
		"POST /echo HTTP/1.1\r\n",
		"Content-Length: 10\r\n",
		"\r\n",
		"01234",
		"567",
		"89",
	}
	for i, piece := range pieces {
		if i > 0 {
			time.Sleep(120 * time.Millisecond)
		}
		client.send(piece)
	}

	res, body := client.receive(MethodPost)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "0123456789", body)
}

func TestServerStartAndShutdown(t *testing.T) {
	srv := newTestServer(t)
	routes := NewRouter()
	routes.Get("/hello/<name>", HandlerFunc(func(_ *Request, params Params, _ Validation) (*Response, error) {
		name, _ := params.Get("name")
		return NewResponse(StatusOK).WithText("hello " + name), nil
	}))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(routes) }()

	client := &nethttp.Client{Timeout: 2 * time.Second}
	res, err := client.Get("http://" + srv.Addr().String() + "/hello/world")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.ErrorIs(t, <-errCh, ErrServerClosed)
}

func TestServerBindError(t *testing.T) {
	srv := newTestServer(t)
	_, err := New(srv.Addr().String())
	assert.Error(t, err)
}

func BenchmarkServeConn(b *testing.B) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	srv := newTestServer(b)
	routes := NewRouter()
	routes.Get("/", textHandler("OK"))

	go srv.ServeConn(serverConn, routes)

	reqStr := "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"
	reader := bufio.NewReader(clientConn)

	for b.Loop() {
		if _, err := clientConn.Write([]byte(reqStr)); err != nil {
			b.Fatalf("write error: %v", err)
		}
		resp, err := nethttp.ReadResponse(reader, nil)
		if err != nil {
			b.Fatalf("read error: %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
