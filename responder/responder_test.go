package responder

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freekieb7/cinder/http"
)

func newTestTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "index.htm"), []byte("<p>docs</p>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.html"), []byte("<html>app</html>"), 0o644))
	return root
}

// startServer serves routes on a loopback listener until the test ends.
func startServer(t *testing.T, routes *http.Router) string {
	t.Helper()
	srv, err := http.New("127.0.0.1:0", http.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Start(routes) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
		assert.ErrorIs(t, <-done, http.ErrServerClosed)
	})
	return srv.Addr().String()
}

// roundTrip writes raw bytes so paths reach the server exactly as given.
func roundTrip(t *testing.T, addr, method, uri string) (*nethttp.Response, string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = io.WriteString(conn, method+" "+uri+" HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	res, err := nethttp.ReadResponse(bufio.NewReader(conn), &nethttp.Request{Method: method})
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	return res, string(body)
}

func TestFileResponderServesFiles(t *testing.T) {
	files, err := NewFileResponder(newTestTree(t), "path", true)
	require.NoError(t, err)

	routes := http.NewRouter()
	routes.Get("/static/<path>", files)
	addr := startServer(t, routes)

	res, body := roundTrip(t, addr, http.MethodGet, "/static/a/b.txt")
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, int64(11), res.ContentLength)
	assert.Equal(t, "hello world", body)
	assert.Equal(t, "text/plain; charset=utf-8", res.Header.Get("Content-Type"))
	assert.NotEmpty(t, res.Header.Get("Last-Modified"))

	res, body = roundTrip(t, addr, http.MethodGet, "/static/a%2Fb.txt")
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "hello world", body)

	res, body = roundTrip(t, addr, http.MethodGet, "/static/docs")
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "<p>docs</p>", body)
}

func TestFileResponderRejectsTraversal(t *testing.T) {
	files, err := NewFileResponder(newTestTree(t), "path", true)
	require.NoError(t, err)

	routes := http.NewRouter()
	routes.Get("/static/<path>", files)
	addr := startServer(t, routes)

	for _, uri := range []string{
		"/static/../../etc/passwd",
		"/static/%2e%2e/%2e%2e/etc/passwd",
		"/static/a/..%2F..%2F..%2Fetc%2Fpasswd",
		"/static/missing.txt",
	} {
		res, _ := roundTrip(t, addr, http.MethodGet, uri)
		assert.Equal(t, 404, res.StatusCode, "uri %q", uri)
	}
}

func TestFileResponderValidate(t *testing.T) {
	root := newTestTree(t)

	files, err := NewFileResponder(root, "path", false)
	require.NoError(t, err)

	_, err = files.Validate(&http.Request{}, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, http.StatusOf(err))

	_, err = files.Validate(&http.Request{}, http.Params{{Name: "path", Value: "docs"}}, nil)
	assert.Equal(t, http.StatusNotFound, http.StatusOf(err))

	v, err := files.Validate(&http.Request{}, http.Params{{Name: "path", Value: "a/b.txt"}}, nil)
	require.NoError(t, err)
	resolved := v.(ResolvedFile)
	assert.Equal(t, int64(11), resolved.Size)
	assert.Equal(t, "b.txt", resolved.Name)

	_, err = files.BuildResponse(&http.Request{}, nil, "not a file")
	assert.ErrorIs(t, err, http.ErrValidationType)
}

func TestSPAResponderServesAppFile(t *testing.T) {
	spa, err := NewSPAResponder(newTestTree(t), "app.html")
	require.NoError(t, err)

	routes := http.NewRouter()
	routes.Get("/app/<rest>", spa)
	addr := startServer(t, routes)

	res, body := roundTrip(t, addr, http.MethodGet, "/app/flash/23434455")
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "<html>app</html>", body)
	assert.Equal(t, "text/html; charset=utf-8", res.Header.Get("Content-Type"))
}

func TestOptionsResponderAndCORS(t *testing.T) {
	routes := http.NewRouter()
	routes.Options("/api/<rest>", NewOptionsResponder("https://example.com", "GET, POST", "content-type"))
	routes.Get("/api/ping", http.HandlerFunc(func(_ *http.Request, _ http.Params, _ http.Validation) (*http.Response, error) {
		return http.NewResponse(http.StatusOK).WithText("pong"), nil
	}), CORS("https://example.com"))
	addr := startServer(t, routes)

	res, body := roundTrip(t, addr, http.MethodOptions, "/api/ping")
	assert.Equal(t, 204, res.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, "https://example.com", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", res.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "content-type", res.Header.Get("Access-Control-Allow-Headers"))

	res, body = roundTrip(t, addr, http.MethodGet, "/api/ping")
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "pong", body)
	assert.Equal(t, "https://example.com", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsInstrumentAndRender(t *testing.T) {
	metrics := NewMetrics("cinder")

	routes := http.NewRouter()
	routes.Get("/metrics", metrics.Handler())
	routes.Get("/hello", http.HandlerFunc(func(_ *http.Request, _ http.Params, _ http.Validation) (*http.Response, error) {
		return http.NewResponse(http.StatusOK).WithText("hi"), nil
	}), metrics.Instrument("/hello"))
	routes.Get("/limited", http.NewStaticResponder(http.StatusOK, "ok"), metrics.Instrument("/limited"), http.RateLimit(0.001, 1))
	addr := startServer(t, routes)

	roundTrip(t, addr, http.MethodGet, "/hello")
	roundTrip(t, addr, http.MethodGet, "/hello")
	roundTrip(t, addr, http.MethodGet, "/limited")
	res, _ := roundTrip(t, addr, http.MethodGet, "/limited")
	assert.Equal(t, 429, res.StatusCode)

	res, body := roundTrip(t, addr, http.MethodGet, "/metrics")
	assert.Equal(t, 200, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/plain")
	assert.Contains(t, body, `cinder_http_requests_total{method="GET",route="/hello",status="200"} 2`)
	assert.Contains(t, body, `cinder_http_requests_total{method="GET",route="/limited",status="429"} 1`)
	assert.Contains(t, body, "cinder_http_request_duration_seconds_bucket")
	assert.Contains(t, body, "go_goroutines")
}
