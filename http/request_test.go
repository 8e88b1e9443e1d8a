package http

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRequest(t *testing.T, raw string) (*Request, error) {
	t.Helper()
	br := bufio.NewReader(strings.NewReader(raw))
	req, err := ReadStartLine(br, MaxRequestLineSize)
	if err != nil {
		return nil, err
	}
	return req, req.ParseHeaders(br, MaxHeaderSize)
}

func TestRequestParse(t *testing.T) {
	req, err := readRequest(t, "get /test?q=1&q=2 HTTP/1.1\r\nAccept: text/css\r\nConnection: keep-alive\r\nContent-Length: 0\r\n\r\n")
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/test?q=1&q=2", req.URI)
	assert.Equal(t, "HTTP/1.1", req.Version)
	assert.Equal(t, "/test", req.Path())
	assert.Equal(t, []string{"1", "2"}, req.Query()["q"])
	assert.Nil(t, req.Body)

	v, found := req.Header("CONNECTION")
	require.True(t, found)
	assert.Equal(t, "keep-alive", v)
	assert.Equal(t, "text/css", req.Headers["accept"])
}

func TestRequestURIIsVerbatim(t *testing.T) {
	req, err := readRequest(t, "GET /a%20b/../c HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "/a%20b/../c", req.URI)
}

func TestRequestSkipsLeadingEmptyLine(t *testing.T) {
	req, err := readRequest(t, "\r\nGET / HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "/", req.URI)
}

func TestRequestMalformedStartLine(t *testing.T) {
	for _, line := range []string{
		"GET /\r\n",
		"GET / HTTP/1.1 extra\r\n",
		"GET / FTP/1.0\r\n",
		"   \r\n",
	} {
		_, err := ReadStartLine(bufio.NewReader(strings.NewReader(line)), MaxRequestLineSize)
		assert.ErrorIs(t, err, ErrMalformedRequestLine, "line %q", line)
	}
}

func TestRequestStartLineTooLong(t *testing.T) {
	line := "GET /" + strings.Repeat("a", 256) + " HTTP/1.1\r\n"
	_, err := ReadStartLine(bufio.NewReaderSize(strings.NewReader(line), 16), 64)
	require.ErrorIs(t, err, ErrLineTooLong)
	assert.Equal(t, StatusRequestURITooLong, StatusOf(err))
}

func TestRequestStartLineEndOfStream(t *testing.T) {
	_, err := ReadStartLine(bufio.NewReader(strings.NewReader("")), MaxRequestLineSize)
	assert.Equal(t, io.EOF, err)

	_, err = ReadStartLine(bufio.NewReader(strings.NewReader("GET / HT")), MaxRequestLineSize)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRequestRepeatedHeadersAreJoined(t *testing.T) {
	req, err := readRequest(t, "GET / HTTP/1.1\r\nAccept: a\r\naccept:   b  \r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "a,b", req.Headers["accept"])
}

func TestRequestHeaderCeiling(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 4096) + "\r\n\r\n"
	br := bufio.NewReaderSize(strings.NewReader(raw), 64)

	req, err := ReadStartLine(br, MaxRequestLineSize)
	require.NoError(t, err)

	err = req.ParseHeaders(br, 1024)
	require.ErrorIs(t, err, ErrHeaderTooLarge)
	assert.Equal(t, StatusRequestHeaderFieldsTooLarge, StatusOf(err))
}

func TestRequestHeaderCeilingIsCumulative(t *testing.T) {
	var raw strings.Builder
	raw.WriteString("GET / HTTP/1.1\r\n")
	for range 64 {
		raw.WriteString("X-Small: 0123456789\r\n")
	}
	raw.WriteString("\r\n")

	br := bufio.NewReader(strings.NewReader(raw.String()))
	req, err := ReadStartLine(br, MaxRequestLineSize)
	require.NoError(t, err)
	require.ErrorIs(t, req.ParseHeaders(br, 512), ErrHeaderTooLarge)
}

func TestRequestMalformedHeaders(t *testing.T) {
	for _, header := range []string{
		"NoColon\r\n",
		": empty-name\r\n",
		"Bad Name: x\r\n",
		"X-Ok: 1\r\n folded\r\n",
	} {
		_, err := readRequest(t, "GET / HTTP/1.1\r\n"+header+"\r\n")
		assert.ErrorIs(t, err, ErrMalformedHeader, "header %q", header)
	}
}

func TestRequestTruncatedHeaders(t *testing.T) {
	_, err := readRequest(t, "GET / HTTP/1.1\r\nHost: x\r\n")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRequestTotalSize(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	req, err := readRequest(t, raw)
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), req.TotalSize)
}

func TestRequestKeepAliveDefaults(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"GET / HTTP/1.1\r\n\r\n", true},
		{"GET / HTTP/1.1\r\nConnection: Close\r\n\r\n", false},
		{"GET / HTTP/1.0\r\n\r\n", false},
		{"GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", true},
		{"GET / HTTP/1.1\r\nConnection: upgrade, close\r\n\r\n", false},
	}
	for _, tc := range cases {
		req, err := readRequest(t, tc.raw)
		require.NoError(t, err)
		assert.Equal(t, tc.want, req.wantsKeepAlive(), "request %q", tc.raw)
	}
}

func TestRequestCookie(t *testing.T) {
	req, err := readRequest(t, "GET / HTTP/1.1\r\nCookie: test=value; other=data\r\n\r\n")
	require.NoError(t, err)

	cookie, err := req.Cookie("test")
	require.NoError(t, err)
	assert.Equal(t, "value", cookie.Value)

	_, err = req.Cookie("nonexistent")
	assert.ErrorIs(t, err, ErrNoCookie)
}

func BenchmarkRequestParse(b *testing.B) {
	reqMsg := []byte("GET /test HTTP/1.1\r\nAccept: text/css\r\nConnection: keep-alive\r\nContent-Length: 0\r\n\r\n")

	reader := bytes.NewReader(reqMsg)
	br := bufio.NewReader(reader)

	for b.Loop() {
		reader.Reset(reqMsg) // Reset read position without allocation
		br.Reset(reader)     // Reset bufio.Reader to reuse buffer

		req, err := ReadStartLine(br, MaxRequestLineSize)
		if err != nil {
			b.Fatal(err)
		}
		if err := req.ParseHeaders(br, MaxHeaderSize); err != nil {
			b.Fatal(err)
		}
	}
}
