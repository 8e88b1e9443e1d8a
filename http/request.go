package http

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
)

var ErrNoCookie = errors.New("http: named cookie not present")

// Request is built in two steps. ReadStartLine fills Method, URI and Version
// so the router can reject a request before its headers are read;
// ParseHeaders fills Headers. Body stays nil until the connection loop has
// decided how the body is framed.
type Request struct {
	Method  string
	URI     string
	Version string
	Headers Headers
	Body    io.Reader

	// TotalSize counts every byte consumed for this request so far,
	// including the body bytes handed out through Body.
	TotalSize  int64
	RemoteAddr string

	ctx context.Context
}

// ReadStartLine reads the request line. A clean end of stream before the
// first byte is reported as io.EOF so callers can tell an idle close from a
// truncated request.
func ReadStartLine(br *bufio.Reader, limit int) (*Request, error) {
	line, n, err := readLine(br, limit, ErrLineTooLong)
	if err != nil {
		return nil, err
	}
	total := int64(n)

	// RFC 7230 3.5: ignore one empty line ahead of the request line.
	if len(line) == 0 {
		line, n, err = readLine(br, limit, ErrLineTooLong)
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		total += int64(n)
	}

	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return nil, ErrMalformedRequestLine
	}
	if !strings.HasPrefix(fields[2], "HTTP/") {
		return nil, ErrMalformedRequestLine
	}

	return &Request{
		Method:    strings.ToUpper(fields[0]),
		URI:       fields[1],
		Version:   fields[2],
		TotalSize: total,
	}, nil
}

// ParseHeaders reads header lines up to the blank line. The whole header
// region, CRLFs included, may not exceed limit bytes.
func (req *Request) ParseHeaders(br *bufio.Reader, limit int) error {
	req.Headers = make(Headers)
	used := 0
	for {
		line, n, err := readLine(br, limit-used, ErrHeaderTooLarge)
		used += n
		req.TotalSize += int64(n)
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if len(line) == 0 {
			return nil
		}

		// obs-fold continuation lines are not supported
		if isTokenSpace(line[0]) {
			return ErrMalformedHeader
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return ErrMalformedHeader
		}
		name := line[:colon]
		if bytes.ContainsAny(name, " \t") {
			return ErrMalformedHeader
		}

		toLowerScalar(name)
		key := string(name)
		value := string(bytes.TrimSpace(line[colon+1:]))

		// Repeated fields are merged as a list. This is only an
		// approximation: fields like Set-Cookie cannot be combined.
		if prev, found := req.Headers[key]; found {
			req.Headers[key] = prev + "," + value
		} else {
			req.Headers[key] = value
		}
	}
}

// readLine returns one line without its terminator along with the number of
// bytes consumed. The returned slice may alias br's buffer and is only valid
// until the next read.
func readLine(br *bufio.Reader, limit int, tooLong error) ([]byte, int, error) {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		size := len(line) + len(chunk)
		if size > limit {
			return nil, size, tooLong
		}

		switch err {
		case nil:
			if line == nil {
				line = chunk
			} else {
				line = append(line, chunk...)
			}
			return trimEOL(line), size, nil
		case bufio.ErrBufferFull:
			line = append(line, chunk...)
		case io.EOF:
			if size == 0 {
				return nil, 0, io.EOF
			}
			return nil, size, io.ErrUnexpectedEOF
		default:
			return nil, size, err
		}
	}
}

func trimEOL(line []byte) []byte {
	line = line[:len(line)-1]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line
}

// Path is the URI without its query string.
func (req *Request) Path() string {
	if i := strings.IndexByte(req.URI, '?'); i >= 0 {
		return req.URI[:i]
	}
	return req.URI
}

func (req *Request) Query() url.Values {
	i := strings.IndexByte(req.URI, '?')
	if i < 0 {
		return url.Values{}
	}
	values, _ := url.ParseQuery(req.URI[i+1:])
	return values
}

// Header looks a field up case-insensitively.
func (req *Request) Header(name string) (string, bool) {
	if req.Headers == nil {
		return "", false
	}
	return req.Headers.Get(name)
}

func (req *Request) Cookie(name string) (*Cookie, error) {
	raw, found := req.Header(headerCookie)
	if !found {
		return nil, ErrNoCookie
	}

	cookies, err := ParseCookies(raw)
	if err != nil {
		return nil, err
	}
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie, nil
		}
	}
	return nil, ErrNoCookie
}

func (req *Request) Context() context.Context {
	if req.ctx == nil {
		return context.Background()
	}
	return req.ctx
}

// WithContext returns a shallow copy of req carrying ctx.
func (req *Request) WithContext(ctx context.Context) *Request {
	r2 := *req
	r2.ctx = ctx
	return &r2
}

// ReadBody reads the whole body. Handlers that expect small payloads use it;
// the connection loop has already bounded Body by the request ceiling.
func (req *Request) ReadBody() ([]byte, error) {
	if req.Body == nil {
		return nil, ErrNoBody
	}
	return io.ReadAll(req.Body)
}

// wantsKeepAlive applies the protocol default: HTTP/1.1 stays open unless
// the client says close, HTTP/1.0 closes unless it asks for keep-alive.
func (req *Request) wantsKeepAlive() bool {
	conn, _ := req.Header(headerConnection)
	if req.Version == protocolHttp10 {
		return hasToken(conn, connectionKeepAlive)
	}
	return !hasToken(conn, connectionClose)
}

// hasToken reports whether the comma separated list contains token,
// ignoring case.
func hasToken(list, token string) bool {
	for list != "" {
		var item string
		item, list, _ = strings.Cut(list, ",")
		if strings.EqualFold(strings.TrimSpace(item), token) {
			return true
		}
	}
	return false
}
