package http

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Response is built fresh for every request and written exactly once.
// Without a Content-Length header a body is sent chunked.
type Response struct {
	Status    uint16
	Reason    string
	KeepAlive bool
	Headers   Headers
	Body      io.Reader

	cookies  []string
	omitBody bool
}

func NewResponse(status uint16) *Response {
	return &Response{
		Status:    status,
		KeepAlive: true,
		Headers:   make(Headers),
	}
}

func (res *Response) WithStatus(status uint16) *Response {
	res.Status = status
	return res
}

func (res *Response) WithHeader(name, value string) *Response {
	if res.Headers == nil {
		res.Headers = make(Headers)
	}
	res.Headers.Set(name, value)
	return res
}

// WithBody sets a streamed body. A negative size means unknown, which makes
// the writer fall back to chunked framing.
func (res *Response) WithBody(body io.Reader, size int64) *Response {
	res.Body = body
	if size >= 0 {
		res.WithHeader("Content-Length", strconv.FormatInt(size, 10))
	} else {
		res.Headers.Del(headerContentLength)
	}
	return res
}

func (res *Response) WithText(payload string) *Response {
	res.WithHeader("Content-Type", "text/plain; charset=utf-8")
	return res.WithBody(strings.NewReader(payload), int64(len(payload)))
}

func (res *Response) WithHTML(payload string) *Response {
	res.WithHeader("Content-Type", "text/html; charset=utf-8")
	return res.WithBody(strings.NewReader(payload), int64(len(payload)))
}

func (res *Response) WithJson(payload any) (*Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	res.WithHeader("Content-Type", "application/json")
	return res.WithBody(strings.NewReader(string(data)), int64(len(data))), nil
}

func (res *Response) WithRedirect(location string, status uint16) *Response {
	res.Status = status
	return res.WithHeader("Location", location)
}

// SetCookie queues a Set-Cookie field. Cookies are kept apart from Headers
// because they cannot be folded into one line.
func (res *Response) SetCookie(cookie *Cookie) *Response {
	res.cookies = append(res.cookies, cookie.String())
	return res
}

var copyBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, DefaultBufferSize)
		return &buf
	},
}

// readerOnly hides io.WriterTo so every write into the chunked encoder comes
// from a non-empty read.
type readerOnly struct {
	io.Reader
}

// stamp adds the fields every response carries.
func (res *Response) stamp(serverName string, now time.Time) {
	if res.Headers == nil {
		res.Headers = make(Headers)
	}
	if !res.Headers.Has("Date") {
		res.Headers.Set("Date", now.UTC().Format(TimeFormat))
	}
	if serverName != "" && !res.Headers.Has("Server") {
		res.Headers.Set("Server", serverName)
	}
}

// Write serialises the response onto bw and always flushes. A body that
// implements io.Closer is closed.
func (res *Response) Write(bw *bufio.Writer) error {
	if closer, ok := res.Body.(io.Closer); ok {
		defer closer.Close()
	}
	if res.Headers == nil {
		res.Headers = make(Headers)
	}

	body := res.Body
	contentLength := int64(-1)
	chunked := false

	declared := int64(-1)
	if raw, ok := res.Headers.Get(headerContentLength); ok {
		n, err := atoi([]byte(raw))
		if err != nil {
			// Framing falls back to what the body itself allows.
			res.Headers.Del(headerContentLength)
		} else {
			declared = n
		}
	}

	switch {
	case !bodyAllowed(res.Status):
		body = nil
		res.Headers.Del(headerTransferEncoding)
		if res.Status != StatusNotModified {
			res.Headers.Del(headerContentLength)
		}
	case declared >= 0:
		contentLength = declared
		res.Headers.Del(headerTransferEncoding)
	case body == nil:
		contentLength = 0
		res.Headers.Set("Content-Length", "0")
		res.Headers.Del(headerTransferEncoding)
	default:
		chunked = true
		res.Headers.Set("Transfer-Encoding", encodingChunked)
	}

	if res.KeepAlive {
		res.Headers.Set("Connection", connectionKeepAlive)
	} else {
		res.Headers.Set("Connection", connectionClose)
	}

	reason := res.Reason
	if reason == "" {
		reason = StatusText(res.Status)
	}

	bw.WriteString(protocolHttp11)
	bw.WriteByte(' ')
	bw.WriteString(strconv.Itoa(int(res.Status)))
	bw.WriteByte(' ')
	bw.WriteString(reason)
	bw.WriteString("\r\n")

	for _, name := range res.Headers.sortedKeys() {
		bw.WriteString(name)
		bw.WriteString(": ")
		bw.WriteString(res.Headers[name])
		bw.WriteString("\r\n")
	}
	for _, cookie := range res.cookies {
		bw.WriteString("Set-Cookie: ")
		bw.WriteString(cookie)
		bw.WriteString("\r\n")
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}

	if body != nil && !res.omitBody {
		switch {
		case chunked:
			if err := writeChunked(bw, body); err != nil {
				return err
			}
		case contentLength > 0:
			if _, err := io.CopyN(bw, body, contentLength); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

func writeChunked(bw *bufio.Writer, body io.Reader) error {
	bufp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufp)

	enc := NewChunkedEncoder(bw)
	if _, err := io.CopyBuffer(enc, readerOnly{body}, *bufp); err != nil {
		return err
	}
	return enc.Close()
}
