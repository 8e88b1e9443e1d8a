package http

import (
	"bufio"
	"io"
	"strings"
)

// attachBody builds the decoder chain for the request body from its framing
// headers and attaches it to req. It returns the keep-alive decision after
// framing has been taken into account.
//
// Transfer-Encoding tokens are applied left to right; chunked wraps the
// stream built so far and identity is a no-op. If the last token is not
// chunked the body is delimited by connection close, so the connection
// cannot be reused. Transfer-Encoding together with Content-Length is
// rejected instead of picking one of them (RFC 7230 3.3.3).
func attachBody(req *Request, br *bufio.Reader, limits Limits, keepAlive bool) (bool, error) {
	te, hasTE := req.Header(headerTransferEncoding)
	cl, hasCL := req.Header(headerContentLength)

	if hasTE && hasCL {
		return false, ErrAmbiguousLength
	}

	var body io.Reader
	switch {
	case hasTE:
		var last string
		body = br
		for _, token := range strings.Split(te, ",") {
			token = strings.ToLower(strings.TrimSpace(token))
			switch token {
			case "":
				continue
			case encodingChunked:
				decoder := NewChunkedDecoder(body)
				decoder.TrailerLimit = limits.MaxHeaderSize
				body = decoder
			case encodingIdentity:
			default:
				return false, ErrEncodingNotSupported
			}
			last = token
		}
		if last == "" {
			return false, ErrEncodingNotSupported
		}
		if last != encodingChunked {
			keepAlive = false
		}

	case hasCL:
		n, err := atoi([]byte(strings.TrimSpace(cl)))
		if err != nil {
			return false, err
		}
		if n > limits.MaxRequestSize {
			return false, ErrRequestTooLarge
		}
		body = &fixedBody{r: br, remaining: n}
	}

	if body != nil {
		req.Body = &sizedBody{r: body, req: req, limit: limits.MaxRequestSize}
	}
	return keepAlive, nil
}

// drainBody discards whatever the handler left unread so the next request
// starts at the right byte.
func drainBody(req *Request) error {
	if req.Body == nil {
		return nil
	}
	_, err := io.Copy(io.Discard, req.Body)
	return err
}

// fixedBody reads exactly remaining bytes. Running out early is an
// unexpected EOF rather than a short body.
type fixedBody struct {
	r         io.Reader
	remaining int64
}

func (b *fixedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	if err == io.EOF && b.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// sizedBody counts body bytes into the request total and fails once more
// than limit body bytes have been read.
type sizedBody struct {
	r     io.Reader
	req   *Request
	read  int64
	limit int64
	err   error
}

func (b *sizedBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	n, err := b.r.Read(p)
	b.read += int64(n)
	b.req.TotalSize += int64(n)
	if b.limit > 0 && b.read > b.limit {
		b.err = ErrRequestTooLarge
		return n, b.err
	}
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}
