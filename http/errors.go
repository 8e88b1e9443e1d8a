package http

import (
	"errors"
	"strconv"
)

var (
	ErrServerClosed  = errors.New("http: server closed")
	ErrServerStarted = errors.New("http: server already started")

	ErrMalformedRequestLine = errors.New("http: malformed request line")
	ErrMalformedHeader      = errors.New("http: malformed header line")
	ErrLineTooLong          = errors.New("http: request line exceeds maximum size")
	ErrHeaderTooLarge       = errors.New("http: headers exceed maximum size")
	ErrRequestTooLarge      = errors.New("http: request body exceeds maximum size")

	ErrEncodingNotSupported = errors.New("http: transfer encoding not supported")
	ErrInvalidContentLength = errors.New("http: invalid content-length")
	// Both Transfer-Encoding and Content-Length present (RFC 7230 3.3.3).
	ErrAmbiguousLength = errors.New("http: both transfer-encoding and content-length present")

	ErrInvalidChunkSize = errors.New("http: invalid chunk size encoding")
	ErrMalformedChunk   = errors.New("http: chunk data not terminated by CRLF")
	ErrEncoderFinished  = errors.New("http: write after terminal chunk")

	ErrNoBody           = errors.New("http: request has no body")
	ErrValidationType   = errors.New("http: validation payload has unexpected type")
	ErrMissingParameter = errors.New("http: route parameter missing")
)

// StatusError is how a handler asks for a status-only response. The reason
// phrase is optional; the status table supplies one when it is empty.
type StatusError struct {
	Code   uint16
	Reason string
}

func (e *StatusError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = StatusText(e.Code)
	}
	return "http: status " + strconv.Itoa(int(e.Code)) + " " + reason
}

// Error returns a StatusError for code.
func Error(code uint16) error {
	return &StatusError{Code: code}
}

// StatusOf maps any error produced while serving a request to the status
// rendered by the fallback responder. Unknown errors become 500 so internal
// detail never reaches the client.
func StatusOf(err error) uint16 {
	var statusErr *StatusError
	switch {
	case err == nil:
		return StatusOK
	case errors.As(err, &statusErr):
		return statusErr.Code
	case errors.Is(err, ErrLineTooLong):
		return StatusRequestURITooLong
	case errors.Is(err, ErrHeaderTooLarge):
		return StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, ErrRequestTooLarge):
		return StatusRequestEntityTooLarge
	case errors.Is(err, ErrMalformedRequestLine),
		errors.Is(err, ErrMalformedHeader),
		errors.Is(err, ErrEncodingNotSupported),
		errors.Is(err, ErrInvalidContentLength),
		errors.Is(err, ErrAmbiguousLength),
		errors.Is(err, ErrInvalidChunkSize),
		errors.Is(err, ErrMalformedChunk):
		return StatusBadRequest
	}
	return StatusInternalServerError
}

// isProtocolError reports whether err leaves the byte stream in an unknown
// state, in which case the connection must not be reused.
func isProtocolError(err error) bool {
	switch StatusOf(err) {
	case StatusBadRequest, StatusRequestURITooLong, StatusRequestHeaderFieldsTooLarge, StatusRequestEntityTooLarge:
		var statusErr *StatusError
		return !errors.As(err, &statusErr)
	}
	return false
}
