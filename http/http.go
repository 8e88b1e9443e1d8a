package http

import (
	"sort"
	"strings"
	"time"
)

const (
	DefaultBufferSize     = 8 * 1024               // 8kB
	MaxRequestLineSize    = 8 * 1024               // 8kB
	MaxHeaderSize         = 2 * 1024 * 1024        // 2MB
	MaxRequestSize        = 50 * 1024 * 1024       // 50MB
	DefaultIdleTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultServerName     = "cinder"
	TimeFormat            = "Mon, 02 Jan 2006 15:04:05 GMT"
	maxChunkSizeLineBytes = 4096
)

// Limits are the size ceilings enforced while reading a request.
type Limits struct {
	MaxRequestLine int
	MaxHeaderSize  int
	MaxRequestSize int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxRequestLine: MaxRequestLineSize,
		MaxHeaderSize:  MaxHeaderSize,
		MaxRequestSize: MaxRequestSize,
	}
}

const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodPatch   = "PATCH"
	MethodDelete  = "DELETE"
	MethodConnect = "CONNECT"
	MethodOptions = "OPTIONS"
	MethodTrace   = "TRACE"
)

const (
	protocolHttp10 = "HTTP/1.0"
	protocolHttp11 = "HTTP/1.1"

	headerConnection       = "connection"
	headerContentLength    = "content-length"
	headerTransferEncoding = "transfer-encoding"
	headerCookie           = "cookie"

	connectionKeepAlive = "keep-alive"
	connectionClose     = "close"

	encodingChunked  = "chunked"
	encodingIdentity = "identity"
)

// Headers maps a field name to its value. Request headers are keyed by the
// lower-cased field name; response headers keep the name they were set with.
type Headers map[string]string

// Get looks up name case-insensitively.
func (h Headers) Get(name string) (string, bool) {
	if v, ok := h[name]; ok {
		return v, true
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Set replaces any existing field with the same name regardless of case.
func (h Headers) Set(name, value string) {
	h.Del(name)
	h[name] = value
}

func (h Headers) Del(name string) {
	for k := range h {
		if strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
}

func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// sortedKeys gives a stable write order for serialisation.
func (h Headers) sortedKeys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
