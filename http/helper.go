package http

import (
	"math"
	"mime"
	"path/filepath"
	"strings"
)

// atoi parses a non-negative decimal without allocating. Signs, spaces and
// values that overflow int64 are rejected.
func atoi(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, ErrInvalidContentLength
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, ErrInvalidContentLength
		}
		d := int64(c - '0')
		if n > (math.MaxInt64-d)/10 {
			return 0, ErrInvalidContentLength
		}
		n = n*10 + d
	}
	return n, nil
}

// Convert integer to hex without allocation
func writeHexToBuffer(n int, buf []byte) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}

	const hexDigits = "0123456789ABCDEF"
	digits := 0
	temp := n

	for temp > 0 {
		digits++
		temp >>= 4
	}

	// Write hex digits backwards
	for i := digits - 1; i >= 0; i-- {
		buf[i] = hexDigits[n&0xF]
		n >>= 4
	}

	return digits
}

func hexToByte(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 255 // Invalid hex
}

// parseHex reads a chunk size. Anything but hex digits, or more digits than
// fit in an int64, is an invalid chunk size.
func parseHex(b []byte) (int64, error) {
	if len(b) == 0 || len(b) > 15 {
		return 0, ErrInvalidChunkSize
	}
	var n int64
	for _, c := range b {
		v := hexToByte(c)
		if v == 255 {
			return 0, ErrInvalidChunkSize
		}
		n = n<<4 | int64(v)
	}
	return n, nil
}

func toLowerScalar(data []byte) {
	for i := range data {
		if data[i] >= 'A' && data[i] <= 'Z' {
			data[i] += 'a' - 'A'
		}
	}
}

func isTokenSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// GetMimeType guesses a content type from the file extension.
func GetMimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".wasm":
		return "application/wasm"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
