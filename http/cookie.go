package http

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

type SameSite int

const (
	SameSiteDefaultMode SameSite = iota + 1
	SameSiteLaxMode
	SameSiteStrictMode
	SameSiteNoneMode
)

var (
	ErrInvalidCookie = errors.New("http: invalid cookie")
	ErrCookieTooLong = errors.New("http: cookie value too long")
)

const maxCookieValueSize = 4096

type Cookie struct {
	Name  string
	Value string

	Path     string
	Domain   string
	Expires  time.Time
	MaxAge   int
	Secure   bool
	HttpOnly bool
	SameSite SameSite
}

// String renders the cookie as a Set-Cookie field value.
func (c *Cookie) String() string {
	var b strings.Builder

	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)

	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires.UTC().Format(TimeFormat))
	}

	if c.MaxAge > 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(c.MaxAge))
	} else if c.MaxAge < 0 {
		b.WriteString("; Max-Age=0")
	}

	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HttpOnly {
		b.WriteString("; HttpOnly")
	}

	switch c.SameSite {
	case SameSiteLaxMode:
		b.WriteString("; SameSite=Lax")
	case SameSiteStrictMode:
		b.WriteString("; SameSite=Strict")
	case SameSiteNoneMode:
		b.WriteString("; SameSite=None")
	}

	return b.String()
}

// Valid checks the name and value against RFC 6265.
func (c *Cookie) Valid() error {
	if c.Name == "" {
		return ErrInvalidCookie
	}
	for _, r := range c.Name {
		if !isValidCookieNameChar(r) {
			return ErrInvalidCookie
		}
	}
	if strings.ContainsAny(c.Value, "\r\n;") {
		return ErrInvalidCookie
	}
	if len(c.Value) > maxCookieValueSize {
		return ErrCookieTooLong
	}
	// SameSite=None requires Secure
	if c.SameSite == SameSiteNoneMode && !c.Secure {
		return ErrInvalidCookie
	}
	return nil
}

// Expire turns the cookie into one that tells the client to drop it.
func (c *Cookie) Expire() {
	c.Value = ""
	c.MaxAge = -1
	c.Expires = time.Unix(1, 0)
}

func isValidCookieNameChar(r rune) bool {
	return r > 0x20 && r < 0x7f && r != '"' && r != ',' && r != ';' && r != '\\' &&
		r != '=' && r != '(' && r != ')' && r != '<' && r != '>' && r != '@' &&
		r != '{' && r != '}' && r != '[' && r != ']' && r != '?' && r != ':' && r != '/'
}

// ParseCookies splits a Cookie request header into name/value pairs.
// Malformed pairs are skipped. Repeated Cookie fields arrive comma-joined
// from the request reader, so commas separate pairs as well.
func ParseCookies(header string) ([]*Cookie, error) {
	var cookies []*Cookie

	for _, part := range strings.FieldsFunc(header, func(r rune) bool { return r == ';' || r == ',' }) {
		part = strings.TrimSpace(part)
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		cookie := &Cookie{
			Name:  strings.TrimSpace(name),
			Value: strings.Trim(strings.TrimSpace(value), `"`),
		}
		if cookie.Name == "" {
			continue
		}
		cookies = append(cookies, cookie)
	}

	if len(cookies) == 0 {
		return nil, ErrNoCookie
	}
	return cookies, nil
}
