package http

import (
	"errors"
	"html"
	"strconv"
)

// StaticResponder always answers with the same status and a small HTML
// page. The connection loop uses it to render every status-only outcome.
type StaticResponder struct {
	PassThrough
	Status  uint16
	Message string
}

func NewStaticResponder(status uint16, message string) *StaticResponder {
	return &StaticResponder{Status: status, Message: message}
}

// StaticResponderFor uses the reason phrase as the message.
func StaticResponderFor(status uint16) *StaticResponder {
	return NewStaticResponder(status, StatusText(status))
}

func (s *StaticResponder) BuildResponse(_ *Request, _ Params, _ Validation) (*Response, error) {
	res := NewResponse(s.Status)
	if !bodyAllowed(s.Status) {
		return res, nil
	}

	code := strconv.Itoa(int(s.Status))
	msg := html.EscapeString(s.Message)
	return res.WithHTML("<!DOCTYPE html><html><head><title>" + code + " " + msg +
		"</title></head><body><h1>" + code + "</h1><p>" + msg + "</p></body></html>"), nil
}

// statusResponse renders err through the static responder. The reason
// phrase of a *StatusError overrides the table's.
func statusResponse(err error) *Response {
	code := StatusOf(err)
	responder := StaticResponderFor(code)

	var reason string
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		reason = statusErr.Reason
	}

	res, _ := responder.BuildResponse(nil, nil, nil)
	res.Reason = reason
	return res
}
