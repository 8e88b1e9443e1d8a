package responder

import (
	"github.com/freekieb7/cinder/http"
)

// OptionsResponder answers CORS preflight requests.
type OptionsResponder struct {
	http.PassThrough
	Origin  string
	Methods string
	Headers string
}

func NewOptionsResponder(origin, methods, headers string) *OptionsResponder {
	return &OptionsResponder{Origin: origin, Methods: methods, Headers: headers}
}

func (o *OptionsResponder) BuildResponse(_ *http.Request, _ http.Params, _ http.Validation) (*http.Response, error) {
	return http.NewResponse(http.StatusNoContent).
		WithHeader("Access-Control-Allow-Origin", o.Origin).
		WithHeader("Access-Control-Allow-Methods", o.Methods).
		WithHeader("Access-Control-Allow-Headers", o.Headers), nil
}

type corsHandler struct {
	next   http.Handler
	origin string
}

// CORS adds Access-Control-Allow-Origin to every response the wrapped
// handler builds.
func CORS(origin string) http.Middleware {
	return func(next http.Handler) http.Handler {
		return &corsHandler{next: next, origin: origin}
	}
}

func (h *corsHandler) Validate(req *http.Request, params http.Params, v http.Validation) (http.Validation, error) {
	return h.next.Validate(req, params, v)
}

func (h *corsHandler) BuildResponse(req *http.Request, params http.Params, v http.Validation) (*http.Response, error) {
	res, err := h.next.BuildResponse(req, params, v)
	if err != nil {
		return nil, err
	}
	return res.WithHeader("Access-Control-Allow-Origin", h.origin), nil
}
