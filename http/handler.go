package http

// Validation is the payload handed from Validate to BuildResponse. It is
// whatever the producing handler put there: a resolved file, a session, or
// nil.
type Validation any

// Handler serves one route in two phases. Validate checks the request can be
// served and must not have side effects; BuildResponse does the work. A
// decorator owns an inner Handler and forwards both calls, passing along the
// payload it produced so the inner handler can build on it.
//
// Either phase signals a status-only response by returning an error,
// normally a *StatusError. Any other error is rendered as 500. When Validate
// fails BuildResponse is not called.
type Handler interface {
	Validate(req *Request, params Params, v Validation) (Validation, error)
	BuildResponse(req *Request, params Params, v Validation) (*Response, error)
}

// PassThrough supplies the default Validate, which forwards the incoming
// payload unchanged. Embed it in handlers that need no validation.
type PassThrough struct{}

func (PassThrough) Validate(_ *Request, _ Params, v Validation) (Validation, error) {
	return v, nil
}

// HandlerFunc adapts a function to a Handler with the default Validate.
type HandlerFunc func(req *Request, params Params, v Validation) (*Response, error)

func (f HandlerFunc) Validate(_ *Request, _ Params, v Validation) (Validation, error) {
	return v, nil
}

func (f HandlerFunc) BuildResponse(req *Request, params Params, v Validation) (*Response, error) {
	return f(req, params, v)
}

// ValidationAs asserts the payload type. A mismatch means the handler chain
// was wired wrongly, so it is reported as an internal error.
func ValidationAs[T any](v Validation) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, ErrValidationType
	}
	return t, nil
}
