package auth

import (
	"github.com/freekieb7/cinder/http"
	"github.com/freekieb7/cinder/session"
)

const (
	SessionHeader = "x-session-token"
	SessionCookie = "session_token"
)

// secureHandler admits requests that carry a valid session token and hands
// the session to the wrapped handler as its validation payload.
type secureHandler struct {
	next    http.Handler
	manager *Manager
}

// Secure gates a route behind a session. A missing, unknown or expired token
// is answered with 403; a failing session store with 500.
func Secure(manager *Manager) http.Middleware {
	return func(next http.Handler) http.Handler {
		return &secureHandler{next: next, manager: manager}
	}
}

func (h *secureHandler) Validate(req *http.Request, params http.Params, _ http.Validation) (http.Validation, error) {
	token := sessionToken(req)
	if token == "" {
		return nil, http.Error(http.StatusForbidden)
	}

	s, err := h.manager.FindValidSession(req.Context(), token)
	if err != nil {
		if IsSessionError(err) {
			return nil, http.Error(http.StatusForbidden)
		}
		return nil, err
	}
	return h.next.Validate(req, params, s)
}

func (h *secureHandler) BuildResponse(req *http.Request, params http.Params, v http.Validation) (*http.Response, error) {
	return h.next.BuildResponse(req, params, v)
}

// sessionToken prefers the header over the cookie.
func sessionToken(req *http.Request) string {
	if token, found := req.Header(SessionHeader); found && token != "" {
		return token
	}
	if cookie, err := req.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func sessionCookie(s session.Session) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.Expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
