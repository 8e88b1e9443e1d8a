package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/freekieb7/cinder/http"
	"github.com/freekieb7/cinder/session"
	"github.com/freekieb7/cinder/uuid"
	"github.com/freekieb7/cinder/validation"
)

var (
	createAccountRules = map[string][]string{
		"email":  {"required", "email", "max:254"},
		"secret": {"required", "min:8", "max:72"},
	}
	credentialRules = map[string][]string{
		"email": {"required", "email", "max:254"},
		"pass":  {"required", "max:72"},
	}
	verifyRules = map[string][]string{
		"email": {"required", "email", "max:254"},
		"pass":  {"required", "max:72"},
		"code":  {"required", "alphanumeric", "max:30"},
	}
	logoutRules = map[string][]string{
		"token": {"alphanumeric", "max:30"},
	}
)

// errInvalidForm wraps the violations of a rejected form.
type errInvalidForm struct {
	violations validation.Violations
}

func (e *errInvalidForm) Error() string {
	return e.violations.Error()
}

// readForm decodes a flat JSON object and checks it against rules.
func readForm(req *http.Request, rules map[string][]string) (map[string]string, error) {
	body, err := req.ReadBody()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, http.ErrNoBody
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, http.Error(http.StatusBadRequest)
	}
	if violations := validation.ValidateMap(data, rules); !violations.IsEmpty() {
		return nil, &errInvalidForm{violations: violations}
	}

	form := make(map[string]string, len(data))
	for name, value := range data {
		if s, ok := value.(string); ok {
			form[name] = s
		} else {
			form[name] = fmt.Sprint(value)
		}
	}
	return form, nil
}

func sessionResponse(s session.Session) (*http.Response, error) {
	res, err := http.NewResponse(http.StatusOK).WithJson(s)
	if err != nil {
		return nil, err
	}
	return res.SetCookie(sessionCookie(s)), nil
}

// unauthorized hides why a credential check failed. Only the log knows.
func unauthorized(logger *slog.Logger, req *http.Request, op string, err error) error {
	logger.DebugContext(req.Context(), "auth request rejected",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return http.Error(http.StatusUnauthorized)
}

type CreateAccountHandler struct {
	http.PassThrough
	Manager *Manager
}

func (h *CreateAccountHandler) BuildResponse(req *http.Request, _ http.Params, _ http.Validation) (*http.Response, error) {
	form, err := readForm(req, createAccountRules)
	if err != nil {
		var invalid *errInvalidForm
		if errors.As(err, &invalid) {
			return http.NewResponse(http.StatusBadRequest).WithJson(invalid.violations)
		}
		if errors.Is(err, http.ErrNoBody) {
			return nil, http.Error(http.StatusBadRequest)
		}
		return nil, err
	}

	account, err := h.Manager.CreateAccount(req.Context(), form["email"], form["secret"])
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, http.Error(http.StatusConflict)
		}
		return nil, err
	}

	return http.NewResponse(http.StatusCreated).WithJson(map[string]string{
		"id":    account.ID.String(),
		"email": account.Email,
	})
}

type VerifyAccountHandler struct {
	http.PassThrough
	Manager *Manager
}

func (h *VerifyAccountHandler) BuildResponse(req *http.Request, _ http.Params, _ http.Validation) (*http.Response, error) {
	form, err := readForm(req, verifyRules)
	if err != nil {
		return nil, unauthorized(h.Manager.Logger, req, "verify", err)
	}
	s, err := h.Manager.VerifyAccount(req.Context(), form["email"], form["pass"], form["code"])
	if err != nil {
		return nil, unauthorized(h.Manager.Logger, req, "verify", err)
	}
	return sessionResponse(s)
}

type ResetVerificationHandler struct {
	http.PassThrough
	Manager *Manager
}

func (h *ResetVerificationHandler) BuildResponse(req *http.Request, _ http.Params, _ http.Validation) (*http.Response, error) {
	form, err := readForm(req, credentialRules)
	if err != nil {
		return nil, unauthorized(h.Manager.Logger, req, "reset", err)
	}
	if err := h.Manager.ResetVerification(req.Context(), form["email"], form["pass"]); err != nil {
		return nil, unauthorized(h.Manager.Logger, req, "reset", err)
	}
	return http.StaticResponderFor(http.StatusOK).BuildResponse(req, nil, nil)
}

type LoginHandler struct {
	http.PassThrough
	Manager *Manager
}

func (h *LoginHandler) BuildResponse(req *http.Request, _ http.Params, _ http.Validation) (*http.Response, error) {
	form, err := readForm(req, credentialRules)
	if err != nil {
		return nil, unauthorized(h.Manager.Logger, req, "login", err)
	}
	s, err := h.Manager.Login(req.Context(), form["email"], form["pass"])
	if err != nil {
		return nil, unauthorized(h.Manager.Logger, req, "login", err)
	}
	return sessionResponse(s)
}

// LogoutHandler ends the session named in the form, or the one presented
// in the header or cookie when the request has no body.
type LogoutHandler struct {
	http.PassThrough
	Manager *Manager
}

func (h *LogoutHandler) BuildResponse(req *http.Request, _ http.Params, _ http.Validation) (*http.Response, error) {
	token := sessionToken(req)
	if req.Body != nil {
		form, err := readForm(req, logoutRules)
		if err != nil && !errors.Is(err, http.ErrNoBody) {
			return nil, unauthorized(h.Manager.Logger, req, "logout", err)
		}
		if form["token"] != "" {
			token = form["token"]
		}
	}
	if token == "" {
		return nil, http.Error(http.StatusUnauthorized)
	}

	if err := h.Manager.Logout(req.Context(), token); err != nil {
		return nil, unauthorized(h.Manager.Logger, req, "logout", err)
	}

	cookie := &http.Cookie{Name: SessionCookie, Path: "/"}
	cookie.Expire()
	res, err := http.StaticResponderFor(http.StatusOK).BuildResponse(req, nil, nil)
	if err != nil {
		return nil, err
	}
	return res.SetCookie(cookie), nil
}

// SessionHandler echoes the session resolved by Secure.
type SessionHandler struct {
	http.PassThrough
}

func (h *SessionHandler) BuildResponse(_ *http.Request, _ http.Params, v http.Validation) (*http.Response, error) {
	s, err := http.ValidationAs[session.Session](v)
	if err != nil {
		return nil, err
	}
	return http.NewResponse(http.StatusOK).WithJson(s)
}

// DeleteAccountHandler removes the account that owns the session resolved
// by Secure.
type DeleteAccountHandler struct {
	http.PassThrough
	Manager *Manager
}

func (h *DeleteAccountHandler) BuildResponse(req *http.Request, _ http.Params, v http.Validation) (*http.Response, error) {
	s, err := http.ValidationAs[session.Session](v)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(s.AccountID)
	if err != nil {
		return nil, err
	}
	if err := h.Manager.DeleteAccount(req.Context(), id); err != nil {
		return nil, err
	}
	return http.NewResponse(http.StatusNoContent), nil
}

// Routes registers the account endpoints.
func Routes(router *http.Router, manager *Manager, middleware ...http.Middleware) {
	router.Post("/account/create", &CreateAccountHandler{Manager: manager}, middleware...)
	router.Post("/account/verify", &VerifyAccountHandler{Manager: manager}, middleware...)
	router.Post("/account/reset", &ResetVerificationHandler{Manager: manager}, middleware...)
	router.Post("/login", &LoginHandler{Manager: manager}, middleware...)
	router.Post("/logout", &LogoutHandler{Manager: manager}, middleware...)

	secured := append(slices.Clone(middleware), Secure(manager))
	router.Get("/account/session", &SessionHandler{}, secured...)
	router.Delete("/account", &DeleteAccountHandler{Manager: manager}, secured...)
}
