package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  Kind   `json:"code,omitempty"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var body signupRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	result, err := h.service.Signup(withMeta(r), body.Email, body.Password, body.Name)
	if err != nil {
		h.writeServiceError(w, err, "failed to sign up")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	result, err := h.service.Login(withMeta(r), body.Email, body.Password)
	if err != nil {
		h.writeServiceError(w, err, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	result, err := h.service.Refresh(withMeta(r), body.RefreshToken)
	if err != nil {
		h.writeServiceError(w, err, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Logout accepts an optional bearer access token and an optional refresh
// token in the body. Malformed input never fails the request.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body logoutRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	accessToken, _ := bearerToken(r)
	result, err := h.service.Logout(withMeta(r), body.RefreshToken, accessToken)
	if err != nil {
		h.writeServiceError(w, err, "failed to logout")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.writeServiceError(w, ErrUnauthorized, "")
		return
	}

	accessToken, _ := bearerToken(r)
	count, err := h.service.LogoutEverywhere(withMeta(r), claims.AccountID, accessToken)
	if err != nil {
		h.writeServiceError(w, err, "failed to logout")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "revoked_sessions": count})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.writeServiceError(w, ErrUnauthorized, "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "claims": claims})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.writeServiceError(w, ErrUnauthorized, "")
		return
	}

	account, err := h.service.Account(r.Context(), claims.AccountID)
	if err != nil {
		h.writeServiceError(w, err, "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func withMeta(r *http.Request) context.Context {
	return WithRequestMeta(r.Context(), RequestMeta{IP: clientIP(r), Endpoint: r.Method + " " + r.URL.Path})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, internalMessage string) {
	writeServiceError(w, err, internalMessage, h.service.clock.Now())
}

func writeServiceError(w http.ResponseWriter, err error, internalMessage string, now time.Time) {
	var authErr *Error
	if !errors.As(err, &authErr) {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, internalMessage)
		return
	}

	status := http.StatusUnauthorized
	switch authErr.Kind {
	case KindValidation:
		status = http.StatusBadRequest
	case KindAlreadyExists:
		status = http.StatusConflict
	case KindAccountLocked:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(now, authErr.RetryAt)))
	}

	writeJSON(w, status, errorResponse{Error: authErr.Message, Code: authErr.Kind})
}

func retryAfterSeconds(now, until time.Time) int {
	seconds := int(math.Ceil(until.Sub(now).Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
