package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(env *testEnv) http.Handler {
	handler := NewHandler(env.service)
	limiter := NewLoginRateLimiter(100, time.Minute, env.clock, env.events)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/signup", limiter.Middleware(http.HandlerFunc(handler.Signup)))
	mux.Handle("POST /auth/login", limiter.Middleware(http.HandlerFunc(handler.Login)))
	mux.HandleFunc("POST /auth/refresh", handler.Refresh)
	mux.HandleFunc("POST /auth/logout", handler.Logout)
	mux.Handle("POST /auth/logout-all", Middleware(env.service, http.HandlerFunc(handler.LogoutAll)))
	mux.Handle("POST /auth/verify", Middleware(env.service, http.HandlerFunc(handler.Verify)))
	mux.Handle("GET /users/me", Middleware(env.service, http.HandlerFunc(handler.Me)))
	return mux
}

func doJSON(t *testing.T, router http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandler_SignupLoginMe(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", "", signupRequest{Email: testEmail, Password: testPassword, Name: testName})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	signup := decodeBody[AuthResult](t, rec)
	assert.Equal(t, int64(900), signup.ExpiresIn)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = doJSON(t, router, http.MethodPost, "/auth/login", "", loginRequest{Email: testEmail, Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decodeBody[AuthResult](t, rec)

	rec = doJSON(t, router, http.MethodGet, "/users/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decodeBody[AccountView](t, rec)
	assert.Equal(t, testEmail, me.Email)

	rec = doJSON(t, router, http.MethodPost, "/auth/verify", login.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)
	env.signup(t)

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   Kind
	}{
		{"validation", "/auth/signup", signupRequest{Email: "bad", Password: testPassword, Name: testName}, http.StatusBadRequest, KindValidation},
		{"duplicate", "/auth/signup", signupRequest{Email: testEmail, Password: testPassword, Name: testName}, http.StatusConflict, KindAlreadyExists},
		{"bad credentials", "/auth/login", loginRequest{Email: testEmail, Password: "WrongPass123!"}, http.StatusUnauthorized, KindInvalidCredentials},
		{"bad refresh", "/auth/refresh", refreshRequest{RefreshToken: "nope"}, http.StatusUnauthorized, KindInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, tc.path, "", tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			body := decodeBody[errorResponse](t, rec)
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestHandler_RejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	rec := doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{"email": testEmail, "password": testPassword, "admin": "true"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_LockedLoginSetsRetryAfter(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)
	env.signup(t)
	env.service.WithSecurityConfig(SecurityConfig{MaxFailedAttempts: 1, LockDuration: time.Hour})

	rec := doJSON(t, router, http.MethodPost, "/auth/login", "", loginRequest{Email: testEmail, Password: "WrongPass123!"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/login", "", loginRequest{Email: testEmail, Password: testPassword})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, KindAccountLocked, decodeBody[errorResponse](t, rec).Code)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Equal(t, 3600, retryAfter)
}

func TestHandler_RefreshAndLogout(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)
	session := env.signup(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: session.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeBody[RefreshResult](t, rec).AccessToken)

	rec = doJSON(t, router, http.MethodPost, "/auth/logout", session.AccessToken, logoutRequest{RefreshToken: session.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[LogoutResult](t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, OutcomeRevoked, result.Access)
	assert.Equal(t, OutcomeRevoked, result.Refresh)

	rec = doJSON(t, router, http.MethodGet, "/users/me", session.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, KindTokenRevoked, decodeBody[errorResponse](t, rec).Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_LogoutWithEmptyBody(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[LogoutResult](t, rec)
	assert.Equal(t, OutcomeNotPresented, result.Refresh)
	assert.Equal(t, OutcomeNotPresented, result.Access)
}

func TestHandler_LogoutAll(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)
	session := env.signup(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/logout-all", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, float64(1), body["revoked_sessions"])

	rec = doJSON(t, router, http.MethodPost, "/auth/logout-all", session.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
