package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warranty-serverless/internal/auth"
	"warranty-serverless/internal/observability"
)

const cronSecret = "cron-secret"

type stubPruner struct {
	result auth.CleanupResult
	err    error
	calls  int
}

func (s *stubPruner) PruneExpired(context.Context) (auth.CleanupResult, error) {
	s.calls++
	return s.result, s.err
}

func cronRequest(method, target, secret string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	return req
}

func TestCleanupHandler(t *testing.T) {
	logger := observability.NewLoggerTo(io.Discard)

	t.Run("hidden without secret", func(t *testing.T) {
		pruner := &stubPruner{}
		rec := httptest.NewRecorder()
		NewCleanupHandler(pruner, logger, "").Handle(rec, cronRequest(http.MethodPost, "/internal/maintenance/cleanup", cronSecret))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Zero(t, pruner.calls)
	})

	t.Run("wrong secret", func(t *testing.T) {
		pruner := &stubPruner{}
		rec := httptest.NewRecorder()
		NewCleanupHandler(pruner, logger, cronSecret).Handle(rec, cronRequest(http.MethodPost, "/internal/maintenance/cleanup", "nope"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, pruner.calls)
	})

	t.Run("prunes", func(t *testing.T) {
		pruner := &stubPruner{result: auth.CleanupResult{PrunedRefreshTokens: 3, PrunedRevocations: 2}}
		rec := httptest.NewRecorder()
		NewCleanupHandler(pruner, logger, cronSecret).Handle(rec, cronRequest(http.MethodGet, "/internal/maintenance/cleanup", cronSecret))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","result":{"pruned_refresh_tokens":3,"pruned_revocations":2}}`, rec.Body.String())
	})

	t.Run("store failure", func(t *testing.T) {
		pruner := &stubPruner{err: errors.New("db down")}
		rec := httptest.NewRecorder()
		NewCleanupHandler(pruner, logger, cronSecret).Handle(rec, cronRequest(http.MethodPost, "/internal/maintenance/cleanup", cronSecret))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestSecurityEventsHandler(t *testing.T) {
	events := auth.NewSecurityLog(nil, nil)
	events.Record(auth.EventSignup, auth.EventDetails{Email: "a@example.com"})
	events.Record(auth.EventFailedLogin, auth.EventDetails{Email: "a@example.com"})
	events.Record(auth.EventFailedLogin, auth.EventDetails{Email: "b@example.com"})
	handler := NewSecurityEventsHandler(events, cronSecret)

	type response struct {
		Count  int                  `json:"count"`
		Events []auth.SecurityEvent `json:"events"`
	}
	get := func(target string) (*httptest.ResponseRecorder, response) {
		rec := httptest.NewRecorder()
		handler.Handle(rec, cronRequest(http.MethodGet, target, cronSecret))
		var body response
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		}
		return rec, body
	}

	_, all := get("/internal/security/events")
	assert.Equal(t, 3, all.Count)

	_, failed := get("/internal/security/events?type=failed_login&limit=1")
	require.Equal(t, 1, failed.Count)
	assert.Equal(t, "b@example.com", failed.Events[0].Details.Email)

	rec, _ := get("/internal/security/events?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.Handle(rec, cronRequest(http.MethodGet, "/internal/security/events", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
