package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"warranty-serverless/internal/auth"
	"warranty-serverless/internal/observability"
)

type Pruner interface {
	PruneExpired(ctx context.Context) (auth.CleanupResult, error)
}

type CleanupHandler struct {
	pruner     Pruner
	logger     *observability.Logger
	cronSecret string
}

func NewCleanupHandler(pruner Pruner, logger *observability.Logger, cronSecret string) *CleanupHandler {
	return &CleanupHandler{
		pruner:     pruner,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !authorizeCron(w, r, h.cronSecret) {
		return
	}

	result, err := h.pruner.PruneExpired(r.Context())
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"pruned_refresh_tokens": result.PrunedRefreshTokens,
		"pruned_revocations":    result.PrunedRevocations,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

const maxEventsLimit = 1000

// SecurityEventsHandler exposes the in-process security event log to
// operators holding the cron secret.
type SecurityEventsHandler struct {
	events     *auth.SecurityLog
	cronSecret string
}

func NewSecurityEventsHandler(events *auth.SecurityLog, cronSecret string) *SecurityEventsHandler {
	return &SecurityEventsHandler{events: events, cronSecret: strings.TrimSpace(cronSecret)}
}

func (h *SecurityEventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !authorizeCron(w, r, h.cronSecret) {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxEventsLimit)
	}

	var events []auth.SecurityEvent
	if eventType := strings.TrimSpace(r.URL.Query().Get("type")); eventType != "" {
		events = h.events.ByType(auth.EventType(strings.ToUpper(eventType)))
		if limit > 0 && len(events) > limit {
			events = events[len(events)-limit:]
		}
	} else {
		events = h.events.Recent(limit)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

// authorizeCron answers 404 when no secret is configured so the internal
// routes are invisible by default.
func authorizeCron(w http.ResponseWriter, r *http.Request, secret string) bool {
	if secret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return false
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
