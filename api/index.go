package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"warranty-serverless/internal/app"
	"warranty-serverless/internal/observability"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler is the serverless entrypoint. The runtime is built once per
// instance; state held in memory lives only as long as that instance.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		logger := observability.NewLogger()
		apiRuntime, initErr = app.Build(app.Options{LoadDotEnv: false, Logger: logger})
		if initErr != nil {
			logger.Error("bootstrap_failed", map[string]any{"error": initErr.Error()})
		}
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
