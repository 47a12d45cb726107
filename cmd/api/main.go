package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warranty-serverless/internal/app"
	"warranty-serverless/internal/observability"
)

func main() {
	logger := observability.NewLogger()

	runtime, err := app.Build(app.Options{LoadDotEnv: true, Logger: logger})
	if err != nil {
		logger.Error("bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer runtime.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", runtime.Config.Port),
		Handler:           runtime.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server_shutdown_failed", map[string]any{"error": err.Error()})
		}
	}()

	logger.Info("server_start", map[string]any{"addr": server.Addr})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("server_stopped", nil)
}
