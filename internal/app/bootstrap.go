package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"warranty-serverless/internal/auth"
	"warranty-serverless/internal/config"
	"warranty-serverless/internal/db"
	"warranty-serverless/internal/maintenance"
	"warranty-serverless/internal/observability"
)

type Options struct {
	LoadDotEnv bool
	// Environment replaces the process environment when set.
	Environment map[string]string
	Logger      *observability.Logger
}

type Runtime struct {
	Handler http.Handler
	Config  config.Config
	Close   func() error
}

type stores struct {
	accounts      auth.AccountStore
	refreshTokens auth.RefreshTokenStore
	database      *sql.DB
}

func Build(options Options) (*Runtime, error) {
	logger := options.Logger
	if logger == nil {
		logger = observability.NewLogger()
	}

	cfg, err := loadConfig(options)
	if err != nil {
		return nil, err
	}
	if config.WeakJWTSecret(cfg.JWTSecret) {
		logger.Warn("weak_jwt_secret", map[string]any{"hint": "mix upper and lower case letters, digits and symbols"})
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	clock := auth.SystemClock{}
	st, err := openStores(cfg, clock, logger)
	if err != nil {
		return nil, err
	}

	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, clock, auth.UUIDGenerator{})
	if err != nil {
		closeDatabase(st.database)
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	events := auth.NewSecurityLog(clock, observability.NewSecuritySink(logger))
	policy := auth.DefaultPasswordPolicy()
	policy.MinLength = cfg.PasswordMinLength

	authService := auth.NewService(auth.Dependencies{
		Accounts:      st.accounts,
		RefreshTokens: st.refreshTokens,
		Revocations:   auth.NewRevocationList(clock),
		Issuer:        issuer,
		Hasher:        auth.NewBcryptHasher(0),
		Events:        events,
		Clock:         clock,
	})
	authService.WithSecurityConfig(auth.SecurityConfig{
		MaxFailedAttempts:   cfg.LoginMaxAttempts,
		LockDuration:        cfg.LoginLockDuration,
		RotateRefreshTokens: cfg.RotateRefreshTokens,
		PasswordPolicy:      policy,
	})

	authHandler := auth.NewHandler(authService)
	loginLimiter := auth.NewLoginRateLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow, clock, events)
	cleanupHandler := maintenance.NewCleanupHandler(authService, logger, cfg.CronSecret)
	eventsHandler := maintenance.NewSecurityEventsHandler(authService.Events(), cfg.CronSecret)

	guard := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(authService, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/signup", loginLimiter.Middleware(http.HandlerFunc(authHandler.Signup)))
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.Handle("POST /auth/logout-all", guard(authHandler.LogoutAll))
	mux.Handle("POST /auth/verify", guard(authHandler.Verify))
	mux.Handle("GET /users/me", guard(authHandler.Me))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /internal/security/events", eventsHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(st.database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	logger.Info("app_bootstrapped", map[string]any{
		"env":             cfg.AppEnv,
		"store":           storeKind(cfg),
		"rotate_refresh":  cfg.RotateRefreshTokens,
		"login_max_tries": cfg.LoginMaxAttempts,
	})

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Close: func() error {
			observability.FlushSentry()
			if st.database == nil {
				return nil
			}
			return st.database.Close()
		},
	}, nil
}

func loadConfig(options Options) (config.Config, error) {
	if options.Environment != nil {
		return config.LoadFrom(options.Environment)
	}
	return config.Load(options.LoadDotEnv)
}

// openStores picks PostgreSQL when DATABASE_URL is set and the in-memory
// stores otherwise.
func openStores(cfg config.Config, clock auth.Clock, logger *observability.Logger) (stores, error) {
	if !cfg.UsesDatabase() {
		return stores{
			accounts:      auth.NewMemoryAccounts(clock),
			refreshTokens: auth.NewMemoryRefreshTokens(clock),
		}, nil
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return stores{}, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		closeDatabase(database)
		return stores{}, fmt.Errorf("ping database: %w", err)
	}

	if cfg.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			closeDatabase(database)
			return stores{}, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	return stores{
		accounts:      auth.NewPostgresAccounts(database, clock),
		refreshTokens: auth.NewPostgresRefreshTokens(database, clock),
		database:      database,
	}, nil
}

func closeDatabase(database *sql.DB) {
	if database != nil {
		_ = database.Close()
	}
}

func storeKind(cfg config.Config) string {
	if cfg.UsesDatabase() {
		return "postgres"
	}
	return "memory"
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if database != nil {
			if err := database.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
