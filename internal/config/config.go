package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const minJWTSecretLength = 32

var placeholderSecrets = []string{
	"your_super_secret_jwt_key_here",
	"your-secret-key",
	"your_super_secret_jwt_key_here_minimum_32_chars",
}

var (
	ErrMissingJWTSecret     = errors.New("JWT_SECRET is required")
	ErrShortJWTSecret       = fmt.Errorf("JWT_SECRET must be at least %d characters long", minJWTSecretLength)
	ErrPlaceholderJWTSecret = errors.New("JWT_SECRET is a placeholder value; set a real secret")
)

type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	Port      string `env:"PORT" envDefault:"8080"`
	SentryDSN string `env:"SENTRY_DSN"`
	Release   string `env:"APP_RELEASE"`

	JWTSecret string `env:"JWT_SECRET"`

	DatabaseURL       string        `env:"DATABASE_URL"`
	RunMigrations     bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"10m"`

	AccessTokenTTL      time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL     time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	LoginMaxAttempts    int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginLockDuration   time.Duration `env:"LOGIN_LOCK_DURATION" envDefault:"15m"`
	PasswordMinLength   int           `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	RotateRefreshTokens bool          `env:"ROTATE_REFRESH_TOKENS" envDefault:"false"`

	LoginRateLimitMax    int           `env:"LOGIN_RATE_LIMIT_MAX" envDefault:"5"`
	LoginRateLimitWindow time.Duration `env:"LOGIN_RATE_LIMIT_WINDOW" envDefault:"1m"`

	CronSecret string `env:"CRON_SECRET"`
}

// Load reads the process environment, optionally seeded from a .env file.
func Load(loadDotEnv bool) (Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}
	return parse(env.Options{})
}

// LoadFrom parses values from environment instead of the process environment.
func LoadFrom(environment map[string]string) (Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.CronSecret = strings.TrimSpace(cfg.CronSecret)

	if err := ValidateJWTSecret(cfg.JWTSecret); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

func ValidateJWTSecret(secret string) error {
	if secret == "" {
		return ErrMissingJWTSecret
	}
	if len(secret) < minJWTSecretLength {
		return ErrShortJWTSecret
	}
	for _, placeholder := range placeholderSecrets {
		if strings.EqualFold(secret, placeholder) {
			return ErrPlaceholderJWTSecret
		}
	}
	return nil
}

var (
	secretUpper   = regexp.MustCompile(`[A-Z]`)
	secretLower   = regexp.MustCompile(`[a-z]`)
	secretNumber  = regexp.MustCompile(`[0-9]`)
	secretSpecial = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// WeakJWTSecret reports a secret that passes the length guard but lacks one of
// the four character classes. Bootstrap only warns about it.
func WeakJWTSecret(secret string) bool {
	return !secretUpper.MatchString(secret) ||
		!secretLower.MatchString(secret) ||
		!secretNumber.MatchString(secret) ||
		!secretSpecial.MatchString(secret)
}
