package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PostgresAccounts is the AccountStore backed by the accounts table.
type PostgresAccounts struct {
	db    *sql.DB
	clock Clock
}

func NewPostgresAccounts(db *sql.DB, clock Clock) *PostgresAccounts {
	if clock == nil {
		clock = SystemClock{}
	}
	return &PostgresAccounts{db: db, clock: clock}
}

func (r *PostgresAccounts) Create(ctx context.Context, email, passwordHash, name string) (Account, error) {
	account := Account{
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		Name:         name,
		CreatedAt:    r.clock.Now(),
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email, password_hash, name, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, account.Email, account.PasswordHash, account.Name, account.CreatedAt).Scan(&account.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrEmailTaken
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}

	return account, nil
}

func (r *PostgresAccounts) FindByEmail(ctx context.Context, email string) (Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, created_at, failed_login_attempts, locked_until
		FROM accounts
		WHERE lower(email) = $1
	`, normalizeEmail(email))
	return scanAccount(row)
}

func (r *PostgresAccounts) FindByID(ctx context.Context, id int64) (Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, created_at, failed_login_attempts, locked_until
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

func (r *PostgresAccounts) RegisterFailedLogin(ctx context.Context, id int64, maxAttempts int, lockFor time.Duration, now time.Time) (LoginAttempt, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LoginAttempt{}, fmt.Errorf("begin login attempt tx: %w", err)
	}
	defer tx.Rollback()

	failed, lockedUntil, err := lockAttemptRow(ctx, tx, id)
	if err != nil {
		return LoginAttempt{}, err
	}

	if lockedUntil.Valid {
		if now.Before(lockedUntil.Time) {
			until := lockedUntil.Time.UTC()
			if err := tx.Commit(); err != nil {
				return LoginAttempt{}, fmt.Errorf("commit existing lock tx: %w", err)
			}
			return LoginAttempt{FailedAttempts: failed, LockedUntil: &until}, nil
		}
		failed = 0
	}

	failed++
	attempt := LoginAttempt{FailedAttempts: failed}
	var nextLock any
	if failed >= maxAttempts {
		until := now.UTC().Add(lockFor)
		attempt.LockedUntil = &until
		attempt.JustLocked = true
		nextLock = until
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET failed_login_attempts = $2, locked_until = $3
		WHERE id = $1
	`, id, failed, nextLock); err != nil {
		return LoginAttempt{}, fmt.Errorf("update failed login attempts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LoginAttempt{}, fmt.Errorf("commit login attempt tx: %w", err)
	}
	return attempt, nil
}

func (r *PostgresAccounts) ClearFailedLogins(ctx context.Context, id int64, now time.Time) (LoginAttempt, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LoginAttempt{}, fmt.Errorf("begin reset login attempts tx: %w", err)
	}
	defer tx.Rollback()

	failed, lockedUntil, err := lockAttemptRow(ctx, tx, id)
	if err != nil {
		return LoginAttempt{}, err
	}
	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		return LoginAttempt{FailedAttempts: failed, LockedUntil: &until}, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET failed_login_attempts = 0, locked_until = NULL
		WHERE id = $1
	`, id); err != nil {
		return LoginAttempt{}, fmt.Errorf("reset login attempts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LoginAttempt{}, fmt.Errorf("commit reset login attempts tx: %w", err)
	}
	return LoginAttempt{}, nil
}

func lockAttemptRow(ctx context.Context, tx *sql.Tx, id int64) (int, sql.NullTime, error) {
	var failed int
	var lockedUntil sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT failed_login_attempts, locked_until
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&failed, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, sql.NullTime{}, ErrNotFound
		}
		return 0, sql.NullTime{}, fmt.Errorf("lock account row: %w", err)
	}
	return failed, lockedUntil, nil
}

func scanAccount(row *sql.Row) (Account, error) {
	var account Account
	var lockedUntil sql.NullTime
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Name,
		&account.CreatedAt,
		&account.FailedLoginAttempts,
		&lockedUntil,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}

	account.CreatedAt = account.CreatedAt.UTC()
	if lockedUntil.Valid {
		until := lockedUntil.Time.UTC()
		account.LockedUntil = &until
	}
	return account, nil
}

// PostgresRefreshTokens is the RefreshTokenStore backed by the refresh_tokens
// table. Only the SHA-256 of each token is persisted.
type PostgresRefreshTokens struct {
	db    *sql.DB
	clock Clock
}

func NewPostgresRefreshTokens(db *sql.DB, clock Clock) *PostgresRefreshTokens {
	if clock == nil {
		clock = SystemClock{}
	}
	return &PostgresRefreshTokens{db: db, clock: clock}
}

func (r *PostgresRefreshTokens) Create(ctx context.Context, accountID int64, token string, expiresAt time.Time) (RefreshToken, error) {
	record := RefreshToken{
		AccountID: accountID,
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: r.clock.Now(),
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO refresh_tokens (account_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, accountID, hashToken(token), record.ExpiresAt, record.CreatedAt).Scan(&record.ID)
	if err != nil {
		return RefreshToken{}, fmt.Errorf("insert refresh token: %w", err)
	}

	return record, nil
}

func (r *PostgresRefreshTokens) FindByToken(ctx context.Context, token string) (RefreshToken, error) {
	record := RefreshToken{Token: token}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, expires_at, created_at, revoked
		FROM refresh_tokens
		WHERE token_hash = $1
	`, hashToken(token)).Scan(&record.ID, &record.AccountID, &record.ExpiresAt, &record.CreatedAt, &record.Revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshToken{}, ErrNotFound
		}
		return RefreshToken{}, fmt.Errorf("query refresh token: %w", err)
	}

	record.ExpiresAt = record.ExpiresAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

func (r *PostgresRefreshTokens) Revoke(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE token_hash = $1 AND NOT revoked
	`, hashToken(token), r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *PostgresRefreshTokens) RevokeAll(ctx context.Context, accountID int64) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE account_id = $1 AND NOT revoked
	`, accountID, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("revoke account refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke account refresh tokens rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *PostgresRefreshTokens) PruneExpired(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1
	`, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}
	return int(affected), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
