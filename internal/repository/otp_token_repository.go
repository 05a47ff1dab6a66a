package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pancomido/auth/internal/models"
)

var ErrOTPNotFound = errors.New("otp token not found")

type OTPTokenRepository struct {
	pool *pgxpool.Pool
}

func NewOTPTokenRepository(pool *pgxpool.Pool) *OTPTokenRepository {
	return &OTPTokenRepository{pool: pool}
}

// Replace invalidates every unused token of the same (user, purpose) and
// inserts token, holding the user's row lock so concurrent issuers
// serialize and never leave two live codes behind.
func (r *OTPTokenRepository) Replace(ctx context.Context, token models.OTPToken) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, token.UserID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user: %w", err)
	}

	const invalidate = `
		UPDATE otp_tokens SET used = TRUE
		WHERE user_id = $1 AND purpose = $2 AND NOT used
	`
	if _, err := tx.Exec(ctx, invalidate, token.UserID, token.Purpose); err != nil {
		return fmt.Errorf("invalidate otp: %w", err)
	}

	const insert = `
		INSERT INTO otp_tokens (id, user_id, hashed_code, purpose, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
	`
	if _, err := tx.Exec(ctx, insert,
		token.ID,
		token.UserID,
		token.HashedCode,
		token.Purpose,
		token.ExpiresAt,
		token.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *OTPTokenRepository) FindActive(ctx context.Context, userID string, purpose models.OTPPurpose, now time.Time) (models.OTPToken, error) {
	const query = `
		SELECT id, user_id, hashed_code, purpose, expires_at, used, created_at
		FROM otp_tokens
		WHERE user_id = $1 AND purpose = $2 AND NOT used AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	var token models.OTPToken
	if err := r.pool.QueryRow(ctx, query, userID, purpose, now).Scan(
		&token.ID,
		&token.UserID,
		&token.HashedCode,
		&token.Purpose,
		&token.ExpiresAt,
		&token.Used,
		&token.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.OTPToken{}, ErrOTPNotFound
		}
		return models.OTPToken{}, err
	}
	return token, nil
}

// MarkUsed consumes the token. It reports false when another request
// consumed or invalidated it first.
func (r *OTPTokenRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `UPDATE otp_tokens SET used = TRUE WHERE id = $1 AND NOT used`, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// DeleteStale removes tokens that expired or were consumed before cutoff.
func (r *OTPTokenRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM otp_tokens
		WHERE expires_at < $1 OR (used AND created_at < $1)
	`
	cmd, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
