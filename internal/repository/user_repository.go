package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pancomido/auth/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already in use")
)

const uniqueViolation = "23505"

const userColumns = `
	id, username, email, password_hash, role, password_setup_required,
	otp_attempts, otp_blocked_until, created_at, updated_at
`

// OTPFailure is the counter state after a wrong code was recorded.
type OTPFailure struct {
	Attempts     int
	Blocked      bool
	BlockedUntil *time.Time
}

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Upsert creates a provisioned user or resets an existing one back to the
// setup-required state with a new temporary password.
func (r *UserRepository) Upsert(ctx context.Context, user models.User) (models.User, error) {
	query := `
		INSERT INTO users (
			id, username, email, password_hash, role, password_setup_required,
			otp_attempts, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, 0, NOW(), NOW()
		)
		ON CONFLICT (username)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			password_setup_required = EXCLUDED.password_setup_required,
			otp_attempts = 0,
			otp_blocked_until = NULL,
			updated_at = NOW()
		RETURNING ` + userColumns

	row := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.PasswordSetupRequired,
	)
	return scanUser(row)
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return scanUser(row)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *UserRepository) SetEmail(ctx context.Context, id string, email string) error {
	const query = `UPDATE users SET email = $2, updated_at = NOW() WHERE id = $1`
	cmd, err := r.pool.Exec(ctx, query, id, email)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CompleteSetup replaces the temporary password hash with the permanent one.
func (r *UserRepository) CompleteSetup(ctx context.Context, id string, passwordHash []byte) error {
	const query = `
		UPDATE users
		SET password_hash = $2,
		    password_setup_required = FALSE,
		    updated_at = NOW()
		WHERE id = $1
	`
	cmd, err := r.pool.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RegisterOTPFailure increments the attempt counter in a single statement.
// When the increment reaches maxAttempts the counter resets and the block
// is set to blockUntil.
func (r *UserRepository) RegisterOTPFailure(ctx context.Context, id string, maxAttempts int, blockUntil time.Time) (OTPFailure, error) {
	const query = `
		UPDATE users
		SET otp_attempts = CASE WHEN otp_attempts + 1 >= $2 THEN 0 ELSE otp_attempts + 1 END,
		    otp_blocked_until = CASE WHEN otp_attempts + 1 >= $2 THEN $3 ELSE otp_blocked_until END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING otp_attempts, otp_blocked_until
	`
	var res OTPFailure
	if err := r.pool.QueryRow(ctx, query, id, maxAttempts, blockUntil).Scan(&res.Attempts, &res.BlockedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OTPFailure{}, ErrUserNotFound
		}
		return OTPFailure{}, err
	}
	res.Blocked = res.Attempts == 0
	return res, nil
}

func (r *UserRepository) ResetOTPAttempts(ctx context.Context, id string) error {
	const query = `
		UPDATE users SET otp_attempts = 0, otp_blocked_until = NULL, updated_at = NOW() WHERE id = $1
	`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.PasswordSetupRequired,
		&user.OTPAttempts,
		&user.OTPBlockedUntil,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}
