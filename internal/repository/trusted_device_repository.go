package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pancomido/auth/internal/models"
)

var ErrDeviceNotFound = errors.New("trusted device not found")

const deviceColumns = `id, user_id, token_hash, user_agent, ip_address, created_at, expires_at`

type TrustedDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewTrustedDeviceRepository(pool *pgxpool.Pool) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{pool: pool}
}

func (r *TrustedDeviceRepository) Create(ctx context.Context, device models.TrustedDevice) error {
	const query = `
		INSERT INTO trusted_devices (
			id, user_id, token_hash, user_agent, ip_address, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := r.pool.Exec(ctx, query,
		device.ID,
		device.UserID,
		device.TokenHash,
		device.UserAgent,
		device.IPAddress,
		device.CreatedAt,
		device.ExpiresAt,
	)
	return err
}

func (r *TrustedDeviceRepository) FindActive(ctx context.Context, userID string, tokenHash []byte, now time.Time) (models.TrustedDevice, error) {
	query := `SELECT ` + deviceColumns + `
		FROM trusted_devices
		WHERE user_id = $1 AND token_hash = $2 AND expires_at > $3
	`
	device, err := scanDevice(r.pool.QueryRow(ctx, query, userID, tokenHash, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TrustedDevice{}, ErrDeviceNotFound
	}
	return device, err
}

func (r *TrustedDeviceRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]models.TrustedDevice, error) {
	query := `SELECT ` + deviceColumns + `
		FROM trusted_devices
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	return collectDevices(rows)
}

func (r *TrustedDeviceRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM trusted_devices WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// DeleteExpired purges devices whose trust window ended and returns the
// removed rows for archiving.
func (r *TrustedDeviceRepository) DeleteExpired(ctx context.Context, now time.Time) ([]models.TrustedDevice, error) {
	rows, err := r.pool.Query(ctx, `DELETE FROM trusted_devices WHERE expires_at <= $1 RETURNING `+deviceColumns, now)
	if err != nil {
		return nil, err
	}
	return collectDevices(rows)
}

func collectDevices(rows pgx.Rows) ([]models.TrustedDevice, error) {
	defer rows.Close()

	var devices []models.TrustedDevice
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

func scanDevice(row pgx.Row) (models.TrustedDevice, error) {
	var device models.TrustedDevice
	err := row.Scan(
		&device.ID,
		&device.UserID,
		&device.TokenHash,
		&device.UserAgent,
		&device.IPAddress,
		&device.CreatedAt,
		&device.ExpiresAt,
	)
	return device, err
}
