package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pancomido/auth/internal/models"
)

type OTPPurger interface {
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type DevicePurger interface {
	DeleteExpired(ctx context.Context, now time.Time) ([]models.TrustedDevice, error)
}

type DeviceArchiver interface {
	ArchiveDevices(ctx context.Context, devices []models.TrustedDevice, at time.Time) (string, error)
}

// Processor runs maintenance tasks delivered over the Redis stream.
type Processor struct {
	otps      OTPPurger
	devices   DevicePurger
	archive   DeviceArchiver
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

type TaskPayload struct {
	Type        string `json:"type"`
	RequestedAt string `json:"requestedAt"`
}

type CleanupReport struct {
	OTPsDeleted    int64
	DevicesDeleted int
	ArchiveKey     string
}

func NewProcessor(otps OTPPurger, devices DevicePurger, archive DeviceArchiver, retention time.Duration, logger zerolog.Logger) *Processor {
	return &Processor{
		otps:      otps,
		devices:   devices,
		archive:   archive,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var payload TaskPayload
	if err := decodePayload(msg.Values, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch payload.Type {
	case "cleanup":
		report, err := p.Cleanup(ctx)
		if err != nil {
			return err
		}
		p.logger.Info().
			Str("message_id", msg.ID).
			Int64("otps_deleted", report.OTPsDeleted).
			Int("devices_deleted", report.DevicesDeleted).
			Str("archive_key", report.ArchiveKey).
			Msg("cleanup finished")
		return nil
	default:
		p.logger.Warn().Str("type", payload.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

// Cleanup purges OTP codes older than the retention window and expired
// trusted devices. Purged devices are archived when an archive is set; an
// archive failure is logged and does not undo the purge.
func (p *Processor) Cleanup(ctx context.Context) (CleanupReport, error) {
	now := p.now()
	var report CleanupReport

	deleted, err := p.otps.DeleteStale(ctx, now.Add(-p.retention))
	if err != nil {
		return report, fmt.Errorf("purge otp tokens: %w", err)
	}
	report.OTPsDeleted = deleted

	devices, err := p.devices.DeleteExpired(ctx, now)
	if err != nil {
		return report, fmt.Errorf("purge trusted devices: %w", err)
	}
	report.DevicesDeleted = len(devices)

	if p.archive != nil && len(devices) > 0 {
		key, err := p.archive.ArchiveDevices(ctx, devices, now)
		if err != nil {
			p.logger.Error().Err(err).Int("devices", len(devices)).Msg("archive purged devices failed")
		} else {
			report.ArchiveKey = key
		}
	}

	return report, nil
}

func decodePayload(values map[string]interface{}, out *TaskPayload) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}
