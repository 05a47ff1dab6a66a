package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pancomido/auth/internal/config"
	"pancomido/auth/internal/ids"
	"pancomido/auth/internal/models"
)

// ArchiveStore keeps audit records of purged trusted devices in an
// S3-compatible bucket, one JSON-lines object per cleanup run.
type ArchiveStore struct {
	client *minio.Client
	bucket string
	region string
}

func NewArchiveStore(cfg config.StorageConfig) (*ArchiveStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ArchiveStore{
		client: client,
		bucket: cfg.BucketAudit,
		region: cfg.Region,
	}, nil
}

func (s *ArchiveStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// ArchiveDevices writes devices as JSON lines and returns the object key.
// Nothing is written for an empty batch.
func (s *ArchiveStore) ArchiveDevices(ctx context.Context, devices []models.TrustedDevice, at time.Time) (string, error) {
	if len(devices) == 0 {
		return "", nil
	}

	body, err := encodeDeviceRecords(devices, at)
	if err != nil {
		return "", err
	}

	key := objectKey("trusted-devices", at)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

type deviceRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserAgent string    `json:"userAgent,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	PurgedAt  time.Time `json:"purgedAt"`
}

// encodeDeviceRecords never includes token hashes.
func encodeDeviceRecords(devices []models.TrustedDevice, at time.Time) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range devices {
		if err := enc.Encode(deviceRecord{
			ID:        d.ID,
			UserID:    d.UserID,
			UserAgent: d.UserAgent,
			IPAddress: d.IPAddress,
			CreatedAt: d.CreatedAt.UTC(),
			ExpiresAt: d.ExpiresAt.UTC(),
			PurgedAt:  at.UTC(),
		}); err != nil {
			return nil, fmt.Errorf("encode device %s: %w", d.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func objectKey(prefix string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.jsonl", prefix, at.UTC().Format("2006/01/02"), ids.New())
}
