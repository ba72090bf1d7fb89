package postgres

import (
	"context"
	"errors"
	"fmt"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DeviceRepo implements ports.DeviceRepository.
type DeviceRepo struct {
	pool Pool
}

// NewDeviceRepo creates a new DeviceRepo.
func NewDeviceRepo(pool Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

// Create inserts a new checkout device.
func (r *DeviceRepo) Create(ctx context.Context, d *domain.Device) error {
	query := `INSERT INTO devices (id, merchant_id, name, location, access_key, secret_key_enc, status, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.MerchantID, d.Name, d.Location, d.AccessKey,
		d.SecretKeyEnc, d.Status, d.LastSeenAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetByID fetches a device by UUID.
func (r *DeviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	query := deviceSelect + ` WHERE id = $1`
	return r.scanDevice(r.pool.QueryRow(ctx, query, id))
}

// GetByAccessKey fetches a device by its public access key. Used by the
// signed-request middleware.
func (r *DeviceRepo) GetByAccessKey(ctx context.Context, accessKey string) (*domain.Device, error) {
	query := deviceSelect + ` WHERE access_key = $1`
	return r.scanDevice(r.pool.QueryRow(ctx, query, accessKey))
}

// UpdateStatus changes a device's reachability status.
func (r *DeviceRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DeviceStatus) error {
	query := `UPDATE devices SET status = $1, updated_at = now() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update device status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("device not found: %s", id)
	}
	return nil
}

// TouchLastSeen stamps the device's last heartbeat time.
func (r *DeviceRepo) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE devices SET last_seen_at = now() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("touch device last_seen: %w", err)
	}
	return nil
}

const deviceSelect = `SELECT id, merchant_id, name, location, access_key, secret_key_enc, status, last_seen_at, created_at, updated_at
	FROM devices`

func (r *DeviceRepo) scanDevice(row pgx.Row) (*domain.Device, error) {
	d := &domain.Device{}
	err := row.Scan(
		&d.ID, &d.MerchantID, &d.Name, &d.Location, &d.AccessKey,
		&d.SecretKeyEnc, &d.Status, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}
	return d, nil
}
