package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/downlink/internal/core/domain"
)

// DeviceRepo persists registered push targets.
type DeviceRepo struct {
	db *DB
}

func NewDeviceRepo(db *DB) *DeviceRepo {
	return &DeviceRepo{db: db}
}

func (r *DeviceRepo) Register(ctx context.Context, d *domain.Device) error {
	query := `
		INSERT INTO devices (id, user_id, token, platform, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform
	`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.UserID, d.Token, d.Platform)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

func (r *DeviceRepo) ListByUser(ctx context.Context, userID string) ([]domain.Device, error) {
	var devices []domain.Device
	query := `SELECT * FROM devices WHERE user_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &devices, query, userID); err != nil {
		return nil, fmt.Errorf("select devices: %w", err)
	}
	return devices, nil
}

// Remove drops a device whose token the push gateway rejected as gone.
func (r *DeviceRepo) Remove(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("remove device: %w", err)
	}
	return nil
}
