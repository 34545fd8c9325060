package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
)

// LocationStore implements driver.LocationStore on the driver_locations table
type LocationStore struct {
	db *sql.DB
}

func NewLocationStore(db *sql.DB) *LocationStore {
	return &LocationStore{db: db}
}

func (l *LocationStore) Upsert(ctx context.Context, p driver.Presence) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO driver_locations (driver_id, name, x_coordinate, y_coordinate, status, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (driver_id) DO UPDATE SET
			name = EXCLUDED.name,
			x_coordinate = EXCLUDED.x_coordinate,
			y_coordinate = EXCLUDED.y_coordinate,
			status = EXCLUDED.status,
			last_updated = EXCLUDED.last_updated
	`, p.DriverID, p.DisplayName, p.X, p.Y, string(p.Status), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert driver location: %w", err)
	}
	return nil
}

func (l *LocationStore) SetOffline(ctx context.Context, driverID string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE driver_locations SET status = 'offline', last_updated = NOW() WHERE driver_id = $1
	`, driverID)
	if err != nil {
		return fmt.Errorf("failed to mark driver offline: %w", err)
	}
	return nil
}

func (l *LocationStore) Get(ctx context.Context, driverID string) (*driver.Presence, error) {
	var (
		p      driver.Presence
		status string
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT driver_id, name, x_coordinate, y_coordinate, status, last_updated
		FROM driver_locations WHERE driver_id = $1
	`, driverID).Scan(&p.DriverID, &p.DisplayName, &p.X, &p.Y, &status, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driver.ErrDriverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get driver location: %w", err)
	}
	p.Status = driver.Status(status)
	return &p, nil
}
