// Package postgres is the durable ledger: ride requests, trips, stations and the
// driver location mirror, on database/sql with the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS stations (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	x_coordinate  DOUBLE PRECISION NOT NULL,
	y_coordinate  DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS ride_requests (
	id                 UUID PRIMARY KEY,
	rider_id           TEXT NOT NULL,
	pickup_station_id  TEXT NOT NULL,
	destination        TEXT NOT NULL DEFAULT '',
	arrival_time       TEXT NOT NULL DEFAULT '',
	matched_driver_id  TEXT,
	status             TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ride_requests_one_matched_per_rider
	ON ride_requests (rider_id) WHERE status = 'matched';

CREATE INDEX IF NOT EXISTS ride_requests_matched_driver
	ON ride_requests (matched_driver_id) WHERE status = 'matched';

CREATE TABLE IF NOT EXISTS trips (
	id               UUID PRIMARY KEY,
	ride_request_id  UUID NOT NULL REFERENCES ride_requests (id),
	driver_id        TEXT NOT NULL,
	rider_id         TEXT NOT NULL,
	status           TEXT NOT NULL,
	pickup_time      TIMESTAMPTZ,
	dropoff_time     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS trips_one_open_per_driver
	ON trips (driver_id) WHERE status <> 'completed';

CREATE UNIQUE INDEX IF NOT EXISTS trips_one_open_per_ride
	ON trips (ride_request_id) WHERE status <> 'completed';

CREATE TABLE IF NOT EXISTS driver_locations (
	driver_id     TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	x_coordinate  DOUBLE PRECISION NOT NULL,
	y_coordinate  DOUBLE PRECISION NOT NULL,
	status        TEXT NOT NULL,
	last_updated  TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the ledger tables if they do not exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SQLSTATE codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

func isForeignKeyViolation(err error) bool {
	return hasCode(err, foreignKeyViolation)
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

type rowScanner interface {
	Scan(dest ...any) error
}
