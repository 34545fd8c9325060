package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/trip"
	"github.com/google/uuid"
)

const tripColumns = `id, ride_request_id, driver_id, rider_id, status,
	pickup_time, dropoff_time, created_at, updated_at`

// TripRepository implements trip.Repository
type TripRepository struct {
	db *sql.DB
}

func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{db: db}
}

func (r *TripRepository) Create(ctx context.Context, t *trip.Trip) error {
	if uuid.Validate(t.RideRequestID) != nil {
		return ride.ErrRideNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The row lock orders this insert against a direct ride completion.
	var (
		riderID  string
		driverID sql.NullString
		status   string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT rider_id, matched_driver_id, status
		FROM ride_requests
		WHERE id = $1
		FOR UPDATE
	`, t.RideRequestID).Scan(&riderID, &driverID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return ride.ErrRideNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock ride request: %w", err)
	}
	if ride.Status(status) != ride.StatusMatched || driverID.String != t.DriverID ||
		(t.RiderID != "" && t.RiderID != riderID) {
		return trip.ErrRideNotAssignable
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trips (id, ride_request_id, driver_id, rider_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'scheduled', $5, $5)
	`, id, t.RideRequestID, t.DriverID, riderID, now)
	if isUniqueViolation(err) {
		return trip.ErrTripExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trip: %w", err)
	}

	t.ID = id
	t.RiderID = riderID
	t.Status = trip.StatusScheduled
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

func (r *TripRepository) GetByID(ctx context.Context, id string) (*trip.Trip, error) {
	if uuid.Validate(id) != nil {
		return nil, trip.ErrTripNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	return scanTrip(row)
}

func (r *TripRepository) GetByRideRequestID(ctx context.Context, rideRequestID string) (*trip.Trip, error) {
	if uuid.Validate(rideRequestID) != nil {
		return nil, trip.ErrTripNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE ride_request_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, rideRequestID)
	return scanTrip(row)
}

func (r *TripRepository) Activate(ctx context.Context, id string, at time.Time) (*trip.Trip, error) {
	if uuid.Validate(id) != nil {
		return nil, trip.ErrTripNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE trips
		SET status = 'active', pickup_time = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
		RETURNING `+tripColumns,
		id, at)
	t, err := scanTrip(row)
	if errors.Is(err, trip.ErrTripNotFound) {
		return nil, r.explainMiss(ctx, id)
	}
	return t, err
}

func (r *TripRepository) Complete(ctx context.Context, id string, at time.Time) (*trip.Trip, bool, error) {
	if uuid.Validate(id) != nil {
		return nil, false, trip.ErrTripNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE trips
		SET status = 'completed', dropoff_time = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING `+tripColumns,
		id, at)
	t, err := scanTrip(row)
	if errors.Is(err, trip.ErrTripNotFound) {
		return nil, false, r.explainMiss(ctx, id)
	}
	if err != nil {
		return nil, false, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE ride_requests
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'matched'
	`, t.RideRequestID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to complete ride request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to complete ride request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit trip completion: %w", err)
	}
	return t, n == 1, nil
}

func (r *TripRepository) FindCurrentByDriver(ctx context.Context, driverID string) (*trip.Trip, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE driver_id = $1 AND status <> 'completed'
		ORDER BY created_at DESC
		LIMIT 1
	`, driverID)
	return scanTrip(row)
}

// explainMiss distinguishes a missing trip from one in the wrong state after a
// conditional update matched no rows.
func (r *TripRepository) explainMiss(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return trip.ErrInvalidTransition
}

func scanTrip(row rowScanner) (*trip.Trip, error) {
	var (
		t       trip.Trip
		status  string
		pickup  sql.NullTime
		dropoff sql.NullTime
	)
	err := row.Scan(&t.ID, &t.RideRequestID, &t.DriverID, &t.RiderID, &status,
		&pickup, &dropoff, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trip.ErrTripNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trip: %w", err)
	}
	t.Status = trip.Status(status)
	if pickup.Valid {
		t.PickupTime = &pickup.Time
	}
	if dropoff.Valid {
		t.DropoffTime = &dropoff.Time
	}
	return &t, nil
}
