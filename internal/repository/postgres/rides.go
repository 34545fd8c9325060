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

const rideColumns = `id, rider_id, pickup_station_id, destination, arrival_time,
	matched_driver_id, status, created_at, updated_at`

// RideRepository implements ride.Repository
type RideRepository struct {
	db *sql.DB
}

func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{db: db}
}

func (r *RideRepository) Create(ctx context.Context, rr *ride.RideRequest) error {
	now := time.Now().UTC()
	id := uuid.NewString()
	status := rr.Status
	if status == "" {
		status = ride.StatusMatched
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ride_requests (`+rideColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, id, rr.RiderID, rr.PickupStationID, rr.Destination, rr.RequestedArrivalTime,
		rr.MatchedDriverID, status, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ride.ErrAlreadyMatched
		}
		return fmt.Errorf("failed to insert ride request: %w", err)
	}

	rr.ID = id
	rr.Status = status
	rr.CreatedAt = now
	rr.UpdatedAt = now
	return nil
}

func (r *RideRepository) GetByID(ctx context.Context, id string) (*ride.RideRequest, error) {
	if uuid.Validate(id) != nil {
		return nil, ride.ErrRideNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM ride_requests WHERE id = $1`, id)
	return scanRide(row)
}

func (r *RideRepository) FindMatchedByRider(ctx context.Context, riderID string) (*ride.RideRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+rideColumns+` FROM ride_requests
		WHERE rider_id = $1 AND status = 'matched'
		ORDER BY created_at DESC
		LIMIT 1
	`, riderID)
	return scanRide(row)
}

func (r *RideRepository) FindMatchedByDriver(ctx context.Context, driverID string) (*ride.RideRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+rideColumns+` FROM ride_requests
		WHERE matched_driver_id = $1 AND status = 'matched'
		ORDER BY created_at DESC
		LIMIT 1
	`, driverID)
	return scanRide(row)
}

// Complete finishes a ride that has no unfinished trip. A ride with one is
// refused with trip.ErrTripExists and must be finished through its trip.
func (r *RideRepository) Complete(ctx context.Context, id string) (*ride.RideRequest, error) {
	if uuid.Validate(id) != nil {
		return nil, ride.ErrRideNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanRide(tx.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM ride_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if !current.CanComplete() {
		return nil, ride.ErrInvalidStatus
	}

	var open bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM trips WHERE ride_request_id = $1 AND status <> 'completed')
	`, id).Scan(&open)
	if err != nil {
		return nil, fmt.Errorf("failed to check open trips: %w", err)
	}
	if open {
		return nil, trip.ErrTripExists
	}

	rr, err := scanRide(tx.QueryRowContext(ctx, `
		UPDATE ride_requests
		SET status = 'completed', updated_at = $2
		WHERE id = $1
		RETURNING `+rideColumns,
		id, time.Now().UTC()))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ride completion: %w", err)
	}
	return rr, nil
}

func scanRide(row rowScanner) (*ride.RideRequest, error) {
	var (
		rr       ride.RideRequest
		driverID sql.NullString
		status   string
	)
	err := row.Scan(&rr.ID, &rr.RiderID, &rr.PickupStationID, &rr.Destination,
		&rr.RequestedArrivalTime, &driverID, &status, &rr.CreatedAt, &rr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ride.ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ride request: %w", err)
	}
	if driverID.Valid {
		rr.MatchedDriverID = &driverID.String
	}
	rr.Status = ride.Status(status)
	return &rr, nil
}
