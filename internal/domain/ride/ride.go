package ride

import (
	"context"
	"errors"
	"time"
)

// Status represents ride request status
type Status string

const (
	StatusMatched   Status = "matched"
	StatusCompleted Status = "completed"
)

// RideRequest is a rider's request once a driver has been matched to it
type RideRequest struct {
	ID                   string    `json:"id"`
	RiderID              string    `json:"rider_id"`
	PickupStationID      string    `json:"pickup_station_id"`
	Destination          string    `json:"destination"`
	RequestedArrivalTime string    `json:"arrival_time"`
	MatchedDriverID      *string   `json:"matched_driver_id"`
	Status               Status    `json:"status"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Repository is the ledger contract for ride requests.
type Repository interface {
	// Create persists a new request and assigns its ID. A second matched request
	// for the same rider fails with ErrAlreadyMatched.
	Create(ctx context.Context, ride *RideRequest) error

	// GetByID returns ErrRideNotFound when absent
	GetByID(ctx context.Context, id string) (*RideRequest, error)

	// FindMatchedByRider returns the rider's matched request or ErrRideNotFound
	FindMatchedByRider(ctx context.Context, riderID string) (*RideRequest, error)

	// FindMatchedByDriver returns the driver's matched request or ErrRideNotFound
	FindMatchedByDriver(ctx context.Context, driverID string) (*RideRequest, error)

	// Complete moves a matched request to completed, ErrInvalidStatus otherwise.
	// A request with an unfinished trip is refused; it completes with its trip.
	Complete(ctx context.Context, id string) (*RideRequest, error)
}

// Errors
var (
	ErrRideNotFound  = errors.New("ride not found")
	ErrInvalidStatus = errors.New("invalid status transition")

	// ErrAlreadyMatched is returned by Create when the rider already holds a matched ride
	ErrAlreadyMatched = errors.New("rider already has a matched ride")
)

// IsMatched reports whether the ride still holds its driver
func (r *RideRequest) IsMatched() bool {
	return r.Status == StatusMatched
}

// CanComplete checks if ride can be completed
func (r *RideRequest) CanComplete() bool {
	return r.Status == StatusMatched
}

// IsMatchedTo reports whether driverID is the matched driver
func (r *RideRequest) IsMatchedTo(driverID string) bool {
	return r.MatchedDriverID != nil && *r.MatchedDriverID == driverID
}
