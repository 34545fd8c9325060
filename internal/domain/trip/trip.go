package trip

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

type Trip struct {
	ID            string     `json:"id"`
	RideRequestID string     `json:"ride_request_id"`
	DriverID      string     `json:"driver_id"`
	RiderID       string     `json:"rider_id"`
	Status        Status     `json:"status"`
	PickupTime    *time.Time `json:"pickup_time,omitempty"`
	DropoffTime   *time.Time `json:"dropoff_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Repository interface {
	// Create schedules a trip for a matched ride. The ride must be matched to
	// trip.DriverID, and neither the ride nor the driver may already have an
	// unfinished trip.
	Create(ctx context.Context, trip *Trip) error
	GetByID(ctx context.Context, id string) (*Trip, error)
	GetByRideRequestID(ctx context.Context, rideRequestID string) (*Trip, error)

	// Activate moves a scheduled trip to active and stamps the pickup time.
	// Returns ErrInvalidTransition if the trip is not scheduled.
	Activate(ctx context.Context, id string, at time.Time) (*Trip, error)

	// Complete moves an active trip to completed, stamps the drop-off time and
	// completes its ride request in the same write. rideCompleted reports
	// whether the ride moved from matched to completed in that write.
	Complete(ctx context.Context, id string, at time.Time) (t *Trip, rideCompleted bool, err error)

	// FindCurrentByDriver returns the most recent non-completed trip
	FindCurrentByDriver(ctx context.Context, driverID string) (*Trip, error)
}

var (
	ErrTripNotFound      = errors.New("trip not found")
	ErrInvalidTransition = errors.New("invalid trip status transition")
	ErrTripExists        = errors.New("an unfinished trip already exists")
	ErrRideNotAssignable = errors.New("ride is not matched to this driver")
)

// Next returns the only status a trip may move to from s
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusScheduled:
		return StatusActive, true
	case StatusActive:
		return StatusCompleted, true
	}
	return "", false
}

// CanTransition reports whether from → to is a forward step
func CanTransition(from, to Status) bool {
	next, ok := from.Next()
	return ok && next == to
}

func (t *Trip) CanActivate() bool {
	return CanTransition(t.Status, StatusActive)
}

func (t *Trip) CanComplete() bool {
	return CanTransition(t.Status, StatusCompleted)
}

// IsOpen reports whether the trip has not finished yet
func (t *Trip) IsOpen() bool {
	return t.Status != StatusCompleted
}
