package dto

import (
	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/station"
	"github.com/gocomet/ride-dispatch/internal/domain/trip"
)

// RideOutcomeResponse is returned for every ride request. Status is one of
// matched, no_drivers or already_matched.
type RideOutcomeResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	RideID   string   `json:"ride_id,omitempty"`
	TripID   string   `json:"trip_id,omitempty"`
	DriverID string   `json:"driver_id,omitempty"`
	Distance *float64 `json:"distance,omitempty"`
}

// AssignedRideResponse is a driver's matched ride with its pickup station
type AssignedRideResponse struct {
	*ride.RideRequest
	Station *station.Station `json:"stations"`
}

// DriverLocationResponse is a driver's last known position
type DriverLocationResponse struct {
	DriverID string        `json:"driver_id"`
	X        float64       `json:"x_coordinate"`
	Y        float64       `json:"y_coordinate"`
	Status   driver.Status `json:"status"`
	Source   string        `json:"source"`
}

// ActiveDriversResponse lists visible drivers
type ActiveDriversResponse struct {
	Drivers []driver.Presence `json:"drivers"`
	Count   int               `json:"count"`
}

// TripResponse wraps one trip
type TripResponse struct {
	Trip *trip.Trip `json:"trip"`
}

// Error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
