package dto

// CreateRideRequest represents a rider asking for a pickup at a station
type CreateRideRequest struct {
	RiderID     string `json:"rider_id" binding:"required"`
	StationID   string `json:"station_id" binding:"required"`
	Destination string `json:"destination"`
	ArrivalTime string `json:"arrival_time"`
}

// CompleteRideRequest represents a driver finishing a ride
type CompleteRideRequest struct {
	DriverID string   `json:"driver_id" binding:"required"`
	FinalX   *float64 `json:"final_x" binding:"required"`
	FinalY   *float64 `json:"final_y" binding:"required"`
}

// UpdateLocationRequest represents a driver position sent over HTTP
type UpdateLocationRequest struct {
	DriverID string   `json:"driver_id" binding:"required"`
	X        *float64 `json:"x" binding:"required"`
	Y        *float64 `json:"y" binding:"required"`
	Status   string   `json:"status" binding:"required,oneof=available busy offline"`
}

// CreateTripRequest represents scheduling a trip for a matched ride
type CreateTripRequest struct {
	RideRequestID string `json:"ride_request_id" binding:"required"`
	DriverID      string `json:"driver_id" binding:"required"`
	RiderID       string `json:"rider_id" binding:"required"`
}

// CompleteTripRequest carries the drop-off coordinates
type CompleteTripRequest struct {
	FinalX *float64 `json:"final_x" binding:"required"`
	FinalY *float64 `json:"final_y" binding:"required"`
}

// DriverMessage is one frame on a driver's stream. Email is accepted as the
// identity hint when identity_hint is absent.
type DriverMessage struct {
	X            *float64 `json:"x"`
	Y            *float64 `json:"y"`
	Status       string   `json:"status"`
	IdentityHint string   `json:"identity_hint"`
	Email        string   `json:"email"`
}

// Hint returns the identity hint carried by the message
func (m DriverMessage) Hint() string {
	if m.IdentityHint != "" {
		return m.IdentityHint
	}
	return m.Email
}
