package driver

import (
	"strings"
	"time"
)

// Status represents driver availability status
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

// DefaultDisplayName is used when the identity hint carries no usable name
const DefaultDisplayName = "Driver"

// Presence is a driver's live position and availability as known to the engine
type Presence struct {
	DriverID    string    `json:"driver_id"`
	DisplayName string    `json:"display_name"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Status      Status    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Point is a planar coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// IsValid validates the status
func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// ParseStatus converts a wire value into a Status
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if !s.IsValid() {
		return "", ErrInvalidDriverStatus
	}
	return s, nil
}

// CanAcceptRides returns true if driver can be matched
func (p *Presence) CanAcceptRides() bool {
	return p.Status == StatusAvailable
}

// IsVisible reports whether observers are shown this driver
func (p *Presence) IsVisible() bool {
	return p.Status != StatusOffline
}

// Location returns the driver's coordinates
func (p *Presence) Location() Point {
	return Point{X: p.X, Y: p.Y}
}

// DisplayNameFromHint derives a display name from an identity hint such as an email.
func DisplayNameFromHint(hint string) string {
	at := strings.Index(hint, "@")
	if at <= 0 {
		return DefaultDisplayName
	}
	return hint[:at]
}

// Snapshot is a point-in-time copy of every presence record, in first-seen order.
// Version increases with every registry mutation.
type Snapshot struct {
	Version uint64
	Drivers []Presence
}

// Visible returns the records observers may see
func (s Snapshot) Visible() []Presence {
	out := make([]Presence, 0, len(s.Drivers))
	for _, p := range s.Drivers {
		if p.IsVisible() {
			out = append(out, p)
		}
	}
	return out
}

// Available returns the records that can be matched, preserving order
func (s Snapshot) Available() []Presence {
	out := make([]Presence, 0, len(s.Drivers))
	for _, p := range s.Drivers {
		if p.CanAcceptRides() {
			out = append(out, p)
		}
	}
	return out
}
