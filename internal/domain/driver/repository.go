package driver

import "context"

// LocationStore is the durable mirror of driver presence. The in-memory registry
// stays authoritative; the store only answers lookups for drivers the registry
// has not seen since the process started.
type LocationStore interface {
	// Upsert replaces the stored record for the driver
	Upsert(ctx context.Context, p Presence) error

	// SetOffline marks a stored record offline, no-op if absent
	SetOffline(ctx context.Context, driverID string) error

	// Get returns the stored record or ErrDriverNotFound
	Get(ctx context.Context, driverID string) (*Presence, error)
}
