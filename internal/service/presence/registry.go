package presence

import (
	"context"
	"sync"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/observability"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Broadcaster receives every snapshot produced by a registry mutation
type Broadcaster interface {
	Broadcast(snapshot driver.Snapshot)
}

// Registry is the authoritative in-memory map of driver presence.
// All reads and writes go through mu; snapshots handed to the broadcaster are
// taken under the lock and delivered after it is released.
type Registry struct {
	mu          sync.Mutex
	drivers     map[string]driver.Presence
	order       []string
	version     uint64
	revisions   map[string]uint64
	broadcaster Broadcaster
	now         func() time.Time
	logger      *logger.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the receipt clock
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		drivers:   make(map[string]driver.Presence),
		revisions: make(map[string]uint64),
		now:       time.Now,
		logger:    log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetBroadcaster attaches the fan-out target. The hub needs the registry as its
// snapshot source, so the two are wired after construction.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster = b
}

// Apply replaces the driver's record with the given values, stamped with the
// receipt time.
func (r *Registry) Apply(driverID string, x, y float64, status driver.Status, displayName string) {
	r.mu.Lock()
	if _, ok := r.drivers[driverID]; !ok {
		r.order = append(r.order, driverID)
	}
	r.drivers[driverID] = driver.Presence{
		DriverID:    driverID,
		DisplayName: displayName,
		X:           x,
		Y:           y,
		Status:      status,
		UpdatedAt:   r.now(),
	}
	snap, b := r.commitLocked(driverID)
	r.mu.Unlock()

	observability.PresenceUpdates.Inc()
	r.publish(b, snap)
}

// MarkOffline sets an existing record offline. Unknown or already offline
// drivers are left untouched.
func (r *Registry) MarkOffline(driverID string) {
	r.mu.Lock()
	p, ok := r.drivers[driverID]
	if !ok || p.Status == driver.StatusOffline {
		r.mu.Unlock()
		return
	}
	p.Status = driver.StatusOffline
	p.UpdatedAt = r.now()
	r.drivers[driverID] = p
	snap, b := r.commitLocked(driverID)
	r.mu.Unlock()

	r.publish(b, snap)
}

// MarkBusy claims an available driver. It returns false without changing
// anything when the driver is unknown or not available.
func (r *Registry) MarkBusy(driverID string) bool {
	_, ok := r.swapStatus(driverID, driver.StatusAvailable, driver.StatusBusy, 0)
	return ok
}

// Claim is MarkBusy that also returns a token for the claimed record. The
// token is only good for ReleaseClaim.
func (r *Registry) Claim(driverID string) (uint64, bool) {
	return r.swapStatus(driverID, driver.StatusAvailable, driver.StatusBusy, 0)
}

// Release returns a busy driver to available without moving it.
func (r *Registry) Release(driverID string) bool {
	_, ok := r.swapStatus(driverID, driver.StatusBusy, driver.StatusAvailable, 0)
	return ok
}

// ReleaseClaim undoes a claim whose ride could not be recorded. It does
// nothing if the record was written after the claim, so a status the driver
// reported in the meantime is kept.
func (r *Registry) ReleaseClaim(driverID string, claim uint64) bool {
	_, ok := r.swapStatus(driverID, driver.StatusBusy, driver.StatusAvailable, claim)
	return ok
}

// MarkAvailable sets the driver available at the given final coordinates.
func (r *Registry) MarkAvailable(driverID string, x, y float64) {
	r.mu.Lock()
	p, ok := r.drivers[driverID]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.Status = driver.StatusAvailable
	p.X = x
	p.Y = y
	p.UpdatedAt = r.now()
	r.drivers[driverID] = p
	snap, b := r.commitLocked(driverID)
	r.mu.Unlock()

	r.publish(b, snap)
}

// Get returns a copy of one record
func (r *Registry) Get(driverID string) (driver.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.drivers[driverID]
	return p, ok
}

// Snapshot returns a consistent copy of every record in first-seen order
func (r *Registry) Snapshot() driver.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// SweepStale marks offline every available driver whose last update is older
// than maxAge and returns their IDs. Busy drivers are left alone so an on-trip
// driver with a quiet connection is not hidden mid-ride.
func (r *Registry) SweepStale(maxAge time.Duration) []string {
	r.mu.Lock()
	now := r.now()
	var swept []string
	for _, id := range r.order {
		p := r.drivers[id]
		if p.Status != driver.StatusAvailable || now.Sub(p.UpdatedAt) <= maxAge {
			continue
		}
		p.Status = driver.StatusOffline
		p.UpdatedAt = now
		r.drivers[id] = p
		swept = append(swept, id)
	}
	if len(swept) == 0 {
		r.mu.Unlock()
		return nil
	}
	snap, b := r.commitLocked(swept...)
	r.mu.Unlock()

	observability.DriversSwept.Add(float64(len(swept)))
	r.publish(b, snap)
	return swept
}

// RunLivenessSweep calls SweepStale every interval until ctx is cancelled.
func (r *Registry) RunLivenessSweep(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := r.SweepStale(maxAge); len(swept) > 0 {
				r.logger.Info("Stale drivers marked offline",
					logger.Strings("driver_ids", swept),
					logger.Duration("max_age", maxAge),
				)
			}
		}
	}
}

// swapStatus moves a record from one status to another. A non-zero revision
// additionally requires the record to be unchanged since that revision.
func (r *Registry) swapStatus(driverID string, from, to driver.Status, revision uint64) (uint64, bool) {
	r.mu.Lock()
	p, ok := r.drivers[driverID]
	if !ok || p.Status != from || (revision != 0 && r.revisions[driverID] != revision) {
		r.mu.Unlock()
		return 0, false
	}
	p.Status = to
	p.UpdatedAt = r.now()
	r.drivers[driverID] = p
	snap, b := r.commitLocked(driverID)
	r.mu.Unlock()

	r.publish(b, snap)
	return snap.Version, true
}

// commitLocked bumps the version, stamps it on the changed records and
// captures the snapshot to publish. Caller must hold mu.
func (r *Registry) commitLocked(changed ...string) (driver.Snapshot, Broadcaster) {
	r.version++
	for _, id := range changed {
		r.revisions[id] = r.version
	}
	snap := r.snapshotLocked()
	return snap, r.broadcaster
}

func (r *Registry) snapshotLocked() driver.Snapshot {
	drivers := make([]driver.Presence, 0, len(r.order))
	visible := 0
	for _, id := range r.order {
		p := r.drivers[id]
		if p.IsVisible() {
			visible++
		}
		drivers = append(drivers, p)
	}
	observability.DriversVisible.Set(float64(visible))
	return driver.Snapshot{Version: r.version, Drivers: drivers}
}

func (r *Registry) publish(b Broadcaster, snap driver.Snapshot) {
	if b == nil {
		return
	}
	b.Broadcast(snap)
}
