// Package memory is an in-process ledger used for local development and tests.
// It honours the same conditional-write contract as the postgres ledger.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/station"
	"github.com/gocomet/ride-dispatch/internal/domain/trip"
	"github.com/google/uuid"
)

// Store holds rides, trips and stations behind one lock so that trip completion
// and ride completion are applied together.
type Store struct {
	mu sync.RWMutex

	rides     map[string]*ride.RideRequest
	rideOrder []string

	trips     map[string]*trip.Trip
	tripOrder []string

	stations     map[string]*station.Station
	stationOrder []string

	now func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		rides:    make(map[string]*ride.RideRequest),
		trips:    make(map[string]*trip.Trip),
		stations: make(map[string]*station.Station),
		now:      time.Now,
	}
}

// Rides returns the ride request repository view
func (s *Store) Rides() *RideRepository { return &RideRepository{s: s} }

// Trips returns the trip repository view
func (s *Store) Trips() *TripRepository { return &TripRepository{s: s} }

// Stations returns the station repository view
func (s *Store) Stations() *StationRepository { return &StationRepository{s: s} }

// PutStation seeds reference data
func (s *Store) PutStation(st station.Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stations[st.ID]; !ok {
		s.stationOrder = append(s.stationOrder, st.ID)
	}
	s.stations[st.ID] = &st
}

// RideRepository implements ride.Repository
type RideRepository struct {
	s *Store
}

func (r *RideRepository) Create(ctx context.Context, rr *ride.RideRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if rr.Status == "" {
		rr.Status = ride.StatusMatched
	}
	if rr.IsMatched() {
		for _, existing := range r.s.rides {
			if existing.IsMatched() && existing.RiderID == rr.RiderID {
				return ride.ErrAlreadyMatched
			}
		}
	}

	now := r.s.now()
	rr.ID = uuid.NewString()
	rr.CreatedAt = now
	rr.UpdatedAt = now
	r.s.rides[rr.ID] = cloneRide(rr)
	r.s.rideOrder = append(r.s.rideOrder, rr.ID)
	return nil
}

func (r *RideRepository) GetByID(ctx context.Context, id string) (*ride.RideRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rr, ok := r.s.rides[id]
	if !ok {
		return nil, ride.ErrRideNotFound
	}
	return cloneRide(rr), nil
}

func (r *RideRepository) FindMatchedByRider(ctx context.Context, riderID string) (*ride.RideRequest, error) {
	return r.findMatched(func(rr *ride.RideRequest) bool { return rr.RiderID == riderID })
}

func (r *RideRepository) FindMatchedByDriver(ctx context.Context, driverID string) (*ride.RideRequest, error) {
	return r.findMatched(func(rr *ride.RideRequest) bool { return rr.IsMatchedTo(driverID) })
}

// Complete finishes a ride that has no unfinished trip. A ride with one is
// refused with trip.ErrTripExists and must be finished through its trip.
func (r *RideRepository) Complete(ctx context.Context, id string) (*ride.RideRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.rides[id]; ok && r.s.openTripLocked(func(t *trip.Trip) bool { return t.RideRequestID == id }) != nil {
		return nil, trip.ErrTripExists
	}
	rr, err := r.s.completeRideLocked(id)
	if err != nil {
		return nil, err
	}
	return cloneRide(rr), nil
}

func (r *RideRepository) findMatched(match func(*ride.RideRequest) bool) (*ride.RideRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for i := len(r.s.rideOrder) - 1; i >= 0; i-- {
		rr := r.s.rides[r.s.rideOrder[i]]
		if rr.IsMatched() && match(rr) {
			return cloneRide(rr), nil
		}
	}
	return nil, ride.ErrRideNotFound
}

func (s *Store) completeRideLocked(id string) (*ride.RideRequest, error) {
	rr, ok := s.rides[id]
	if !ok {
		return nil, ride.ErrRideNotFound
	}
	if !rr.CanComplete() {
		return nil, ride.ErrInvalidStatus
	}
	rr.Status = ride.StatusCompleted
	rr.UpdatedAt = s.now()
	return rr, nil
}

// TripRepository implements trip.Repository
type TripRepository struct {
	s *Store
}

func (r *TripRepository) Create(ctx context.Context, t *trip.Trip) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rr, ok := r.s.rides[t.RideRequestID]
	if !ok {
		return ride.ErrRideNotFound
	}
	if !rr.IsMatched() || !rr.IsMatchedTo(t.DriverID) || (t.RiderID != "" && t.RiderID != rr.RiderID) {
		return trip.ErrRideNotAssignable
	}
	if r.s.openTripLocked(func(open *trip.Trip) bool {
		return open.RideRequestID == rr.ID || open.DriverID == t.DriverID
	}) != nil {
		return trip.ErrTripExists
	}

	now := r.s.now()
	t.ID = uuid.NewString()
	t.RiderID = rr.RiderID
	t.Status = trip.StatusScheduled
	t.CreatedAt = now
	t.UpdatedAt = now
	r.s.trips[t.ID] = cloneTrip(t)
	r.s.tripOrder = append(r.s.tripOrder, t.ID)
	return nil
}

func (r *TripRepository) GetByID(ctx context.Context, id string) (*trip.Trip, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.trips[id]
	if !ok {
		return nil, trip.ErrTripNotFound
	}
	return cloneTrip(t), nil
}

func (r *TripRepository) GetByRideRequestID(ctx context.Context, rideRequestID string) (*trip.Trip, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for i := len(r.s.tripOrder) - 1; i >= 0; i-- {
		t := r.s.trips[r.s.tripOrder[i]]
		if t.RideRequestID == rideRequestID {
			return cloneTrip(t), nil
		}
	}
	return nil, trip.ErrTripNotFound
}

func (r *TripRepository) Activate(ctx context.Context, id string, at time.Time) (*trip.Trip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.trips[id]
	if !ok {
		return nil, trip.ErrTripNotFound
	}
	if !t.CanActivate() {
		return nil, trip.ErrInvalidTransition
	}
	t.Status = trip.StatusActive
	t.PickupTime = &at
	t.UpdatedAt = r.s.now()
	return cloneTrip(t), nil
}

func (r *TripRepository) Complete(ctx context.Context, id string, at time.Time) (*trip.Trip, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.trips[id]
	if !ok {
		return nil, false, trip.ErrTripNotFound
	}
	if !t.CanComplete() {
		return nil, false, trip.ErrInvalidTransition
	}
	rideCompleted := false
	if rr, ok := r.s.rides[t.RideRequestID]; ok && rr.IsMatched() {
		if _, err := r.s.completeRideLocked(rr.ID); err != nil {
			return nil, false, err
		}
		rideCompleted = true
	}
	t.Status = trip.StatusCompleted
	t.DropoffTime = &at
	t.UpdatedAt = r.s.now()
	return cloneTrip(t), rideCompleted, nil
}

func (r *TripRepository) FindCurrentByDriver(ctx context.Context, driverID string) (*trip.Trip, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t := r.s.openTripLocked(func(t *trip.Trip) bool { return t.DriverID == driverID })
	if t == nil {
		return nil, trip.ErrTripNotFound
	}
	return cloneTrip(t), nil
}

// openTripLocked returns the most recent unfinished trip accepted by match.
// Caller must hold mu.
func (s *Store) openTripLocked(match func(*trip.Trip) bool) *trip.Trip {
	for i := len(s.tripOrder) - 1; i >= 0; i-- {
		t := s.trips[s.tripOrder[i]]
		if t.IsOpen() && match(t) {
			return t
		}
	}
	return nil
}

// StationRepository implements station.Repository. List orders by name, then
// ID, like the postgres ledger.
type StationRepository struct {
	s *Store
}

func (r *StationRepository) GetByID(ctx context.Context, id string) (*station.Station, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.stations[id]
	if !ok {
		return nil, station.ErrStationNotFound
	}
	cp := *st
	return &cp, nil
}

func (r *StationRepository) List(ctx context.Context) ([]*station.Station, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*station.Station, 0, len(r.s.stationOrder))
	for _, id := range r.s.stationOrder {
		cp := *r.s.stations[id]
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *station.Station) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func cloneRide(rr *ride.RideRequest) *ride.RideRequest {
	cp := *rr
	if rr.MatchedDriverID != nil {
		id := *rr.MatchedDriverID
		cp.MatchedDriverID = &id
	}
	return &cp
}

func cloneTrip(t *trip.Trip) *trip.Trip {
	cp := *t
	if t.PickupTime != nil {
		at := *t.PickupTime
		cp.PickupTime = &at
	}
	if t.DropoffTime != nil {
		at := *t.DropoffTime
		cp.DropoffTime = &at
	}
	return &cp
}
