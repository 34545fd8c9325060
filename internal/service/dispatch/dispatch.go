// Package dispatch is the request/response surface of the engine. It composes
// the presence registry, matcher and trip lifecycle behind the operations the
// HTTP and websocket handlers call.
package dispatch

import (
	"context"
	"errors"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/station"
	"github.com/gocomet/ride-dispatch/internal/domain/trip"
	"github.com/gocomet/ride-dispatch/internal/events"
	"github.com/gocomet/ride-dispatch/internal/service/lifecycle"
	"github.com/gocomet/ride-dispatch/internal/service/matching"
	"github.com/gocomet/ride-dispatch/internal/service/presence"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// FallbackLocation is reported when a driver's position is unknown
var FallbackLocation = driver.Point{X: 10, Y: 10}

// Location sources
const (
	SourceLive     = "live"
	SourceStored   = "stored"
	SourceFallback = "fallback"
)

// Monitor receives presence telemetry
type Monitor interface {
	RecordLocationUpdate()
}

// Update is one message from a driver's stream
type Update struct {
	X            float64
	Y            float64
	Status       driver.Status
	IdentityHint string
}

// RideResult is the outcome of a ride request plus the trip scheduled for it
type RideResult struct {
	matching.Outcome
	Trip *trip.Trip
}

// Assignment is a driver's matched ride with its pickup station
type Assignment struct {
	Ride    *ride.RideRequest
	Station *station.Station
}

// Location is a driver's position and where it came from
type Location struct {
	DriverID string
	Point    driver.Point
	Status   driver.Status
	Source   string
}

// Service implements the dispatch operations
type Service struct {
	registry  *presence.Registry
	matcher   *matching.Service
	trips     *lifecycle.Service
	rides     ride.Repository
	stations  station.Repository
	mirror    driver.LocationStore
	publisher events.Publisher
	monitor   Monitor
	logger    *logger.Logger
}

// Config carries the collaborators of a Service. Mirror, Publisher and Monitor
// are optional.
type Config struct {
	Registry  *presence.Registry
	Matcher   *matching.Service
	Trips     *lifecycle.Service
	Rides     ride.Repository
	Stations  station.Repository
	Mirror    driver.LocationStore
	Publisher events.Publisher
	Monitor   Monitor
	Logger    *logger.Logger
}

// NewService creates a dispatch service
func NewService(cfg Config) *Service {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		registry:  cfg.Registry,
		matcher:   cfg.Matcher,
		trips:     cfg.Trips,
		rides:     cfg.Rides,
		stations:  cfg.Stations,
		mirror:    cfg.Mirror,
		publisher: publisher,
		monitor:   cfg.Monitor,
		logger:    cfg.Logger,
	}
}

// RequestRide matches the rider and schedules the trip for a new match.
// A trip that cannot be scheduled is logged; the match itself stands and the
// ride can still be completed directly.
func (s *Service) RequestRide(ctx context.Context, req matching.Request) (*RideResult, error) {
	outcome, err := s.matcher.Match(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &RideResult{Outcome: outcome}

	switch outcome.Status {
	case matching.StatusMatched:
		s.publisher.Publish(ctx, events.New(events.RideMatched, outcome.Ride.ID, map[string]string{
			"rider_id":  req.RiderID,
			"driver_id": outcome.DriverID,
		}))
		t, err := s.trips.Create(ctx, outcome.Ride.ID, outcome.DriverID, req.RiderID)
		if err != nil {
			s.logger.Error("Failed to schedule trip for matched ride",
				logger.String("ride_id", outcome.Ride.ID),
				logger.Err(err),
			)
			return result, nil
		}
		result.Trip = t

	case matching.StatusAlreadyMatched:
		if t, err := s.trips.ForRide(ctx, outcome.Ride.ID); err == nil {
			result.Trip = t
		}
	}
	return result, nil
}

// GetRide returns one ride request
func (s *Service) GetRide(ctx context.Context, rideID string) (*ride.RideRequest, error) {
	rr, err := s.rides.GetByID(ctx, rideID)
	if errors.Is(err, ride.ErrRideNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Upstream(err)
	}
	return rr, nil
}

// AssignedRide returns the driver's matched ride, or nil when there is none
func (s *Service) AssignedRide(ctx context.Context, driverID string) (*Assignment, error) {
	rr, err := s.rides.FindMatchedByDriver(ctx, driverID)
	if errors.Is(err, ride.ErrRideNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Upstream(err)
	}

	a := &Assignment{Ride: rr}
	st, err := s.stations.GetByID(ctx, rr.PickupStationID)
	switch {
	case err == nil:
		a.Station = st
	case !errors.Is(err, station.ErrStationNotFound):
		return nil, apperrors.Upstream(err)
	}
	return a, nil
}

// CompleteRide finishes a matched ride on behalf of its driver. When the ride
// has an unfinished trip the trip is driven to completed, activating it first
// if the pickup was never recorded; otherwise the ride is completed directly.
// Either way the driver ends up available at the final coordinates.
func (s *Service) CompleteRide(ctx context.Context, rideID, driverID string, finalX, finalY float64) (*ride.RideRequest, error) {
	rr, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !rr.IsMatchedTo(driverID) {
		return nil, apperrors.ErrDriverMismatch
	}
	if !rr.CanComplete() {
		return nil, ride.ErrInvalidStatus
	}

	err = s.finishRide(ctx, rr.ID, driverID, finalX, finalY)
	if errors.Is(err, trip.ErrTripExists) {
		// A trip was scheduled after the lookup; finish through it.
		err = s.finishRide(ctx, rr.ID, driverID, finalX, finalY)
	}
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(events.RideCompleted, rr.ID, map[string]string{
		"rider_id":  rr.RiderID,
		"driver_id": driverID,
	}))
	s.logger.Info("Ride completed",
		logger.String("ride_id", rr.ID),
		logger.String("driver_id", driverID),
	)
	return s.GetRide(ctx, rr.ID)
}

// finishRide completes the ride's unfinished trip, or the ride itself when it
// has none. The ledger refuses a direct completion while a trip is open.
func (s *Service) finishRide(ctx context.Context, rideID, driverID string, finalX, finalY float64) error {
	t, err := s.trips.ForRide(ctx, rideID)
	switch {
	case err == nil && t.IsOpen():
		if t.Status == trip.StatusScheduled {
			if _, err := s.trips.Activate(ctx, t.ID); err != nil && !errors.Is(err, trip.ErrInvalidTransition) {
				return err
			}
		}
		_, err := s.trips.Complete(ctx, t.ID, finalX, finalY)
		return err

	case err == nil || errors.Is(err, trip.ErrTripNotFound):
		if _, err := s.rides.Complete(ctx, rideID); err != nil {
			if errors.Is(err, ride.ErrInvalidStatus) || errors.Is(err, ride.ErrRideNotFound) ||
				errors.Is(err, trip.ErrTripExists) {
				return err
			}
			return apperrors.Upstream(err)
		}
		s.registry.MarkAvailable(driverID, finalX, finalY)
		return nil
	}
	return err
}

// ApplyDriverUpdate records one message from a driver's stream. The display
// name comes from the identity hint.
func (s *Service) ApplyDriverUpdate(ctx context.Context, driverID string, u Update) {
	s.apply(ctx, driverID, u.X, u.Y, u.Status, driver.DisplayNameFromHint(u.IdentityHint))
}

// ReportLocation records a position sent outside the stream, keeping the
// display name the registry already knows.
func (s *Service) ReportLocation(ctx context.Context, driverID string, x, y float64, status driver.Status) {
	name := driver.DefaultDisplayName
	if p, ok := s.registry.Get(driverID); ok && p.DisplayName != "" {
		name = p.DisplayName
	}
	s.apply(ctx, driverID, x, y, status, name)
}

func (s *Service) apply(ctx context.Context, driverID string, x, y float64, status driver.Status, name string) {
	s.registry.Apply(driverID, x, y, status, name)
	if s.monitor != nil {
		s.monitor.RecordLocationUpdate()
	}
	if s.mirror == nil {
		return
	}
	p, _ := s.registry.Get(driverID)
	if err := s.mirror.Upsert(ctx, p); err != nil {
		s.logger.Warn("Failed to mirror driver presence",
			logger.String("driver_id", driverID),
			logger.Err(err),
		)
	}
}

// DriverDisconnected marks the driver offline. The in-memory change and its
// broadcast happen first; the durable write is best effort.
func (s *Service) DriverDisconnected(ctx context.Context, driverID string) {
	s.registry.MarkOffline(driverID)
	s.publisher.Publish(ctx, events.New(events.DriverOffline, driverID, nil))

	if s.mirror == nil {
		return
	}
	if err := s.mirror.SetOffline(ctx, driverID); err != nil {
		s.logger.Error("Failed to persist driver offline state",
			logger.String("driver_id", driverID),
			logger.Err(err),
		)
	}
}

// DriverLocation returns the live position, then the stored one, then
// FallbackLocation.
func (s *Service) DriverLocation(ctx context.Context, driverID string) Location {
	if p, ok := s.registry.Get(driverID); ok {
		return Location{DriverID: driverID, Point: p.Location(), Status: p.Status, Source: SourceLive}
	}

	if s.mirror != nil {
		p, err := s.mirror.Get(ctx, driverID)
		if err == nil {
			return Location{DriverID: driverID, Point: p.Location(), Status: p.Status, Source: SourceStored}
		}
		if !errors.Is(err, driver.ErrDriverNotFound) {
			s.logger.Warn("Driver location lookup failed, using fallback",
				logger.String("driver_id", driverID),
				logger.Err(err),
			)
		}
	}

	return Location{DriverID: driverID, Point: FallbackLocation, Status: driver.StatusOffline, Source: SourceFallback}
}

// ActiveDrivers returns every driver observers can currently see
func (s *Service) ActiveDrivers() []driver.Presence {
	return s.registry.Snapshot().Visible()
}

// Stations lists the reference stations
func (s *Service) Stations(ctx context.Context) ([]*station.Station, error) {
	list, err := s.stations.List(ctx)
	if err != nil {
		return nil, apperrors.Upstream(err)
	}
	return list, nil
}

// Station returns one reference station
func (s *Service) Station(ctx context.Context, id string) (*station.Station, error) {
	st, err := s.stations.GetByID(ctx, id)
	if errors.Is(err, station.ErrStationNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Upstream(err)
	}
	return st, nil
}
