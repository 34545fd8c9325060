// Package lifecycle moves a matched ride's trip through scheduled, active and
// completed, releasing the driver once the rider is dropped off.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/trip"
	"github.com/gocomet/ride-dispatch/internal/events"
	"github.com/gocomet/ride-dispatch/internal/observability"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Registry is the presence operation run on completion
type Registry interface {
	MarkAvailable(driverID string, x, y float64)
}

// Monitor receives trip telemetry
type Monitor interface {
	RecordTripCompleted(tripID, driverID string, duration time.Duration)
}

// Service runs trip transitions
type Service struct {
	trips     trip.Repository
	registry  Registry
	publisher events.Publisher
	monitor   Monitor
	now       func() time.Time
	logger    *logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the transition clock
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMonitor attaches trip telemetry
func WithMonitor(m Monitor) Option {
	return func(s *Service) {
		s.monitor = m
	}
}

// NewService creates a lifecycle service. A nil publisher drops events.
func NewService(trips trip.Repository, registry Registry, publisher events.Publisher, log *logger.Logger, opts ...Option) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	s := &Service{
		trips:     trips,
		registry:  registry,
		publisher: publisher,
		now:       time.Now,
		logger:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create schedules a trip for a matched ride. It is refused when the ride is
// not matched to driverID or when the ride or driver already has an unfinished
// trip.
func (s *Service) Create(ctx context.Context, rideRequestID, driverID, riderID string) (*trip.Trip, error) {
	t := &trip.Trip{
		RideRequestID: rideRequestID,
		DriverID:      driverID,
		RiderID:       riderID,
	}
	if err := s.trips.Create(ctx, t); err != nil {
		if errors.Is(err, ride.ErrRideNotFound) ||
			errors.Is(err, trip.ErrRideNotAssignable) ||
			errors.Is(err, trip.ErrTripExists) {
			s.logger.Warn("Rejected trip",
				logger.String("ride_id", rideRequestID),
				logger.String("driver_id", driverID),
				logger.Err(err),
			)
			return nil, err
		}
		return nil, apperrors.Upstream(err)
	}

	observability.TripTransitions.WithLabelValues(string(trip.StatusScheduled)).Inc()
	s.logger.Info("Trip scheduled",
		logger.String("trip_id", t.ID),
		logger.String("ride_id", rideRequestID),
		logger.String("driver_id", driverID),
	)
	return t, nil
}

// Activate records the pickup. Only scheduled trips can be activated.
func (s *Service) Activate(ctx context.Context, tripID string) (*trip.Trip, error) {
	t, err := s.trips.Activate(ctx, tripID, s.now().UTC())
	if err != nil {
		return nil, s.transitionError(err, tripID, trip.StatusActive)
	}

	observability.TripTransitions.WithLabelValues(string(trip.StatusActive)).Inc()
	s.publisher.Publish(ctx, events.New(events.TripActivated, t.ID, map[string]string{
		"ride_id":   t.RideRequestID,
		"driver_id": t.DriverID,
	}))
	s.logger.Info("Trip started",
		logger.String("trip_id", t.ID),
		logger.String("driver_id", t.DriverID),
	)
	return t, nil
}

// Complete records the drop-off. The ledger completes the trip and its ride in
// one write. The driver is made available at the final coordinates only when
// that write is what finished the ride; a trip whose ride was already closed
// leaves the driver as it is.
func (s *Service) Complete(ctx context.Context, tripID string, finalX, finalY float64) (*trip.Trip, error) {
	t, rideCompleted, err := s.trips.Complete(ctx, tripID, s.now().UTC())
	if err != nil {
		return nil, s.transitionError(err, tripID, trip.StatusCompleted)
	}

	if rideCompleted {
		s.registry.MarkAvailable(t.DriverID, finalX, finalY)
	} else {
		s.logger.Warn("Trip completed after its ride, driver left unchanged",
			logger.String("trip_id", t.ID),
			logger.String("ride_id", t.RideRequestID),
			logger.String("driver_id", t.DriverID),
		)
	}

	observability.TripTransitions.WithLabelValues(string(trip.StatusCompleted)).Inc()
	s.publisher.Publish(ctx, events.New(events.TripCompleted, t.ID, map[string]string{
		"ride_id":   t.RideRequestID,
		"driver_id": t.DriverID,
	}))
	if s.monitor != nil && t.PickupTime != nil && t.DropoffTime != nil {
		s.monitor.RecordTripCompleted(t.ID, t.DriverID, t.DropoffTime.Sub(*t.PickupTime))
	}
	s.logger.Info("Trip completed",
		logger.String("trip_id", t.ID),
		logger.String("driver_id", t.DriverID),
		logger.Float64("final_x", finalX),
		logger.Float64("final_y", finalY),
	)
	return t, nil
}

// CurrentFor returns the driver's most recent unfinished trip
func (s *Service) CurrentFor(ctx context.Context, driverID string) (*trip.Trip, error) {
	t, err := s.trips.FindCurrentByDriver(ctx, driverID)
	if errors.Is(err, trip.ErrTripNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Upstream(err)
	}
	return t, nil
}

// Get returns one trip
func (s *Service) Get(ctx context.Context, tripID string) (*trip.Trip, error) {
	t, err := s.trips.GetByID(ctx, tripID)
	if errors.Is(err, trip.ErrTripNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Upstream(err)
	}
	return t, nil
}

// ForRide returns the trip created for a ride request
func (s *Service) ForRide(ctx context.Context, rideRequestID string) (*trip.Trip, error) {
	t, err := s.trips.GetByRideRequestID(ctx, rideRequestID)
	if errors.Is(err, trip.ErrTripNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Upstream(err)
	}
	return t, nil
}

func (s *Service) transitionError(err error, tripID string, to trip.Status) error {
	switch {
	case errors.Is(err, trip.ErrTripNotFound):
		return err
	case errors.Is(err, trip.ErrInvalidTransition):
		s.logger.Warn("Rejected out-of-order trip transition",
			logger.String("trip_id", tripID),
			logger.String("to", string(to)),
		)
		return err
	}
	s.logger.Error("Trip transition failed",
		logger.String("trip_id", tripID),
		logger.String("to", string(to)),
		logger.Err(err),
	)
	return apperrors.Upstream(err)
}
