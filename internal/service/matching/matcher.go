package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/station"
	"github.com/gocomet/ride-dispatch/internal/observability"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Status is the kind of match outcome
type Status string

const (
	StatusMatched        Status = "matched"
	StatusNoDrivers      Status = "no_drivers"
	StatusAlreadyMatched Status = "already_matched"
)

// Registry is the part of the presence registry the matcher drives
type Registry interface {
	Snapshot() driver.Snapshot
	Claim(driverID string) (uint64, bool)
	ReleaseClaim(driverID string, claim uint64) bool
}

// Monitor receives per-match telemetry
type Monitor interface {
	RecordMatchingLatency(latency time.Duration)
	RecordRideMatched(rideID, driverID string, distance float64)
}

// Request is a rider asking for a pickup at a station
type Request struct {
	RiderID     string
	StationID   string
	Destination string
	ArrivalTime string
}

// Outcome is the result of one match attempt. Ride is the ledger record: the
// new one when matched, the existing one when already matched.
type Outcome struct {
	Status   Status
	DriverID string
	Distance float64
	Ride     *ride.RideRequest
}

// Service handles driver-rider matching
type Service struct {
	rides    ride.Repository
	stations station.Repository
	registry Registry
	monitor  Monitor
	riders   *keyedMutex
	logger   *logger.Logger
}

// NewService creates a new matching service
func NewService(rides ride.Repository, stations station.Repository, registry Registry, monitor Monitor, log *logger.Logger) *Service {
	return &Service{
		rides:    rides,
		stations: stations,
		registry: registry,
		monitor:  monitor,
		riders:   newKeyedMutex(),
		logger:   log,
	}
}

// Match assigns the nearest available driver to the request.
//
// Guards run in order: an existing matched ride for the rider wins over
// everything else, then the pickup station must exist, then at least one driver
// must be available. Requests from the same rider are serialised so the first
// guard cannot be passed twice concurrently.
func (s *Service) Match(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	unlock := s.riders.Lock(req.RiderID)
	defer unlock()

	outcome, err := s.match(ctx, req)

	latency := time.Since(start)
	observability.MatchLatency.Observe(latency.Seconds())
	if s.monitor != nil {
		s.monitor.RecordMatchingLatency(latency)
	}
	if err == nil {
		observability.MatchesTotal.WithLabelValues(string(outcome.Status)).Inc()
	} else {
		observability.MatchesTotal.WithLabelValues("error").Inc()
	}
	return outcome, err
}

func (s *Service) match(ctx context.Context, req Request) (Outcome, error) {
	existing, err := s.rides.FindMatchedByRider(ctx, req.RiderID)
	switch {
	case err == nil:
		s.logger.Info("Rider already has a matched ride",
			logger.String("rider_id", req.RiderID),
			logger.String("ride_id", existing.ID),
		)
		return Outcome{Status: StatusAlreadyMatched, Ride: existing}, nil
	case !errors.Is(err, ride.ErrRideNotFound):
		return Outcome{}, apperrors.Upstream(err)
	}

	st, err := s.stations.GetByID(ctx, req.StationID)
	if errors.Is(err, station.ErrStationNotFound) {
		return Outcome{}, err
	}
	if err != nil {
		return Outcome{}, apperrors.Upstream(err)
	}
	pickup := st.Location()

	candidates := s.registry.Snapshot().Available()
	for len(candidates) > 0 {
		i, distance := Nearest(pickup, candidates)
		chosen := candidates[i]

		claim, ok := s.registry.Claim(chosen.DriverID)
		if !ok {
			observability.MatchRetries.Inc()
			s.logger.Debug("Driver claimed by another request, reselecting",
				logger.String("driver_id", chosen.DriverID),
				logger.Int("remaining", len(candidates)-1),
			)
			candidates = slices.Delete(candidates, i, i+1)
			continue
		}

		return s.commit(ctx, req, chosen.DriverID, claim, distance)
	}

	s.logger.Info("No drivers available",
		logger.String("rider_id", req.RiderID),
		logger.String("station_id", req.StationID),
	)
	return Outcome{Status: StatusNoDrivers}, nil
}

// commit records the claimed driver in the ledger. The registry lock is not
// held here; if the ledger refuses the write the claim is undone, unless the
// driver's record changed in the meantime.
func (s *Service) commit(ctx context.Context, req Request, driverID string, claim uint64, distance float64) (Outcome, error) {
	rr := &ride.RideRequest{
		RiderID:              req.RiderID,
		PickupStationID:      req.StationID,
		Destination:          req.Destination,
		RequestedArrivalTime: req.ArrivalTime,
		MatchedDriverID:      &driverID,
		Status:               ride.StatusMatched,
	}

	err := s.rides.Create(ctx, rr)
	if err != nil {
		s.registry.ReleaseClaim(driverID, claim)
		if errors.Is(err, ride.ErrAlreadyMatched) {
			existing, findErr := s.rides.FindMatchedByRider(ctx, req.RiderID)
			if findErr != nil {
				return Outcome{}, apperrors.Upstream(findErr)
			}
			return Outcome{Status: StatusAlreadyMatched, Ride: existing}, nil
		}
		s.logger.Error("Failed to record matched ride, driver released",
			logger.String("rider_id", req.RiderID),
			logger.String("driver_id", driverID),
			logger.Err(err),
		)
		return Outcome{}, apperrors.Upstream(fmt.Errorf("create ride request: %w", err))
	}

	rounded := Round2(distance)
	if s.monitor != nil {
		s.monitor.RecordRideMatched(rr.ID, driverID, rounded)
	}
	s.logger.Info("Driver matched",
		logger.String("ride_id", rr.ID),
		logger.String("rider_id", req.RiderID),
		logger.String("driver_id", driverID),
		logger.Float64("distance", rounded),
	)

	return Outcome{
		Status:   StatusMatched,
		DriverID: driverID,
		Distance: rounded,
		Ride:     rr,
	}, nil
}

// Nearest returns the index and distance of the candidate closest to pickup.
// Equal distances keep the earlier candidate. candidates must not be empty.
func Nearest(pickup driver.Point, candidates []driver.Presence) (int, float64) {
	best := 0
	bestDistance := Distance(pickup, candidates[0].Location())
	for i := 1; i < len(candidates); i++ {
		d := Distance(pickup, candidates[i].Location())
		if d < bestDistance {
			best = i
			bestDistance = d
		}
	}
	return best, bestDistance
}

// Distance is the planar Euclidean distance between two points
func Distance(a, b driver.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
