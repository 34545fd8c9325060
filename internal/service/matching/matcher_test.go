package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/station"
	"github.com/gocomet/ride-dispatch/internal/repository/memory"
	"github.com/gocomet/ride-dispatch/internal/service/presence"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	registry *presence.Registry
	matcher  *Service
}

func newFixture(t *testing.T, stations ...station.Station) *fixture {
	t.Helper()
	store := memory.NewStore()
	for _, st := range stations {
		store.PutStation(st)
	}
	registry := presence.NewRegistry(logger.NewNop())
	return &fixture{
		store:    store,
		registry: registry,
		matcher:  NewService(store.Rides(), store.Stations(), registry, nil, logger.NewNop()),
	}
}

func request(riderID, stationID string) Request {
	return Request{RiderID: riderID, StationID: stationID, Destination: "Airport", ArrivalTime: "09:30"}
}

// TestMatch_NearestDriverThenAlreadyMatched tests the basic assignment flow
func TestMatch_NearestDriverThenAlreadyMatched(t *testing.T) {
	f := newFixture(t, station.Station{ID: "S", Name: "Central", X: 3, Y: 4})
	f.registry.Apply("D1", 0, 0, driver.StatusAvailable, "d1")

	out, err := f.matcher.Match(context.Background(), request("R", "S"))
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, out.Status)
	assert.Equal(t, "D1", out.DriverID)
	assert.Equal(t, 5.0, out.Distance)
	require.NotNil(t, out.Ride)
	assert.NotEmpty(t, out.Ride.ID)
	assert.Equal(t, ride.StatusMatched, out.Ride.Status)
	assert.Equal(t, "D1", *out.Ride.MatchedDriverID)

	p, _ := f.registry.Get("D1")
	assert.Equal(t, driver.StatusBusy, p.Status)

	again, err := f.matcher.Match(context.Background(), request("R", "S"))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyMatched, again.Status)
	assert.Equal(t, out.Ride.ID, again.Ride.ID)
}

// TestMatch_TieBreak tests that equidistant drivers resolve to the first seen
func TestMatch_TieBreak(t *testing.T) {
	tests := []struct {
		name     string
		order    []string
		expected string
	}{
		{name: "D1 first", order: []string{"D1", "D2"}, expected: "D1"},
		{name: "insertion order, not sorted", order: []string{"zeta", "alpha"}, expected: "zeta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, station.Station{ID: "S", X: 1, Y: 0})
			for _, id := range tt.order {
				f.registry.Apply(id, 0, 0, driver.StatusAvailable, "")
			}

			out, err := f.matcher.Match(context.Background(), request("R", "S"))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out.DriverID)
			assert.Equal(t, 1.0, out.Distance)
		})
	}
}

// TestMatch_AlreadyMatchedWithoutDrivers tests the first guard wins regardless of availability
func TestMatch_AlreadyMatchedWithoutDrivers(t *testing.T) {
	f := newFixture(t, station.Station{ID: "S"})
	driverID := "D9"
	require.NoError(t, f.store.Rides().Create(context.Background(), &ride.RideRequest{
		RiderID:         "R",
		MatchedDriverID: &driverID,
		Status:          ride.StatusMatched,
	}))

	out, err := f.matcher.Match(context.Background(), request("R", "missing-station"))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyMatched, out.Status)
	assert.Empty(t, f.registry.Snapshot().Drivers)
}

// TestMatch_NoDrivers tests that only available drivers are candidates
func TestMatch_NoDrivers(t *testing.T) {
	f := newFixture(t, station.Station{ID: "S"})
	f.registry.Apply("busy", 0, 0, driver.StatusBusy, "")
	f.registry.Apply("gone", 0, 0, driver.StatusOffline, "")

	out, err := f.matcher.Match(context.Background(), request("R", "S"))
	require.NoError(t, err)
	assert.Equal(t, StatusNoDrivers, out.Status)

	_, err = f.store.Rides().FindMatchedByRider(context.Background(), "R")
	assert.ErrorIs(t, err, ride.ErrRideNotFound)
}

// TestMatch_StationNotFound tests the station guard
func TestMatch_StationNotFound(t *testing.T) {
	f := newFixture(t)
	f.registry.Apply("D1", 0, 0, driver.StatusAvailable, "")

	_, err := f.matcher.Match(context.Background(), request("R", "nowhere"))
	assert.ErrorIs(t, err, station.ErrStationNotFound)

	p, _ := f.registry.Get("D1")
	assert.Equal(t, driver.StatusAvailable, p.Status)
}

// TestMatch_ConcurrentRequests tests that no driver is assigned twice
func TestMatch_ConcurrentRequests(t *testing.T) {
	f := newFixture(t, station.Station{ID: "S", X: 5, Y: 5})
	const drivers, riders = 3, 12
	for i := 0; i < drivers; i++ {
		f.registry.Apply(string(rune('a'+i)), float64(i), 0, driver.StatusAvailable, "")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		assigned = map[string]int{}
		noDriver int
	)
	for i := 0; i < riders; i++ {
		wg.Add(1)
		go func(rider string) {
			defer wg.Done()
			out, err := f.matcher.Match(context.Background(), request(rider, "S"))
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			switch out.Status {
			case StatusMatched:
				assigned[out.DriverID]++
			case StatusNoDrivers:
				noDriver++
			}
		}(string(rune('A' + i)))
	}
	wg.Wait()

	assert.Len(t, assigned, drivers)
	for id, n := range assigned {
		assert.Equal(t, 1, n, "driver %s assigned more than once", id)
	}
	assert.Equal(t, riders-drivers, noDriver)
}

// TestMatch_SameRiderConcurrently tests one rider cannot obtain two rides
func TestMatch_SameRiderConcurrently(t *testing.T) {
	f := newFixture(t, station.Station{ID: "S"})
	for _, id := range []string{"a", "b", "c", "d"} {
		f.registry.Apply(id, 0, 0, driver.StatusAvailable, "")
	}

	var wg sync.WaitGroup
	results := make([]Outcome, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.matcher.Match(context.Background(), request("R", "S"))
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	matched := 0
	for _, out := range results {
		if out.Status == StatusMatched {
			matched++
		} else {
			assert.Equal(t, StatusAlreadyMatched, out.Status)
		}
	}
	assert.Equal(t, 1, matched)
	assert.Len(t, f.registry.Snapshot().Available(), 3)
	assert.Zero(t, f.matcher.riders.size())
}

// stealingRegistry lets another party claim a driver between snapshot and commit
type stealingRegistry struct {
	*presence.Registry
	steal string
}

func (r *stealingRegistry) Claim(driverID string) (uint64, bool) {
	if driverID == r.steal {
		r.Registry.MarkBusy(driverID)
	}
	return r.Registry.Claim(driverID)
}

// TestMatch_LostRaceReselects tests the retry among remaining candidates
func TestMatch_LostRaceReselects(t *testing.T) {
	store := memory.NewStore()
	store.PutStation(station.Station{ID: "S"})
	registry := presence.NewRegistry(logger.NewNop())
	registry.Apply("near", 1, 0, driver.StatusAvailable, "")
	registry.Apply("far", 9, 0, driver.StatusAvailable, "")

	m := NewService(store.Rides(), store.Stations(), &stealingRegistry{Registry: registry, steal: "near"}, nil, logger.NewNop())
	out, err := m.Match(context.Background(), request("R", "S"))
	require.NoError(t, err)
	assert.Equal(t, "far", out.DriverID)
	assert.Equal(t, 9.0, out.Distance)

	// The only candidate is stolen: no drivers.
	registry.Apply("solo", 0, 0, driver.StatusAvailable, "")
	m = NewService(store.Rides(), store.Stations(), &stealingRegistry{Registry: registry, steal: "solo"}, nil, logger.NewNop())
	out, err = m.Match(context.Background(), request("R2", "S"))
	require.NoError(t, err)
	assert.Equal(t, StatusNoDrivers, out.Status)
}

type failingRides struct {
	ride.Repository
	err    error
	during func()
}

func (f *failingRides) Create(context.Context, *ride.RideRequest) error {
	if f.during != nil {
		f.during()
	}
	return f.err
}

// TestMatch_LedgerFailureReleasesDriver tests the claim is undone when the ride cannot be recorded
func TestMatch_LedgerFailureReleasesDriver(t *testing.T) {
	store := memory.NewStore()
	store.PutStation(station.Station{ID: "S"})
	registry := presence.NewRegistry(logger.NewNop())
	registry.Apply("D1", 0, 0, driver.StatusAvailable, "")

	rides := &failingRides{Repository: store.Rides(), err: errors.New("connection refused")}
	m := NewService(rides, store.Stations(), registry, nil, logger.NewNop())

	_, err := m.Match(context.Background(), request("R", "S"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	assert.Equal(t, 503, apperrors.GetAppError(err).Status)

	p, _ := registry.Get("D1")
	assert.Equal(t, driver.StatusAvailable, p.Status)
}

// TestMatch_LedgerFailureKeepsNewerStatus tests that a failed commit does not
// overwrite a status the driver reported while the ride was being written
func TestMatch_LedgerFailureKeepsNewerStatus(t *testing.T) {
	store := memory.NewStore()
	store.PutStation(station.Station{ID: "S"})
	registry := presence.NewRegistry(logger.NewNop())
	registry.Apply("D1", 0, 0, driver.StatusAvailable, "")

	rides := &failingRides{
		Repository: store.Rides(),
		err:        errors.New("connection refused"),
		during: func() {
			registry.Apply("D1", 2, 2, driver.StatusBusy, "")
		},
	}
	m := NewService(rides, store.Stations(), registry, nil, logger.NewNop())

	_, err := m.Match(context.Background(), request("R", "S"))
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)

	p, _ := registry.Get("D1")
	assert.Equal(t, driver.StatusBusy, p.Status)
	assert.Equal(t, 2.0, p.X)
}

// TestMatch_LedgerRejectsDuplicate tests the ledger's own one-ride-per-rider guard
func TestMatch_LedgerRejectsDuplicate(t *testing.T) {
	store := memory.NewStore()
	store.PutStation(station.Station{ID: "S"})
	registry := presence.NewRegistry(logger.NewNop())
	registry.Apply("D1", 0, 0, driver.StatusAvailable, "")

	other := "D0"
	existing := &ride.RideRequest{RiderID: "R", MatchedDriverID: &other, Status: ride.StatusMatched}
	require.NoError(t, store.Rides().Create(context.Background(), existing))

	rides := &blindRides{Repository: store.Rides()}
	m := NewService(rides, store.Stations(), registry, nil, logger.NewNop())

	out, err := m.Match(context.Background(), request("R", "S"))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyMatched, out.Status)
	assert.Equal(t, existing.ID, out.Ride.ID)

	p, _ := registry.Get("D1")
	assert.Equal(t, driver.StatusAvailable, p.Status)
}

// blindRides misses the existing ride on the first lookup, as a second process would
type blindRides struct {
	ride.Repository
	mu     sync.Mutex
	looked bool
}

func (b *blindRides) FindMatchedByRider(ctx context.Context, riderID string) (*ride.RideRequest, error) {
	b.mu.Lock()
	first := !b.looked
	b.looked = true
	b.mu.Unlock()
	if first {
		return nil, ride.ErrRideNotFound
	}
	return b.Repository.FindMatchedByRider(ctx, riderID)
}

type recordingMonitor struct {
	latencies int
	matched   []string
}

func (m *recordingMonitor) RecordMatchingLatency(time.Duration) { m.latencies++ }

func (m *recordingMonitor) RecordRideMatched(rideID, driverID string, distance float64) {
	m.matched = append(m.matched, driverID)
}

// TestMatch_RecordsTelemetry tests monitor hooks and distance rounding
func TestMatch_RecordsTelemetry(t *testing.T) {
	store := memory.NewStore()
	store.PutStation(station.Station{ID: "S", X: 1, Y: 1})
	registry := presence.NewRegistry(logger.NewNop())
	registry.Apply("D1", 0, 0, driver.StatusAvailable, "")
	mon := &recordingMonitor{}

	m := NewService(store.Rides(), store.Stations(), registry, mon, logger.NewNop())
	out, err := m.Match(context.Background(), request("R", "S"))
	require.NoError(t, err)

	assert.Equal(t, 1.41, out.Distance)
	assert.Equal(t, 1, mon.latencies)
	assert.Equal(t, []string{"D1"}, mon.matched)
}

// TestNearest tests selection with full precision comparisons
func TestNearest(t *testing.T) {
	candidates := []driver.Presence{
		{DriverID: "a", X: 0, Y: 1.004},
		{DriverID: "b", X: 0, Y: 1.001},
		{DriverID: "c", X: 0, Y: -1.001},
	}

	i, d := Nearest(driver.Point{}, candidates)
	assert.Equal(t, 1, i, "ties after rounding still compare on full precision")
	assert.InDelta(t, 1.001, d, 1e-9)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 5.0, Round2(5))
	assert.Equal(t, 1.41, Round2(1.41421356))
	assert.Equal(t, 2.24, Round2(2.2360679))
}

// TestKeyedMutex tests per-key exclusion and cleanup
func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("r1")

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("r1")
		close(acquired)
		u()
	}()

	other := k.Lock("r2")
	other()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a locked key")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}
