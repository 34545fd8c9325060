package observer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/service/presence"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObserver struct {
	id     string
	fail   bool
	mu     sync.Mutex
	frames []Frame
}

func (o *fakeObserver) ID() string { return o.id }

func (o *fakeObserver) Deliver(payload []byte) error {
	if o.fail {
		return errors.New("connection reset")
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, f)
	return nil
}

func (o *fakeObserver) last() (Frame, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.frames) == 0 {
		return nil, 0
	}
	return o.frames[len(o.frames)-1], len(o.frames)
}

func startHub(t *testing.T) (*Hub, *presence.Registry) {
	t.Helper()
	registry := presence.NewRegistry(logger.NewNop())
	hub := NewHub(registry, logger.NewNop())
	registry.SetBroadcaster(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, registry
}

func waitForFrame(t *testing.T, o *fakeObserver, check func(Frame) bool) {
	t.Helper()
	assert.Eventually(t, func() bool {
		f, n := o.last()
		return n > 0 && check(f)
	}, time.Second, 5*time.Millisecond)
}

// TestJoin_ReceivesFilteredSnapshot tests the initial view excludes offline drivers
func TestJoin_ReceivesFilteredSnapshot(t *testing.T) {
	hub, registry := startHub(t)
	registry.Apply("d1", 1, 2, driver.StatusAvailable, "alice")
	registry.Apply("d2", 3, 4, driver.StatusBusy, "bob")
	registry.Apply("d3", 5, 6, driver.StatusAvailable, "carol")
	registry.MarkOffline("d3")

	o := &fakeObserver{id: "rider-1"}
	hub.Join(o)

	waitForFrame(t, o, func(f Frame) bool { return len(f) == 2 })
	f, _ := o.last()
	assert.Contains(t, f, "d1")
	assert.Contains(t, f, "d2")
	assert.NotContains(t, f, "d3")
	assert.Equal(t, "alice", f["d1"].DisplayName)
	assert.Equal(t, driver.StatusBusy, f["d2"].Status)
}

// TestJoin_EmptyRegistry tests that a new observer always gets a frame
func TestJoin_EmptyRegistry(t *testing.T) {
	hub, _ := startHub(t)

	o := &fakeObserver{id: "rider-1"}
	hub.Join(o)

	waitForFrame(t, o, func(f Frame) bool { return len(f) == 0 })
	assert.Equal(t, 1, hub.ActiveObservers())
}

// TestBroadcast_ReachesEveryObserver tests fan-out
func TestBroadcast_ReachesEveryObserver(t *testing.T) {
	hub, registry := startHub(t)
	a := &fakeObserver{id: "a"}
	b := &fakeObserver{id: "b"}
	hub.Join(a)
	hub.Join(b)

	registry.Apply("d1", 9, 9, driver.StatusAvailable, "")

	for _, o := range []*fakeObserver{a, b} {
		waitForFrame(t, o, func(f Frame) bool {
			v, ok := f["d1"]
			return ok && v.X == 9
		})
	}
}

// TestBroadcast_FailedObserverDoesNotAbort tests best-effort delivery
func TestBroadcast_FailedObserverDoesNotAbort(t *testing.T) {
	hub, registry := startHub(t)
	dead := &fakeObserver{id: "dead", fail: true}
	alive := &fakeObserver{id: "alive"}
	hub.Join(dead)
	hub.Join(alive)

	registry.Apply("d1", 1, 1, driver.StatusAvailable, "")

	waitForFrame(t, alive, func(f Frame) bool { return len(f) == 1 })
	assert.Equal(t, 2, hub.ActiveObservers(), "failed observers are not removed by the broadcaster")
}

// TestBroadcast_OfflineDriverHidden tests that disconnects remove drivers from the view
func TestBroadcast_OfflineDriverHidden(t *testing.T) {
	hub, registry := startHub(t)
	registry.Apply("d1", 1, 1, driver.StatusAvailable, "")
	o := &fakeObserver{id: "o"}
	hub.Join(o)
	waitForFrame(t, o, func(f Frame) bool { return len(f) == 1 })

	registry.MarkOffline("d1")

	waitForFrame(t, o, func(f Frame) bool { return len(f) == 0 })
}

// TestLeave_Idempotent tests deregistration
func TestLeave_Idempotent(t *testing.T) {
	hub, registry := startHub(t)
	o := &fakeObserver{id: "o"}
	hub.Join(o)
	waitForFrame(t, o, func(Frame) bool { return true })

	hub.Leave(o)
	hub.Leave(o)
	hub.Leave(&fakeObserver{id: "never-joined"})
	assert.Eventually(t, func() bool { return hub.ActiveObservers() == 0 }, time.Second, 5*time.Millisecond)

	_, before := o.last()
	registry.Apply("d1", 1, 1, driver.StatusAvailable, "")
	hub.Join(&fakeObserver{id: "sync"}) // round-trip through the run loop
	time.Sleep(20 * time.Millisecond)

	_, after := o.last()
	assert.Equal(t, before, after)
}

// TestDeliver_SkipsOlderVersions tests monotonic delivery per observer
func TestDeliver_SkipsOlderVersions(t *testing.T) {
	hub := NewHub(presence.NewRegistry(logger.NewNop()), logger.NewNop())
	o := &fakeObserver{id: "o"}
	m := &membership{}

	hub.deliver(o, m, 5, []byte(`{}`))
	hub.deliver(o, m, 4, []byte(`{}`))
	hub.deliver(o, m, 5, []byte(`{}`))
	hub.deliver(o, m, 6, []byte(`{}`))

	_, n := o.last()
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(6), m.version)
}

// TestNewFrame_Shape tests the wire format
func TestNewFrame_Shape(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := driver.Snapshot{Version: 1, Drivers: []driver.Presence{
		{DriverID: "d1", DisplayName: "alice", X: 1.5, Y: -2, Status: driver.StatusAvailable, UpdatedAt: at},
		{DriverID: "d2", Status: driver.StatusOffline},
	}}

	payload, err := EncodeFrame(snap)
	require.NoError(t, err)

	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &raw))
	require.Len(t, raw, 1)
	assert.Equal(t, 1.5, raw["d1"]["x"])
	assert.Equal(t, -2.0, raw["d1"]["y"])
	assert.Equal(t, "available", raw["d1"]["status"])
	assert.Equal(t, "alice", raw["d1"]["display_name"])
	assert.Equal(t, "2026-03-01T12:00:00Z", raw["d1"]["updated_at"])
}
