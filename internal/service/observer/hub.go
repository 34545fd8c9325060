package observer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/observability"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Observer is a connected party receiving presence frames
type Observer interface {
	ID() string
	Deliver(payload []byte) error
}

// SnapshotSource provides the current presence state for newly joined observers
type SnapshotSource interface {
	Snapshot() driver.Snapshot
}

// DriverView is the observer-facing shape of one presence record
type DriverView struct {
	X           float64       `json:"x"`
	Y           float64       `json:"y"`
	Status      driver.Status `json:"status"`
	DisplayName string        `json:"display_name"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Frame is the message sent to observers, keyed by driver ID
type Frame map[string]DriverView

type membership struct {
	delivered bool
	version   uint64
}

// Hub maintains connected observers and fans out presence snapshots.
// The observer set is owned by the Run goroutine; join, leave and broadcast are
// all serialised through it.
type Hub struct {
	source    SnapshotSource
	observers map[Observer]*membership
	join      chan Observer
	leave     chan Observer
	wake      chan struct{}
	done      chan struct{}

	pendingMu sync.Mutex
	pending   *driver.Snapshot

	active atomic.Int64
	logger *logger.Logger
}

// NewHub creates a new observer hub
func NewHub(source SnapshotSource, log *logger.Logger) *Hub {
	return &Hub{
		source:    source,
		observers: make(map[Observer]*membership),
		join:      make(chan Observer),
		leave:     make(chan Observer),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    log,
	}
}

// Run starts the hub's main loop and blocks until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return

		case o := <-h.join:
			m, ok := h.observers[o]
			if !ok {
				m = &membership{}
				h.observers[o] = m
				h.setActive(len(h.observers))
				h.logger.Info("Observer joined", logger.String("observer_id", o.ID()))
			}
			snap := h.source.Snapshot()
			payload, err := EncodeFrame(snap)
			if err != nil {
				h.logger.Error("Failed to encode presence frame", logger.Err(err))
				continue
			}
			h.deliver(o, m, snap.Version, payload)

		case o := <-h.leave:
			if _, ok := h.observers[o]; ok {
				delete(h.observers, o)
				h.setActive(len(h.observers))
				h.logger.Info("Observer left", logger.String("observer_id", o.ID()))
			}

		case <-h.wake:
			snap := h.takePending()
			if snap == nil {
				continue
			}
			h.fanOut(*snap)
		}
	}
}

// Join registers an observer and sends it the current view
func (h *Hub) Join(o Observer) {
	select {
	case h.join <- o:
	case <-h.done:
	}
}

// Leave deregisters an observer. Unknown observers are ignored.
func (h *Hub) Leave(o Observer) {
	select {
	case h.leave <- o:
	case <-h.done:
	}
}

// Broadcast queues a snapshot for delivery to every observer. It never blocks:
// if the run loop is behind, only the newest pending snapshot is kept.
func (h *Hub) Broadcast(snapshot driver.Snapshot) {
	h.pendingMu.Lock()
	if h.pending == nil || snapshot.Version > h.pending.Version {
		h.pending = &snapshot
	}
	h.pendingMu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// ActiveObservers returns the number of registered observers
func (h *Hub) ActiveObservers() int {
	return int(h.active.Load())
}

func (h *Hub) takePending() *driver.Snapshot {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	snap := h.pending
	h.pending = nil
	return snap
}

func (h *Hub) fanOut(snap driver.Snapshot) {
	if len(h.observers) == 0 {
		return
	}
	payload, err := EncodeFrame(snap)
	if err != nil {
		h.logger.Error("Failed to encode presence frame", logger.Err(err))
		return
	}
	for o, m := range h.observers {
		h.deliver(o, m, snap.Version, payload)
	}
}

// deliver sends one frame, skipping versions the observer has already moved past.
// A failed delivery is logged; the observer stays registered until it leaves.
func (h *Hub) deliver(o Observer, m *membership, version uint64, payload []byte) {
	if m.delivered && version <= m.version {
		return
	}
	if err := o.Deliver(payload); err != nil {
		observability.BroadcastFailures.Inc()
		h.logger.Warn("Failed to deliver presence frame",
			logger.String("observer_id", o.ID()),
			logger.Err(err),
		)
		return
	}
	m.delivered = true
	m.version = version
}

func (h *Hub) setActive(n int) {
	h.active.Store(int64(n))
	observability.ObserversConnected.Set(float64(n))
}

// EncodeFrame renders the offline-filtered view of a snapshot
func EncodeFrame(snap driver.Snapshot) ([]byte, error) {
	return json.Marshal(NewFrame(snap))
}

// NewFrame builds the observer view; offline drivers are omitted entirely.
func NewFrame(snap driver.Snapshot) Frame {
	frame := make(Frame, len(snap.Drivers))
	for _, p := range snap.Visible() {
		frame[p.DriverID] = DriverView{
			X:           p.X,
			Y:           p.Y,
			Status:      p.Status,
			DisplayName: p.DisplayName,
			UpdatedAt:   p.UpdatedAt,
		}
	}
	return frame
}
