// Package events publishes dispatch state changes for downstream consumers.
// Publishing is best effort: failures are logged and counted, never returned to
// the dispatch path.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Type names one dispatch event
type Type string

const (
	RideMatched   Type = "ride.matched"
	RideCompleted Type = "ride.completed"
	TripActivated Type = "trip.activated"
	TripCompleted Type = "trip.completed"
	DriverOffline Type = "driver.offline"
)

// Event is the payload written to the bus
type Event struct {
	Type       Type              `json:"type"`
	Key        string            `json:"key"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New builds an event stamped with the current time
func New(t Type, key string, attrs map[string]string) Event {
	return Event{Type: t, Key: key, OccurredAt: time.Now().UTC(), Attributes: attrs}
}

// Encode renders the wire form
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher sends events to a bus
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

func (NopPublisher) Close() error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	ch chan Event
}

// NewRecorder creates a recorder holding up to size events
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	select {
	case r.ch <- e:
	default:
	}
}

func (r *Recorder) Close() error { return nil }

// Events drains what has been recorded so far
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
