package memory

import (
	"context"
	"sync"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
)

// LocationStore implements driver.LocationStore in process
type LocationStore struct {
	mu        sync.RWMutex
	locations map[string]driver.Presence
}

func NewLocationStore() *LocationStore {
	return &LocationStore{locations: make(map[string]driver.Presence)}
}

func (l *LocationStore) Upsert(ctx context.Context, p driver.Presence) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locations[p.DriverID] = p
	return nil
}

func (l *LocationStore) SetOffline(ctx context.Context, driverID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.locations[driverID]; ok {
		p.Status = driver.StatusOffline
		l.locations[driverID] = p
	}
	return nil
}

func (l *LocationStore) Get(ctx context.Context, driverID string) (*driver.Presence, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.locations[driverID]
	if !ok {
		return nil, driver.ErrDriverNotFound
	}
	return &p, nil
}
