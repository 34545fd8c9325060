// Package redis mirrors driver presence into Redis hashes so that the last
// known position survives a process restart.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "driver:location:"

// LocationStore implements driver.LocationStore with one hash per driver
type LocationStore struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewLocationStore creates a store. A zero ttl keeps entries forever.
func NewLocationStore(client goredis.UniversalClient, ttl time.Duration) *LocationStore {
	return &LocationStore{client: client, ttl: ttl}
}

func key(driverID string) string {
	return keyPrefix + driverID
}

func (s *LocationStore) Upsert(ctx context.Context, p driver.Presence) error {
	k := key(p.DriverID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k,
		"name", p.DisplayName,
		"x", strconv.FormatFloat(p.X, 'f', -1, 64),
		"y", strconv.FormatFloat(p.Y, 'f', -1, 64),
		"status", string(p.Status),
		"updated_at", p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store driver location: %w", err)
	}
	return nil
}

// SetOffline flips the status of an existing entry; missing entries are ignored.
func (s *LocationStore) SetOffline(ctx context.Context, driverID string) error {
	k := key(driverID)
	exists, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("failed to check driver location: %w", err)
	}
	if exists == 0 {
		return nil
	}
	err = s.client.HSet(ctx, k,
		"status", string(driver.StatusOffline),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to mark driver offline: %w", err)
	}
	return nil
}

func (s *LocationStore) Get(ctx context.Context, driverID string) (*driver.Presence, error) {
	fields, err := s.client.HGetAll(ctx, key(driverID)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("failed to get driver location: %w", err)
	}
	if len(fields) == 0 {
		return nil, driver.ErrDriverNotFound
	}
	return decode(driverID, fields)
}

func decode(driverID string, fields map[string]string) (*driver.Presence, error) {
	x, err := strconv.ParseFloat(fields["x"], 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt x for driver %s: %w", driverID, err)
	}
	y, err := strconv.ParseFloat(fields["y"], 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt y for driver %s: %w", driverID, err)
	}
	status, err := driver.ParseStatus(fields["status"])
	if err != nil {
		return nil, err
	}
	p := &driver.Presence{
		DriverID:    driverID,
		DisplayName: fields["name"],
		X:           x,
		Y:           y,
		Status:      status,
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		p.UpdatedAt = ts
	}
	return p, nil
}
