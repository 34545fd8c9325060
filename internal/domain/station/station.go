package station

import (
	"context"
	"errors"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
)

// Station is read-only reference data; matching only uses its coordinates.
type Station struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	X    float64 `json:"x_coordinate"`
	Y    float64 `json:"y_coordinate"`
}

type Repository interface {
	GetByID(ctx context.Context, id string) (*Station, error)
	List(ctx context.Context) ([]*Station, error)
}

var ErrStationNotFound = errors.New("station not found")

// Location returns the station's coordinates
func (s *Station) Location() driver.Point {
	return driver.Point{X: s.X, Y: s.Y}
}
