package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gocomet/ride-dispatch/internal/domain/station"
)

// StationRepository implements station.Repository
type StationRepository struct {
	db *sql.DB
}

func NewStationRepository(db *sql.DB) *StationRepository {
	return &StationRepository{db: db}
}

func (r *StationRepository) GetByID(ctx context.Context, id string) (*station.Station, error) {
	var st station.Station
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, x_coordinate, y_coordinate FROM stations WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.X, &st.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, station.ErrStationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get station: %w", err)
	}
	return &st, nil
}

func (r *StationRepository) List(ctx context.Context) ([]*station.Station, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, x_coordinate, y_coordinate FROM stations ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}
	defer rows.Close()

	var stations []*station.Station
	for rows.Next() {
		var st station.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.X, &st.Y); err != nil {
			return nil, fmt.Errorf("failed to scan station: %w", err)
		}
		stations = append(stations, &st)
	}
	return stations, rows.Err()
}
