package location

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/internal/apperr"
)

var ErrNotFound = fmt.Errorf("location %w", apperr.ErrNotFound)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetLocations(ctx context.Context) ([]Location, error) {
	locations := []Location{}
	err := r.db.SelectContext(ctx, &locations, getLocations)
	return locations, apperr.Classify(err)
}

const getLocations = `SELECT id, location_name, address, latitude, longitude FROM location ORDER BY id`

func (r *Repository) GetLocation(ctx context.Context, id int64) (Location, error) {
	var l Location
	err := r.db.GetContext(ctx, &l, getLocation, id)
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("%d: %w", id, ErrNotFound)
	}
	return l, apperr.Classify(err)
}

const getLocation = `SELECT id, location_name, address, latitude, longitude FROM location WHERE id = $1`

// GetLocationsWithBikes loads every station with the bikes parked at it.
// Bikes out on a trip are not parked anywhere, even though they remember the
// station they left from.
func (r *Repository) GetLocationsWithBikes(ctx context.Context) ([]WithBikes, error) {
	locations, err := r.GetLocations(ctx)
	if err != nil {
		return nil, err
	}

	var parked []bike.Bike
	if err := r.db.SelectContext(ctx, &parked, getParkedBikes); err != nil {
		return nil, apperr.Classify(err)
	}

	byLocation := make(map[int64][]BikeSummary, len(locations))
	for _, b := range parked {
		if b.CurrentLocationID == nil {
			continue
		}
		byLocation[*b.CurrentLocationID] = append(byLocation[*b.CurrentLocationID], BikeSummary{
			ID:     b.ID,
			Model:  b.Model,
			Status: b.Status,
		})
	}

	out := make([]WithBikes, 0, len(locations))
	for _, l := range locations {
		bikes := byLocation[l.ID]
		if bikes == nil {
			bikes = []BikeSummary{}
		}
		out = append(out, WithBikes{Location: l, Bikes: bikes})
	}
	return out, nil
}

const getParkedBikes = `
SELECT id, model, status, current_location_id FROM bike
WHERE current_location_id IS NOT NULL AND status <> 'in_use'
ORDER BY id
`
