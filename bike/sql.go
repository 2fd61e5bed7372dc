package bike

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/bikerental/internal/apperr"
)

var (
	ErrNotFound       = fmt.Errorf("bike %w", apperr.ErrNotFound)
	ErrStatusConflict = fmt.Errorf("bike status changed: %w", apperr.ErrConflict)
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// GetBikes lists bikes, optionally only those with the given status.
func (r *Repository) GetBikes(ctx context.Context, status *Status) ([]Bike, error) {
	bikes := []Bike{}
	var err error
	if status != nil {
		err = r.db.SelectContext(ctx, &bikes, getBikesByStatus, *status)
	} else {
		err = r.db.SelectContext(ctx, &bikes, getBikes)
	}
	return bikes, apperr.Classify(err)
}

const getBikes = `SELECT id, model, status, current_location_id FROM bike ORDER BY id`

const getBikesByStatus = `SELECT id, model, status, current_location_id FROM bike WHERE status = $1 ORDER BY id`

func (r *Repository) GetBike(ctx context.Context, id int64) (Bike, error) {
	var b Bike
	err := r.db.GetContext(ctx, &b, getBike, id)
	if errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("%d: %w", id, ErrNotFound)
	}
	return b, apperr.Classify(err)
}

const getBike = `SELECT id, model, status, current_location_id FROM bike WHERE id = $1`

// Transition moves a bike from one status to another only if it is still in
// the expected status. A nil locationID keeps the current station.
// It fails with ErrStatusConflict when the bike moved on in the meantime.
func (r *Repository) Transition(ctx context.Context, id int64, from, to Status, locationID *int64) (Bike, error) {
	var b Bike
	err := r.db.GetContext(ctx, &b, transitionBike, id, from, to, locationID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return b, apperr.Classify(err)
	}

	// Zero rows matched: either the bike is gone or it is not in `from`.
	current, err := r.GetBike(ctx, id)
	if err != nil {
		return b, err
	}
	return current, fmt.Errorf("bike %d is %s, expected %s: %w", id, current.Status, from, ErrStatusConflict)
}

const transitionBike = `
UPDATE bike
SET status = $3, current_location_id = COALESCE($4, current_location_id)
WHERE id = $1 AND status = $2
RETURNING id, model, status, current_location_id
`
