package trip

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/bikerental/internal/apperr"
)

var (
	ErrNotFound       = fmt.Errorf("trip %w", apperr.ErrNotFound)
	ErrNotOpen        = fmt.Errorf("trip already closed: %w", apperr.ErrConflict)
	ErrOpenTripExists = fmt.Errorf("bike already has an open trip: %w", apperr.ErrConflict)
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

const tripColumns = `id, bike_id, user_id, start_location_id, end_location_id, start_time, end_time, status`

// Start inserts a new active trip. At most one active trip per bike is
// enforced by the trip_one_open_per_bike index.
func (r *Repository) Start(ctx context.Context, bikeID int64, userID uuid.UUID, startLocationID *int64, startTime time.Time) (Trip, error) {
	var t Trip
	err := r.db.GetContext(ctx, &t, startTripQuery, uuid.New(), bikeID, userID, startLocationID, startTime, Active)
	if err != nil {
		err = apperr.Classify(err)
		if errors.Is(err, apperr.ErrConflict) {
			return Trip{}, fmt.Errorf("bike %d: %w", bikeID, ErrOpenTripExists)
		}
		return Trip{}, err
	}
	return t, nil
}

const startTripQuery = `
INSERT INTO trip (id, bike_id, user_id, start_location_id, start_time, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + tripColumns

// OpenTrips returns the open trips of a bike, most recently started first.
func (r *Repository) OpenTrips(ctx context.Context, bikeID int64) ([]Trip, error) {
	trips := []Trip{}
	err := r.db.SelectContext(ctx, &trips, openTripsQuery, bikeID)
	return trips, apperr.Classify(err)
}

const openTripsQuery = `SELECT ` + tripColumns + ` FROM trip
WHERE bike_id = $1 AND status = 'active' AND end_time IS NULL
ORDER BY start_time DESC, id`

func (r *Repository) GetTrip(ctx context.Context, id uuid.UUID) (Trip, error) {
	var t Trip
	err := r.db.GetContext(ctx, &t, getTripQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return t, apperr.Classify(err)
}

const getTripQuery = `SELECT ` + tripColumns + ` FROM trip WHERE id = $1`

// Complete closes an open trip at endLocationID. The end time is never
// earlier than the start time.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, endLocationID int64, endTime time.Time) (Trip, error) {
	var t Trip
	err := r.db.GetContext(ctx, &t, completeTripQuery, id, endLocationID, endTime)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Trip{}, apperr.Classify(err)
	}

	current, err := r.GetTrip(ctx, id)
	if err != nil {
		return Trip{}, err
	}
	return current, fmt.Errorf("%s is %s: %w", id, current.Status, ErrNotOpen)
}

const completeTripQuery = `
UPDATE trip
SET status = 'completed', end_location_id = $2, end_time = GREATEST($3, start_time)
WHERE id = $1 AND status = 'active' AND end_time IS NULL
RETURNING ` + tripColumns

// LastCompleted returns the most recently finished trip of a bike.
func (r *Repository) LastCompleted(ctx context.Context, bikeID int64) (Trip, error) {
	var t Trip
	err := r.db.GetContext(ctx, &t, lastCompletedQuery, bikeID)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("no completed trip for bike %d: %w", bikeID, ErrNotFound)
	}
	return t, apperr.Classify(err)
}

const lastCompletedQuery = `SELECT ` + tripColumns + ` FROM trip
WHERE bike_id = $1 AND status = 'completed'
ORDER BY end_time DESC
LIMIT 1`

// ListByUser returns a user's trips, newest first, optionally filtered by status.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, status *Status) ([]Summary, error) {
	trips := []Summary{}
	var err error
	if status != nil {
		err = r.db.SelectContext(ctx, &trips, listByUserAndStatusQuery, userID, *status)
	} else {
		err = r.db.SelectContext(ctx, &trips, listByUserQuery, userID)
	}
	return trips, apperr.Classify(err)
}

const listByUserSelect = `
SELECT t.id, t.bike_id, t.user_id, t.start_location_id, t.end_location_id, t.start_time, t.end_time, t.status,
       b.model AS bike_model,
       sl.location_name AS start_location_name,
       el.location_name AS end_location_name
FROM trip t
JOIN bike b ON b.id = t.bike_id
LEFT JOIN location sl ON sl.id = t.start_location_id
LEFT JOIN location el ON el.id = t.end_location_id
`

const listByUserQuery = listByUserSelect + `WHERE t.user_id = $1 ORDER BY t.start_time DESC`

const listByUserAndStatusQuery = listByUserSelect + `WHERE t.user_id = $1 AND t.status = $2 ORDER BY t.start_time DESC`

func (r *Repository) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, countByUserQuery, userID)
	return n, apperr.Classify(err)
}

const countByUserQuery = `SELECT count(*) FROM trip WHERE user_id = $1`
