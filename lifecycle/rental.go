package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/internal/apperr"
	"github.com/semanticallynull/bikerental/location"
	"github.com/semanticallynull/bikerental/trip"
)

// ReturnResult is the outcome of ReturnBike. ExtraOpenTrips lists open trips
// found for the bike besides the one that was closed; they are left for
// Reconcile.
type ReturnResult struct {
	Trip           trip.Trip   `json:"trip"`
	Bike           bike.Bike   `json:"bike"`
	ExtraOpenTrips []uuid.UUID `json:"extraOpenTrips,omitempty"`
}

func validBikeID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("bike id %d: %w", id, apperr.ErrInvalidArgument)
	}
	return nil
}

// Reserve holds an available bike. It never retries: a lost response would
// leave the caller unsure whether its own attempt won.
func (m *Manager) Reserve(ctx context.Context, bikeID int64) (b bike.Bike, err error) {
	ctx, span := m.startSpan(ctx, "reserve", bikeID)
	defer func() { m.finish(ctx, span, "reserve", bikeID, err) }()

	if err := validBikeID(bikeID); err != nil {
		return bike.Bike{}, err
	}

	return call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
		return m.bikes.Transition(ctx, bikeID, bike.Available, bike.Reserved, nil)
	})
}

// CancelReservation releases a reserved bike. With a non-nil locationID the
// bike is handed back at that station instead of the one it was reserved at.
func (m *Manager) CancelReservation(ctx context.Context, bikeID int64, locationID *int64) (b bike.Bike, err error) {
	ctx, span := m.startSpan(ctx, "cancel_reservation", bikeID)
	defer func() { m.finish(ctx, span, "cancel_reservation", bikeID, err) }()

	if err := validBikeID(bikeID); err != nil {
		return bike.Bike{}, err
	}
	if locationID != nil {
		if _, err := call(ctx, m, func(ctx context.Context) (location.Location, error) {
			return m.locations.GetLocation(ctx, *locationID)
		}); err != nil {
			return bike.Bike{}, err
		}
	}

	return call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
		return m.bikes.Transition(ctx, bikeID, bike.Reserved, bike.Available, locationID)
	})
}

// Unlock opens a trip for userID and puts the bike in use. Calling it again
// after a lost response returns the same trip.
func (m *Manager) Unlock(ctx context.Context, bikeID int64, userID uuid.UUID) (t trip.Trip, err error) {
	ctx, span := m.startSpan(ctx, "unlock", bikeID)
	defer func() { m.finish(ctx, span, "unlock", bikeID, err) }()

	if err := validBikeID(bikeID); err != nil {
		return trip.Trip{}, err
	}
	if userID == uuid.Nil {
		return trip.Trip{}, fmt.Errorf("missing user: %w", apperr.ErrInvalidArgument)
	}

	return retryTransient(ctx, m, "unlock", func() (trip.Trip, error) {
		return m.unlock(ctx, bikeID, userID)
	})
}

func (m *Manager) unlockable(s bike.Status) bool {
	return s == bike.Reserved || (m.walkUpUnlock && s == bike.Available)
}

func (m *Manager) unlock(ctx context.Context, bikeID int64, userID uuid.UUID) (trip.Trip, error) {
	open, err := call(ctx, m, func(ctx context.Context) ([]trip.Trip, error) {
		return m.trips.OpenTrips(ctx, bikeID)
	})
	if err != nil {
		return trip.Trip{}, err
	}

	b, err := call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
		return m.bikes.GetBike(ctx, bikeID)
	})
	if err != nil {
		return trip.Trip{}, err
	}

	if len(open) > 0 {
		t := open[0]
		if t.UserID != userID {
			return trip.Trip{}, fmt.Errorf("bike %d is on another trip: %w", bikeID, apperr.ErrConflict)
		}
		// Same rider asking again: finish whatever the earlier attempt left.
		if b.Status == bike.InUse {
			return t, nil
		}
		if err := m.putInUse(ctx, b); err != nil {
			return trip.Trip{}, apperr.Inconsistent("unlock", bikeID, t.ID, err)
		}
		return t, nil
	}

	if b.Status == bike.InUse {
		return trip.Trip{}, apperr.Inconsistent("unlock", bikeID, uuid.Nil,
			errors.New("bike is in use without an open trip"))
	}
	if !m.unlockable(b.Status) {
		return trip.Trip{}, fmt.Errorf("bike %d is %s: %w", bikeID, b.Status, apperr.ErrConflict)
	}

	t, err := call(ctx, m, func(ctx context.Context) (trip.Trip, error) {
		return m.trips.Start(ctx, bikeID, userID, b.CurrentLocationID, m.now().UTC())
	})
	if err != nil {
		return trip.Trip{}, err
	}

	if err := m.putInUse(ctx, b); err != nil {
		return trip.Trip{}, apperr.Inconsistent("unlock", bikeID, t.ID, err)
	}
	return t, nil
}

func (m *Manager) putInUse(ctx context.Context, b bike.Bike) error {
	if !m.unlockable(b.Status) {
		return fmt.Errorf("bike %d is %s: %w", b.ID, b.Status, apperr.ErrConflict)
	}
	_, err := call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
		return m.bikes.Transition(ctx, b.ID, b.Status, bike.InUse, nil)
	})
	return err
}

// ReturnBike closes the bike's open trip at endLocationID and parks the bike
// there. Returning a bike that was already returned to the same station
// yields the same result again.
func (m *Manager) ReturnBike(ctx context.Context, bikeID, endLocationID int64) (r ReturnResult, err error) {
	ctx, span := m.startSpan(ctx, "return", bikeID)
	defer func() { m.finish(ctx, span, "return", bikeID, err) }()

	if err := validBikeID(bikeID); err != nil {
		return ReturnResult{}, err
	}

	return retryTransient(ctx, m, "return", func() (ReturnResult, error) {
		return m.returnBike(ctx, bikeID, endLocationID)
	})
}

func (m *Manager) returnBike(ctx context.Context, bikeID, endLocationID int64) (ReturnResult, error) {
	if _, err := call(ctx, m, func(ctx context.Context) (location.Location, error) {
		return m.locations.GetLocation(ctx, endLocationID)
	}); err != nil {
		return ReturnResult{}, err
	}

	open, err := call(ctx, m, func(ctx context.Context) ([]trip.Trip, error) {
		return m.trips.OpenTrips(ctx, bikeID)
	})
	if err != nil {
		return ReturnResult{}, err
	}
	if len(open) == 0 {
		return m.returnWithoutOpenTrip(ctx, bikeID, endLocationID)
	}

	t := open[0]
	var extra []uuid.UUID
	for _, o := range open[1:] {
		extra = append(extra, o.ID)
	}
	if len(extra) > 0 {
		m.metrics.openTripAnomaly()
		m.logger.WarnContext(ctx, "bike has more than one open trip",
			"bikeId", bikeID, "closing", t.ID, "extra", extra)
	}

	current, err := call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
		return m.bikes.GetBike(ctx, bikeID)
	})
	if err != nil {
		return ReturnResult{}, err
	}
	if current.Status != bike.InUse {
		// An earlier unlock opened the trip but never took the bike.
		m.logger.WarnContext(ctx, "returning bike that was never put in use",
			"bikeId", bikeID, "status", current.Status, "tripId", t.ID)
	}

	done, err := call(ctx, m, func(ctx context.Context) (trip.Trip, error) {
		return m.trips.Complete(ctx, t.ID, endLocationID, m.endTime(t.StartTime))
	})
	if err != nil {
		return ReturnResult{}, err
	}

	b, err := call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
		return m.bikes.Transition(ctx, bikeID, current.Status, bike.Available, &endLocationID)
	})
	if err != nil {
		return ReturnResult{}, apperr.Inconsistent("return", bikeID, t.ID, err)
	}

	return ReturnResult{Trip: done, Bike: b, ExtraOpenTrips: extra}, nil
}

// returnWithoutOpenTrip handles a return for a bike whose trip is already
// closed: a repeated request, or a previous attempt that closed the trip but
// never parked the bike.
func (m *Manager) returnWithoutOpenTrip(ctx context.Context, bikeID, endLocationID int64) (ReturnResult, error) {
	b, err := call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
		return m.bikes.GetBike(ctx, bikeID)
	})
	if err != nil {
		return ReturnResult{}, err
	}

	last, err := call(ctx, m, func(ctx context.Context) (trip.Trip, error) {
		return m.trips.LastCompleted(ctx, bikeID)
	})
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return ReturnResult{}, err
	}
	endedHere := err == nil && last.EndLocationID != nil && *last.EndLocationID == endLocationID

	switch {
	case b.Status == bike.Available && endedHere && b.CurrentLocationID != nil && *b.CurrentLocationID == endLocationID:
		return ReturnResult{Trip: last, Bike: b}, nil
	case b.Status == bike.InUse && endedHere:
		parked, err := call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
			return m.bikes.Transition(ctx, bikeID, bike.InUse, bike.Available, &endLocationID)
		})
		if err != nil {
			return ReturnResult{}, apperr.Inconsistent("return", bikeID, last.ID, err)
		}
		return ReturnResult{Trip: last, Bike: parked}, nil
	case b.Status == bike.InUse:
		return ReturnResult{}, apperr.Inconsistent("return", bikeID, uuid.Nil,
			errors.New("bike is in use without an open trip"))
	default:
		return ReturnResult{}, fmt.Errorf("bike %d has no open trip: %w", bikeID, apperr.ErrConflict)
	}
}

func (m *Manager) endTime(start time.Time) time.Time {
	now := m.now().UTC()
	if now.Before(start) {
		return start
	}
	return now
}
