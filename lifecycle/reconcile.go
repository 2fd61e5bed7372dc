package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/internal/apperr"
	"github.com/semanticallynull/bikerental/trip"
)

type Report struct {
	BikeID int64       `json:"bikeId"`
	Status bike.Status `json:"status"`
	// Actions describes each repair that was applied, in order.
	Actions []string `json:"actions"`
	// Unresolved is set when the bike is still inconsistent and needs a
	// human to decide where it is.
	Unresolved bool `json:"unresolved"`
}

// Reconcile brings a bike and its trips back in line. Only the newest open
// trip can be live, and only if no later trip has completed since; the
// others are closed where they started. A bike with a live trip is put in
// use and a bike in use without one is parked where its last trip ended.
func (m *Manager) Reconcile(ctx context.Context, bikeID int64) (rep Report, err error) {
	ctx, span := m.startSpan(ctx, "reconcile", bikeID)
	defer func() { m.finish(ctx, span, "reconcile", bikeID, err) }()

	if err := validBikeID(bikeID); err != nil {
		return Report{}, err
	}

	b, err := call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
		return m.bikes.GetBike(ctx, bikeID)
	})
	if err != nil {
		return Report{}, err
	}
	open, err := call(ctx, m, func(ctx context.Context) ([]trip.Trip, error) {
		return m.trips.OpenTrips(ctx, bikeID)
	})
	if err != nil {
		return Report{}, err
	}
	last, err := call(ctx, m, func(ctx context.Context) (trip.Trip, error) {
		return m.trips.LastCompleted(ctx, bikeID)
	})
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return Report{}, err
	}
	hasLast := err == nil

	rep = Report{BikeID: bikeID, Actions: []string{}}

	var live *trip.Trip
	for i, o := range open {
		if i == 0 && !(hasLast && last.StartTime.After(o.StartTime)) {
			live = &open[0]
			continue
		}
		closed, err := m.closeStale(ctx, o, b)
		if err != nil {
			return rep, err
		}
		if !closed {
			rep.Unresolved = true
			rep.Actions = append(rep.Actions, fmt.Sprintf("left stale trip %s open: no station known", o.ID))
			continue
		}
		rep.Actions = append(rep.Actions, fmt.Sprintf("closed stale trip %s", o.ID))
	}

	switch {
	case live != nil && b.Status != bike.InUse:
		b, err = call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
			return m.bikes.Transition(ctx, bikeID, b.Status, bike.InUse, nil)
		})
		if err != nil {
			return rep, err
		}
		rep.Actions = append(rep.Actions, fmt.Sprintf("put bike in use for trip %s", live.ID))

	case live == nil && b.Status == bike.InUse:
		if !hasLast || last.EndLocationID == nil {
			rep.Unresolved = true
			rep.Actions = append(rep.Actions, "left bike in use: no completed trip to park it from")
			break
		}
		b, err = call(ctx, m, func(ctx context.Context) (bike.Bike, error) {
			return m.bikes.Transition(ctx, bikeID, bike.InUse, bike.Available, last.EndLocationID)
		})
		if err != nil {
			return rep, err
		}
		rep.Actions = append(rep.Actions, fmt.Sprintf("parked bike at location %d after trip %s", *last.EndLocationID, last.ID))
	}

	rep.Status = b.Status
	if rep.Unresolved {
		m.logger.WarnContext(ctx, "bike needs manual attention", "bikeId", bikeID, "actions", rep.Actions)
	}
	return rep, nil
}

// closeStale ends a trip that can no longer be live, as a zero-length ride
// at the station it started from.
func (m *Manager) closeStale(ctx context.Context, t trip.Trip, b bike.Bike) (bool, error) {
	end := t.StartLocationID
	if end == nil {
		end = b.CurrentLocationID
	}
	if end == nil {
		return false, nil
	}
	_, err := call(ctx, m, func(ctx context.Context) (trip.Trip, error) {
		return m.trips.Complete(ctx, t.ID, *end, t.StartTime)
	})
	if err != nil && !errors.Is(err, trip.ErrNotOpen) {
		return false, err
	}
	return true, nil
}
