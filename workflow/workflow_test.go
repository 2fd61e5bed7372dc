package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/internal/apperr"
	"github.com/semanticallynull/bikerental/lifecycle"
	"github.com/semanticallynull/bikerental/location"
	"github.com/semanticallynull/bikerental/trip"
)

type reserverFunc func(ctx context.Context, bikeID int64) (bike.Bike, error)

func (f reserverFunc) Reserve(ctx context.Context, bikeID int64) (bike.Bike, error) {
	return f(ctx, bikeID)
}

type returnerFunc func(ctx context.Context, bikeID, endLocationID int64) (lifecycle.ReturnResult, error)

func (f returnerFunc) ReturnBike(ctx context.Context, bikeID, endLocationID int64) (lifecycle.ReturnResult, error) {
	return f(ctx, bikeID, endLocationID)
}

var plaza = location.WithBikes{
	Location: location.Location{ID: 1, Name: "Plaza Catalunya"},
	Bikes: []location.BikeSummary{
		{ID: 7, Model: bike.Normal, Status: bike.Reserved},
		{ID: 8, Model: bike.Electric, Status: bike.Available},
		{ID: 9, Model: bike.Normal, Status: bike.Available},
	},
}

func TestReservation(t *testing.T) {
	var r Reservation
	assert.Equal(t, Idle, r.State())

	require.NoError(t, r.Begin(plaza))
	assert.Equal(t, ChoosingModel, r.State())

	err := r.ChooseModel(bike.Tandem)
	assert.ErrorIs(t, err, ErrNoAvailableBike)
	assert.Equal(t, ChoosingModel, r.State())

	require.NoError(t, r.ChooseModel(bike.Normal))
	assert.Equal(t, int64(9), r.BikeID())
	assert.Equal(t, Confirming, r.State())

	require.NoError(t, r.Confirm())
	assert.Equal(t, Submitting, r.State())

	var reserved int64
	b, err := r.Submit(context.Background(), reserverFunc(func(_ context.Context, id int64) (bike.Bike, error) {
		reserved = id
		return bike.Bike{ID: id, Status: bike.Reserved}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(9), reserved)
	assert.Equal(t, bike.Reserved, b.Status)
	assert.Equal(t, Done, r.State())

	r.Reset()
	assert.Equal(t, Idle, r.State())
}

func TestReservation_EmptyStation(t *testing.T) {
	var r Reservation
	empty := location.WithBikes{Location: location.Location{ID: 2, Name: "Sagrada Familia"}}

	assert.ErrorIs(t, r.Begin(empty), ErrNoAvailableBike)
	assert.Equal(t, Idle, r.State())
}

func TestReservation_OutOfOrder(t *testing.T) {
	var r Reservation

	assert.ErrorIs(t, r.ChooseModel(bike.Normal), ErrInvalidTransition)
	assert.ErrorIs(t, r.Confirm(), ErrInvalidTransition)

	_, err := r.Submit(context.Background(), reserverFunc(func(context.Context, int64) (bike.Bike, error) {
		t.Fatal("submitted without confirmation")
		return bike.Bike{}, nil
	}))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	require.NoError(t, r.Begin(plaza))
	assert.ErrorIs(t, r.Begin(plaza), ErrInvalidTransition)
}

func TestReservation_SubmitFails(t *testing.T) {
	var r Reservation
	require.NoError(t, r.Begin(plaza))
	require.NoError(t, r.ChooseModel(bike.Electric))
	require.NoError(t, r.Confirm())

	_, err := r.Submit(context.Background(), reserverFunc(func(context.Context, int64) (bike.Bike, error) {
		return bike.Bike{}, apperr.ErrConflict
	}))
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, Failed, r.State())
	assert.True(t, errors.Is(r.Err(), apperr.ErrConflict))
}

func TestReturn(t *testing.T) {
	stations := []location.Location{{ID: 1, Name: "Plaza Catalunya"}, {ID: 2, Name: "Sagrada Familia"}}
	open := trip.Trip{ID: uuid.New(), BikeID: 7, StartTime: time.Now(), Status: trip.Active}

	var r Return
	require.NoError(t, r.Begin(open))
	assert.Equal(t, ChoosingStation, r.State())

	assert.ErrorIs(t, r.ChooseStation(3, stations), ErrUnknownStation)
	require.NoError(t, r.ChooseStation(2, stations))
	require.NoError(t, r.Confirm())

	res, err := r.Submit(context.Background(), returnerFunc(func(_ context.Context, bikeID, end int64) (lifecycle.ReturnResult, error) {
		assert.Equal(t, int64(7), bikeID)
		assert.Equal(t, int64(2), end)
		return lifecycle.ReturnResult{Bike: bike.Bike{ID: bikeID, Status: bike.Available}}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, bike.Available, res.Bike.Status)
	assert.Equal(t, Done, r.State())
}

func TestReturn_ClosedTrip(t *testing.T) {
	end := time.Now()
	closed := trip.Trip{ID: uuid.New(), BikeID: 7, EndTime: &end, Status: trip.Completed}

	var r Return
	assert.ErrorIs(t, r.Begin(closed), ErrTripNotOpen)
	assert.Equal(t, Idle, r.State())
}
