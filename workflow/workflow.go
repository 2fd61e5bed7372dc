// Package workflow holds the step-by-step reservation and return flows as
// plain state objects, independent of any UI toolkit. Each step validates
// its preconditions locally before anything reaches the lifecycle manager.
package workflow

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/internal/apperr"
	"github.com/semanticallynull/bikerental/lifecycle"
	"github.com/semanticallynull/bikerental/location"
	"github.com/semanticallynull/bikerental/trip"
)

type State int

const (
	Idle State = iota
	ChoosingModel
	ChoosingStation
	Confirming
	Submitting
	Done
	Failed
)

var stateNames = [...]string{"idle", "choosingModel", "choosingStation", "confirming", "submitting", "done", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

var (
	ErrInvalidTransition = fmt.Errorf("invalid workflow step: %w", apperr.ErrInvalidArgument)
	ErrNoAvailableBike   = fmt.Errorf("no available bike at this station: %w", apperr.ErrConflict)
	ErrUnknownStation    = fmt.Errorf("unknown station: %w", apperr.ErrInvalidArgument)
	ErrTripNotOpen       = fmt.Errorf("trip is not open: %w", apperr.ErrConflict)
)

type Reserver interface {
	Reserve(ctx context.Context, bikeID int64) (bike.Bike, error)
}

type Returner interface {
	ReturnBike(ctx context.Context, bikeID, endLocationID int64) (lifecycle.ReturnResult, error)
}

type flow struct {
	state State
	err   error
}

func (f *flow) State() State { return f.state }

// Err is the submission failure of a flow in the Failed state.
func (f *flow) Err() error { return f.err }

func (f *flow) expect(want State, step string) error {
	if f.state != want {
		return fmt.Errorf("%s while %s: %w", step, f.state, ErrInvalidTransition)
	}
	return nil
}

func (f *flow) confirm() error {
	if err := f.expect(Confirming, "confirm"); err != nil {
		return err
	}
	f.state = Submitting
	return nil
}

func (f *flow) settle(err error) error {
	if err != nil {
		f.state, f.err = Failed, err
		return err
	}
	f.state = Done
	return nil
}

// Reservation walks a rider from a station to a reserved bike.
type Reservation struct {
	flow
	location location.WithBikes
	bikeID   int64
}

func (r *Reservation) Begin(loc location.WithBikes) error {
	if err := r.expect(Idle, "begin"); err != nil {
		return err
	}
	if !loc.HasAvailableBike() {
		return fmt.Errorf("%s: %w", loc.Name, ErrNoAvailableBike)
	}
	r.location = loc
	r.state = ChoosingModel
	return nil
}

// ChooseModel picks the first available bike of model at the station.
func (r *Reservation) ChooseModel(model bike.Model) error {
	if err := r.expect(ChoosingModel, "choose model"); err != nil {
		return err
	}
	for _, b := range r.location.Bikes {
		if b.Status == bike.Available && b.Model == model {
			r.bikeID = b.ID
			r.state = Confirming
			return nil
		}
	}
	return fmt.Errorf("%s at %s: %w", model, r.location.Name, ErrNoAvailableBike)
}

func (r *Reservation) Confirm() error { return r.confirm() }

func (r *Reservation) Submit(ctx context.Context, rs Reserver) (bike.Bike, error) {
	if err := r.expect(Submitting, "submit"); err != nil {
		return bike.Bike{}, err
	}
	b, err := rs.Reserve(ctx, r.bikeID)
	if err := r.settle(err); err != nil {
		return bike.Bike{}, err
	}
	return b, nil
}

// BikeID is the bike picked by ChooseModel.
func (r *Reservation) BikeID() int64 { return r.bikeID }

func (r *Reservation) Reset() { *r = Reservation{} }

// Return walks a rider from an open trip to a parked bike.
type Return struct {
	flow
	trip      trip.Trip
	stationID int64
}

func (r *Return) Begin(t trip.Trip) error {
	if err := r.expect(Idle, "begin"); err != nil {
		return err
	}
	if !t.Open() {
		return fmt.Errorf("%s: %w", t.ID, ErrTripNotOpen)
	}
	r.trip = t
	r.state = ChoosingStation
	return nil
}

// ChooseStation selects the drop-off station among stations.
func (r *Return) ChooseStation(id int64, stations []location.Location) error {
	if err := r.expect(ChoosingStation, "choose station"); err != nil {
		return err
	}
	for _, s := range stations {
		if s.ID == id {
			r.stationID = id
			r.state = Confirming
			return nil
		}
	}
	return fmt.Errorf("%d: %w", id, ErrUnknownStation)
}

func (r *Return) Confirm() error { return r.confirm() }

func (r *Return) Submit(ctx context.Context, rt Returner) (lifecycle.ReturnResult, error) {
	if err := r.expect(Submitting, "submit"); err != nil {
		return lifecycle.ReturnResult{}, err
	}
	res, err := rt.ReturnBike(ctx, r.trip.BikeID, r.stationID)
	if err := r.settle(err); err != nil {
		return lifecycle.ReturnResult{}, err
	}
	return res, nil
}

func (r *Return) Reset() { *r = Return{} }
