// Package memstore is an in-memory stand-in for the Postgres repositories,
// with the same conditional-update semantics. It backs the unit tests of the
// lifecycle manager and the HTTP handlers.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/location"
	"github.com/semanticallynull/bikerental/trip"
	"github.com/semanticallynull/bikerental/user"
)

type Store struct {
	mu        sync.Mutex
	bikes     map[int64]bike.Bike
	locations map[int64]location.Location
	trips     map[uuid.UUID]trip.Trip
	users     map[uuid.UUID]user.User

	// Fail is consulted before every call with the method name. A non-nil
	// result is returned and the call has no effect.
	Fail func(method string) error
}

func New() *Store {
	return &Store{
		bikes:     map[int64]bike.Bike{},
		locations: map[int64]location.Location{},
		trips:     map[uuid.UUID]trip.Trip{},
		users:     map[uuid.UUID]user.User{},
	}
}

func (s *Store) fail(method string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(method)
}

func (s *Store) PutLocation(l location.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[l.ID] = l
}

func (s *Store) PutBike(b bike.Bike) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bikes[b.ID] = b
}

// PutTrip stores a trip as is, skipping every check.
func (s *Store) PutTrip(t trip.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[t.ID] = t
}

func (s *Store) PutUser(u user.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Trips returns every stored trip of a bike, oldest first.
func (s *Store) Trips(bikeID int64) []trip.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []trip.Trip
	for _, t := range s.trips {
		if t.BikeID == bikeID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b trip.Trip) int { return a.StartTime.Compare(b.StartTime) })
	return out
}

func (s *Store) GetBikes(_ context.Context, status *bike.Status) ([]bike.Bike, error) {
	if err := s.fail("GetBikes"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []bike.Bike{}
	for _, b := range s.bikes {
		if status == nil || b.Status == *status {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b bike.Bike) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetBike(_ context.Context, id int64) (bike.Bike, error) {
	if err := s.fail("GetBike"); err != nil {
		return bike.Bike{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bikes[id]
	if !ok {
		return bike.Bike{}, fmt.Errorf("%d: %w", id, bike.ErrNotFound)
	}
	return b, nil
}

func (s *Store) Transition(_ context.Context, id int64, from, to bike.Status, locationID *int64) (bike.Bike, error) {
	if err := s.fail("Transition"); err != nil {
		return bike.Bike{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bikes[id]
	if !ok {
		return bike.Bike{}, fmt.Errorf("%d: %w", id, bike.ErrNotFound)
	}
	if b.Status != from {
		return b, fmt.Errorf("bike %d is %s, expected %s: %w", id, b.Status, from, bike.ErrStatusConflict)
	}
	b.Status = to
	if locationID != nil {
		loc := *locationID
		b.CurrentLocationID = &loc
	}
	s.bikes[id] = b
	return b, nil
}

func (s *Store) Start(_ context.Context, bikeID int64, userID uuid.UUID, startLocationID *int64, startTime time.Time) (trip.Trip, error) {
	if err := s.fail("Start"); err != nil {
		return trip.Trip{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trips {
		if t.BikeID == bikeID && t.Open() {
			return trip.Trip{}, fmt.Errorf("bike %d: %w", bikeID, trip.ErrOpenTripExists)
		}
	}
	t := trip.Trip{
		ID:              uuid.New(),
		BikeID:          bikeID,
		UserID:          userID,
		StartLocationID: startLocationID,
		StartTime:       startTime,
		Status:          trip.Active,
	}
	s.trips[t.ID] = t
	return t, nil
}

func (s *Store) OpenTrips(_ context.Context, bikeID int64) ([]trip.Trip, error) {
	if err := s.fail("OpenTrips"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []trip.Trip{}
	for _, t := range s.trips {
		if t.BikeID == bikeID && t.Open() {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b trip.Trip) int {
		if c := b.StartTime.Compare(a.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (s *Store) GetTrip(_ context.Context, id uuid.UUID) (trip.Trip, error) {
	if err := s.fail("GetTrip"); err != nil {
		return trip.Trip{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return trip.Trip{}, fmt.Errorf("%s: %w", id, trip.ErrNotFound)
	}
	return t, nil
}

func (s *Store) Complete(_ context.Context, id uuid.UUID, endLocationID int64, endTime time.Time) (trip.Trip, error) {
	if err := s.fail("Complete"); err != nil {
		return trip.Trip{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return trip.Trip{}, fmt.Errorf("%s: %w", id, trip.ErrNotFound)
	}
	if !t.Open() {
		return t, fmt.Errorf("%s is %s: %w", id, t.Status, trip.ErrNotOpen)
	}
	if endTime.Before(t.StartTime) {
		endTime = t.StartTime
	}
	end := endLocationID
	t.EndLocationID = &end
	t.EndTime = &endTime
	t.Status = trip.Completed
	s.trips[id] = t
	return t, nil
}

func (s *Store) LastCompleted(_ context.Context, bikeID int64) (trip.Trip, error) {
	if err := s.fail("LastCompleted"); err != nil {
		return trip.Trip{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *trip.Trip
	for _, t := range s.trips {
		if t.BikeID != bikeID || t.Status != trip.Completed || t.EndTime == nil {
			continue
		}
		if last == nil || t.EndTime.After(*last.EndTime) {
			last = &t
		}
	}
	if last == nil {
		return trip.Trip{}, fmt.Errorf("no completed trip for bike %d: %w", bikeID, trip.ErrNotFound)
	}
	return *last, nil
}

func (s *Store) ListByUser(_ context.Context, userID uuid.UUID, status *trip.Status) ([]trip.Summary, error) {
	if err := s.fail("ListByUser"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []trip.Summary{}
	for _, t := range s.trips {
		if t.UserID != userID || (status != nil && t.Status != *status) {
			continue
		}
		sum := trip.Summary{Trip: t, BikeModel: s.bikes[t.BikeID].Model}
		sum.StartLocationName = s.locationName(t.StartLocationID)
		sum.EndLocationName = s.locationName(t.EndLocationID)
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b trip.Summary) int { return b.StartTime.Compare(a.StartTime) })
	return out, nil
}

func (s *Store) locationName(id *int64) *string {
	if id == nil {
		return nil
	}
	l, ok := s.locations[*id]
	if !ok {
		return nil
	}
	return &l.Name
}

func (s *Store) GetLocations(_ context.Context) ([]location.Location, error) {
	if err := s.fail("GetLocations"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocations(), nil
}

func (s *Store) sortedLocations() []location.Location {
	out := make([]location.Location, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b location.Location) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) GetLocation(_ context.Context, id int64) (location.Location, error) {
	if err := s.fail("GetLocation"); err != nil {
		return location.Location{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locations[id]
	if !ok {
		return location.Location{}, fmt.Errorf("%d: %w", id, location.ErrNotFound)
	}
	return l, nil
}

func (s *Store) GetLocationsWithBikes(_ context.Context) ([]location.WithBikes, error) {
	if err := s.fail("GetLocationsWithBikes"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bikes := make([]bike.Bike, 0, len(s.bikes))
	for _, b := range s.bikes {
		bikes = append(bikes, b)
	}
	slices.SortFunc(bikes, func(a, b bike.Bike) int { return cmp.Compare(a.ID, b.ID) })

	var out []location.WithBikes
	for _, l := range s.sortedLocations() {
		w := location.WithBikes{Location: l, Bikes: []location.BikeSummary{}}
		for _, b := range bikes {
			if b.Status == bike.InUse || b.CurrentLocationID == nil || *b.CurrentLocationID != l.ID {
				continue
			}
			w.Bikes = append(w.Bikes, location.BikeSummary{ID: b.ID, Model: b.Model, Status: b.Status})
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*user.User, error) {
	if err := s.fail("GetUser"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return &u, nil
}

func (s *Store) CreateUser(_ context.Context, id uuid.UUID, email string) (*user.User, error) {
	if err := s.fail("CreateUser"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		u = user.User{ID: id, Role: "user"}
	}
	if !u.Email.Valid && email != "" {
		u.Email.String, u.Email.Valid = email, true
	}
	s.users[id] = u
	return &u, nil
}

func (s *Store) UpdateProfile(_ context.Context, id uuid.UUID, name, dni string) error {
	if err := s.fail("UpdateProfile"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	u.Name.String, u.Name.Valid = name, name != ""
	u.DNI.String, u.DNI.Valid = dni, dni != ""
	s.users[id] = u
	return nil
}

func (s *Store) Stats(_ context.Context, id uuid.UUID) (user.Stats, error) {
	if err := s.fail("Stats"); err != nil {
		return user.Stats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return user.Stats{}, user.ErrNotFound
	}
	st := user.Stats{CO2Saved: u.CO2Saved}
	for _, t := range s.trips {
		if t.UserID == id {
			st.TotalTrips++
		}
	}
	return st, nil
}
