package trip

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/internal/apperr"
)

// Trip is one rental of a bike, from unlock to return.
type Trip struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	BikeID          int64      `db:"bike_id" json:"bikeId"`
	UserID          uuid.UUID  `db:"user_id" json:"userId"`
	StartLocationID *int64     `db:"start_location_id" json:"startLocationId,omitempty"`
	EndLocationID   *int64     `db:"end_location_id" json:"endLocationId,omitempty"`
	StartTime       time.Time  `db:"start_time" json:"startTime"`
	EndTime         *time.Time `db:"end_time" json:"endTime,omitempty"`
	Status          Status     `db:"status" json:"status"`
}

// Open reports whether the trip is still running.
func (t Trip) Open() bool {
	return t.Status == Active && t.EndTime == nil
}

type Status int

const (
	// Reserved is part of the stored vocabulary but never written here;
	// reservations live on the bike.
	Reserved Status = iota
	Active
	Completed
)

var statusNames = [...]string{"reserved", "active", "completed"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if name == v {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown trip status %q", apperr.ErrInvalidArgument, v)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *Status) Scan(i any) error {
	var v string
	switch src := i.(type) {
	case string:
		v = src
	case []byte:
		v = string(src)
	default:
		return fmt.Errorf("%w: cannot scan %T into trip status", apperr.ErrInvalidArgument, i)
	}
	parsed, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) Value() (driver.Value, error) {
	return s.String(), nil
}

// Summary is a trip joined with the station names shown in the trip list.
type Summary struct {
	Trip
	BikeModel         bike.Model `db:"bike_model" json:"bikeModel"`
	StartLocationName *string    `db:"start_location_name" json:"startLocationName,omitempty"`
	EndLocationName   *string    `db:"end_location_name" json:"endLocationName,omitempty"`
}
