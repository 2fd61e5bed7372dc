// Package bike
package bike

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/semanticallynull/bikerental/internal/apperr"
)

// Bike represents a rentable bike parked at, or last seen at, a station.
type Bike struct {
	// ID is the fleet number painted on the frame (e.g. "#7").
	ID     int64  `db:"id" json:"id"`
	Model  Model  `db:"model" json:"model"`
	Status Status `db:"status" json:"status"`
	// CurrentLocationID is the station the bike is parked at. While the bike
	// is in use it keeps the last station it left from.
	CurrentLocationID *int64 `db:"current_location_id" json:"currentLocationId,omitempty"`
}

type Status int

const (
	Available Status = iota
	Reserved
	InUse
)

var statusNames = [...]string{"available", "reserved", "in_use"}

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
	return 0, fmt.Errorf("%w: unknown bike status %q", apperr.ErrInvalidArgument, v)
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
	v, err := scanString(i)
	if err != nil {
		return err
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

type Model int

const (
	Normal Model = iota
	Electric
	Tandem
)

var modelNames = [...]string{"normal", "electric", "tandem"}

func (m Model) String() string {
	if m < 0 || int(m) >= len(modelNames) {
		return fmt.Sprintf("Model(%d)", int(m))
	}
	return modelNames[m]
}

func ParseModel(v string) (Model, error) {
	for i, name := range modelNames {
		if name == v {
			return Model(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown bike model %q", apperr.ErrInvalidArgument, v)
}

func (m Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Model) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseModel(v)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m *Model) Scan(i any) error {
	v, err := scanString(i)
	if err != nil {
		return err
	}
	parsed, err := ParseModel(v)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Model) Value() (driver.Value, error) {
	return m.String(), nil
}

func scanString(i any) (string, error) {
	switch v := i.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	return "", fmt.Errorf("%w: cannot scan %T into an enum", apperr.ErrInvalidArgument, i)
}
