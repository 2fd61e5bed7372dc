// Package geo ranks and filters stations by great-circle distance.
package geo

import (
	"fmt"
	"math"
	"slices"

	"github.com/semanticallynull/bikerental/internal/apperr"
)

const earthRadiusKm = 6371.0

// Coordinate is a point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("%w: coordinate (%v, %v) is not finite", apperr.ErrInvalidArgument, c.Lat, c.Lng)
	}
	return nil
}

// Positioned is anything with a fixed coordinate.
type Positioned interface {
	Position() Coordinate
}

// Place is a station snapshot that knows whether a bike can be taken from it.
type Place interface {
	Positioned
	HasAvailableBike() bool
}

// HaversineKm is the great-circle distance between a and b in kilometres.
func HaversineKm(a, b Coordinate) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	// Rounding can push h just outside [0, 1] for antipodal points.
	h = math.Min(1, math.Max(0, h))

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// FilterByAvailability keeps the places with at least one available bike.
func FilterByAvailability[P Place](places []P) []P {
	out := make([]P, 0, len(places))
	for _, p := range places {
		if p.HasAvailableBike() {
			out = append(out, p)
		}
	}
	return out
}

// FilterByProximity keeps the places within radiusKm of origin, boundary included.
func FilterByProximity[P Positioned](places []P, origin Coordinate, radiusKm float64) ([]P, error) {
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(radiusKm) || radiusKm < 0 {
		return nil, fmt.Errorf("%w: radius %v", apperr.ErrInvalidArgument, radiusKm)
	}

	out := make([]P, 0, len(places))
	for _, p := range places {
		pos := p.Position()
		if err := pos.Validate(); err != nil {
			return nil, err
		}
		if HaversineKm(origin, pos) <= radiusKm {
			out = append(out, p)
		}
	}
	return out, nil
}

// SortByProximity returns a copy of places ordered by ascending distance to
// origin. Places at equal distance keep their input order.
func SortByProximity[P Positioned](places []P, origin Coordinate) ([]P, error) {
	if err := origin.Validate(); err != nil {
		return nil, err
	}

	type ranked struct {
		p    P
		dist float64
	}
	rs := make([]ranked, 0, len(places))
	for _, p := range places {
		pos := p.Position()
		if err := pos.Validate(); err != nil {
			return nil, err
		}
		rs = append(rs, ranked{p: p, dist: HaversineKm(origin, pos)})
	}

	slices.SortStableFunc(rs, func(a, b ranked) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return 0
	})

	out := make([]P, len(rs))
	for i, r := range rs {
		out[i] = r.p
	}
	return out, nil
}
