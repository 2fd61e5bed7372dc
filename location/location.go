package location

import (
	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/geo"
)

// Location is a fixed station where bikes are picked up and parked.
type Location struct {
	ID        int64   `db:"id" json:"id"`
	Name      string  `db:"location_name" json:"name"`
	Address   string  `db:"address" json:"address"`
	Latitude  float64 `db:"latitude" json:"latitude"`
	Longitude float64 `db:"longitude" json:"longitude"`
}

func (l Location) Position() geo.Coordinate {
	return geo.Coordinate{Lat: l.Latitude, Lng: l.Longitude}
}

// BikeSummary is the slice of a bike needed to render a station.
type BikeSummary struct {
	ID     int64       `json:"id"`
	Model  bike.Model  `json:"model"`
	Status bike.Status `json:"status"`
}

// WithBikes is a location together with the bikes currently parked at it.
type WithBikes struct {
	Location
	Bikes []BikeSummary `json:"bikes"`
}

func (w WithBikes) HasAvailableBike() bool {
	return w.AvailableCount() > 0
}

func (w WithBikes) AvailableCount() int {
	n := 0
	for _, b := range w.Bikes {
		if b.Status == bike.Available {
			n++
		}
	}
	return n
}
