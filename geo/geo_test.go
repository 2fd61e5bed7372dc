package geo

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticallynull/bikerental/internal/apperr"
)

type station struct {
	name      string
	pos       Coordinate
	available bool
}

func (s station) Position() Coordinate   { return s.pos }
func (s station) HasAvailableBike() bool { return s.available }

var (
	plazaCatalunya  = Coordinate{Lat: 41.3870, Lng: 2.1701}
	sagradaFamilia  = Coordinate{Lat: 41.4036, Lng: 2.1744}
	parkGuell       = Coordinate{Lat: 41.4145, Lng: 2.1527}
	barcelonetaBeac = Coordinate{Lat: 41.3784, Lng: 2.1925}
)

func TestHaversineZero(t *testing.T) {
	for _, c := range []Coordinate{{}, plazaCatalunya, {Lat: -89.9, Lng: 179.9}} {
		if d := HaversineKm(c, c); d != 0 {
			t.Errorf("expected 0 for %v, got %f", c, d)
		}
	}
}

func TestHaversineSymmetric(t *testing.T) {
	pairs := [][2]Coordinate{
		{plazaCatalunya, sagradaFamilia},
		{parkGuell, barcelonetaBeac},
		{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 180}},
	}
	for _, p := range pairs {
		assert.Equal(t, HaversineKm(p[0], p[1]), HaversineKm(p[1], p[0]))
	}
}

func TestHaversineKnownDistances(t *testing.T) {
	assert.InDelta(t, 1.88, HaversineKm(plazaCatalunya, sagradaFamilia), 0.05)
	// Half the equator.
	assert.InDelta(t, math.Pi*earthRadiusKm, HaversineKm(Coordinate{}, Coordinate{Lng: 180}), 1e-6)
}

func TestHaversineAntipodal(t *testing.T) {
	halfCircumference := math.Pi * earthRadiusKm

	d := HaversineKm(
		Coordinate{Lat: 31.557250032153206, Lng: 132.99585545235686},
		Coordinate{Lat: -31.557250032153206, Lng: -47.004144547643136},
	)
	require.False(t, math.IsNaN(d))
	assert.InDelta(t, halfCircumference, d, 1e-6)

	rng := rand.New(rand.NewPCG(1, 2))
	for range 100_000 {
		a := Coordinate{Lat: rng.Float64()*180 - 90, Lng: rng.Float64()*180 - 180}
		b := Coordinate{Lat: -a.Lat, Lng: a.Lng + 180}
		d := HaversineKm(a, b)
		if math.IsNaN(d) || d > halfCircumference+1e-6 {
			t.Fatalf("distance from %v to its antipode is %v", a, d)
		}
	}
}

func TestFilterByProximity_AntipodalOrigin(t *testing.T) {
	origin := Coordinate{Lat: 31.557250032153206, Lng: 132.99585545235686}
	far := station{name: "antipode", pos: Coordinate{Lat: -31.557250032153206, Lng: -47.004144547643136}, available: true}
	near := station{name: "origin", pos: origin, available: true}

	in, err := FilterByProximity([]station{far, near}, origin, 20_100)
	require.NoError(t, err)
	assert.Len(t, in, 2)

	sorted, err := SortByProximity([]station{far, near}, origin)
	require.NoError(t, err)
	assert.Equal(t, []string{"origin", "antipode"}, []string{sorted[0].name, sorted[1].name})
}

func TestFilterByAvailability(t *testing.T) {
	in := []station{
		{name: "a", available: true},
		{name: "b"},
		{name: "c", available: true},
	}

	out := FilterByAvailability(in)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].name)
	assert.Equal(t, "c", out[1].name)
}

func TestFilterByProximity_BoundaryIncluded(t *testing.T) {
	in := []station{
		{name: "plaza", pos: plazaCatalunya},
		{name: "sagrada", pos: sagradaFamilia},
		{name: "guell", pos: parkGuell},
	}
	radius := HaversineKm(plazaCatalunya, sagradaFamilia)

	out, err := FilterByProximity(in, plazaCatalunya, radius)
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, "plaza", out[0].name)
	assert.Equal(t, "sagrada", out[1].name)
}

func TestFilterByProximity_OneKilometre(t *testing.T) {
	in := []station{
		{name: "plaza", pos: plazaCatalunya},
		{name: "sagrada", pos: sagradaFamilia},
		{name: "beach", pos: barcelonetaBeac},
	}

	out, err := FilterByProximity(in, plazaCatalunya, 1.0)
	require.NoError(t, err)

	for _, s := range out {
		assert.LessOrEqual(t, HaversineKm(plazaCatalunya, s.pos), 1.0, s.name)
	}
	require.Len(t, out, 1)
	assert.Equal(t, "plaza", out[0].name)
}

func TestFilterByProximity_InvalidInput(t *testing.T) {
	in := []station{{name: "plaza", pos: plazaCatalunya}}

	_, err := FilterByProximity(in, Coordinate{Lat: math.NaN()}, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = FilterByProximity(in, plazaCatalunya, -1)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	bad := []station{{name: "broken", pos: Coordinate{Lat: math.Inf(1)}}}
	_, err = FilterByProximity(bad, plazaCatalunya, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestSortByProximity(t *testing.T) {
	in := []station{
		{name: "guell", pos: parkGuell},
		{name: "beach", pos: barcelonetaBeac},
		{name: "plaza", pos: plazaCatalunya},
		{name: "sagrada", pos: sagradaFamilia},
	}

	out, err := SortByProximity(in, plazaCatalunya)
	require.NoError(t, err)
	require.Len(t, out, len(in))

	assert.Equal(t, "plaza", out[0].name)
	for i := 1; i < len(out); i++ {
		prev := HaversineKm(plazaCatalunya, out[i-1].pos)
		cur := HaversineKm(plazaCatalunya, out[i].pos)
		if cur < prev {
			t.Errorf("expected non-decreasing distances, %s (%f) came after %s (%f)", out[i].name, cur, out[i-1].name, prev)
		}
	}
	// Input untouched.
	assert.Equal(t, "guell", in[0].name)
}

func TestSortByProximity_Stable(t *testing.T) {
	in := []station{
		{name: "first", pos: sagradaFamilia},
		{name: "second", pos: sagradaFamilia},
		{name: "third", pos: sagradaFamilia},
	}

	out, err := SortByProximity(in, plazaCatalunya)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second", "third"}, []string{out[0].name, out[1].name, out[2].name})
}

func TestSortByProximity_InvalidOrigin(t *testing.T) {
	_, err := SortByProximity([]station{}, Coordinate{Lng: math.Inf(-1)})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
