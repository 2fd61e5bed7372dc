package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/geo"
	"github.com/semanticallynull/bikerental/internal/apperr"
	"github.com/semanticallynull/bikerental/internal/middleware"
	"github.com/semanticallynull/bikerental/location"
	"github.com/semanticallynull/bikerental/workflow"
)

type locationResponse struct {
	location.WithBikes
	AvailableBikes int      `json:"availableBikes"`
	DistanceKm     *float64 `json:"distanceKm,omitempty"`
}

func toLocationResponse(l location.WithBikes, origin *geo.Coordinate) locationResponse {
	lr := locationResponse{
		WithBikes:      l,
		AvailableBikes: l.AvailableCount(),
	}
	if origin != nil {
		d := geo.HaversineKm(*origin, l.Position())
		lr.DistanceKm = &d
	}
	return lr
}

// parseOrigin reads lat/lng from the query. Both or neither must be set.
func parseOrigin(c *gin.Context) (*geo.Coordinate, error) {
	latStr, lngStr := c.Query("lat"), c.Query("lng")
	if latStr == "" && lngStr == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, fmt.Errorf("lat: %w", apperr.ErrInvalidArgument)
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return nil, fmt.Errorf("lng: %w", apperr.ErrInvalidArgument)
	}
	origin := geo.Coordinate{Lat: lat, Lng: lng}
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	return &origin, nil
}

func (a *API) locationsHandler(c *gin.Context) {
	origin, err := parseOrigin(c)
	if err != nil {
		writeError(c, err)
		return
	}

	locs, err := a.Snapshots.Locations(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("available") == "true" {
		locs = geo.FilterByAvailability(locs)
	}

	if origin != nil {
		if r := c.Query("radiusKm"); r != "" {
			radius, err := strconv.ParseFloat(r, 64)
			if err != nil {
				writeError(c, fmt.Errorf("radiusKm: %w", apperr.ErrInvalidArgument))
				return
			}
			if locs, err = geo.FilterByProximity(locs, *origin, radius); err != nil {
				writeError(c, err)
				return
			}
		}
		if locs, err = geo.SortByProximity(locs, *origin); err != nil {
			writeError(c, err)
			return
		}
	}

	resp := make([]locationResponse, 0, len(locs))
	for _, l := range locs {
		resp = append(resp, toLocationResponse(l, origin))
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) findLocation(c *gin.Context, id int64) (location.WithBikes, error) {
	locs, err := a.Snapshots.Locations(c.Request.Context())
	if err != nil {
		return location.WithBikes{}, err
	}
	for _, l := range locs {
		if l.ID == id {
			return l, nil
		}
	}
	return location.WithBikes{}, fmt.Errorf("%d: %w", id, location.ErrNotFound)
}

func (a *API) locationHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	l, err := a.findLocation(c, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLocationResponse(l, nil))
}

type reserveAtLocationRequest struct {
	Model string `json:"model" binding:"required"`
}

// reserveAtLocationHandler reserves the first available bike of the
// requested model at a station.
func (a *API) reserveAtLocationHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, ok := pathID(c)
	if !ok {
		return
	}

	var req reserveAtLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	model, err := bike.ParseModel(req.Model)
	if err != nil {
		writeError(c, err)
		return
	}

	l, err := a.findLocation(c, id)
	if err != nil {
		writeError(c, err)
		return
	}

	var flow workflow.Reservation
	if err := flow.Begin(l); err != nil {
		writeError(c, err)
		return
	}
	if err := flow.ChooseModel(model); err != nil {
		writeError(c, err)
		return
	}
	if err := flow.Confirm(); err != nil {
		writeError(c, err)
		return
	}
	b, err := flow.Submit(c.Request.Context(), a.Manager)
	if err != nil {
		writeError(c, err)
		return
	}

	a.refreshLocations(c)
	logger.Info("bike reserved", "bikeId", b.ID, "locationId", id, "model", model)
	c.JSON(http.StatusCreated, b)
}
