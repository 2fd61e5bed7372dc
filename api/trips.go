package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikerental/trip"
)

// tripsHandler lists the caller's trips, newest first.
func (a *API) tripsHandler(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var status *trip.Status
	if s := c.Query("status"); s != "" {
		parsed, err := trip.ParseStatus(s)
		if err != nil {
			writeError(c, err)
			return
		}
		status = &parsed
	}

	trips, err := a.Trips.ListByUser(c.Request.Context(), userID, status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trips)
}

func (a *API) activeTripsHandler(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	active := trip.Active
	trips, err := a.Trips.ListByUser(c.Request.Context(), userID, &active)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trips)
}
