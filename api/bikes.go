package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/internal/apperr"
	"github.com/semanticallynull/bikerental/internal/middleware"
	"github.com/semanticallynull/bikerental/lifecycle"
	"github.com/semanticallynull/bikerental/trip"
	"github.com/semanticallynull/bikerental/workflow"
)

func (a *API) bikesHandler(c *gin.Context) {
	var status *bike.Status
	if s := c.Query("status"); s != "" {
		parsed, err := bike.ParseStatus(s)
		if err != nil {
			writeError(c, err)
			return
		}
		status = &parsed
	}

	bikes, err := a.Bikes.GetBikes(c.Request.Context(), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bikes)
}

func (a *API) bikeHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	b, err := a.Bikes.GetBike(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (a *API) reserveHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	b, err := a.Manager.Reserve(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	a.refreshLocations(c)
	c.JSON(http.StatusOK, b)
}

type cancelReservationRequest struct {
	LocationID *int64 `json:"locationId"`
}

func (a *API) cancelReservationHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req cancelReservationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	b, err := a.Manager.CancelReservation(c.Request.Context(), id, req.LocationID)
	if err != nil {
		writeError(c, err)
		return
	}
	a.refreshLocations(c)
	c.JSON(http.StatusOK, b)
}

func (a *API) unlockHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	t, err := a.Manager.Unlock(c.Request.Context(), id, userID)
	if err != nil {
		a.repair(c, err)
		writeError(c, err)
		return
	}
	a.refreshLocations(c)
	c.JSON(http.StatusOK, t)
}

type returnRequest struct {
	EndLocationID int64 `json:"endLocationId" binding:"required"`
}

// returnHandler parks the caller's bike. A bike whose trip is already closed
// goes straight to the manager, which answers repeated returns with the
// original result.
func (a *API) returnHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req returnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	open, err := a.Trips.OpenTrips(ctx, id)
	if err != nil {
		writeError(c, apperr.Classify(err))
		return
	}

	var res lifecycle.ReturnResult
	if len(open) == 0 {
		res, err = a.Manager.ReturnBike(ctx, id, req.EndLocationID)
	} else {
		if open[0].UserID != userID {
			writeError(c, fmt.Errorf("bike %d is on another rider's trip: %w", id, apperr.ErrConflict))
			return
		}
		res, err = a.returnFlow(c, open[0], req.EndLocationID)
	}
	if err != nil {
		a.repair(c, err)
		writeError(c, err)
		return
	}

	if len(res.ExtraOpenTrips) > 0 {
		a.reconcile(c, id)
	}
	a.refreshLocations(c)
	c.JSON(http.StatusOK, res)
}

func (a *API) returnFlow(c *gin.Context, open trip.Trip, endLocationID int64) (lifecycle.ReturnResult, error) {
	ctx := c.Request.Context()

	stations, err := a.Locations.GetLocations(ctx)
	if err != nil {
		return lifecycle.ReturnResult{}, apperr.Classify(err)
	}

	var flow workflow.Return
	if err := flow.Begin(open); err != nil {
		return lifecycle.ReturnResult{}, err
	}
	if err := flow.ChooseStation(endLocationID, stations); err != nil {
		return lifecycle.ReturnResult{}, err
	}
	if err := flow.Confirm(); err != nil {
		return lifecycle.ReturnResult{}, err
	}
	return flow.Submit(ctx, a.Manager)
}

func (a *API) reconcileHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	rep, err := a.Manager.Reconcile(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	a.refreshLocations(c)
	c.JSON(http.StatusOK, rep)
}

// repair runs a reconciliation pass for a bike an operation left
// inconsistent. It outlives the request so a client hanging up does not
// stop it halfway.
func (a *API) repair(c *gin.Context, err error) {
	if ise, ok := apperr.AsInconsistent(err); ok {
		a.reconcile(c, ise.BikeID)
	}
}

func (a *API) reconcile(c *gin.Context, bikeID int64) {
	logger := middleware.GetLogger(c)

	ctx := context.WithoutCancel(c.Request.Context())
	rep, err := a.Manager.Reconcile(ctx, bikeID)
	if err != nil {
		logger.Error("reconciliation failed", "bikeId", bikeID, "error", err)
		return
	}
	a.refreshLocations(c)
	logger.Warn("reconciled bike", "bikeId", bikeID, "actions", rep.Actions, "unresolved", rep.Unresolved)
}
