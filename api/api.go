package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/internal/apperr"
	"github.com/semanticallynull/bikerental/internal/identity"
	"github.com/semanticallynull/bikerental/internal/middleware"
	"github.com/semanticallynull/bikerental/internal/o11y"
	"github.com/semanticallynull/bikerental/lifecycle"
	"github.com/semanticallynull/bikerental/location"
	"github.com/semanticallynull/bikerental/notify"
	"github.com/semanticallynull/bikerental/trip"
	"github.com/semanticallynull/bikerental/user"
)

type BikeStore interface {
	GetBikes(ctx context.Context, status *bike.Status) ([]bike.Bike, error)
	GetBike(ctx context.Context, id int64) (bike.Bike, error)
}

type TripStore interface {
	OpenTrips(ctx context.Context, bikeID int64) ([]trip.Trip, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status *trip.Status) ([]trip.Summary, error)
}

type LocationStore interface {
	GetLocations(ctx context.Context) ([]location.Location, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*user.User, error)
	CreateUser(ctx context.Context, id uuid.UUID, email string) (*user.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, name, dni string) error
	Stats(ctx context.Context, id uuid.UUID) (user.Stats, error)
}

type Snapshots interface {
	Locations(ctx context.Context) ([]location.WithBikes, error)
	Invalidate(ctx context.Context) error
}

// Deps is everything the HTTP layer talks to.
type Deps struct {
	Bikes     BikeStore
	Trips     TripStore
	Locations LocationStore
	Users     UserStore
	Snapshots Snapshots
	Manager   *lifecycle.Manager
	Identity  identity.Client
	Broker    *notify.Broker
	Obs       *o11y.Observability

	MetricsUsername string
	MetricsPassword string
}

type API struct {
	r *gin.Engine
	Deps

	closing   chan struct{}
	closeOnce sync.Once
}

// New builds the router. auth guards every route but /health and /metrics
// and must leave the caller's id under middleware.UserIDKey.
func New(d Deps, auth ...gin.HandlerFunc) *API {
	a := &API{
		r:       gin.New(),
		Deps:    d,
		closing: make(chan struct{}),
	}

	a.r.Use(
		middleware.Tracing(),
		middleware.Logging(d.Obs.Logger),
		middleware.Metrics(d.Obs.Registry),
		gin.Recovery(),
	)

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	metrics := gin.WrapH(promhttp.HandlerFor(d.Obs.Registry, promhttp.HandlerOpts{}))
	if d.MetricsUsername != "" {
		a.r.GET("/metrics", gin.BasicAuth(gin.Accounts{d.MetricsUsername: d.MetricsPassword}), metrics)
	} else {
		a.r.GET("/metrics", metrics)
	}

	authed := a.r.Group("/", auth...)
	{
		authed.GET("/locations", a.locationsHandler)
		authed.GET("/locations/:id", a.locationHandler)
		authed.POST("/locations/:id/reservations", a.reserveAtLocationHandler)

		authed.GET("/bikes", a.bikesHandler)
		authed.GET("/bikes/:id", a.bikeHandler)
		authed.POST("/bikes/:id/reserve", a.reserveHandler)
		authed.POST("/bikes/:id/cancel-reservation", a.cancelReservationHandler)
		authed.POST("/bikes/:id/unlock", a.unlockHandler)
		authed.POST("/bikes/:id/return", a.returnHandler)
		authed.POST("/bikes/:id/reconcile", a.reconcileHandler)

		authed.GET("/trips", a.tripsHandler)
		authed.GET("/trips/active", a.activeTripsHandler)

		authed.GET("/me", a.profileHandler)
		authed.PUT("/me", a.updateProfileHandler)
		authed.GET("/me/stats", a.statsHandler)

		authed.GET("/events", a.eventsHandler)
	}

	return a
}

func (a *API) Router() *gin.Engine {
	return a.r
}

// writeError translates the error taxonomy into a status code and a
// {code, message} body.
func writeError(c *gin.Context, err error) {
	logger := middleware.GetLogger(c)
	_ = c.Error(err)

	status, code, msg := http.StatusInternalServerError, "INTERNAL", "internal error"
	switch {
	case errors.Is(err, apperr.ErrInconsistentState):
		status, code, msg = http.StatusInternalServerError, "INCONSISTENT_STATE", err.Error()
	case errors.Is(err, apperr.ErrNotFound):
		status, code, msg = http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, apperr.ErrConflict):
		status, code, msg = http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, apperr.ErrInvalidArgument):
		status, code, msg = http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()
	case errors.Is(err, apperr.ErrTransient):
		status, code, msg = http.StatusServiceUnavailable, "TRANSIENT", "temporarily unavailable, try again"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Info("request rejected", "code", code, "error", err)
	}
	abort(c, status, code, msg)
}

// abort ends the request with an error body and records the code for the
// logging and metrics middleware.
func abort(c *gin.Context, status int, code, msg string) {
	c.Set(middleware.ErrorCodeKey, code)
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": msg})
}

func badRequest(c *gin.Context, err error) {
	middleware.GetLogger(c).Info("failed to bind request", "error", err)
	abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.GetUserID(c)
	if !ok {
		abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	}
	return id, ok
}

// refreshLocations drops the locations snapshot after a successful write so
// the caller's next read sees it without waiting for the change listener.
func (a *API) refreshLocations(c *gin.Context) {
	if err := a.Snapshots.Invalidate(context.WithoutCancel(c.Request.Context())); err != nil {
		middleware.GetLogger(c).Warn("snapshot invalidation failed", "error", err)
	}
}

// CloseStreams ends every open event stream and any opened afterwards.
// http.Server.Shutdown waits for active requests and a stream never ends on
// its own, so register this with RegisterOnShutdown.
func (a *API) CloseStreams() {
	a.closeOnce.Do(func() { close(a.closing) })
}
