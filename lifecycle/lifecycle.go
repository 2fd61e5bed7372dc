// Package lifecycle owns every legal state transition of a bike and its trip.
//
// A bike cycles available -> reserved -> in_use -> available. Unlocking opens
// a trip, returning closes it. Each transition is issued as conditional
// updates against the store, so two callers racing on the same bike cannot
// both win. Multi-step transitions that stop halfway fail with
// apperr.InconsistentStateError and can be repaired with Reconcile.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/internal/apperr"
	"github.com/semanticallynull/bikerental/location"
	"github.com/semanticallynull/bikerental/trip"
)

type BikeStore interface {
	GetBike(ctx context.Context, id int64) (bike.Bike, error)
	Transition(ctx context.Context, id int64, from, to bike.Status, locationID *int64) (bike.Bike, error)
}

type TripStore interface {
	Start(ctx context.Context, bikeID int64, userID uuid.UUID, startLocationID *int64, startTime time.Time) (trip.Trip, error)
	OpenTrips(ctx context.Context, bikeID int64) ([]trip.Trip, error)
	Complete(ctx context.Context, id uuid.UUID, endLocationID int64, endTime time.Time) (trip.Trip, error)
	LastCompleted(ctx context.Context, bikeID int64) (trip.Trip, error)
}

type LocationStore interface {
	GetLocation(ctx context.Context, id int64) (location.Location, error)
}

const (
	DefaultCallTimeout = 5 * time.Second
	DefaultMaxTries    = 3
)

type Manager struct {
	bikes     BikeStore
	trips     TripStore
	locations LocationStore

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time

	callTimeout   time.Duration
	maxTries      uint
	retryInterval time.Duration
	walkUpUnlock  bool
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCallTimeout bounds every single store call.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Manager) { m.callTimeout = d }
}

// WithRetries sets how many times Unlock and ReturnBike are attempted when
// the store reports a transient failure, and the first backoff interval.
func WithRetries(maxTries uint, interval time.Duration) Option {
	return func(m *Manager) {
		m.maxTries = maxTries
		m.retryInterval = interval
	}
}

// WithWalkUpUnlock lets Unlock take an available bike without a prior
// reservation.
func WithWalkUpUnlock(allow bool) Option {
	return func(m *Manager) { m.walkUpUnlock = allow }
}

func New(bikes BikeStore, trips TripStore, locations LocationStore, opts ...Option) *Manager {
	m := &Manager{
		bikes:         bikes,
		trips:         trips,
		locations:     locations,
		logger:        slog.Default(),
		tracer:        otel.Tracer("lifecycle"),
		now:           time.Now,
		callTimeout:   DefaultCallTimeout,
		maxTries:      DefaultMaxTries,
		retryInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// call runs one store request under the per-call timeout and maps the
// failure onto the error taxonomy.
func call[T any](ctx context.Context, m *Manager, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	v, err := fn(cctx)
	if err != nil {
		return v, apperr.Classify(err)
	}
	return v, nil
}

// retryTransient re-runs an idempotent operation while it fails with
// apperr.ErrTransient.
func retryTransient[T any](ctx context.Context, m *Manager, op string, fn func() (T, error)) (T, error) {
	if m.maxTries <= 1 {
		return fn()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retryInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, apperr.ErrTransient) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.WarnContext(ctx, "retrying after transient failure",
				"op", op, "error", err, "backoff", next)
		}),
	)
}

func (m *Manager) startSpan(ctx context.Context, op string, bikeID int64) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(attribute.Int64("bike.id", bikeID)))
}

// finish records the outcome of an operation on its span, metrics and log.
func (m *Manager) finish(ctx context.Context, span trace.Span, op string, bikeID int64, err error) {
	defer span.End()

	m.metrics.observe(op, err)
	if err == nil {
		m.logger.InfoContext(ctx, "bike transition", "op", op, "bikeId", bikeID)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if ise, ok := apperr.AsInconsistent(err); ok {
		m.metrics.inconsistent(op)
		m.logger.ErrorContext(ctx, "bike left in inconsistent state",
			"op", op, "bikeId", bikeID, "tripId", ise.TripID, "error", err)
		return
	}
	m.logger.InfoContext(ctx, "bike transition rejected", "op", op, "bikeId", bikeID, "error", err)
}
