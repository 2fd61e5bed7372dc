// Package apperr holds the error taxonomy shared by the repositories, the
// lifecycle manager and the HTTP layer.
package apperr

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrTransient         = errors.New("transient failure")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInconsistentState = errors.New("inconsistent state")
)

const uniqueViolation = "23505"

// InconsistentStateError reports a multi-step operation that stopped after
// some of its mutations were applied. The bike needs a reconciliation pass.
type InconsistentStateError struct {
	Op     string
	BikeID int64
	TripID uuid.UUID
	Err    error
}

func (e *InconsistentStateError) Error() string {
	msg := fmt.Sprintf("%s left bike %d inconsistent", e.Op, e.BikeID)
	if e.TripID != uuid.Nil {
		msg += " (trip " + e.TripID.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InconsistentStateError) Unwrap() error {
	return e.Err
}

func (e *InconsistentStateError) Is(target error) bool {
	return target == ErrInconsistentState
}

// Inconsistent wraps err into an InconsistentStateError.
func Inconsistent(op string, bikeID int64, tripID uuid.UUID, err error) error {
	return &InconsistentStateError{Op: op, BikeID: bikeID, TripID: tripID, Err: err}
}

// AsInconsistent extracts the InconsistentStateError from err, if any.
func AsInconsistent(err error) (*InconsistentStateError, bool) {
	var ise *InconsistentStateError
	if errors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}

// Classify maps driver and network failures onto the taxonomy. Errors that
// already carry a taxonomy sentinel are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrTransient) || errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInconsistentState) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}

	if IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// IsTransient reports whether retrying the whole operation may succeed.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
