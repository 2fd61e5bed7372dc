package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Channel is the Postgres NOTIFY channel written by the change triggers.
const Channel = "rental_changes"

// Listener holds a dedicated connection on Channel and republishes every
// notification on a Broker, reconnecting with exponential backoff.
type Listener struct {
	connString string
	broker     *Broker
	logger     *slog.Logger
}

func NewListener(connString string, broker *Broker, logger *slog.Logger) *Listener {
	return &Listener{
		connString: connString,
		broker:     broker,
		logger:     logger,
	}
}

// Run listens until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second

	for {
		err := l.listen(ctx, b.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()
		l.logger.Warn("change listener disconnected", "error", err, "retryIn", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) listen(ctx context.Context, connected func()) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	connected()
	l.logger.Info("listening for changes", "channel", Channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(n)
	}
}

func (l *Listener) handle(n *pgconn.Notification) {
	e, err := ParseEvent(n.Payload)
	if err != nil {
		l.logger.Warn("ignoring malformed change notification", "payload", n.Payload, "error", err)
		return
	}
	l.broker.Publish(e)
}

var ErrMalformedEvent = errors.New("malformed change event")

func ParseEvent(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if e.Table == "" {
		return Event{}, fmt.Errorf("%w: missing table", ErrMalformedEvent)
	}
	return e, nil
}
