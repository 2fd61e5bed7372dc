package notify

import (
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case e, ok := <-ch:
		return e, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}, false
	}
}

func TestBroker_FiltersByTable(t *testing.T) {
	b := NewBroker(4, slog.New(slog.DiscardHandler))

	bikes, unsubBikes := b.Subscribe(TableBike)
	defer unsubBikes()
	all, unsubAll := b.Subscribe()
	defer unsubAll()

	b.Publish(Event{Table: TableTrip, Op: "INSERT"})
	b.Publish(Event{Table: TableBike, Op: "UPDATE", ID: "7"})

	e, _ := receive(t, bikes)
	assert.Equal(t, Event{Table: TableBike, Op: "UPDATE", ID: "7"}, e)

	e, _ = receive(t, all)
	assert.Equal(t, TableTrip, e.Table)
	e, _ = receive(t, all)
	assert.Equal(t, TableBike, e.Table)
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker(1, slog.New(slog.DiscardHandler))
	ch, unsub := b.Subscribe()

	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Table: TableBike})
}

func TestBroker_DropsForSlowSubscriber(t *testing.T) {
	b := NewBroker(1, slog.New(slog.DiscardHandler))
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(Event{Table: TableBike, ID: "1"})
	b.Publish(Event{Table: TableBike, ID: "2"})

	e, _ := receive(t, ch)
	assert.Equal(t, "1", e.ID)
	assert.Empty(t, ch)
}

func TestParseEvent(t *testing.T) {
	e, err := ParseEvent(`{"table":"bike","op":"UPDATE","id":"7"}`)
	require.NoError(t, err)
	assert.Equal(t, Event{Table: TableBike, Op: "UPDATE", ID: "7"}, e)

	_, err = ParseEvent(`{"op":"UPDATE"}`)
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseEvent(`not json`)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestListener_Handle(t *testing.T) {
	b := NewBroker(2, slog.New(slog.DiscardHandler))
	ch, unsub := b.Subscribe(TableLocation)
	defer unsub()

	l := NewListener("", b, slog.New(slog.DiscardHandler))
	l.handle(&pgconn.Notification{Channel: Channel, Payload: "garbage"})
	l.handle(&pgconn.Notification{Channel: Channel, Payload: `{"table":"location","op":"INSERT","id":"3"}`})

	e, _ := receive(t, ch)
	assert.Equal(t, "3", e.ID)
}
