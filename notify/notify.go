// Package notify fans out row-change events coming from Postgres to
// in-process subscribers such as the snapshot cache and the SSE stream.
package notify

import (
	"log/slog"
	"slices"
	"sync"
)

type Table string

const (
	TableBike     Table = "bike"
	TableLocation Table = "location"
	TableTrip     Table = "trip"
	TableUser     Table = "user"
)

// Event is one changed row, as sent by the rental_changes trigger.
type Event struct {
	Table Table  `json:"table"`
	Op    string `json:"op"`
	ID    string `json:"id,omitempty"`
}

type subscriber struct {
	tables []Table
	ch     chan Event
}

func (s *subscriber) wants(t Table) bool {
	return len(s.tables) == 0 || slices.Contains(s.tables, t)
}

type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
	logger *slog.Logger
}

func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   map[*subscriber]struct{}{},
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel receiving events for tables, or for every
// table when none is given. The returned func unsubscribes and closes the
// channel.
func (b *Broker) Subscribe(tables ...Table) (<-chan Event, func()) {
	s := &subscriber{tables: tables, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Publish delivers e to every interested subscriber. A subscriber whose
// buffer is full misses the event.
func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if !s.wants(e.Table) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.logger.Warn("dropping change event for slow subscriber", "table", e.Table, "op", e.Op)
		}
	}
}
