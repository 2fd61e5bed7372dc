package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticallynull/bikerental/bike"
	"github.com/semanticallynull/bikerental/location"
	"github.com/semanticallynull/bikerental/notify"
)

type countingLoader struct {
	calls atomic.Int32
	locs  []location.WithBikes
	err   error
}

func (l *countingLoader) GetLocationsWithBikes(context.Context) ([]location.WithBikes, error) {
	l.calls.Add(1)
	return l.locs, l.err
}

var plaza = location.WithBikes{
	Location: location.Location{ID: 1, Name: "Plaza Catalunya", Latitude: 41.3870, Longitude: 2.1701},
	Bikes:    []location.BikeSummary{{ID: 7, Model: bike.Electric, Status: bike.Available}},
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestCache_Redis(t *testing.T) {
	store, mr := newRedisStore(t)
	loader := &countingLoader{locs: []location.WithBikes{plaza}}
	c := New(store, loader, time.Minute, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	locs, err := c.Locations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []location.WithBikes{plaza}, locs)

	locs, err = c.Locations(ctx)
	require.NoError(t, err)
	assert.Equal(t, bike.Electric, locs[0].Bikes[0].Model)
	assert.Equal(t, int32(1), loader.calls.Load())
	assert.Equal(t, time.Minute, mr.TTL(versionedKey(0)))

	mr.FastForward(2 * time.Minute)
	_, err = c.Locations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCache_RedisDown(t *testing.T) {
	store, mr := newRedisStore(t)
	loader := &countingLoader{locs: []location.WithBikes{plaza}}
	c := New(store, loader, time.Minute, slog.New(slog.DiscardHandler))

	mr.Close()

	locs, err := c.Locations(context.Background())
	require.NoError(t, err)
	assert.Len(t, locs, 1)
}

func TestCache_LoaderError(t *testing.T) {
	boom := errors.New("db down")
	c := New(NewMemoryStore(), &countingLoader{err: boom}, 0, slog.New(slog.DiscardHandler))

	_, err := c.Locations(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCache_RunInvalidates(t *testing.T) {
	store := NewMemoryStore()
	loader := &countingLoader{locs: []location.WithBikes{plaza}}
	c := New(store, loader, time.Minute, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := c.Locations(ctx)
	require.NoError(t, err)

	events := make(chan notify.Event)
	done := make(chan struct{})
	go func() {
		c.Run(ctx, events)
		close(done)
	}()

	events <- notify.Event{Table: notify.TableTrip, Op: "INSERT"}
	events <- notify.Event{Table: notify.TableBike, Op: "UPDATE", ID: "7"}
	close(events)
	<-done

	gen, err := store.Generation(ctx, generationKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	_, err = c.Locations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

// stallingLoader holds its first load until release is closed and serves
// each call from the next entry of results.
type stallingLoader struct {
	calls   atomic.Int32
	results [][]location.WithBikes
	entered chan struct{}
	release chan struct{}
}

func (l *stallingLoader) GetLocationsWithBikes(ctx context.Context) ([]location.WithBikes, error) {
	n := l.calls.Add(1)
	if n == 1 {
		close(l.entered)
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.results[min(int(n), len(l.results))-1], nil
}

func TestCache_InvalidateDuringLoad(t *testing.T) {
	reserved := plaza
	reserved.Bikes = []location.BikeSummary{{ID: 7, Model: bike.Electric, Status: bike.Reserved}}

	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			loader := &stallingLoader{
				results: [][]location.WithBikes{{plaza}, {reserved}},
				entered: make(chan struct{}),
				release: make(chan struct{}),
			}
			c := New(newStore(t), loader, time.Minute, slog.New(slog.DiscardHandler))
			ctx := context.Background()

			stale := make(chan []location.WithBikes, 1)
			go func() {
				locs, err := c.Locations(ctx)
				assert.NoError(t, err)
				stale <- locs
			}()

			<-loader.entered
			require.NoError(t, c.Invalidate(ctx))
			close(loader.release)
			assert.Equal(t, bike.Available, (<-stale)[0].Bikes[0].Status)

			locs, err := c.Locations(ctx)
			require.NoError(t, err)
			assert.Equal(t, bike.Reserved, locs[0].Bikes[0].Status)
			assert.Equal(t, int32(2), loader.calls.Load())

			locs, err = c.Locations(ctx)
			require.NoError(t, err)
			assert.Equal(t, bike.Reserved, locs[0].Bikes[0].Status)
			assert.Equal(t, int32(2), loader.calls.Load())
		})
	}
}

func TestCache_GenerationUnreadable(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set(generationKey, "not-a-number"))
	loader := &countingLoader{locs: []location.WithBikes{plaza}}
	c := New(store, loader, time.Minute, slog.New(slog.DiscardHandler))

	locs, err := c.Locations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []location.WithBikes{plaza}, locs)
	assert.False(t, mr.Exists(versionedKey(0)))
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second))
	v, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}
