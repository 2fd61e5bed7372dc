// Package snapshot caches the stations-with-bikes view that every map and
// list screen starts from. Entries are dropped whenever a bike or location
// row changes, so readers see a fresh snapshot on their next request.
package snapshot

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/semanticallynull/bikerental/location"
	"github.com/semanticallynull/bikerental/notify"
)

const (
	locationsKey  = "bikerental:locations"
	generationKey = "bikerental:locations:gen"
)

// versionedKey names the snapshot for one generation. Bumping the
// generation orphans every earlier entry, including ones written by
// loads that were already running when the bump happened.
func versionedKey(gen int64) string {
	return locationsKey + ":" + strconv.FormatInt(gen, 10)
}

const DefaultTTL = 30 * time.Second

type Loader interface {
	GetLocationsWithBikes(ctx context.Context) ([]location.WithBikes, error)
}

type Cache struct {
	store  Store
	loader Loader
	ttl    time.Duration
	logger *slog.Logger
}

func New(store Store, loader Loader, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, loader: loader, ttl: ttl, logger: logger}
}

// Locations returns the cached snapshot, loading it on a miss. A failing
// cache never fails the read.
func (c *Cache) Locations(ctx context.Context) ([]location.WithBikes, error) {
	gen, err := c.store.Generation(ctx, generationKey)
	if err != nil {
		c.logger.WarnContext(ctx, "snapshot generation read failed", "error", err)
		return c.loader.GetLocationsWithBikes(ctx)
	}
	key := versionedKey(gen)

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "snapshot cache read failed", "error", err)
	}
	if ok {
		var locs []location.WithBikes
		err := json.Unmarshal(raw, &locs)
		if err == nil {
			return locs, nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable snapshot", "error", err)
	}

	locs, err := c.loader.GetLocationsWithBikes(ctx)
	if err != nil {
		return nil, err
	}

	raw, err = json.Marshal(locs)
	if err != nil {
		return locs, nil
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "snapshot cache write failed", "error", err)
	}
	return locs, nil
}

// Invalidate moves readers to a new generation. Entries of older
// generations are left to expire.
func (c *Cache) Invalidate(ctx context.Context) error {
	_, err := c.store.Bump(ctx, generationKey)
	return err
}

// Run drops the snapshot for every bike or location change received on
// events until the channel closes or ctx is cancelled.
func (c *Cache) Run(ctx context.Context, events <-chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Table != notify.TableBike && e.Table != notify.TableLocation {
				continue
			}
			if err := c.Invalidate(ctx); err != nil {
				c.logger.WarnContext(ctx, "snapshot invalidation failed", "table", e.Table, "error", err)
			}
		}
	}
}
