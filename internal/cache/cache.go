// Package cache is the read side of the offline engine: cache-first access
// to server collections with whole-snapshot refresh.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/marcus/posync/internal/models"
)

// Store persists snapshots. *db.DB implements it.
type Store interface {
	ReadCollection(ctx context.Context, key models.CollectionKey) (models.Snapshot, error)
	WriteCollection(ctx context.Context, key models.CollectionKey, records []models.Record, hash uint64) (time.Time, error)
}

// Fetcher downloads a full collection from the backend
type Fetcher interface {
	FetchCollection(ctx context.Context, key models.CollectionKey) ([]models.Record, error)
}

// Reporter receives the outcome of every fetch, typically a connectivity.Monitor
type Reporter interface {
	Report(err error)
}

// Options configures a Cache
type Options struct {
	Reporter Reporter
	Logger   *slog.Logger
}

// Cache serves collections from the store and refreshes them from the backend
type Cache struct {
	store    Store
	fetcher  Fetcher
	reporter Reporter
	log      *slog.Logger
}

// New returns a cache over store that refreshes through fetcher
func New(store Store, fetcher Fetcher, opts Options) *Cache {
	c := &Cache{
		store:    store,
		fetcher:  fetcher,
		reporter: opts.Reporter,
		log:      opts.Logger,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// GetCached returns the stored snapshot without touching the network. A
// collection never fetched comes back empty.
func (c *Cache) GetCached(ctx context.Context, key models.CollectionKey) (models.Snapshot, error) {
	return c.store.ReadCollection(ctx, key)
}

// RefreshResult describes a successful refresh
type RefreshResult struct {
	Snapshot models.Snapshot
	// Changed is false when the server returned exactly what was cached.
	Changed bool
}

// Refresh fetches key once and replaces the stored snapshot. On any failure
// the stored snapshot is left as it was and the classified error returned.
func (c *Cache) Refresh(ctx context.Context, key models.CollectionKey) (RefreshResult, error) {
	records, err := c.fetcher.FetchCollection(ctx, key)
	if c.reporter != nil {
		c.reporter.Report(err)
	}
	if err != nil {
		return RefreshResult{}, fmt.Errorf("refresh %s: %w", key, err)
	}

	hash, err := hashRecords(records)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("refresh %s: %w", key, err)
	}

	prev, err := c.store.ReadCollection(ctx, key)
	if err != nil {
		return RefreshResult{}, err
	}
	changed := prev.Empty() || prev.Hash != hash

	refreshedAt, err := c.store.WriteCollection(ctx, key, records, hash)
	if err != nil {
		return RefreshResult{}, err
	}

	c.log.Debug("collection refreshed", "key", key.String(), "records", len(records), "changed", changed)
	return RefreshResult{
		Snapshot: models.Snapshot{
			Key:         key,
			Records:     records,
			RefreshedAt: refreshedAt,
			Hash:        hash,
		},
		Changed: changed,
	}, nil
}

// Load returns the cached snapshot at once and refreshes in the background.
// onUpdate, when non-nil, is called from the refresh goroutine only if the
// refresh produced different data. The channel yields the refresh error
// (nil on success) and is then closed.
func (c *Cache) Load(ctx context.Context, key models.CollectionKey, onUpdate func(models.Snapshot)) (models.Snapshot, <-chan error, error) {
	cached, err := c.GetCached(ctx, key)
	if err != nil {
		return models.Snapshot{}, nil, err
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		res, err := c.Refresh(ctx, key)
		if err != nil {
			c.log.Info("background refresh failed, serving cache", "key", key.String(), "err", err)
			done <- err
			return
		}
		if res.Changed && onUpdate != nil {
			onUpdate(res.Snapshot)
		}
		done <- nil
	}()
	return cached, done, nil
}

// hashRecords fingerprints a collection in order
func hashRecords(records []models.Record) (uint64, error) {
	type entry struct {
		ID   string
		Data string
	}
	entries := make([]entry, len(records))
	for i, r := range records {
		entries[i] = entry{ID: r.ID, Data: string(r.Data)}
	}
	h, err := hashstructure.Hash(entries, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("hash records: %w", err)
	}
	return h, nil
}

// Decode unmarshals every record of snap into T. The result is never nil.
func Decode[T any](snap models.Snapshot) ([]T, error) {
	out := make([]T, 0, len(snap.Records))
	for _, r := range snap.Records {
		var v T
		if err := json.Unmarshal(r.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s record %s: %w", snap.Key, r.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
