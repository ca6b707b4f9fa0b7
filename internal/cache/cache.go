// Package cache stores raw engine output keyed by content fingerprint.
//
// Blobs live in a core.ObjectStore and metadata in an Index. The in-memory
// entry table is the source of truth while the process runs; the index is
// loaded at startup and kept in step on every mutation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/book-expert/logger"
	"github.com/book-expert/narrator/internal/core"
)

// ErrCacheIO marks a storage failure. Callers treat it as a miss.
var ErrCacheIO = errors.New("cache i/o failure")

// Options bounds the cache.
type Options struct {
	// Now is the clock; nil means time.Now.
	Now func() time.Time
	// OnEvict is called with the number of entries removed by each eviction pass.
	OnEvict      func(count int)
	MaxSizeBytes int64
	MaxAge       time.Duration
}

// Stats is a snapshot of cache occupancy.
type Stats struct {
	EntryCount     int
	TotalSizeBytes int64
	OldestEntryAge time.Duration
	MaxSizeBytes   int64
	MaxAge         time.Duration
	Hits           uint64
	Misses         uint64
	Evictions      uint64
}

// Cache is safe for concurrent use.
type Cache struct {
	store   core.ObjectStore
	index   Index
	log     *logger.Logger
	entries map[core.Fingerprint]*Entry
	locks   *keyedMutex
	opts    Options
	flight  singleflight.Group
	total   int64
	mu      sync.Mutex

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache and loads existing metadata from index.
func New(ctx context.Context, store core.ObjectStore, index Index, opts Options, log *logger.Logger) (*Cache, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	loaded, err := index.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading index: %w", ErrCacheIO, err)
	}

	c := &Cache{
		store:   store,
		index:   index,
		log:     log,
		opts:    opts,
		entries: make(map[core.Fingerprint]*Entry, len(loaded)),
		locks:   newKeyedMutex(),
	}

	for i := range loaded {
		entry := loaded[i]
		c.entries[entry.Fingerprint] = &entry
		c.total += entry.Size
	}

	log.Info("Cache loaded: %d entries, %d bytes", len(c.entries), c.total)

	return c, nil
}

// Get returns the cached audio for fp. An expired entry is removed and
// reported as a miss; a blob missing from the store likewise.
func (c *Cache) Get(ctx context.Context, fp core.Fingerprint) (Entry, *core.RawAudio, bool, error) {
	now := c.opts.Now()

	c.mu.Lock()

	entry, ok := c.entries[fp]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)

		return Entry{}, nil, false, nil
	}

	if c.expired(entry, now) {
		c.dropLocked(fp)
		c.mu.Unlock()
		c.misses.Add(1)
		c.deleteBacking(ctx, fp)

		return Entry{}, nil, false, nil
	}

	entry.LastAccessedAt = now
	snapshot := *entry
	c.mu.Unlock()

	touchErr := c.index.Touch(ctx, fp, now)
	if touchErr != nil {
		c.log.Warn("Cache index touch failed for %s: %v", fp, touchErr)
	}

	data, err := c.store.Download(ctx, blobKey(fp))
	if err != nil {
		c.misses.Add(1)

		if errors.Is(err, core.ErrObjectNotFound) {
			c.forget(ctx, fp)

			return Entry{}, nil, false, nil
		}

		return Entry{}, nil, false, fmt.Errorf("%w: %w", ErrCacheIO, err)
	}

	raw, err := decodeBlob(data)
	if err != nil {
		c.misses.Add(1)
		c.log.Warn("Dropping corrupt cache blob %s: %v", fp, err)
		c.forget(ctx, fp)
		c.deleteBacking(ctx, fp)

		return Entry{}, nil, false, fmt.Errorf("%w: %w", ErrCacheIO, err)
	}

	c.hits.Add(1)

	return snapshot, &raw, true, nil
}

// Put stores raw under fp. Puts for the same fingerprint are serialized and
// the last writer wins. Eviction runs after every successful put.
func (c *Cache) Put(ctx context.Context, fp core.Fingerprint, raw core.RawAudio, engineID string) error {
	unlock := c.locks.Lock(string(fp))

	blob := encodeBlob(raw)

	err := c.store.Upload(ctx, blobKey(fp), blob)
	if err != nil {
		unlock()

		return fmt.Errorf("%w: %w", ErrCacheIO, err)
	}

	now := c.opts.Now()
	entry := Entry{
		Fingerprint:    fp,
		Engine:         engineID,
		Size:           int64(len(blob)),
		SampleRate:     raw.SampleRate,
		Channels:       raw.Channels,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	err = c.index.Upsert(ctx, entry)
	if err != nil {
		unlock()

		return fmt.Errorf("%w: %w", ErrCacheIO, err)
	}

	c.mu.Lock()
	if previous, ok := c.entries[fp]; ok {
		c.total -= previous.Size
	}

	c.entries[fp] = &entry
	c.total += entry.Size
	c.mu.Unlock()

	unlock()

	_, err = c.EvictIfNeeded(ctx)

	return err
}

// flightResult is what one coalesced call hands to its waiters.
type flightResult struct {
	raw    core.RawAudio
	cached bool
}

// Do runs fn at most once concurrently per fingerprint. Callers arriving while
// a call is in flight wait for and share its result. An entry stored since the
// caller's last lookup is returned without running fn. shared reports whether
// the result came from another caller's invocation or from the cache.
func (c *Cache) Do(ctx context.Context, fp core.Fingerprint, fn func() (core.RawAudio, error)) (core.RawAudio, bool, error) {
	results := c.flight.DoChan(string(fp), func() (any, error) {
		if c.contains(fp) {
			_, raw, ok, err := c.Get(ctx, fp)
			if err == nil && ok {
				return flightResult{raw: *raw, cached: true}, nil
			}
		}

		raw, err := fn()

		return flightResult{raw: raw}, err
	})

	select {
	case <-ctx.Done():
		return core.RawAudio{}, false, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return core.RawAudio{}, res.Shared, res.Err
		}

		result, _ := res.Val.(flightResult)

		return result.raw, res.Shared || result.cached, nil
	}
}

func (c *Cache) contains(fp core.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[fp]

	return ok
}

// RunCleanup calls EvictIfNeeded every interval until ctx is done.
func (c *Cache) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.EvictIfNeeded(ctx)
			if err != nil {
				c.log.Warn("Cache cleanup failed: %v", err)
			}

			if removed > 0 {
				c.log.Info("Cache cleanup removed %d entries", removed)
			}
		}
	}
}

// EvictIfNeeded removes expired entries, then the least recently accessed
// entries until the total size is within the bound. It returns how many
// entries were removed.
func (c *Cache) EvictIfNeeded(ctx context.Context) (int, error) {
	now := c.opts.Now()

	c.mu.Lock()

	var victims []core.Fingerprint

	for fp, entry := range c.entries {
		if c.expired(entry, now) {
			victims = append(victims, fp)
			c.dropLocked(fp)
		}
	}

	if c.opts.MaxSizeBytes > 0 && c.total > c.opts.MaxSizeBytes {
		remaining := make([]*Entry, 0, len(c.entries))
		for _, entry := range c.entries {
			remaining = append(remaining, entry)
		}

		sort.Slice(remaining, func(i, j int) bool {
			if remaining[i].LastAccessedAt.Equal(remaining[j].LastAccessedAt) {
				return remaining[i].Fingerprint < remaining[j].Fingerprint
			}

			return remaining[i].LastAccessedAt.Before(remaining[j].LastAccessedAt)
		})

		for _, entry := range remaining {
			if c.total <= c.opts.MaxSizeBytes {
				break
			}

			victims = append(victims, entry.Fingerprint)
			c.dropLocked(entry.Fingerprint)
		}
	}

	c.mu.Unlock()

	if len(victims) == 0 {
		return 0, nil
	}

	var errs []error

	for _, fp := range victims {
		err := c.removeBacking(ctx, fp)
		if err != nil {
			errs = append(errs, err)
		}
	}

	c.evictions.Add(uint64(len(victims)))

	if c.opts.OnEvict != nil {
		c.opts.OnEvict(len(victims))
	}

	c.log.Info("Cache evicted %d entries", len(victims))

	if len(errs) > 0 {
		return len(victims), fmt.Errorf("%w: %w", ErrCacheIO, errors.Join(errs...))
	}

	return len(victims), nil
}

// Remove deletes one entry.
func (c *Cache) Remove(ctx context.Context, fp core.Fingerprint) error {
	c.mu.Lock()
	c.dropLocked(fp)
	c.mu.Unlock()

	return c.removeBacking(ctx, fp)
}

// Clear deletes every entry and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	c.mu.Lock()

	fingerprints := make([]core.Fingerprint, 0, len(c.entries))
	for fp := range c.entries {
		fingerprints = append(fingerprints, fp)
	}

	clear(c.entries)
	c.total = 0
	c.mu.Unlock()

	var errs []error

	for _, fp := range fingerprints {
		err := c.store.Delete(ctx, blobKey(fp))
		if err != nil {
			errs = append(errs, err)
		}
	}

	err := c.index.Clear(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return len(fingerprints), fmt.Errorf("%w: %w", ErrCacheIO, errors.Join(errs...))
	}

	return len(fingerprints), nil
}

// Stats returns a snapshot of occupancy and counters.
func (c *Cache) Stats() Stats {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		EntryCount:     len(c.entries),
		TotalSizeBytes: c.total,
		MaxSizeBytes:   c.opts.MaxSizeBytes,
		MaxAge:         c.opts.MaxAge,
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Evictions:      c.evictions.Load(),
	}

	for _, entry := range c.entries {
		if age := now.Sub(entry.CreatedAt); age > stats.OldestEntryAge {
			stats.OldestEntryAge = age
		}
	}

	return stats
}

// Close releases the index.
func (c *Cache) Close() error {
	return c.index.Close()
}

func (c *Cache) expired(entry *Entry, now time.Time) bool {
	return c.opts.MaxAge > 0 && now.Sub(entry.CreatedAt) > c.opts.MaxAge
}

// dropLocked removes fp from the table. c.mu must be held.
func (c *Cache) dropLocked(fp core.Fingerprint) {
	if entry, ok := c.entries[fp]; ok {
		c.total -= entry.Size
		delete(c.entries, fp)
	}
}

// forget drops an entry whose blob is gone.
func (c *Cache) forget(ctx context.Context, fp core.Fingerprint) {
	c.mu.Lock()
	c.dropLocked(fp)
	c.mu.Unlock()

	err := c.index.Remove(ctx, fp)
	if err != nil {
		c.log.Warn("Cache index remove failed for %s: %v", fp, err)
	}
}

func (c *Cache) removeBacking(ctx context.Context, fp core.Fingerprint) error {
	storeErr := c.store.Delete(ctx, blobKey(fp))
	indexErr := c.index.Remove(ctx, fp)

	return errors.Join(storeErr, indexErr)
}

func (c *Cache) deleteBacking(ctx context.Context, fp core.Fingerprint) {
	err := c.removeBacking(ctx, fp)
	if err != nil {
		c.log.Warn("Cache cleanup failed for %s: %v", fp, err)
	}
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	locks map[string]*refMutex
	mu    sync.Mutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()

	lock, ok := k.locks[key]
	if !ok {
		lock = &refMutex{}
		k.locks[key] = lock
	}

	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		k.mu.Lock()
		lock.refs--

		if lock.refs == 0 {
			delete(k.locks, key)
		}

		k.mu.Unlock()
	}
}
