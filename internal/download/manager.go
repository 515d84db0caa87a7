// Package download implements the DownloadManager core from spec §4.6: the
// orchestrator that unifies the tile cache, the network fetcher, the
// decompressor, and the ZIP builder behind a single bounded-concurrency
// scheduler with one authoritative progress stream.
//
// It is grounded on two shapes from the example pack: the teacher's
// cmd/build worker-pool wiring (jobs/results channels feeding a single
// processor), and watercolormap's internal/datasource/fetch_queue.go
// (atomic counters for a live status snapshot, slog-scoped logging per
// worker). quay/claircore's libindex/fetcher.go contributes the
// singleflight de-duplication of in-flight fetches.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/srtm-tiles/srtmpack/internal/errs"
	"github.com/srtm-tiles/srtmpack/internal/manifest"
	"github.com/srtm-tiles/srtmpack/internal/tilecache"
	"github.com/srtm-tiles/srtmpack/internal/tileid"
	"github.com/srtm-tiles/srtmpack/internal/zipbuilder"
)

// tileFetcher and decompressor are narrow views onto *tilefetch.Fetcher and
// *tiledecode.Decompressor. Manager depends on these instead of the
// concrete types so tests can substitute a fake fetch source without
// standing up a real S3 session, the same reasoning tilefetch.Fetcher
// itself applies to its getObjectFunc field.
type tileFetcher interface {
	Fetch(ctx context.Context, id tileid.ID) ([]byte, error)
}

type decompressor interface {
	Decompress(b []byte) ([]byte, error)
	IsCompressed(b []byte) bool
	ValidateSRTMData(b []byte) bool
}

// Progress mirrors spec §3's progress snapshot.
type Progress struct {
	Current          int
	Total            int
	BytesDownloaded  int64
	SpeedBytesPerSec float64
	TileID           string // empty when not tile-specific
}

// Options configures a Manager, spec §4.6.
type Options struct {
	ConcurrentDownloads int
	UseCache            bool
	RetryAttempts       int
	RetryDelay          time.Duration
	Logger              *slog.Logger

	OnProgress     func(Progress)
	OnTileComplete func(id tileid.ID, success bool)
	OnComplete     func(*zipbuilder.Blob)
	OnError        func(error)
}

func (o Options) withDefaults() Options {
	if o.ConcurrentDownloads < 1 {
		o.ConcurrentDownloads = 3
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Manager is the spec §4.6 DownloadManager. It owns the fetcher,
// decompressor, cache handle, and the single active session (spec §9:
// "cycle-free ownership" -- callbacks are inbound only, nothing here holds
// a back-reference into caller state).
type Manager struct {
	opts    Options
	fetcher tileFetcher
	decoder decompressor
	cache   *tilecache.Store
	mstore  *manifest.Store

	sf singleflight.Group

	mu            sync.Mutex
	session       *manifest.Session
	cancelSession context.CancelFunc
	cacheWrites   sync.WaitGroup // outstanding asynchronous cache stores for the active session

	cacheStats CacheStats

	tilesCompleted atomic.Int64
	tilesTotal     atomic.Int64
	bytesTotal     atomic.Int64
	startedAt      time.Time
}

// CacheStats mirrors spec §3's CacheStats: monotonic counters for the
// lifetime of the Manager instance.
type CacheStats struct {
	Hits        atomic.Int64
	Misses      atomic.Int64
	Errors      atomic.Int64
	WriteErrors atomic.Int64
}

// Snapshot copies the current counter values.
func (c *CacheStats) Snapshot() (hits, misses, readErrs, writeErrs int64) {
	return c.Hits.Load(), c.Misses.Load(), c.Errors.Load(), c.WriteErrors.Load()
}

// New builds a Manager from its collaborators, applying the option
// defaults spec §4.6 names (concurrentDownloads default 3 when below 1).
// UseCache is used as given: its zero value, false, disables the cache, so
// callers that want the cache set it to true explicitly.
func New(fetcher tileFetcher, decoder decompressor, cache *tilecache.Store, mstore *manifest.Store, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:    opts,
		fetcher: fetcher,
		decoder: decoder,
		cache:   cache,
		mstore:  mstore,
	}
}

// Statistics is the result of GetStatistics: always at least cache stats,
// even when idle (spec §4.6).
type Statistics struct {
	Session *manifest.Statistics
	Cache   CacheStatsSnapshot
}

// CacheStatsSnapshot is a point-in-time copy of CacheStats.
type CacheStatsSnapshot struct {
	Hits, Misses, Errors, WriteErrors int64
}

// GetStatistics returns cache stats plus the active session's stats, if
// any.
func (m *Manager) GetStatistics() Statistics {
	hits, misses, cerrs, werrs := m.cacheStats.Snapshot()
	stats := Statistics{Cache: CacheStatsSnapshot{Hits: hits, Misses: misses, Errors: cerrs, WriteErrors: werrs}}

	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session != nil {
		s := manifest.GetStatistics(*session)
		stats.Session = &s
	}
	return stats
}

// GetCachedTiles reports which of ids are present in the cache. An
// uninitialized or failing cache store logs at debug level and yields an
// empty set, per spec §4.6.
func (m *Manager) GetCachedTiles(ids []tileid.ID) map[tileid.ID]bool {
	if m.cache == nil || !m.cache.IsInitialized() {
		m.opts.Logger.Debug("cache not initialized, returning empty cached-tile set")
		return map[tileid.ID]bool{}
	}
	present, err := m.cache.Exists(ids)
	if err != nil {
		m.opts.Logger.Debug("cache existence query failed", "error", err)
		return map[tileid.ID]bool{}
	}
	return present
}

// CancelDownload aborts the active session, if any. In-flight fetches
// abort, pending work never starts, StartDownload's caller sees an
// AbortError, and onComplete/onError are suppressed (spec §4.6, §5, §7).
func (m *Manager) CancelDownload() {
	m.mu.Lock()
	cancel := m.cancelSession
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// tileOutcome is the internal result of processing one tile, regardless of
// whether it came from cache, network, or a 404 skip.
type tileOutcome struct {
	id        tileid.ID
	data      []byte // decompressed payload; nil for a skip or a failure
	skipped   bool
	failure   string
	fromCache bool
}

// StartDownload runs the full pipeline for ids and returns the ZIP Blob.
// Spec §4.6.
func (m *Manager) StartDownload(ctx context.Context, ids []tileid.ID) (*zipbuilder.Blob, error) {
	m.mu.Lock()
	if m.session != nil && m.session.Status == manifest.StatusDownloading {
		m.mu.Unlock()
		return nil, errs.Internal("a download is already in progress on this manager")
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	session := manifest.CreateSession(ids)
	session = manifest.UpdateStatus(session, manifest.StatusDownloading)
	m.session = &session
	m.cancelSession = cancel
	m.mu.Unlock()

	m.tilesTotal.Store(int64(len(ids)))
	m.tilesCompleted.Store(0)
	m.bytesTotal.Store(0)
	m.startedAt = time.Now()

	defer cancel()

	results := managePool(sessionCtx, ids, m.opts.ConcurrentDownloads, m.processTile)

	// drainCtx bounds handleOutcome's send into zipItems. zipbuilder.Build
	// stops draining zipItems the moment it returns, including on a
	// non-cancel error (e.g. a failure writing an entry); without a second
	// signal the goroutine below would then block forever trying to send
	// a zip item while sessionCtx is still live. Cancelling drainCtx right
	// after Build returns unblocks that send regardless of why Build
	// stopped.
	drainCtx, stopDrain := context.WithCancel(sessionCtx)
	defer stopDrain()

	zipItems := make(chan zipbuilder.Item)
	go func() {
		defer close(zipItems)
		for r := range results {
			m.handleOutcome(drainCtx, r, zipItems)
		}
	}()

	blob, buildErr := zipbuilder.Build(sessionCtx, zipItems)
	stopDrain()

	// Cache stores are asynchronous relative to a tile's own completion (a
	// slow write must not delay the tile's zip entry or progress tick), but
	// the session is not done until they have all settled: GetCachedTiles
	// and a subsequent StartDownload must see every tile this run wrote.
	m.cacheWrites.Wait()

	cancelled := sessionCtx.Err() != nil
	m.mu.Lock()
	switch {
	case cancelled:
		s := manifest.UpdateStatus(*m.session, manifest.StatusCancelled)
		m.session = &s
	case buildErr != nil:
		s := manifest.UpdateStatus(*m.session, manifest.StatusFailed)
		m.session = &s
	default:
		s := manifest.UpdateStatus(*m.session, manifest.StatusCompleted)
		m.session = &s
	}
	finalSession := *m.session
	m.mu.Unlock()

	if m.mstore != nil {
		if err := m.mstore.Save(finalSession); err != nil {
			m.opts.Logger.Debug("best-effort manifest save failed", "error", err)
		}
	}

	switch {
	case cancelled:
		return nil, errs.Abort("download cancelled", ctx.Err())
	case buildErr != nil:
		if m.opts.OnError != nil {
			m.opts.OnError(buildErr)
		}
		return nil, buildErr
	default:
		if m.opts.OnComplete != nil {
			m.opts.OnComplete(blob)
		}
		return blob, nil
	}
}

// handleOutcome records one settled pool result into the manifest, fires
// onTileComplete, advances progress exactly once, and forwards payload
// bytes into the zip pipeline when the tile produced any.
func (m *Manager) handleOutcome(ctx context.Context, r poolResult[tileOutcome], zipItems chan<- zipbuilder.Item) {
	o := r.out
	success := r.err == nil

	m.mu.Lock()
	switch {
	case r.err != nil:
		reason := r.err.Error()
		s := manifest.MarkTileFailed(*m.session, o.id, reason, 1)
		m.session = &s
	case o.skipped:
		s := manifest.MarkTileSkipped(*m.session, o.id)
		m.session = &s
	default:
		s := manifest.MarkTileCompleted(*m.session, o.id)
		m.session = &s
	}
	withBytes := manifest.UpdateProgress(*m.session, m.bytesTotal.Load())
	m.session = &withBytes
	m.mu.Unlock()

	if m.opts.OnTileComplete != nil {
		m.opts.OnTileComplete(o.id, success)
	}

	completed := m.tilesCompleted.Add(1)
	m.updateProgress(int(completed), o.id)

	if success && !o.skipped && o.data != nil {
		select {
		case zipItems <- zipbuilder.Item{Name: o.id.ArchiveName(), Data: o.data}:
		case <-ctx.Done():
		}
	}
}

// updateProgress is the single source of truth for user-visible progress,
// spec §4.6: tilesTotal is fixed at session start, tilesCompleted advances
// exactly once per tile, and this is the only place onProgress is invoked.
func (m *Manager) updateProgress(completed int, id tileid.ID) {
	if m.opts.OnProgress == nil {
		return
	}
	total := int(m.tilesTotal.Load())
	elapsed := time.Since(m.startedAt).Seconds()
	bytes := m.bytesTotal.Load()
	speed := 0.0
	if elapsed > 0 {
		speed = float64(bytes) / elapsed
	}
	m.opts.OnProgress(Progress{
		Current:          completed,
		Total:            total,
		BytesDownloaded:  bytes,
		SpeedBytesPerSec: speed,
		TileID:           id.String(),
	})
}

// processTile implements the cache-aware pipeline step from spec §4.6: try
// the cache, then the network, decompress, and opportunistically write
// back to cache. A tile that fails (fetch error, abort, decompress error,
// failed sanity check) comes back with a non-nil error, which handleOutcome
// records as a failed tile; the pool itself keeps going. A 404 comes back
// as a skipped outcome with a nil error.
func (m *Manager) processTile(ctx context.Context, id tileid.ID) (tileOutcome, error) {
	if m.opts.UseCache && m.cache != nil && m.cache.IsInitialized() {
		if data, hit, err := m.tryCache(id); err != nil {
			m.cacheStats.Errors.Add(1)
			m.opts.Logger.Debug(fmt.Sprintf("Cache read error for tile %s", id), "error", err)
		} else if hit {
			m.cacheStats.Hits.Add(1)
			m.bytesTotal.Add(int64(len(data)))
			return tileOutcome{id: id, data: data, fromCache: true}, nil
		} else {
			m.cacheStats.Misses.Add(1)
		}
	}

	result, err, _ := m.sf.Do(id.String(), func() (interface{}, error) {
		return m.fetcher.Fetch(ctx, id)
	})
	if err != nil {
		if errs.IsAbort(err) {
			return tileOutcome{id: id}, err
		}
		return tileOutcome{id: id, failure: err.Error()}, err
	}

	raw, _ := result.([]byte)
	if raw == nil {
		// 404: an ocean/void tile. Not an error; still counts toward
		// progress and is recorded as skipped (spec §4.6).
		return tileOutcome{id: id, skipped: true}, nil
	}

	data, err := m.decoder.Decompress(raw)
	if err != nil {
		return tileOutcome{id: id, failure: err.Error()}, err
	}
	if !m.decoder.ValidateSRTMData(data) {
		derr := errs.Decompress(fmt.Sprintf("tile %s failed SRTM sanity check", id), nil)
		return tileOutcome{id: id, failure: derr.Error()}, derr
	}

	m.bytesTotal.Add(int64(len(raw)))
	m.cacheWrites.Add(1)
	go func() {
		defer m.cacheWrites.Done()
		m.storeInCacheAsync(id, raw)
	}()

	return tileOutcome{id: id, data: data}, nil
}

// tryCache performs one cache probe, returning the tile's decompressed
// bytes on a hit.
func (m *Manager) tryCache(id tileid.ID) (data []byte, hit bool, err error) {
	entry, err := m.cache.Get(id)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, nil
	}

	if entry.Compressed || m.decoder.IsCompressed(entry.Data) {
		decoded, derr := m.decoder.Decompress(entry.Data)
		if derr != nil {
			return nil, false, derr
		}
		return decoded, true, nil
	}
	return entry.Data, true, nil
}

// storeInCacheAsync writes a freshly-fetched compressed payload back to
// the cache without blocking the tile's completion (spec §4.6: "a thrown
// store increments cacheStats.writeErrors ... but does not fail the
// tile").
func (m *Manager) storeInCacheAsync(id tileid.ID, compressed []byte) {
	if m.cache == nil || !m.cache.IsInitialized() {
		return
	}
	now := time.Now().UnixMilli()
	err := m.cache.Store(tilecache.Entry{
		ID:           id,
		Data:         compressed,
		Size:         len(compressed),
		Timestamp:    now,
		LastAccessed: now,
		Compressed:   true,
	})
	if err != nil {
		m.cacheStats.WriteErrors.Add(1)
		m.opts.Logger.Debug(fmt.Sprintf("Cache write error for tile %s", id), "error", err)
	}
}
