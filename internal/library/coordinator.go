// Package library implements the Library Coordinator: a single dedicated
// worker goroutine that sequences scans across pluggable library sources,
// serializes playlist/queue mutations, and debounces change notifications.
package library

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denpa-radio/station/internal/audio"
	"github.com/denpa-radio/station/internal/playlist"
)

const (
	cmdQueueCapacity = 256
	debounceWindow   = 5 * time.Second
)

type commandResult struct {
	value any
	err   error
}

// CommandFunc is the payload of a queued command: arbitrary library-mutating
// logic that runs on the coordinator's goroutine and returns a single-stage
// terminal disposition.
type CommandFunc func(ctx context.Context) (any, error)

type command struct {
	fn   CommandFunc
	done chan commandResult // nil for async
}

// Coordinator owns the library goroutine, dispatches commands, iterates
// registered sources for scan operations, and runs cruft-purge / post-scan
// hooks.
type Coordinator struct {
	master *playlist.MasterPlaylist
	store  *playlist.Store

	filescanDisable bool
	stopPlayer      func(ctx context.Context) error

	bus *ListenerBus

	srcMu   sync.Mutex
	sources []*sourceEntry

	cmdCh chan command

	scanning           atomic.Bool
	onLibraryGoroutine atomic.Bool

	debMu    sync.Mutex
	debCount int
	debMask  audio.EventMask
	debTimer *time.Timer

	dbMu       sync.Mutex
	dbUpdated  time.Time
	dbModified time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator constructs a Coordinator over the given playlist store.
// stopPlayer is invoked during FullRescan to stop playback before the
// library tables are wiped; it may be nil if there is nothing to stop.
func NewCoordinator(master *playlist.MasterPlaylist, store *playlist.Store, filescanDisable bool, stopPlayer func(ctx context.Context) error) *Coordinator {
	timer := time.NewTimer(debounceWindow)
	if !timer.Stop() {
		<-timer.C
	}
	return &Coordinator{
		master:          master,
		store:           store,
		filescanDisable: filescanDisable,
		stopPlayer:      stopPlayer,
		bus:             NewListenerBus(),
		cmdCh:           make(chan command, cmdQueueCapacity),
		debTimer:        timer,
	}
}

// Bus returns the listener bus so callers can Add/Remove listeners.
func (c *Coordinator) Bus() *ListenerBus { return c.bus }

// RegisterSource validates and registers a library source in registration
// order. Init and RegisterEvents are invoked immediately; failure of either
// disables the source (it stays registered but every scan skips it).
func (c *Coordinator) RegisterSource(ctx context.Context, s Source) error {
	if err := validate(s); err != nil {
		return err
	}
	entry := &sourceEntry{source: s}
	if err := s.Init(ctx); err != nil {
		slog.Error("library source init failed, disabling", "source", s.Name(), "error", err)
		entry.disabled = true
	} else if err := s.RegisterEvents(c.bus); err != nil {
		slog.Error("library source event registration failed, disabling", "source", s.Name(), "error", err)
		entry.disabled = true
	}

	c.srcMu.Lock()
	c.sources = append(c.sources, entry)
	c.srcMu.Unlock()

	slog.Info("library source registered", "source", s.Name(), "disabled", entry.disabled)
	return nil
}

// Start launches the coordinator's event loop goroutine.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run()
}

// Stop cancels the event loop, waits for it to exit, and deinitializes every
// registered source that is not disabled.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.srcMu.Lock()
	defer c.srcMu.Unlock()
	for _, e := range c.sources {
		if e.disabled {
			continue
		}
		if err := e.source.Deinit(context.Background()); err != nil {
			slog.Warn("library source deinit failed", "source", e.source.Name(), "error", err)
		}
	}
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	slog.Info("library coordinator started")
	for {
		select {
		case <-c.ctx.Done():
			slog.Info("library coordinator stopping")
			return
		case cmd := <-c.cmdCh:
			c.dispatch(cmd)
		case <-c.debTimer.C:
			c.flushDebounce()
		}
	}
}

func (c *Coordinator) dispatch(cmd command) {
	c.onLibraryGoroutine.Store(true)
	result, err := cmd.fn(c.ctx)
	c.onLibraryGoroutine.Store(false)

	if cmd.done != nil {
		cmd.done <- commandResult{value: result, err: err}
	}
}

// ExecAsync enqueues fn to run on the library goroutine and returns
// immediately without waiting for completion.
func (c *Coordinator) ExecAsync(fn CommandFunc) {
	select {
	case c.cmdCh <- command{fn: fn}:
	default:
		slog.Warn("library command queue full, dropping async command")
	}
}

// ExecSync enqueues fn and blocks until it completes (or ctx is done).
func (c *Coordinator) ExecSync(ctx context.Context, fn CommandFunc) (any, error) {
	done := make(chan commandResult, 1)
	select {
	case c.cmdCh <- command{fn: fn, done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsScanning reports whether a scan is currently in progress.
func (c *Coordinator) IsScanning() bool { return c.scanning.Load() }

// UpdateTrigger accumulates mask into the deferred-update state. While a
// command is being dispatched (e.g. a post-scan hook calling back in), it is
// applied inline to avoid a self-deadlock on the command queue; otherwise it
// is posted as an async command. The check is a flag that is set for the
// whole of each dispatch, not a goroutine identity test, so a call from any
// other goroutine during that window is also applied inline, on the caller's
// goroutine.
func (c *Coordinator) UpdateTrigger(mask audio.EventMask) {
	if c.onLibraryGoroutine.Load() {
		c.triggerInline(mask)
		return
	}
	c.ExecAsync(func(ctx context.Context) (any, error) {
		c.triggerInline(mask)
		return nil, nil
	})
}

func (c *Coordinator) triggerInline(mask audio.EventMask) {
	c.debMu.Lock()
	c.debMask |= mask
	c.debCount++
	c.debMu.Unlock()

	// During a scan, events accumulate but the timer does not arm — scan
	// completion flushes instead.
	if !c.scanning.Load() {
		c.debTimer.Reset(debounceWindow)
	}
}

func (c *Coordinator) flushDebounce() {
	c.debMu.Lock()
	mask := c.debMask
	c.debMask = 0
	c.debCount = 0
	c.debMu.Unlock()
	if mask != 0 {
		c.bus.Notify(mask)
	}
}

// scanKind distinguishes the four scan flavors sharing the §4.4 skeleton.
type scanKind int

const (
	scanInit scanKind = iota
	scanPartial
	scanMeta
	scanFull
)

func (k scanKind) name() string {
	switch k {
	case scanInit:
		return "initscan"
	case scanMeta:
		return "metarescan"
	case scanFull:
		return "fullrescan"
	default:
		return "rescan"
	}
}

// Rescan runs a partial rescan. Returns ErrScanInProgress if a scan is
// already running.
func (c *Coordinator) Rescan(ctx context.Context) error { return c.runScan(ctx, scanPartial) }

// MetaRescan runs a metadata-only rescan.
func (c *Coordinator) MetaRescan(ctx context.Context) error { return c.runScan(ctx, scanMeta) }

// FullRescan runs a full rescan, wiping and rebuilding the library while
// preserving RSS subscriptions.
func (c *Coordinator) FullRescan(ctx context.Context) error { return c.runScan(ctx, scanFull) }

// InitScan runs the startup scan.
func (c *Coordinator) InitScan(ctx context.Context) error { return c.runScan(ctx, scanInit) }

func (c *Coordinator) runScan(ctx context.Context, kind scanKind) error {
	if c.scanning.Load() {
		return ErrScanInProgress
	}
	_, err := c.ExecSync(ctx, func(ctx context.Context) (any, error) {
		return nil, c.doScan(ctx, kind)
	})
	return err
}

func (c *Coordinator) doScan(ctx context.Context, kind scanKind) error {
	if !c.scanning.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}
	defer c.scanning.Store(false)

	start := time.Now()
	slog.Info("scan starting", "kind", kind.name())
	c.bus.Notify(audio.EventUpdate)

	var rssSnapshot []RSSFeed
	if kind == scanFull {
		if c.stopPlayer != nil {
			if err := c.stopPlayer(ctx); err != nil {
				slog.Warn("stop playback before full rescan failed", "error", err)
			}
		}
		if pl, err := c.master.ActivePlaylist(); err == nil && pl != nil {
			pl.ClearTracks()
		}
		rssSnapshot = c.snapshotRSS(ctx)
		c.purgeAllTables()
		c.restoreRSS(ctx, rssSnapshot)
	}

	c.srcMu.Lock()
	sources := append([]*sourceEntry(nil), c.sources...)
	c.srcMu.Unlock()

	for _, entry := range sources {
		if entry.disabled {
			continue
		}
		if err := c.invokeScan(ctx, entry.source, kind); err != nil {
			slog.Error("source scan failed", "source", entry.source.Name(), "kind", kind.name(), "error", err)
		}
	}

	skipPurge := kind != scanFull && kind != scanInit && c.filescanDisable
	if !skipPurge {
		c.purgeCruft(start)
		c.persist()
	}

	c.markModified()
	c.flushScanCompletion()

	slog.Info("scan complete", "kind", kind.name(), "elapsed", time.Since(start))
	return nil
}

func (c *Coordinator) invokeScan(ctx context.Context, s Source, kind scanKind) error {
	switch kind {
	case scanInit:
		return s.InitScan(ctx)
	case scanMeta:
		return s.MetaRescan(ctx)
	case scanFull:
		return s.FullRescan(ctx)
	default:
		return s.Rescan(ctx)
	}
}

func (c *Coordinator) snapshotRSS(ctx context.Context) []RSSFeed {
	var all []RSSFeed
	c.srcMu.Lock()
	sources := append([]*sourceEntry(nil), c.sources...)
	c.srcMu.Unlock()
	for _, e := range sources {
		if e.disabled {
			continue
		}
		snap, ok := e.source.(RSSSnapshotter)
		if !ok {
			continue
		}
		feeds, err := snap.SnapshotRSS(ctx)
		if err != nil {
			slog.Warn("RSS snapshot failed", "source", e.source.Name(), "error", err)
			continue
		}
		all = append(all, feeds...)
	}
	return all
}

func (c *Coordinator) restoreRSS(ctx context.Context, feeds []RSSFeed) {
	if len(feeds) == 0 {
		return
	}
	c.srcMu.Lock()
	sources := append([]*sourceEntry(nil), c.sources...)
	c.srcMu.Unlock()
	for _, e := range sources {
		if e.disabled {
			continue
		}
		if snap, ok := e.source.(RSSSnapshotter); ok {
			if err := snap.RestoreRSS(ctx, feeds); err != nil {
				slog.Warn("RSS restore failed", "source", e.source.Name(), "error", err)
			}
		}
	}
}

// purgeAllTables wipes the track library and every playlist's tracks. Called
// only by FullRescan, after RSS snapshotting, so that RSS rows survive (RSS
// sources restore themselves from the snapshot, not from the library).
func (c *Coordinator) purgeAllTables() {
	for _, cs := range c.master.Library.Checksums() {
		c.master.Library.Remove(cs)
	}
	for _, pl := range c.master.AllPlaylists() {
		pl.ClearTracks()
	}
}

// purgeCruft removes tracks that no longer exist on disk and reconciles
// their removal across every playlist. The reference design's "removes rows
// older than start" is adapted to this codebase's existing
// file-existence-based staleness check (Track carries no lastSeen
// timestamp) — see DESIGN.md.
func (c *Coordinator) purgeCruft(start time.Time) {
	_ = start
	removed := c.master.Library.RemoveStale()
	for _, t := range removed {
		c.master.RemoveTrackFromAll(t.Checksum)
	}
	if len(removed) > 0 {
		slog.Info("purge cruft removed stale tracks", "count", len(removed))
	}
}

func (c *Coordinator) persist() {
	if c.store == nil {
		return
	}
	if err := c.store.Save(c.master); err != nil {
		slog.Error("failed to persist library after scan", "error", err)
	}
}

func (c *Coordinator) markModified() {
	c.dbMu.Lock()
	c.dbModified = time.Now()
	c.dbMu.Unlock()
}

// DBTimestamps returns the last-updated/last-modified admin key-value
// timestamps. Both are held in memory only and are set at the end of each
// scan.
func (c *Coordinator) DBTimestamps() (updated, modified time.Time) {
	c.dbMu.Lock()
	defer c.dbMu.Unlock()
	return c.dbUpdated, c.dbModified
}

func (c *Coordinator) flushScanCompletion() {
	c.debMu.Lock()
	pending := c.debCount > 0
	c.debMask = 0
	c.debCount = 0
	c.debMu.Unlock()

	c.dbMu.Lock()
	c.dbUpdated = time.Now()
	c.dbMu.Unlock()

	if pending {
		c.bus.Notify(audio.EventUpdate | audio.EventDatabase)
	} else {
		c.bus.Notify(audio.EventUpdate)
	}
}

// PlaylistItemAdd iterates sources in registration order and stops at the
// first source that returns nil (OK). Fails fast with ErrScanInProgress if a
// scan is running.
func (c *Coordinator) PlaylistItemAdd(ctx context.Context, playlistVP, itemVP string) error {
	if c.scanning.Load() {
		return ErrScanInProgress
	}
	_, err := c.ExecSync(ctx, func(ctx context.Context) (any, error) {
		return nil, c.doPlaylistItemAdd(ctx, playlistVP, itemVP)
	})
	return err
}

func (c *Coordinator) doPlaylistItemAdd(ctx context.Context, playlistVP, itemVP string) error {
	c.srcMu.Lock()
	sources := append([]*sourceEntry(nil), c.sources...)
	c.srcMu.Unlock()

	for _, e := range sources {
		if e.disabled {
			continue
		}
		adder, ok := e.source.(PlaylistItemAdder)
		if !ok {
			continue
		}
		if err := adder.PlaylistItemAdd(ctx, playlistVP, itemVP); err == nil {
			c.triggerInline(audio.EventStoredPlaylist)
			return nil
		} else if !errors.Is(err, ErrPathInvalid) {
			return err
		}
	}
	return errors.New("library: no source could add playlist item")
}

// PlaylistRemove mirrors PlaylistItemAdd for removal.
func (c *Coordinator) PlaylistRemove(ctx context.Context, vp string) error {
	if c.scanning.Load() {
		return ErrScanInProgress
	}
	_, err := c.ExecSync(ctx, func(ctx context.Context) (any, error) {
		return nil, c.doPlaylistRemove(ctx, vp)
	})
	return err
}

func (c *Coordinator) doPlaylistRemove(ctx context.Context, vp string) error {
	c.srcMu.Lock()
	sources := append([]*sourceEntry(nil), c.sources...)
	c.srcMu.Unlock()

	for _, e := range sources {
		if e.disabled {
			continue
		}
		remover, ok := e.source.(PlaylistRemover)
		if !ok {
			continue
		}
		if err := remover.PlaylistRemove(ctx, vp); err == nil {
			c.triggerInline(audio.EventStoredPlaylist)
			return nil
		} else if !errors.Is(err, ErrPathInvalid) {
			return err
		}
	}
	return errors.New("library: no source could remove playlist")
}

// QueueItemAdd iterates sources; the loop continues only while the result is
// ErrPathInvalid ("not my path — ask the next source"), any other non-nil
// error is fatal for the command.
func (c *Coordinator) QueueItemAdd(ctx context.Context, req QueueAddRequest) (QueueAddResult, error) {
	if c.scanning.Load() {
		return QueueAddResult{}, ErrScanInProgress
	}
	res, err := c.ExecSync(ctx, func(ctx context.Context) (any, error) {
		return c.doQueueItemAdd(ctx, req)
	})
	if err != nil {
		return QueueAddResult{}, err
	}
	out, _ := res.(QueueAddResult)
	return out, nil
}

func (c *Coordinator) doQueueItemAdd(ctx context.Context, req QueueAddRequest) (QueueAddResult, error) {
	c.srcMu.Lock()
	sources := append([]*sourceEntry(nil), c.sources...)
	c.srcMu.Unlock()

	for _, e := range sources {
		if e.disabled {
			continue
		}
		adder, ok := e.source.(QueueItemAdder)
		if !ok {
			continue
		}
		res, err := adder.QueueItemAdd(ctx, req)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrPathInvalid) {
			return QueueAddResult{}, err
		}
	}
	return QueueAddResult{}, ErrPathInvalid
}

// QueueSave persists the current queue as a stored playlist.
func (c *Coordinator) QueueSave(ctx context.Context, vp string) error {
	if c.scanning.Load() {
		return ErrScanInProgress
	}
	_, err := c.ExecSync(ctx, func(ctx context.Context) (any, error) {
		return nil, c.doQueueSave(ctx, vp)
	})
	return err
}

func (c *Coordinator) doQueueSave(ctx context.Context, vp string) error {
	c.srcMu.Lock()
	sources := append([]*sourceEntry(nil), c.sources...)
	c.srcMu.Unlock()

	for _, e := range sources {
		if e.disabled {
			continue
		}
		saver, ok := e.source.(QueueSaver)
		if !ok {
			continue
		}
		if err := saver.QueueSave(ctx, vp); err == nil {
			c.triggerInline(audio.EventStoredPlaylist)
			return nil
		} else if !errors.Is(err, ErrPathInvalid) {
			return err
		}
	}
	return errors.New("library: no source could save queue")
}

// RSSAdd and RSSRemove delegate to every RSS-capable source.
func (c *Coordinator) RSSAdd(ctx context.Context, name, url string, limit int) error {
	_, err := c.ExecSync(ctx, func(ctx context.Context) (any, error) {
		c.srcMu.Lock()
		sources := append([]*sourceEntry(nil), c.sources...)
		c.srcMu.Unlock()
		var lastErr error
		handled := false
		for _, e := range sources {
			if adder, ok := e.source.(interface {
				RSSAdd(ctx context.Context, name, url string, limit int) error
			}); ok {
				if err := adder.RSSAdd(ctx, name, url, limit); err != nil {
					lastErr = err
					continue
				}
				handled = true
			}
		}
		if !handled {
			return nil, lastErr
		}
		return nil, nil
	})
	return err
}

func (c *Coordinator) RSSRemove(ctx context.Context, url string) error {
	_, err := c.ExecSync(ctx, func(ctx context.Context) (any, error) {
		c.srcMu.Lock()
		sources := append([]*sourceEntry(nil), c.sources...)
		c.srcMu.Unlock()
		for _, e := range sources {
			if remover, ok := e.source.(interface {
				RSSRemove(ctx context.Context, url string) error
			}); ok {
				_ = remover.RSSRemove(ctx, url)
			}
		}
		return nil, nil
	})
	return err
}
