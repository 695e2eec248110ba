// Package fssource implements a library.Source backed by a local music
// directory, reusing the teacher's filesystem scanner and reconciliation
// logic, with an optional fsnotify watch for event-driven rescans.
package fssource

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/denpa-radio/station/internal/audio"
	"github.com/denpa-radio/station/internal/library"
	"github.com/denpa-radio/station/internal/playlist"
)

// watchDebounce collapses a burst of fsnotify events (e.g. a multi-file
// copy into the music directory) into a single rescan.
const watchDebounce = 2 * time.Second

// RescanTrigger is the narrow coordinator capability the filesystem watch
// needs: a debounced change notification plus an actual rescan, so a file
// dropped into the watched directory is picked up without waiting for the
// next scheduled/manual scan.
type RescanTrigger interface {
	UpdateTrigger(mask audio.EventMask)
	Rescan(ctx context.Context) error
}

// Source scans a single music directory. It owns no goroutines of its own
// beyond the optional fsnotify watcher; all scan work runs synchronously on
// the coordinator's goroutine, called from Source's *Scan methods.
type Source struct {
	musicDir     string
	master       *playlist.MasterPlaylist
	watchDisable bool

	watcher *fsnotify.Watcher
	bus     *library.ListenerBus
	trigger RescanTrigger

	mu      sync.Mutex
	watchWg sync.WaitGroup
	stopCh  chan struct{}

	rescanMu    sync.Mutex
	rescanTimer *time.Timer
}

// New builds a filesystem Source rooted at musicDir, mutating tracks into
// master's library. watchDisable skips the fsnotify watch entirely (the
// coordinator still calls Rescan/MetaRescan/FullRescan whenever it is asked
// to scan).
func New(musicDir string, master *playlist.MasterPlaylist, watchDisable bool) *Source {
	return &Source{musicDir: musicDir, master: master, watchDisable: watchDisable}
}

func (s *Source) Name() string { return "filesystem:" + s.musicDir }

// SetRescanTrigger binds the coordinator capability watchLoop uses to turn
// filesystem events into an actual rescan. Mirrors stream.Engine.SetPlayer's
// "wire it after construction" shape: the coordinator must already exist to
// register this source, so the trigger can't be supplied to New.
func (s *Source) SetRescanTrigger(t RescanTrigger) { s.trigger = t }

func (s *Source) Init(ctx context.Context) error {
	if s.watchDisable {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := s.addRecursive(w, s.musicDir); err != nil {
		_ = w.Close()
		return err
	}
	s.watcher = w
	return nil
}

func (s *Source) addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if werr := w.Add(path); werr != nil {
				slog.Warn("fssource: failed to watch directory", "path", path, "error", werr)
			}
		}
		return nil
	})
}

func (s *Source) Deinit(ctx context.Context) error {
	if s.watcher == nil {
		return nil
	}
	s.mu.Lock()
	stop := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		s.watchWg.Wait()
	}
	return s.watcher.Close()
}

// RegisterEvents starts the fsnotify watch loop. Events are debounced
// through scheduleRescan, which both notifies bus and, once a burst of
// events settles, asks the trigger (see SetRescanTrigger) to run an actual
// rescan.
func (s *Source) RegisterEvents(bus *library.ListenerBus) error {
	s.bus = bus
	if s.watcher == nil {
		return nil
	}
	stop := make(chan struct{})
	s.mu.Lock()
	s.stopCh = stop
	s.mu.Unlock()

	s.watchWg.Add(1)
	go s.watchLoop(stop)
	return nil
}

func (s *Source) watchLoop(stop chan struct{}) {
	defer s.watchWg.Done()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ext := strings.ToLower(filepath.Ext(ev.Name))
			if !playlist.IsSupportedFormat(ext) {
				continue
			}
			slog.Debug("fssource: filesystem event", "name", ev.Name, "op", ev.Op)
			s.scheduleRescan()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("fssource: watcher error", "error", err)
		}
	}
}

// scheduleRescan posts a debounced library-update notification and arms a
// one-shot timer that runs an actual rescan once watchDebounce passes
// without a further event. A nil trigger (no coordinator wired yet, e.g. in
// tests) makes this a no-op.
func (s *Source) scheduleRescan() {
	if s.trigger == nil {
		return
	}
	s.trigger.UpdateTrigger(audio.EventUpdate)

	s.rescanMu.Lock()
	defer s.rescanMu.Unlock()
	if s.rescanTimer != nil {
		s.rescanTimer.Stop()
	}
	s.rescanTimer = time.AfterFunc(watchDebounce, func() {
		if err := s.trigger.Rescan(context.Background()); err != nil {
			slog.Warn("fssource: watch-triggered rescan failed", "error", err)
		}
	})
}

func (s *Source) InitScan(ctx context.Context) error {
	_, _, err := playlist.ScanIntoLibrary(s.musicDir, s.master.Library)
	return err
}

func (s *Source) Rescan(ctx context.Context) error {
	_, _, err := playlist.ReconcileTracks(s.musicDir, s.master)
	return err
}

// MetaRescan re-reads tags for every already-known track without adding or
// removing any row — a lighter pass than Rescan's full reconciliation.
func (s *Source) MetaRescan(ctx context.Context) error {
	for _, t := range s.master.Library.List() {
		if !strings.HasPrefix(t.FilePath, s.musicDir) {
			continue
		}
		fresh, err := playlist.NewTrackFromFile(t.FilePath)
		if err != nil {
			slog.Warn("fssource: metadata re-read failed", "path", t.FilePath, "error", err)
			continue
		}
		_, err = s.master.Library.Update(t.ID, playlist.TrackUpdate{
			Title:  &fresh.Title,
			Artist: &fresh.Artist,
			Album:  &fresh.Album,
		})
		if err != nil {
			slog.Warn("fssource: metadata update failed", "path", t.FilePath, "error", err)
		}
	}
	return nil
}

func (s *Source) FullRescan(ctx context.Context) error {
	_, _, err := playlist.ScanIntoLibrary(s.musicDir, s.master.Library)
	return err
}

// QueueItemAdd resolves a queue-add request whose path lies under this
// source's music directory. A path outside musicDir yields ErrPathInvalid so
// the coordinator can try the next registered source.
func (s *Source) QueueItemAdd(ctx context.Context, req library.QueueAddRequest) (library.QueueAddResult, error) {
	abs, err := filepath.Abs(req.Path)
	if err != nil || !strings.HasPrefix(abs, s.musicDir) {
		return library.QueueAddResult{}, library.ErrPathInvalid
	}

	track := s.master.Library.GetByFilePath(abs)
	if track == nil {
		t, err := playlist.NewTrackFromFile(abs)
		if err != nil {
			return library.QueueAddResult{}, err
		}
		track = s.master.Library.AddOrUpdate(t)
	}

	pl, err := s.master.ActivePlaylist()
	if err != nil {
		return library.QueueAddResult{}, err
	}
	if req.Position >= 0 && req.Position <= pl.Count() {
		pl.AddTrackAt(track, req.Position)
	} else {
		pl.AddTrack(track)
	}
	if req.Reshuffle {
		pl.Shuffle()
	}

	s.bus.Notify(audio.EventPlayer)
	return library.QueueAddResult{Count: pl.Count(), NewID: track.ID}, nil
}
