package fssource

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/denpa-radio/station/internal/audio"
	"github.com/denpa-radio/station/internal/library"
	"github.com/denpa-radio/station/internal/playlist"
)

// fakeTrigger records UpdateTrigger/Rescan calls in place of a real
// library.Coordinator.
type fakeTrigger struct {
	updates atomic.Int32
	rescans atomic.Int32
}

func (f *fakeTrigger) UpdateTrigger(mask audio.EventMask) { f.updates.Add(1) }
func (f *fakeTrigger) Rescan(ctx context.Context) error   { f.rescans.Add(1); return nil }

func TestName(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, playlist.NewMasterPlaylist(), true)
	if want := "filesystem:" + dir; s.Name() != want {
		t.Errorf("Name() = %q, want %q", s.Name(), want)
	}
}

func TestScheduleRescanNoopWithoutTrigger(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, playlist.NewMasterPlaylist(), true)
	// No SetRescanTrigger call: must not panic on a nil trigger.
	s.scheduleRescan()
}

func TestScheduleRescanNotifiesAndDebouncesRescan(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, playlist.NewMasterPlaylist(), true)
	trig := &fakeTrigger{}
	s.SetRescanTrigger(trig)

	s.scheduleRescan()
	s.scheduleRescan()
	s.scheduleRescan()

	if trig.updates.Load() != 3 {
		t.Errorf("UpdateTrigger calls = %d, want 3 (one per event)", trig.updates.Load())
	}

	// A burst of events should collapse into a single debounced rescan.
	time.Sleep(watchDebounce + 500*time.Millisecond)
	if trig.rescans.Load() != 1 {
		t.Errorf("Rescan calls = %d, want 1 (debounced)", trig.rescans.Load())
	}
}

func TestQueueItemAddRejectsPathOutsideMusicDir(t *testing.T) {
	dir := t.TempDir()
	master := playlist.NewMasterPlaylist()
	s := New(dir, master, true)
	if err := s.RegisterEvents(library.NewListenerBus()); err != nil {
		t.Fatalf("RegisterEvents: %v", err)
	}

	_, err := s.QueueItemAdd(context.Background(), library.QueueAddRequest{Path: "/somewhere/else/track.mp3"})
	if err != library.ErrPathInvalid {
		t.Errorf("QueueItemAdd outside musicDir: err = %v, want ErrPathInvalid", err)
	}
}

func TestQueueItemAddAddsExistingFileToActivePlaylist(t *testing.T) {
	dir := t.TempDir()
	trackPath := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(trackPath, []byte("not really audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	master := playlist.NewMasterPlaylist()
	pl := playlist.NewPlaylist("default", playlist.TagMorning)
	if err := master.AssignPlaylist(playlist.TagMorning, pl); err != nil {
		t.Fatalf("AssignPlaylist: %v", err)
	}
	master.SetActiveTag(playlist.TagMorning)

	s := New(dir, master, true)
	if err := s.RegisterEvents(library.NewListenerBus()); err != nil {
		t.Fatalf("RegisterEvents: %v", err)
	}

	res, err := s.QueueItemAdd(context.Background(), library.QueueAddRequest{Path: trackPath, Position: -1})
	if err != nil {
		t.Fatalf("QueueItemAdd: %v", err)
	}
	if res.Count != 1 {
		t.Errorf("QueueItemAdd result.Count = %d, want 1", res.Count)
	}

	active, err := master.ActivePlaylist()
	if err != nil {
		t.Fatalf("ActivePlaylist: %v", err)
	}
	if active.Count() != 1 {
		t.Errorf("active playlist Count() = %d, want 1", active.Count())
	}
}

func TestQueueItemAddReusesExistingLibraryTrack(t *testing.T) {
	dir := t.TempDir()
	trackPath := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(trackPath, []byte("not really audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	master := playlist.NewMasterPlaylist()
	pl := playlist.NewPlaylist("default", playlist.TagMorning)
	if err := master.AssignPlaylist(playlist.TagMorning, pl); err != nil {
		t.Fatalf("AssignPlaylist: %v", err)
	}
	master.SetActiveTag(playlist.TagMorning)

	s := New(dir, master, true)
	if err := s.RegisterEvents(library.NewListenerBus()); err != nil {
		t.Fatalf("RegisterEvents: %v", err)
	}

	absPath, err := filepath.Abs(trackPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.QueueItemAdd(context.Background(), library.QueueAddRequest{Path: trackPath, Position: -1}); err != nil {
		t.Fatalf("first QueueItemAdd: %v", err)
	}
	beforeCount := master.Library.Count()

	if _, err := s.QueueItemAdd(context.Background(), library.QueueAddRequest{Path: trackPath, Position: -1}); err != nil {
		t.Fatalf("second QueueItemAdd: %v", err)
	}
	if got := master.Library.Count(); got != beforeCount {
		t.Errorf("library count changed on re-add of same path: before=%d after=%d", beforeCount, got)
	}

	if master.Library.GetByFilePath(absPath) == nil {
		t.Error("library should contain the track by its absolute path")
	}
}
