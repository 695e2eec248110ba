package player

import (
	"testing"

	"github.com/denpa-radio/station/internal/audio"
	"github.com/denpa-radio/station/internal/playlist"
)

type fakeSink struct {
	frames  []audio.PcmFrame
	changes int
}

func (s *fakeSink) Write(frame audio.PcmFrame) { s.frames = append(s.frames, frame) }
func (s *fakeSink) NotifyPlayerChanged()       { s.changes++ }

func TestNewPlayerStartsStopped(t *testing.T) {
	p := New(playlist.NewMasterPlaylist(), &fakeSink{}, false)
	snap := p.Status()
	if snap.State != audio.StateStopped {
		t.Errorf("initial state = %v, want StateStopped", snap.State)
	}
	if snap.CurrentTrackID != "" {
		t.Errorf("initial CurrentTrackID = %q, want empty", snap.CurrentTrackID)
	}
	if p.CurrentTrack() != "" {
		t.Errorf("initial CurrentTrack() = %q, want empty", p.CurrentTrack())
	}
}

func TestSetCurrentAndStatus(t *testing.T) {
	sink := &fakeSink{}
	p := New(playlist.NewMasterPlaylist(), sink, false)

	track := &playlist.Track{ID: 7, Title: "Song", Artist: "Artist", FilePath: "/music/song.mp3"}
	p.setCurrent(track)
	p.setState(audio.StatePlaying)

	snap := p.Status()
	if snap.CurrentTrackID != "7" {
		t.Errorf("CurrentTrackID = %q, want %q", snap.CurrentTrackID, "7")
	}
	if snap.State != audio.StatePlaying {
		t.Errorf("State = %v, want StatePlaying", snap.State)
	}
	if p.CurrentTrack() != "/music/song.mp3" {
		t.Errorf("CurrentTrack() = %q, want %q", p.CurrentTrack(), "/music/song.mp3")
	}
	if sink.changes == 0 {
		t.Error("setCurrent/setState should notify the sink")
	}
}

func TestQueueItemTitle(t *testing.T) {
	p := New(playlist.NewMasterPlaylist(), &fakeSink{}, false)
	track := &playlist.Track{ID: 3, Title: "Song", Artist: "Artist"}
	p.setCurrent(track)

	title, artist, ok := p.QueueItemTitle("3")
	if !ok || title != "Song" || artist != "Artist" {
		t.Errorf("QueueItemTitle(3) = (%q, %q, %v), want (Song, Artist, true)", title, artist, ok)
	}

	_, _, ok = p.QueueItemTitle("999")
	if ok {
		t.Error("QueueItemTitle should report false for a track ID that isn't current")
	}
}

func TestPauseResume(t *testing.T) {
	p := New(playlist.NewMasterPlaylist(), &fakeSink{}, false)
	p.Pause()
	if p.Status().State != audio.StatePaused {
		t.Error("Pause() should set StatePaused")
	}
	if !p.paused.Load() {
		t.Error("Pause() should set the paused flag")
	}
	p.Resume()
	if p.Status().State != audio.StatePlaying {
		t.Error("Resume() should set StatePlaying")
	}
	if p.paused.Load() {
		t.Error("Resume() should clear the paused flag")
	}
}

func TestSkipIsNonBlocking(t *testing.T) {
	p := New(playlist.NewMasterPlaylist(), &fakeSink{}, false)
	// skipCh has capacity 1; repeated Skip() calls must never block.
	p.Skip()
	p.Skip()
	p.Skip()

	select {
	case <-p.skipCh:
	default:
		t.Fatal("expected a pending skip signal")
	}
}
