// Package player bridges the playlist package's MasterPlaylist/Scheduler to
// the Broadcast Engine's Player contract: it decodes the active track to PCM
// via a persistent ffmpeg subprocess and feeds the engine frame by frame,
// honoring pause/stop by going silent instead of stopping the feed.
package player

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denpa-radio/station/internal/audio"
	"github.com/denpa-radio/station/internal/playlist"
)

// pcmChunkSamples is the number of audio samples read per PCM frame handed
// to the engine; at 44.1kHz/stereo/16-bit this is roughly 46ms of audio.
const pcmChunkSamples = 2048

// Sink is the narrow interface the player feeds: internal/stream.Engine.
type Sink interface {
	Write(frame audio.PcmFrame)
	NotifyPlayerChanged()
}

// Player decodes and advances tracks from a playlist.MasterPlaylist,
// publishing PCM to a Sink and satisfying stream.Player for status queries.
type Player struct {
	master *playlist.MasterPlaylist
	sink   Sink

	clearQueueOnStopDisable bool

	mu      sync.RWMutex
	state   audio.PlayState
	current *playlist.Track

	skipCh chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
	paused atomic.Bool
}

// New builds a Player bound to master, feeding sink.
func New(master *playlist.MasterPlaylist, sink Sink, clearQueueOnStopDisable bool) *Player {
	return &Player{
		master:                  master,
		sink:                    sink,
		clearQueueOnStopDisable: clearQueueOnStopDisable,
		state:                   audio.StateStopped,
		skipCh:                  make(chan struct{}, 1),
	}
}

// Start launches the playback loop. It blocks until ctx is cancelled.
func (p *Player) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.setState(audio.StatePlaying)

	for {
		select {
		case <-runCtx.Done():
			return
		default:
		}

		track, pl, err := p.master.Next()
		if err != nil || track == nil {
			slog.Warn("player: no track available, idling", "error", err)
			p.setCurrent(nil)
			select {
			case <-runCtx.Done():
				return
			case <-p.skipCh:
			}
			continue
		}
		_ = pl

		p.setCurrent(track)
		slog.Info("player: now playing", "track", track.Title, "id", track.ID)

		if err := p.decodeTrack(runCtx, track); err != nil && runCtx.Err() == nil {
			slog.Error("player: decode failed, advancing", "track", track.Title, "error", err)
		}
	}
}

// Stop halts the playback loop. If clearQueueOnStopDisable is false, the
// active playlist's queue is cleared so playback restarts fresh next time.
func (p *Player) Stop() {
	p.setState(audio.StateStopped)
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if !p.clearQueueOnStopDisable {
		if pl, err := p.master.ActivePlaylist(); err == nil && pl != nil {
			pl.ClearTracks()
		}
	}
}

// Pause parks the player on silence: decodeTrack's read loop stops forwarding
// decoded PCM to the sink once PlayState reports StatePaused, and the
// Broadcast Engine's own ticker synthesizes silence frames in its place.
func (p *Player) Pause() { p.setState(audio.StatePaused) }

// Resume un-pauses playback.
func (p *Player) Resume() { p.setState(audio.StatePlaying) }

// Skip aborts the currently decoding track and advances immediately.
func (p *Player) Skip() {
	select {
	case p.skipCh <- struct{}{}:
	default:
	}
}

func (p *Player) setState(s audio.PlayState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.paused.Store(s == audio.StatePaused)
	p.sink.NotifyPlayerChanged()
}

func (p *Player) setCurrent(t *playlist.Track) {
	p.mu.Lock()
	p.current = t
	p.mu.Unlock()
	p.sink.NotifyPlayerChanged()
}

// Status implements stream.Player.
func (p *Player) Status() audio.PlayerSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id := ""
	if p.current != nil {
		id = fmt.Sprintf("%d", p.current.ID)
	}
	return audio.PlayerSnapshot{CurrentTrackID: id, State: p.state}
}

// CurrentTrack returns the file path of the track currently playing, or ""
// if nothing is loaded.
func (p *Player) CurrentTrack() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return ""
	}
	return p.current.FilePath
}

// QueueItemTitle implements stream.Player.
func (p *Player) QueueItemTitle(trackID string) (title, artist string, ok bool) {
	p.mu.RLock()
	t := p.current
	p.mu.RUnlock()
	if t == nil || fmt.Sprintf("%d", t.ID) != trackID {
		return "", "", false
	}
	return t.Title, t.Artist, true
}

// decodeTrack spawns a persistent ffmpeg decode subprocess for track and
// streams PCM frames to the sink until the file is exhausted, the context is
// cancelled, or Skip() is called.
func (p *Player) decodeTrack(ctx context.Context, track *playlist.Track) error {
	decodeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-p.skipCh:
			cancel()
		case <-decodeCtx.Done():
		}
	}()

	quality := audio.DefaultOutputQuality
	cmd := exec.CommandContext(decodeCtx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", track.FilePath,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", quality.SampleRate),
		"-ac", fmt.Sprintf("%d", quality.Channels),
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("player: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("player: ffmpeg start: %w", err)
	}

	frameBytes := quality.FrameBytes(pcmChunkSamples)
	buf := make([]byte, frameBytes)
	reader := bufio.NewReaderSize(stdout, frameBytes*4)

	pauseTicker := time.NewTicker(100 * time.Millisecond)
	defer pauseTicker.Stop()

	for {
		if decodeCtx.Err() != nil {
			break
		}
		if p.paused.Load() {
			// Park instead of reading: no PCM is pulled from ffmpeg (and
			// none reaches the sink) while paused, so the Broadcast Engine's
			// silence ticker is the only thing producing audio.
			select {
			case <-decodeCtx.Done():
			case <-pauseTicker.C:
			}
			continue
		}
		n, readErr := io.ReadFull(reader, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.sink.Write(audio.PcmFrame{Quality: quality, Data: chunk})
		}
		if readErr != nil {
			break
		}
	}

	_ = cmd.Wait()
	return nil
}
