// Package stream implements the MP3 Broadcast Engine: a single-producer /
// many-consumer streaming core that transcodes PCM to MP3 on the fly,
// multicasts it over HTTP, and splices in ICY metadata per session.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denpa-radio/station/internal/audio"
	"github.com/denpa-radio/station/internal/transcode"
	"github.com/google/uuid"
)

// Player is the narrow contract the Broadcast Engine needs from whatever
// drives playback. internal/player implements this against
// playlist.MasterPlaylist + playlist.Scheduler.
type Player interface {
	Status() audio.PlayerSnapshot
	// QueueItemTitle resolves a track id to its display title/artist. ok is
	// false if the track can no longer be found (e.g. removed mid-scan).
	QueueItemTitle(trackID string) (title, artist string, ok bool)
}

// State is the Broadcast Engine's lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateIdle
	StateActive
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateTornDown:
		return "torn_down"
	default:
		return "uninitialized"
	}
}

const (
	audioChanBuffer   = 64
	qualityChanBuffer = 1
)

// Engine is the Broadcast Engine: it drains PCM from the player via a
// non-blocking channel, feeds the Transcoder, and fans encoded bytes out to
// every session, splicing ICY metadata at the correct byte offset per
// session.
type Engine struct {
	transcoder  *transcode.Transcoder
	player      Player
	registry    *Registry
	stationName string
	icyMetaInt  int
	silenceEvery time.Duration

	audioCh   chan audio.PcmFrame
	qualityCh chan audio.MediaQuality

	encoder        *transcode.EncoderContext
	currentQuality audio.MediaQuality

	notSupported atomic.Bool
	state        atomic.Int32
	closed       atomic.Bool

	playerChanged atomic.Bool
	snapshot      atomic.Value // audio.PlayerSnapshot
	titleMu       sync.RWMutex
	icyTitle      string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config carries the tunables for NewEngine.
type Config struct {
	StationName     string
	ICYMetaInt      int
	SilenceInterval time.Duration
}

// NewEngine constructs an Engine. Start must be called before it will drain
// PCM or accept sessions usefully (Subscribe works beforehand but the
// session won't receive data until the event loop is running).
func NewEngine(transcoder *transcode.Transcoder, player Player, cfg Config) *Engine {
	if cfg.ICYMetaInt <= 0 {
		cfg.ICYMetaInt = ICYMetaInt
	}
	if cfg.SilenceInterval <= 0 {
		cfg.SilenceInterval = time.Second
	}
	e := &Engine{
		transcoder:   transcoder,
		player:       player,
		registry:     NewRegistry(),
		stationName:  cfg.StationName,
		icyMetaInt:   cfg.ICYMetaInt,
		silenceEvery: cfg.SilenceInterval,
		audioCh:      make(chan audio.PcmFrame, audioChanBuffer),
		qualityCh:    make(chan audio.MediaQuality, qualityChanBuffer),
	}
	e.snapshot.Store(audio.PlayerSnapshot{State: audio.StateStopped})
	e.state.Store(int32(StateUninitialized))
	return e
}

// SetPlayer binds the Player after construction, breaking the
// Engine<->Player initialization cycle (the player needs the engine as its
// Sink, and the engine needs the player for status/title lookups).
func (e *Engine) SetPlayer(p Player) { e.player = p }

// StationName returns the configured display name (used for icy-name).
func (e *Engine) StationName() string { return e.stationName }

// NotSupported reports whether the last encoder build attempt failed. While
// true, new /stream.mp3 requests must be refused with 404.
func (e *Engine) NotSupported() bool { return e.notSupported.Load() }

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// CurrentTrack returns the last observed current track id, for status APIs.
func (e *Engine) CurrentTrack() string {
	snap, _ := e.snapshot.Load().(audio.PlayerSnapshot)
	return snap.CurrentTrackID
}

// ActiveClients returns the number of currently subscribed sessions.
func (e *Engine) ActiveClients() int { return e.registry.Len() }

// NotifyPlayerChanged tells the engine that something about playback state
// changed (track advanced, paused/resumed, …); the event loop refreshes its
// PlayerSnapshot and ICY title before processing the next audio chunk.
func (e *Engine) NotifyPlayerChanged() { e.playerChanged.Store(true) }

// Start runs the engine's event loop. It blocks until ctx is cancelled or
// Close is called.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state.Store(int32(StateIdle))

	ticker := time.NewTicker(e.silenceEvery)
	defer ticker.Stop()

	slog.Info("broadcast engine started")

	for {
		select {
		case <-runCtx.Done():
			e.teardown()
			return
		case q := <-e.qualityCh:
			e.handleQualityChange(q)
		case frame := <-e.audioCh:
			e.handleAudio(frame)
			e.drainRemainingAudio()
		case <-ticker.C:
			e.handleSilenceTick()
		}
	}
}

// Close tears the engine down: it marks the engine closed, so Write drops
// every later frame, and cancels the run context; the event loop then drains
// the registry (each session gets a reply-end) and frees the encoder. The
// audio and quality channels are left open.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		if e.cancel != nil {
			e.cancel()
		}
	}
}

func (e *Engine) teardown() {
	e.state.Store(int32(StateTornDown))
	e.forceCloseAllSessions()
	e.registry.Close()
	if e.encoder != nil {
		e.encoder.Teardown()
		e.encoder = nil
	}
	slog.Info("broadcast engine torn down")
}

func (e *Engine) forceCloseAllSessions() {
	// DrainAll already closes each session's done channel as it removes it
	// from the registry; that unblocks the handler goroutine's select, so
	// there is nothing further to do with the returned slice here.
	e.registry.DrainAll()
	e.updateStateFromRegistry()
}

func (e *Engine) updateStateFromRegistry() {
	if e.State() == StateTornDown {
		return
	}
	if e.registry.IsEmpty() {
		e.state.Store(int32(StateIdle))
	} else {
		e.state.Store(int32(StateActive))
	}
}

// Write is the producer-side entry point, called from the player-adapter
// goroutine. Fast-path exits if there are no sessions; otherwise it detects
// quality changes and enqueues the frame, dropping it on backpressure rather
// than blocking the caller.
func (e *Engine) Write(frame audio.PcmFrame) {
	if e.closed.Load() {
		return // EBADF-equivalent: teardown in progress, silently ignored.
	}
	if e.registry.IsEmpty() {
		return
	}

	if frame.Quality != e.currentQuality {
		select {
		case e.qualityCh <- frame.Quality:
		default:
			slog.Warn("quality-change channel full, dropping quality update")
		}
	}

	select {
	case e.audioCh <- frame:
	default:
		slog.Warn("audio channel full, dropping PCM frame", "bytes", len(frame.Data))
	}
}

func (e *Engine) handleQualityChange(q audio.MediaQuality) {
	if e.encoder != nil {
		e.encoder.Teardown()
		e.encoder = nil
	}
	ec, err := e.transcoder.Setup(context.Background(), q)
	if err != nil {
		e.notSupported.Store(true)
		slog.Error("encoder setup failed, marking engine not_supported", "quality", q.String(), "error", err)
		e.forceCloseAllSessions()
		return
	}
	e.encoder = ec
	e.currentQuality = q
	e.notSupported.Store(false)
}

func (e *Engine) refreshSnapshotIfChanged() {
	if !e.playerChanged.CompareAndSwap(true, false) {
		return
	}
	snap := e.player.Status()
	prev, _ := e.snapshot.Load().(audio.PlayerSnapshot)
	e.snapshot.Store(snap)

	if snap.CurrentTrackID == prev.CurrentTrackID {
		return
	}
	title, artist, ok := e.player.QueueItemTitle(snap.CurrentTrackID)
	e.titleMu.Lock()
	if ok {
		e.icyTitle = formatTitle(title, artist)
	} else {
		e.icyTitle = ""
	}
	e.titleMu.Unlock()
}

func (e *Engine) handleAudio(frame audio.PcmFrame) {
	e.refreshSnapshotIfChanged()
	e.encodeAndFanOut(frame)
}

// drainRemainingAudio empties whatever else is already buffered on the audio
// channel in a tight inner loop, matching "drain in a loop" from the
// reference design, without re-checking the silence ticker mid-drain.
func (e *Engine) drainRemainingAudio() {
	for {
		select {
		case frame := <-e.audioCh:
			e.encodeAndFanOut(frame)
		default:
			return
		}
	}
}

func (e *Engine) handleSilenceTick() {
	e.refreshSnapshotIfChanged()
	snap, _ := e.snapshot.Load().(audio.PlayerSnapshot)
	if snap.State != audio.StatePaused {
		return
	}
	q := e.currentQuality
	if q == (audio.MediaQuality{}) {
		q = audio.DefaultOutputQuality
	}
	e.encodeAndFanOut(silenceFrame(q, e.silenceEvery))
}

func (e *Engine) encodeAndFanOut(frame audio.PcmFrame) {
	if e.encoder == nil || e.encoder.Quality() != frame.Quality {
		// No usable encoder for this frame's quality yet; the quality-change
		// case will rebuild it shortly. Drop the frame rather than stall.
		return
	}
	if _, err := e.encoder.Encode(frame); err != nil {
		slog.Error("encode failed", "error", err)
		return
	}
	encoded := e.encoder.Drain()
	if len(encoded) == 0 {
		return
	}
	e.fanOut(encoded)
}

// fanOut sends the encoded bytes to every session, splicing ICY metadata at
// the correct byte offset per session.
func (e *Engine) fanOut(encoded []byte) {
	e.titleMu.RLock()
	title := e.icyTitle
	e.titleMu.RUnlock()

	var toRemove []uuid.UUID
	e.registry.Iterate(func(s *Session, isLast bool) {
		chunk, newBytesSent := spliceICY(s, encoded, e.icyMetaInt, title)
		s.bytesSent = newBytesSent
		if err := s.write(chunk); err != nil {
			toRemove = append(toRemove, s.ID)
		}
	})
	for _, id := range toRemove {
		e.removeSession(id)
	}
}

// spliceICY implements the §4.3 per-session splice: if the session is ICY
// and the cumulative byte count would cross a metaInt-byte boundary, the
// metablock is inserted at the boundary and bytesSent wraps to the
// overflow; otherwise the whole chunk is sent as-is and bytesSent
// accumulates.
func spliceICY(s *Session, encoded []byte, metaInt int, title string) ([]byte, int) {
	l := len(encoded)
	if !s.icy {
		return encoded, s.bytesSent + l
	}
	sSent := s.bytesSent
	if sSent+l <= metaInt {
		return encoded, sSent + l
	}
	overflow := (sSent + l) % metaInt
	split := l - overflow
	block := buildICYBlock(title)

	out := make([]byte, 0, l+len(block))
	out = append(out, encoded[:split]...)
	out = append(out, block...)
	out = append(out, encoded[split:]...)
	return out, overflow
}

func (e *Engine) removeSession(id uuid.UUID) {
	e.registry.RemoveByID(id)
	e.updateStateFromRegistry()
}

// Subscribe registers a new client session. Returns an error if the engine
// is not_supported (caller should answer 404) or already torn down.
func (e *Engine) Subscribe(handle responseHandle, icy bool) (*Session, error) {
	if e.NotSupported() {
		return nil, errors.New("stream: encoder not available")
	}
	s := NewSession(handle, icy)
	if !e.registry.Insert(s) {
		return nil, errors.New("stream: engine is shut down")
	}
	wasIdle := e.State() == StateIdle
	e.updateStateFromRegistry()
	if wasIdle {
		slog.Info("broadcast engine idle -> active", "session", s.ID)
	}
	return s, nil
}

// Unsubscribe removes a session, e.g. on client disconnect.
func (e *Engine) Unsubscribe(id uuid.UUID) {
	e.removeSession(id)
}

// silenceFrame builds a zero-filled PCM block of the given duration at the
// given quality, for the silence ticker.
func silenceFrame(q audio.MediaQuality, d time.Duration) audio.PcmFrame {
	samples := int(float64(q.SampleRate) * d.Seconds())
	if samples <= 0 {
		samples = q.SampleRate / 10
	}
	return audio.PcmFrame{
		Quality: q,
		Data:    make([]byte, q.FrameBytes(samples)),
	}
}

// Describe is a small debugging helper used by the status API.
func (e *Engine) Describe() string {
	return fmt.Sprintf("state=%s clients=%d not_supported=%v", e.State(), e.ActiveClients(), e.NotSupported())
}
