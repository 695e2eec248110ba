// Package transcode wraps a persistent ffmpeg subprocess that turns raw PCM
// into MP3. The value lives in the Broadcast Engine's fan-out and ICY
// splicing (internal/stream), not in the encoding step itself — this package
// stays deliberately thin.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/denpa-radio/station/internal/audio"
)

// ErrNotSupported is returned by Setup when no encoder pipeline could be
// built for the requested input quality (e.g. ffmpeg is not installed). The
// caller should treat this as sticky and degrade future requests.
var ErrNotSupported = errors.New("transcode: input quality not supported")

// Transcoder builds EncoderContexts for a fixed MP3 output configuration
// (bitrate only varies; sample rate/bit depth/channels of the *output* are
// always audio.DefaultOutputQuality).
type Transcoder struct {
	bitrate string
}

// New creates a Transcoder targeting the given MP3 output bitrate, e.g. "128k".
func New(bitrate string) *Transcoder {
	return &Transcoder{bitrate: bitrate}
}

// EncoderContext owns one live ffmpeg subprocess bound to a single input
// MediaQuality. It must be torn down and rebuilt whenever the input quality
// changes.
type EncoderContext struct {
	quality audio.MediaQuality

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu  sync.Mutex
	buf bytes.Buffer

	doneCh chan struct{}
}

func pcmFormatFor(bits int) (string, error) {
	switch bits {
	case 16:
		return "s16le", nil
	case 24:
		return "s24le", nil
	case 32:
		return "s32le", nil
	default:
		return "", fmt.Errorf("%w: unsupported bit depth %d", ErrNotSupported, bits)
	}
}

// Setup builds a PCM→MP3 pipeline for the given input quality. Spawn failure
// (ffmpeg missing, unsupported bit depth, …) returns ErrNotSupported.
func (t *Transcoder) Setup(ctx context.Context, quality audio.MediaQuality) (*EncoderContext, error) {
	pcmFormat, err := pcmFormatFor(quality.BitsPerSample)
	if err != nil {
		return nil, err
	}

	out := audio.DefaultOutputQuality
	args := []string{
		"-f", pcmFormat,
		"-ar", strconv.Itoa(quality.SampleRate),
		"-ac", strconv.Itoa(quality.Channels),
		"-i", "pipe:0",
		"-f", "mp3",
		"-b:a", t.bitrate,
		"-ar", strconv.Itoa(out.SampleRate),
		"-ac", strconv.Itoa(out.Channels),
		"-vn",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrNotSupported, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrNotSupported, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrNotSupported, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
	}

	ec := &EncoderContext{
		quality: quality,
		cmd:     cmd,
		stdin:   stdin,
		doneCh:  make(chan struct{}),
	}

	go ec.drainStdout(stdout)
	go ec.logStderr(stderr)

	slog.Info("encoder context started", "quality", quality.String(), "bitrate", t.bitrate)
	return ec, nil
}

func (ec *EncoderContext) drainStdout(stdout io.ReadCloser) {
	defer close(ec.doneCh)
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			ec.mu.Lock()
			ec.buf.Write(buf[:n])
			ec.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (ec *EncoderContext) logStderr(stderr io.ReadCloser) {
	buf := make([]byte, 1024)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			slog.Debug("ffmpeg (encoder)", "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// Quality returns the input quality this context was built for.
func (ec *EncoderContext) Quality() audio.MediaQuality { return ec.quality }

// Encode writes pcm to the encoder's stdin and appends whatever MP3 bytes
// have accumulated on the drained stdout buffer since the last call. The
// returned byte count may be zero if the encoder has buffered internally and
// hasn't emitted a complete frame yet — this is expected streaming-encoder
// behavior, not an error.
func (ec *EncoderContext) Encode(frame audio.PcmFrame) (int, error) {
	if frame.Quality != ec.quality {
		return 0, fmt.Errorf("transcode: frame quality %s does not match context quality %s", frame.Quality, ec.quality)
	}
	if _, err := ec.stdin.Write(frame.Data); err != nil {
		return 0, fmt.Errorf("transcode: stdin write: %w", err)
	}

	ec.mu.Lock()
	n := ec.buf.Len()
	ec.mu.Unlock()
	return n, nil
}

// Drain returns and clears whatever encoded MP3 bytes are currently
// buffered. Called by the Broadcast Engine after Encode to pull the bytes it
// should fan out to sessions.
func (ec *EncoderContext) Drain() []byte {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, ec.buf.Len())
	copy(out, ec.buf.Bytes())
	ec.buf.Reset()
	return out
}

// Teardown closes stdin (signalling ffmpeg to flush and exit), waits
// (bounded by the process's own shutdown, typically sub-second for mp3
// flush) and releases the process.
func (ec *EncoderContext) Teardown() {
	_ = ec.stdin.Close()
	<-ec.doneCh
	_ = ec.cmd.Wait()
	slog.Info("encoder context torn down", "quality", ec.quality.String())
}
