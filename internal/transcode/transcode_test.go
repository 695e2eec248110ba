package transcode

import (
	"errors"
	"io"
	"testing"

	"github.com/denpa-radio/station/internal/audio"
)

func TestPcmFormatFor(t *testing.T) {
	tests := []struct {
		bits    int
		want    string
		wantErr bool
	}{
		{16, "s16le", false},
		{24, "s24le", false},
		{32, "s32le", false},
		{8, "", true},
	}
	for _, tt := range tests {
		got, err := pcmFormatFor(tt.bits)
		if tt.wantErr {
			if !errors.Is(err, ErrNotSupported) {
				t.Errorf("pcmFormatFor(%d) error = %v, want ErrNotSupported", tt.bits, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("pcmFormatFor(%d) unexpected error: %v", tt.bits, err)
		}
		if got != tt.want {
			t.Errorf("pcmFormatFor(%d) = %q, want %q", tt.bits, got, tt.want)
		}
	}
}

type discardWriteCloser struct{ io.Writer }

func (discardWriteCloser) Close() error { return nil }

func TestEncoderContextDrainClearsBuffer(t *testing.T) {
	ec := &EncoderContext{
		quality: audio.DefaultOutputQuality,
		stdin:   discardWriteCloser{io.Discard},
		doneCh:  make(chan struct{}),
	}

	ec.buf.WriteString("mp3 bytes")
	out := ec.Drain()
	if string(out) != "mp3 bytes" {
		t.Errorf("Drain() = %q, want %q", out, "mp3 bytes")
	}
	if len(ec.Drain()) != 0 {
		t.Error("second Drain() should return nothing, buffer was already cleared")
	}
}

func TestEncoderContextEncodeRejectsWrongQuality(t *testing.T) {
	ec := &EncoderContext{
		quality: audio.DefaultOutputQuality,
		stdin:   discardWriteCloser{io.Discard},
		doneCh:  make(chan struct{}),
	}
	wrong := audio.MediaQuality{SampleRate: 8000, BitsPerSample: 16, Channels: 1}
	if _, err := ec.Encode(audio.PcmFrame{Quality: wrong}); err == nil {
		t.Error("Encode should reject a frame whose quality does not match the context")
	}
}

func TestEncoderContextEncodeAccumulatesDrainCount(t *testing.T) {
	ec := &EncoderContext{
		quality: audio.DefaultOutputQuality,
		stdin:   discardWriteCloser{io.Discard},
		doneCh:  make(chan struct{}),
	}
	ec.buf.WriteString("xyz")
	n, err := ec.Encode(audio.PcmFrame{Quality: audio.DefaultOutputQuality, Data: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n != 3 {
		t.Errorf("Encode returned buffered count %d, want 3", n)
	}
}
