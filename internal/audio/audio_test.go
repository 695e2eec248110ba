package audio

import "testing"

func TestMediaQualityFrameBytes(t *testing.T) {
	tests := []struct {
		name    string
		q       MediaQuality
		samples int
		want    int
	}{
		{"default quality, 1 sample", DefaultOutputQuality, 1, 4},
		{"default quality, 2048 samples", DefaultOutputQuality, 2048, 2048 * 2 * 2},
		{"mono 8bit", MediaQuality{SampleRate: 8000, BitsPerSample: 8, Channels: 1}, 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.FrameBytes(tt.samples); got != tt.want {
				t.Errorf("FrameBytes(%d) = %d, want %d", tt.samples, got, tt.want)
			}
		})
	}
}

func TestMediaQualityEquality(t *testing.T) {
	a := MediaQuality{SampleRate: 44100, BitsPerSample: 16, Channels: 2}
	b := MediaQuality{SampleRate: 44100, BitsPerSample: 16, Channels: 2}
	c := MediaQuality{SampleRate: 48000, BitsPerSample: 16, Channels: 2}
	if a != b {
		t.Error("identical qualities should compare equal")
	}
	if a == c {
		t.Error("differing sample rates should not compare equal")
	}
}

func TestPlayStateString(t *testing.T) {
	tests := []struct {
		s    PlayState
		want string
	}{
		{StatePlaying, "playing"},
		{StatePaused, "paused"},
		{StateStopped, "stopped"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%v.String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestEventMaskHasAndString(t *testing.T) {
	m := EventUpdate | EventDatabase
	if !m.Has(EventUpdate) || !m.Has(EventDatabase) {
		t.Error("mask should report the flags it was built from")
	}
	if m.Has(EventPlayer) || m.Has(EventStoredPlaylist) {
		t.Error("mask should not report flags it wasn't built from")
	}
	if got, want := m.String(), "UPDATE|DATABASE"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := EventMask(0).String(), "none"; got != want {
		t.Errorf("empty mask String() = %q, want %q", got, want)
	}
}
