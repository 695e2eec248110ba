package stream

import "testing"

type fakeHandle struct{}

func (fakeHandle) Write(p []byte) (int, error) { return len(p), nil }
func (fakeHandle) Flush()                       {}

func TestSpliceICYNonICYSession(t *testing.T) {
	s := NewSession(fakeHandle{}, false)
	data := make([]byte, 100)
	chunk, sent := spliceICY(s, data, 8192, "Song – Artist")
	if len(chunk) != len(data) {
		t.Errorf("non-icy session must pass the chunk through unmodified, got len %d want %d", len(chunk), len(data))
	}
	if sent != 100 {
		t.Errorf("bytesSent = %d, want 100 (accumulates, never splices)", sent)
	}
}

func TestSpliceICYBelowBoundary(t *testing.T) {
	s := NewSession(fakeHandle{}, true)
	s.bytesSent = 100
	data := make([]byte, 50)
	chunk, sent := spliceICY(s, data, 8192, "title")
	if len(chunk) != len(data) {
		t.Errorf("below metaint boundary must not splice, got len %d want %d", len(chunk), len(data))
	}
	if sent != 150 {
		t.Errorf("bytesSent = %d, want 150", sent)
	}
}

func TestSpliceICYExactBoundary(t *testing.T) {
	const metaInt = 8192
	s := NewSession(fakeHandle{}, true)
	s.bytesSent = 0
	data := make([]byte, metaInt)
	chunk, sent := spliceICY(s, data, metaInt, "")
	// sSent+l == metaInt falls into the "no splice" branch; the next chunk
	// starts the count over from the boundary, matching a session that
	// receives exactly metaInt bytes with zero carry-over.
	if len(chunk) != metaInt {
		t.Errorf("exact boundary chunk length = %d, want %d (splice happens on overflow, not at the boundary)", len(chunk), metaInt)
	}
	if sent != metaInt {
		t.Errorf("bytesSent = %d, want %d", sent, metaInt)
	}
}

func TestSpliceICYCrossesBoundary(t *testing.T) {
	const metaInt = 8192
	s := NewSession(fakeHandle{}, true)
	s.bytesSent = metaInt - 10 // 10 bytes of audio left before the metablock is due
	data := make([]byte, 30)
	title := "Now Playing"
	block := buildICYBlock(title)

	chunk, sent := spliceICY(s, data, metaInt, title)

	wantOverflow := (s.bytesSent + len(data)) % metaInt
	if sent != wantOverflow {
		t.Errorf("bytesSent after splice = %d, want %d", sent, wantOverflow)
	}

	wantLen := len(data) + len(block)
	if len(chunk) != wantLen {
		t.Fatalf("spliced chunk length = %d, want %d", len(chunk), wantLen)
	}

	// First 10 bytes of audio, then the metablock, then the remaining 20.
	split := len(data) - wantOverflow
	for i := 0; i < split; i++ {
		if chunk[i] != data[i] {
			t.Errorf("byte %d before split = %v, want %v", i, chunk[i], data[i])
		}
	}
	for i, b := range block {
		if chunk[split+i] != b {
			t.Errorf("metablock byte %d = %v, want %v", i, chunk[split+i], b)
		}
	}
	for i := 0; i < wantOverflow; i++ {
		if chunk[split+len(block)+i] != data[split+i] {
			t.Errorf("trailing byte %d mismatch", i)
		}
	}
}
