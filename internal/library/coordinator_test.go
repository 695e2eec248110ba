package library

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/denpa-radio/station/internal/audio"
	"github.com/denpa-radio/station/internal/playlist"
)

// fakeSource is a minimal in-test Source with counters for every scan kind
// and optional playlist/queue-add capability toggles.
type fakeSource struct {
	name string

	initScans, rescans, metaRescans, fullRescans atomic.Int32

	addPath string // QueueItemAdd succeeds only for this path, else ErrPathInvalid
}

func (f *fakeSource) Name() string                               { return f.name }
func (f *fakeSource) Init(ctx context.Context) error              { return nil }
func (f *fakeSource) Deinit(ctx context.Context) error            { return nil }
func (f *fakeSource) RegisterEvents(bus *ListenerBus) error       { return nil }
func (f *fakeSource) InitScan(ctx context.Context) error          { f.initScans.Add(1); return nil }
func (f *fakeSource) Rescan(ctx context.Context) error             { f.rescans.Add(1); return nil }
func (f *fakeSource) MetaRescan(ctx context.Context) error         { f.metaRescans.Add(1); return nil }
func (f *fakeSource) FullRescan(ctx context.Context) error         { f.fullRescans.Add(1); return nil }

func (f *fakeSource) QueueItemAdd(ctx context.Context, req QueueAddRequest) (QueueAddResult, error) {
	if req.Path != f.addPath {
		return QueueAddResult{}, ErrPathInvalid
	}
	return QueueAddResult{Count: 1, NewID: 1}, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, context.Context, context.CancelFunc) {
	t.Helper()
	master := playlist.NewMasterPlaylist()
	c := NewCoordinator(master, nil, false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		c.Stop()
	})
	return c, ctx, cancel
}

func TestRegisterSourceRejectsEmptyName(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	err := c.RegisterSource(context.Background(), &fakeSource{name: ""})
	if err == nil {
		t.Fatal("RegisterSource should reject a source with an empty name")
	}
}

func TestExecSyncRunsOnLibraryGoroutine(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	var onLibrary bool
	res, err := c.ExecSync(context.Background(), func(ctx context.Context) (any, error) {
		onLibrary = c.onLibraryGoroutine.Load()
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ExecSync: %v", err)
	}
	if res.(int) != 42 {
		t.Errorf("ExecSync result = %v, want 42", res)
	}
	if !onLibrary {
		t.Error("ExecSync callback did not run inside the library goroutine's dispatch")
	}
}

func TestInitScanDispatchesToRegisteredSources(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	src := &fakeSource{name: "fs"}
	if err := c.RegisterSource(context.Background(), src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}

	if err := c.InitScan(context.Background()); err != nil {
		t.Fatalf("InitScan: %v", err)
	}
	if src.initScans.Load() != 1 {
		t.Errorf("InitScan count = %d, want 1", src.initScans.Load())
	}

	if err := c.Rescan(context.Background()); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if src.rescans.Load() != 1 {
		t.Errorf("Rescan count = %d, want 1", src.rescans.Load())
	}

	if err := c.FullRescan(context.Background()); err != nil {
		t.Fatalf("FullRescan: %v", err)
	}
	if src.fullRescans.Load() != 1 {
		t.Errorf("FullRescan count = %d, want 1", src.fullRescans.Load())
	}
}

func TestQueueItemAddTriesNextSourceOnPathInvalid(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	other := &fakeSource{name: "other", addPath: "/nope"}
	mine := &fakeSource{name: "mine", addPath: "/music/track.mp3"}
	if err := c.RegisterSource(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterSource(context.Background(), mine); err != nil {
		t.Fatal(err)
	}

	res, err := c.QueueItemAdd(context.Background(), QueueAddRequest{Path: "/music/track.mp3"})
	if err != nil {
		t.Fatalf("QueueItemAdd: %v", err)
	}
	if res.Count != 1 || res.NewID != 1 {
		t.Errorf("QueueItemAdd result = %+v, want {Count:1 NewID:1}", res)
	}
}

func TestQueueItemAddNoOwningSource(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	src := &fakeSource{name: "fs", addPath: "/elsewhere"}
	if err := c.RegisterSource(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	_, err := c.QueueItemAdd(context.Background(), QueueAddRequest{Path: "/music/track.mp3"})
	if err == nil {
		t.Fatal("QueueItemAdd should fail when no source owns the path")
	}
}

func TestDebounceAccumulatesAndFlushes(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	received := make(chan audio.EventMask, 1)
	c.Bus().Add(audio.EventUpdate|audio.EventDatabase, func(mask audio.EventMask) {
		received <- mask
	})

	// Drive the debounce accumulator directly rather than waiting out the
	// real 5s window.
	c.triggerInline(audio.EventUpdate)
	c.triggerInline(audio.EventDatabase)
	c.flushDebounce()

	select {
	case mask := <-received:
		if !mask.Has(audio.EventUpdate) || !mask.Has(audio.EventDatabase) {
			t.Errorf("flushed mask %v, want both EventUpdate and EventDatabase accumulated", mask)
		}
	case <-time.After(time.Second):
		t.Fatal("flushDebounce never notified the bus")
	}

	// A second flush with nothing accumulated should not notify.
	c.flushDebounce()
	select {
	case mask := <-received:
		t.Errorf("unexpected second notification with mask %v", mask)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIsScanningFalseWhenIdle(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	if c.IsScanning() {
		t.Error("freshly constructed coordinator should not report scanning")
	}
}
