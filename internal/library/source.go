package library

import (
	"context"
	"errors"
)

// ErrPathInvalid is the distinguished "not my path — ask the next source"
// result for QueueItemAdd. Any other non-nil error from a mutation command
// is fatal for that command.
var ErrPathInvalid = errors.New("library: path not owned by this source")

// ErrScanInProgress gates mutation commands while a scan is running.
var ErrScanInProgress = errors.New("library: scan in progress")

// Source is the mandatory surface every LibrarySource must implement. A
// Source that returns a nil/zero-value stand-in for any of these is a
// construction-time error, checked by Coordinator.RegisterSource — "a
// missing mandatory scanning method is a programmer error detected at init
// time."
type Source interface {
	Name() string
	Init(ctx context.Context) error
	Deinit(ctx context.Context) error
	InitScan(ctx context.Context) error
	Rescan(ctx context.Context) error
	MetaRescan(ctx context.Context) error
	FullRescan(ctx context.Context) error
	RegisterEvents(bus *ListenerBus) error
}

// PlaylistItemAdder is an optional capability: a source that can add an item
// to a stored playlist.
type PlaylistItemAdder interface {
	PlaylistItemAdd(ctx context.Context, playlistVP, itemVP string) error
}

// PlaylistRemover is an optional capability: a source that can remove a
// stored playlist by virtual path.
type PlaylistRemover interface {
	PlaylistRemove(ctx context.Context, vp string) error
}

// QueueAddRequest carries a queue-add command's parameters.
type QueueAddRequest struct {
	Path      string
	Position  int
	Reshuffle bool
	ItemID    int64
}

// QueueAddResult carries the outcome of a successful queue-add.
type QueueAddResult struct {
	Count int
	NewID int64
}

// QueueItemAdder is an optional capability: a source that can resolve a
// queue-add request for paths it owns. Returning ErrPathInvalid signals the
// coordinator to try the next source.
type QueueItemAdder interface {
	QueueItemAdd(ctx context.Context, req QueueAddRequest) (QueueAddResult, error)
}

// QueueSaver is an optional capability: a source that can persist the
// current play queue as a stored playlist.
type QueueSaver interface {
	QueueSave(ctx context.Context, vp string) error
}

// RSSSnapshotter is an optional capability used by FullRescan to preserve
// RSS subscriptions across a destructive library wipe.
type RSSSnapshotter interface {
	SnapshotRSS(ctx context.Context) ([]RSSFeed, error)
	RestoreRSS(ctx context.Context, feeds []RSSFeed) error
}

// RSSFeed is one subscribed RSS feed, as snapshotted/restored around a full
// rescan.
type RSSFeed struct {
	Name  string
	URL   string
	Limit int
}

// sourceEntry tracks per-source registration state.
type sourceEntry struct {
	source   Source
	disabled bool
}

// validate checks that a Source's mandatory methods are non-nil-returning in
// the trivial structural sense Go allows us to check: the interface itself
// guarantees method presence at compile time, so the only remaining runtime
// check is the Name must be non-empty (a source forgetting to set its own
// name is the practical analogue of "a missing mandatory scanning method").
func validate(s Source) error {
	if s.Name() == "" {
		return errors.New("library: source must have a non-empty Name")
	}
	return nil
}
