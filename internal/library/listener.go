package library

import (
	"sync"

	"github.com/denpa-radio/station/internal/audio"
	"github.com/google/uuid"
)

// Listener is a registered callback and the event mask it cares about.
type Listener struct {
	Mask     audio.EventMask
	Callback func(audio.EventMask)
}

// ListenerBus is the pub/sub fan-out of coarse event masks (PLAYER, UPDATE,
// DATABASE, STORED_PLAYLIST) to registered callbacks.
type ListenerBus struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID]Listener
}

// NewListenerBus creates an empty bus.
func NewListenerBus() *ListenerBus {
	return &ListenerBus{listeners: make(map[uuid.UUID]Listener)}
}

// Add registers a callback for the given mask and returns a handle usable
// with Remove.
func (b *ListenerBus) Add(mask audio.EventMask, cb func(audio.EventMask)) uuid.UUID {
	id := uuid.New()
	b.mu.Lock()
	b.listeners[id] = Listener{Mask: mask, Callback: cb}
	b.mu.Unlock()
	return id
}

// Remove unregisters a listener by its handle.
func (b *ListenerBus) Remove(id uuid.UUID) {
	b.mu.Lock()
	delete(b.listeners, id)
	b.mu.Unlock()
}

// Notify invokes every registered listener whose mask overlaps with the
// given mask, each in its own goroutine so a slow listener cannot stall the
// coordinator or the broadcast engine.
func (b *ListenerBus) Notify(mask audio.EventMask) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		if l.Mask&mask == 0 {
			continue
		}
		cb := l.Callback
		go cb(mask)
	}
}
