package library

import (
	"testing"
	"time"

	"github.com/denpa-radio/station/internal/audio"
)

func TestListenerBusNotifyMatchesMaskOnly(t *testing.T) {
	b := NewListenerBus()

	playerCh := make(chan audio.EventMask, 1)
	dbCh := make(chan audio.EventMask, 1)

	b.Add(audio.EventPlayer, func(m audio.EventMask) { playerCh <- m })
	b.Add(audio.EventDatabase, func(m audio.EventMask) { dbCh <- m })

	b.Notify(audio.EventPlayer)

	select {
	case m := <-playerCh:
		if !m.Has(audio.EventPlayer) {
			t.Errorf("player listener got mask %v, missing EventPlayer", m)
		}
	case <-time.After(time.Second):
		t.Fatal("player listener was not notified")
	}

	select {
	case m := <-dbCh:
		t.Errorf("database listener should not have fired, got %v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenerBusRemoveStopsNotifications(t *testing.T) {
	b := NewListenerBus()
	ch := make(chan audio.EventMask, 1)
	id := b.Add(audio.EventUpdate, func(m audio.EventMask) { ch <- m })

	b.Remove(id)
	b.Notify(audio.EventUpdate)

	select {
	case m := <-ch:
		t.Errorf("removed listener should not fire, got %v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenerBusOverlappingMask(t *testing.T) {
	b := NewListenerBus()
	ch := make(chan audio.EventMask, 1)
	b.Add(audio.EventUpdate|audio.EventDatabase, func(m audio.EventMask) { ch <- m })

	b.Notify(audio.EventDatabase)

	select {
	case m := <-ch:
		if !m.Has(audio.EventDatabase) {
			t.Errorf("got mask %v, want EventDatabase set", m)
		}
	case <-time.After(time.Second):
		t.Fatal("listener with overlapping mask was not notified")
	}
}
