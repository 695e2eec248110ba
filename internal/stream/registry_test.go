package stream

import "testing"

func TestRegistryInsertRemove(t *testing.T) {
	r := NewRegistry()
	if !r.IsEmpty() {
		t.Fatal("new registry should be empty")
	}

	s1 := NewSession(fakeHandle{}, true)
	s2 := NewSession(fakeHandle{}, false)

	if !r.Insert(s1) || !r.Insert(s2) {
		t.Fatal("Insert should succeed on an open registry")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	if r.ICYCount() != 1 {
		t.Errorf("ICYCount() = %d, want 1", r.ICYCount())
	}
	if r.IsEmpty() {
		t.Error("registry with sessions should not report empty")
	}

	r.RemoveByID(s1.ID)
	if r.Len() != 1 {
		t.Errorf("Len() after remove = %d, want 1", r.Len())
	}
	if r.ICYCount() != 0 {
		t.Errorf("ICYCount() after removing the icy session = %d, want 0", r.ICYCount())
	}

	// Removing an already-removed session is a silent no-op.
	r.RemoveByID(s1.ID)
	if r.Len() != 1 {
		t.Errorf("double removal changed Len() to %d, want 1", r.Len())
	}
}

func TestRegistryIterateOrderAndIsLast(t *testing.T) {
	r := NewRegistry()
	s1 := NewSession(fakeHandle{}, false)
	s2 := NewSession(fakeHandle{}, false)
	s3 := NewSession(fakeHandle{}, false)
	r.Insert(s1)
	r.Insert(s2)
	r.Insert(s3)

	var visited []int
	var lastSeen int
	r.Iterate(func(s *Session, isLast bool) {
		visited = append(visited, 1)
		if isLast {
			lastSeen++
		}
	})
	if len(visited) != 3 {
		t.Errorf("visited %d sessions, want 3", len(visited))
	}
	if lastSeen != 1 {
		t.Errorf("isLast fired %d times, want exactly 1", lastSeen)
	}
}

func TestRegistryDrainAllClosesSessionsAndEmpties(t *testing.T) {
	r := NewRegistry()
	s1 := NewSession(fakeHandle{}, true)
	s2 := NewSession(fakeHandle{}, false)
	r.Insert(s1)
	r.Insert(s2)

	drained := r.DrainAll()
	if len(drained) != 2 {
		t.Errorf("DrainAll returned %d sessions, want 2", len(drained))
	}
	if !r.IsEmpty() {
		t.Error("registry should be empty after DrainAll")
	}

	for _, s := range []*Session{s1, s2} {
		select {
		case <-s.Done():
		default:
			t.Errorf("session %s Done() should be closed after DrainAll", s.ID)
		}
	}
}

func TestRegistryRemoveByIDClosesSessionDone(t *testing.T) {
	r := NewRegistry()
	s := NewSession(fakeHandle{}, false)
	r.Insert(s)

	r.RemoveByID(s.ID)
	select {
	case <-s.Done():
	default:
		t.Error("session Done() should be closed after RemoveByID")
	}

	// Removing an already-removed session must not panic on a double close.
	r.RemoveByID(s.ID)
}

func TestRegistryInsertAfterClose(t *testing.T) {
	r := NewRegistry()
	r.Close()
	if r.Insert(NewSession(fakeHandle{}, false)) {
		t.Error("Insert after Close should return false")
	}
}
