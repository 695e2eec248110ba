package stream

import (
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// responseHandle is the HTTP chunked-reply sink owned by one session: an
// io.Writer that can also be asked to flush immediately.
type responseHandle interface {
	io.Writer
	http.Flusher
}

// Session is one active HTTP client receiving the broadcast. Lifetime:
// created on GET /stream.mp3, destroyed on client disconnect or engine
// teardown. A session's responseHandle is never touched after it has been
// removed from the Registry.
type Session struct {
	ID     uuid.UUID
	handle responseHandle
	icy    bool

	// bytesSent is a modulo counter of audio bytes sent since the last ICY
	// metablock (or since creation for non-ICY sessions); it wraps via
	// % ICYMetaInt.
	bytesSent int

	// done is closed when the registry drops this session (client
	// disconnect or engine teardown), so the HTTP handler blocked on
	// c.Request.Context().Done() has a second way to notice and return.
	done     chan struct{}
	closeOne sync.Once
}

// NewSession creates a Session bound to the given response handle. icy is
// fixed at creation from the Icy-MetaData request header.
func NewSession(handle responseHandle, icy bool) *Session {
	return &Session{
		ID:     uuid.New(),
		handle: handle,
		icy:    icy,
		done:   make(chan struct{}),
	}
}

// Done returns a channel closed once this session is removed from the
// registry, whatever the reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close signals Done. Safe to call more than once or concurrently.
func (s *Session) Close() {
	s.closeOne.Do(func() { close(s.done) })
}

// write sends a chunk to the client and flushes it immediately, matching the
// chunked-transfer streaming contract.
func (s *Session) write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if _, err := s.handle.Write(b); err != nil {
		return err
	}
	s.handle.Flush()
	return nil
}
