package stream

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// expiresLiteral is the literal Expires header value from the reference
// design — a fixed date in the past, forcing clients to never cache the
// stream.
const expiresLiteral = "Mon, 31 Aug 2015 06:00:00 GMT"

// Handler serves GET /stream.mp3: registers a session, sets the response
// headers, and relays chunks until the client disconnects.
type Handler struct {
	engine     *Engine
	maxClients int
	version    string
}

// NewHandler builds a stream Handler bound to engine. maxClients <= 0 means
// unlimited.
func NewHandler(engine *Engine, maxClients int, version string) *Handler {
	return &Handler{engine: engine, maxClients: maxClients, version: version}
}

// ServeHTTP implements the gin handler for GET /stream.mp3.
func (h *Handler) ServeHTTP(c *gin.Context) {
	if h.engine.NotSupported() {
		c.Status(http.StatusNotFound)
		return
	}
	if h.maxClients > 0 && h.engine.ActiveClients() >= h.maxClients {
		c.String(http.StatusServiceUnavailable, "station is at capacity")
		return
	}

	icy := c.GetHeader("Icy-MetaData") == "1"

	w := c.Writer
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Server", "denpa-radio/"+h.version)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", expiresLiteral)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	if icy {
		w.Header().Set("icy-name", h.engine.StationName())
		w.Header().Set("icy-metaint", strconv.Itoa(h.engine.icyMetaInt))
	}
	w.WriteHeader(http.StatusOK)
	w.Flush()

	session, err := h.engine.Subscribe(w, icy)
	if err != nil {
		slog.Warn("stream subscribe rejected", "error", err)
		return
	}
	defer h.engine.Unsubscribe(session.ID)

	slog.Info("stream client connected", "session", session.ID, "icy", icy)
	select {
	case <-c.Request.Context().Done():
	case <-session.Done():
	}
	slog.Info("stream client disconnected", "session", session.ID)
}
