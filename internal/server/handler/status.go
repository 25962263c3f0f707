package handler

import (
	"net/http"
	"time"
)

// FeedStats is the feed surface shown on the status endpoint.
type FeedStats interface {
	Connected() bool
	Ticks() int64
}

// SessionCounter reports open sessions.
type SessionCounter interface {
	Count() int
}

// StatusHandler serves process status for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	feed      FeedStats
	sessions  SessionCounter
}

// NewStatusHandler creates a StatusHandler. feed and sessions may be nil.
func NewStatusHandler(mode string, startedAt time.Time, feed FeedStats, sessions SessionCounter) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, feed: feed, sessions: sessions}
}

// GetStatus reports mode, uptime, feed and session counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.feed != nil {
		body["feed_connected"] = h.feed.Connected()
		body["feed_ticks"] = h.feed.Ticks()
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions.Count()
	}
	writeJSON(w, http.StatusOK, body)
}
