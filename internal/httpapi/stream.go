package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"votechain.org/internal/obs"
)

// Stream sends every recorded vote to the client as a Server-Sent Event.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.deps.Stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "streaming disabled")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, r, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	rc := http.NewResponseController(w)
	// The server-wide write timeout would cut subscribers off.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		obs.Warn("stream_deadline_unsupported", map[string]any{"error": err.Error()})
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := a.deps.Stream.Subscribe(r.Context())

	_, _ = w.Write([]byte(": stream started\n\n"))
	_ = rc.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: vote\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		_ = rc.Flush()
	}
}
