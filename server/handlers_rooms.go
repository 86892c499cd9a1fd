package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// HandleRoomsList returns known rooms with activity metadata.
func (h *Handlers) HandleRoomsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rooms, err := h.store.ListRooms(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rooms)
}

// HandleRoomsDispatcher routes requests under /rooms/{id}/* to appropriate sub-handlers.
func (h *Handlers) HandleRoomsDispatcher(w http.ResponseWriter, r *http.Request) {
	// crude routing
	path := strings.TrimPrefix(r.URL.Path, "/rooms/")
	parts := strings.Split(path, "/")
	roomID := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	switch {
	case roomID == "" || roomID == "/":
		http.NotFound(w, r)
	case tail == "chat":
		h.handleChatJSON(w, r, roomID)
	case tail == "chat/stream":
		h.handleChatSSE(w, r, roomID)
	default:
		http.NotFound(w, r)
	}
}

// handleChatJSON returns persisted messages for a room within an optional time range.
func (h *Handlers) handleChatJSON(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Params: from, to (epoch millis), limit (default 1000)
	from := parseInt64Query(r, "from", 0)
	to := parseInt64Query(r, "to", 0)
	limit := parseIntQuery(r, "limit", 1000)
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	msgs, err := h.store.ListRange(r.Context(), roomID, from, to, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msgs)
}

// handleChatSSE replays persisted messages using Server-Sent Events at a
// given playback speed, pacing events by client timestamp deltas.
func (h *Handlers) handleChatSSE(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	from := parseInt64Query(r, "from", 0)
	speed := parseFloat64Query(r, "speed", 1.0)
	if speed <= 0 {
		speed = 1.0
	}
	limit := parseIntQuery(r, "limit", 1000)
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	ctx := r.Context()
	msgs, err := h.store.ListRange(ctx, roomID, from, 0, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	prev := from
	enc := json.NewEncoder(w)
	for _, m := range msgs {
		// sleep for the delta scaled by speed
		if m.ClientTimestamp > prev && prev > 0 {
			delay := time.Duration(float64(m.ClientTimestamp-prev) / speed * float64(time.Millisecond))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		// write SSE event
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if err := enc.Encode(m); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return
		}
		flusher.Flush()
		prev = m.ClientTimestamp
	}
}
