package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/onnwee/chat-engine/chat"
)

// HandleStatus reports the connection state for status UIs and reconnect banners.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := map[string]any{
		"state":      chat.StateIdle.String(),
		"connected":  false,
		"room":       "",
		"retryCount": 0,
	}
	if h.session != nil {
		out["state"] = h.session.State().String()
		out["connected"] = h.session.IsConnected()
		out["room"] = h.session.Room()
		out["retryCount"] = h.session.RetryCount()
		if err := h.session.LastError(); err != nil {
			out["lastError"] = err.Error()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// HandleMessages returns the merged in-memory message log for the joined room.
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.session == nil {
		http.Error(w, "no active session", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"room":     h.session.Room(),
		"messages": h.session.Messages(),
	})
}

// HandleSend submits a message to the joined room. Sends are never retried
// server-side; a failed send surfaces to the client for an explicit retry.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.session == nil {
		http.Error(w, "no active session", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	if err := h.session.SendMessage(r.Context(), body.Content); err != nil {
		if errors.Is(err, chat.ErrNotConnected) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
}
