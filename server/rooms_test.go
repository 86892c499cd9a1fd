package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-engine/message"
	"github.com/onnwee/chat-engine/store"
	"github.com/onnwee/chat-engine/testutil"
)

// seedRoom persists n messages with ascending timestamps and returns the room id.
func seedRoom(t *testing.T, s *store.Store, n int) string {
	t.Helper()
	room := "test-room-" + uuid.New().String()
	for i := 1; i <= n; i++ {
		msg := message.ChatMessage{
			ID:              fmt.Sprintf("m%d", i),
			Content:         fmt.Sprintf("message %d", i),
			SenderID:        "u1",
			DisplayName:     "Guest u1",
			ClientTimestamp: int64(i * 100),
		}
		if err := s.Append(context.Background(), room, msg); err != nil {
			t.Fatalf("append m%d: %v", i, err)
		}
	}
	return room
}

func TestRoomsListEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db)
	room := "test-room-" + uuid.New().String()
	if err := s.UpsertRoom(context.Background(), store.Room{RoomID: room, DisplayName: "Listed", IsActive: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	handler := NewMux(context.Background(), db, nil)
	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("rooms status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	var rooms []store.Room
	if err := json.NewDecoder(w.Result().Body).Decode(&rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, r := range rooms {
		if r.RoomID == room {
			return
		}
	}
	t.Errorf("room %s missing from listing", room)
}

func TestRoomChatHistoryEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	room := seedRoom(t, store.New(db), 5)

	handler := NewMux(context.Background(), db, nil)
	req := httptest.NewRequest(http.MethodGet, "/rooms/"+room+"/chat?from=200&to=400", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	var msgs []message.ChatMessage
	if err := json.NewDecoder(w.Result().Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages in [200,400], got %d", len(msgs))
	}
	if msgs[0].ID != "m2" || msgs[2].ID != "m4" {
		t.Errorf("unexpected range: %q .. %q", msgs[0].ID, msgs[2].ID)
	}
}

func TestRoomChatHistoryUnknownRoom(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := NewMux(context.Background(), db, nil)

	req := httptest.NewRequest(http.MethodGet, "/rooms/test-room-"+uuid.New().String()+"/chat", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	var msgs []message.ChatMessage
	if err := json.NewDecoder(w.Result().Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty history, got %d messages", len(msgs))
	}
}

func TestRoomsDispatcherNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := NewMux(context.Background(), db, nil)

	for _, path := range []string{"/rooms//chat", "/rooms/abc/unknown"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Result().StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want %d", path, w.Result().StatusCode, http.StatusNotFound)
		}
	}
}

func TestRoomChatSSEReplay(t *testing.T) {
	db := testutil.SetupTestDB(t)
	room := seedRoom(t, store.New(db), 3)

	handler := NewMux(context.Background(), db, nil)
	// High speed makes 100ms gaps negligible in test time.
	req := httptest.NewRequest(http.MethodGet, "/rooms/"+room+"/chat/stream?speed=1000", nil)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(w, req)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SSE replay did not finish")
	}

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	var events []message.ChatMessage
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var m message.ChatMessage
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		events = append(events, m)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, wantID := range []string{"m1", "m2", "m3"} {
		if events[i].ID != wantID {
			t.Errorf("event %d: expected %q, got %q", i, wantID, events[i].ID)
		}
	}
}

func TestRoomChatSSEFromOffset(t *testing.T) {
	db := testutil.SetupTestDB(t)
	room := seedRoom(t, store.New(db), 5)

	handler := NewMux(context.Background(), db, nil)
	req := httptest.NewRequest(http.MethodGet, "/rooms/"+room+"/chat/stream?from=300&speed=1000", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Contains(body, `"m1"`) || strings.Contains(body, `"m2"`) {
		t.Errorf("events before offset leaked into stream: %s", body)
	}
	if !strings.Contains(body, `"m3"`) || !strings.Contains(body, `"m5"`) {
		t.Errorf("expected m3..m5 in stream: %s", body)
	}
}
