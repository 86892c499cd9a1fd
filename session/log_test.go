package session

import (
	"fmt"
	"testing"

	"github.com/onnwee/chat-engine/message"
)

func msg(id, content string, ts int64) message.ChatMessage {
	return message.ChatMessage{ID: id, Content: content, SenderID: "u1", DisplayName: "Guest u1", ClientTimestamp: ts}
}

func TestMessageLog_SeedSortsByClientTimestamp(t *testing.T) {
	log := NewMessageLog(10)
	log.Seed([]message.ChatMessage{
		msg("c", "third", 3),
		msg("a", "first", 1),
		msg("b", "second", 2),
	})

	got := log.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, wantID := range []string{"a", "b", "c"} {
		if got[i].ID != wantID {
			t.Errorf("position %d: expected id %q, got %q", i, wantID, got[i].ID)
		}
	}
}

func TestMessageLog_SeedStableOnEqualTimestamps(t *testing.T) {
	log := NewMessageLog(10)
	log.Seed([]message.ChatMessage{
		msg("a", "one", 5),
		msg("b", "two", 5),
		msg("c", "three", 5),
	})

	got := log.Snapshot()
	for i, wantID := range []string{"a", "b", "c"} {
		if got[i].ID != wantID {
			t.Errorf("position %d: expected id %q, got %q", i, wantID, got[i].ID)
		}
	}
}

func TestMessageLog_DedupAcrossSeedAndLive(t *testing.T) {
	log := NewMessageLog(10)
	log.Seed([]message.ChatMessage{msg("a", "hi", 1)})

	if added := log.Ingest(msg("a", "hi", 1)); added {
		t.Error("duplicate (id, content) pair should not be appended")
	}
	if added := log.Ingest(msg("b", "yo", 2)); !added {
		t.Error("new message should be appended")
	}
	if got := log.Len(); got != 2 {
		t.Fatalf("expected exactly 2 messages, got %d", got)
	}
}

func TestMessageLog_SameIDDifferentContentIsDistinct(t *testing.T) {
	log := NewMessageLog(10)
	log.Ingest(msg("a", "hello", 1))
	if added := log.Ingest(msg("a", "edited", 2)); !added {
		t.Error("same id with different content should be a distinct entry")
	}
	if got := log.Len(); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
}

func TestMessageLog_FirstSeenWins(t *testing.T) {
	log := NewMessageLog(10)
	log.Ingest(message.ChatMessage{ID: "a", Content: "hi", DisplayName: "First", ClientTimestamp: 1})
	log.Ingest(message.ChatMessage{ID: "a", Content: "hi", DisplayName: "Second", ClientTimestamp: 2})

	got := log.Snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].DisplayName != "First" {
		t.Errorf("expected first occurrence retained, got display name %q", got[0].DisplayName)
	}
}

func TestMessageLog_CapEvictsOldest(t *testing.T) {
	log := NewMessageLog(3)
	for i := 1; i <= 5; i++ {
		log.Ingest(msg(fmt.Sprintf("m%d", i), "x", int64(i)))
	}
	got := log.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(got))
	}
	for i, wantID := range []string{"m3", "m4", "m5"} {
		if got[i].ID != wantID {
			t.Errorf("position %d: expected id %q, got %q", i, wantID, got[i].ID)
		}
	}

	// Eviction frees the dedup slot: an evicted message may reappear.
	if added := log.Ingest(msg("m1", "x", 1)); !added {
		t.Error("evicted message should be ingestible again")
	}
}

func TestMessageLog_SnapshotIsACopy(t *testing.T) {
	log := NewMessageLog(10)
	log.Ingest(msg("a", "hi", 1))

	snap := log.Snapshot()
	snap[0].Content = "mutated"

	if got := log.Snapshot()[0].Content; got != "hi" {
		t.Errorf("snapshot mutation leaked into the log: %q", got)
	}
}
