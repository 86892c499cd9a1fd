package session

import (
	"sort"
	"sync"

	"github.com/onnwee/chat-engine/message"
	"github.com/onnwee/chat-engine/telemetry"
)

// DefaultLogCap bounds how many messages are retained in memory per room.
// Persisted history is not capped at the store level.
const DefaultLogCap = 100

// MessageLog is the merged, ordered, deduplicated message view exposed to the
// consumer. Ordering is append order after merge: the historical seed is
// sorted ascending by client timestamp, live messages follow in receipt order.
// The (id, content) pair is the dedup key; no duplicate pair is ever visible.
type MessageLog struct {
	mu      sync.RWMutex
	cap     int
	entries []message.ChatMessage
	seen    map[message.Key]struct{}
}

// NewMessageLog creates a log with the given retention cap (<=0 uses the default).
func NewMessageLog(capacity int) *MessageLog {
	if capacity <= 0 {
		capacity = DefaultLogCap
	}
	return &MessageLog{
		cap:  capacity,
		seen: make(map[message.Key]struct{}),
	}
}

// Seed loads the historical batch. Records may arrive unordered from the
// store; they are sorted ascending by client timestamp (stable, so store
// insertion order breaks ties) and deduplicated first-occurrence-wins.
func (l *MessageLog) Seed(history []message.ChatMessage) {
	sorted := make([]message.ChatMessage, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ClientTimestamp < sorted[j].ClientTimestamp
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range sorted {
		l.append(msg)
	}
	telemetry.SetLogDepth(len(l.entries))
}

// Ingest appends one live message. A duplicate of an already-visible
// (id, content) pair is a no-op, not an error; Ingest reports whether the
// message was actually appended.
func (l *MessageLog) Ingest(msg message.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	added := l.append(msg)
	telemetry.SetLogDepth(len(l.entries))
	return added
}

// append assumes l.mu is held.
func (l *MessageLog) append(msg message.ChatMessage) bool {
	key := msg.Key()
	if _, dup := l.seen[key]; dup {
		return false
	}
	l.seen[key] = struct{}{}
	l.entries = append(l.entries, msg)
	if len(l.entries) > l.cap {
		evicted := l.entries[0]
		l.entries = l.entries[1:]
		delete(l.seen, evicted.Key())
	}
	return true
}

// Snapshot returns a read-only copy of the current log.
func (l *MessageLog) Snapshot() []message.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]message.ChatMessage, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports how many messages the log currently retains.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
