package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chat-engine/chat"
	"github.com/onnwee/chat-engine/message"
	"github.com/onnwee/chat-engine/token"
)

// NewMockTokenServer creates a token endpoint that issues well-formed chat
// tokens, wrapped in a Broker pointed at it.
func NewMockTokenServer(t *testing.T) *token.Broker {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":                 "test-token",
			"sessionExpirationTime": time.Now().Add(5 * time.Minute).Format(time.RFC3339),
			"tokenExpirationTime":   time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	}))
	t.Cleanup(server.Close)
	return &token.Broker{Endpoint: server.URL, HTTPClient: server.Client()}
}

// StaticTokens is a TokenSource that never touches the network.
type StaticTokens struct{}

func (StaticTokens) Issue(ctx context.Context, roomID string, user token.User) (token.Token, error) {
	return token.Token{
		Token:                 "static-token",
		SessionExpirationTime: time.Now().Add(5 * time.Minute),
		TokenExpirationTime:   time.Now().Add(time.Hour),
	}, nil
}

// FakeConn is a scriptable chat.Conn: tests push frames into Inbound and
// inspect what was written with Sent.
type FakeConn struct {
	Inbound chan []byte

	mu        sync.Mutex
	sent      [][]byte
	closed    chan struct{}
	closeOnce sync.Once
}

func NewFakeConn() *FakeConn {
	return &FakeConn{Inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *FakeConn) Read() ([]byte, error) {
	select {
	case data := <-c.Inbound:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *FakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Drop simulates a transport-level connection loss.
func (c *FakeConn) Drop() { _ = c.Close() }

// Sent returns a copy of all frames written so far.
func (c *FakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// FakeTransport hands out FakeConns, optionally failing the first FailDials
// attempts (or all of them when FailDials is -1).
type FakeTransport struct {
	FailDials int

	mu    sync.Mutex
	dials int
	conns []*FakeConn
}

func (t *FakeTransport) Dial(ctx context.Context, roomID, tok string) (chat.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.FailDials == -1 || t.dials <= t.FailDials {
		return nil, errors.New("dial refused")
	}
	c := NewFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

// Dials reports how many dial attempts were made.
func (t *FakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// LastConn returns the most recently established connection, or nil.
func (t *FakeTransport) LastConn() *FakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// MemStore is an in-memory MessageStore for tests that don't need Postgres.
type MemStore struct {
	mu       sync.Mutex
	rooms    map[string][]message.ChatMessage
	failNext error
}

func NewMemStore() *MemStore {
	return &MemStore{rooms: make(map[string][]message.ChatMessage)}
}

// Fail makes the next Append or ListRecent return err, once.
func (s *MemStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *MemStore) Append(ctx context.Context, roomID string, msg message.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	for _, existing := range s.rooms[roomID] {
		if existing.ID == msg.ID {
			return nil
		}
	}
	s.rooms[roomID] = append(s.rooms[roomID], msg)
	return nil
}

func (s *MemStore) ListRecent(ctx context.Context, roomID string, limit int) ([]message.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	msgs := s.rooms[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]message.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Seed pre-populates a room's history.
func (s *MemStore) Seed(roomID string, msgs ...message.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = append(s.rooms[roomID], msgs...)
}

// Stored returns a copy of what has been persisted for a room.
func (s *MemStore) Stored(roomID string) []message.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.ChatMessage, len(s.rooms[roomID]))
	copy(out, s.rooms[roomID])
	return out
}

// StaticProfiles is a ProfileDirectory backed by a map.
type StaticProfiles map[string]string

func (p StaticProfiles) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	name, ok := p[userID]
	return name, ok, nil
}
