// Package session composes the chat engine: it owns the room lifecycle,
// merges durable history with the live feed into a single deduplicated log,
// and is the only surface the UI layer talks to.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chat-engine/chat"
	"github.com/onnwee/chat-engine/message"
	"github.com/onnwee/chat-engine/telemetry"
	"github.com/onnwee/chat-engine/token"
)

// MessageStore is the durable store surface the session needs.
type MessageStore interface {
	Append(ctx context.Context, roomID string, msg message.ChatMessage) error
	ListRecent(ctx context.Context, roomID string, limit int) ([]message.ChatMessage, error)
}

// ProfileDirectory resolves a user's chosen display name. The second return
// is false when no profile exists and the guest label applies.
type ProfileDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, bool, error)
}

// JoinError reports a failed room join.
type JoinError struct {
	RoomID string
	Err    error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join room %s failed: %v", e.RoomID, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

// Options tune the session. Zero values pick the defaults.
type Options struct {
	HistoryLimit int // messages loaded from the store on join (default 100)
	LogCap       int // messages retained in memory (default 100)
}

// Session is the facade over the connection manager, durable store, and
// history reconciliation. One session handles exactly one room at a time;
// run multiple sessions for cross-room concurrency.
type Session struct {
	mgr          *chat.Manager
	store        MessageStore
	profiles     ProfileDirectory
	historyLimit int
	logCap       int
	baseCtx      context.Context

	mu         sync.Mutex
	roomID     string
	user       token.User
	log        *MessageLog
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// New builds a session. ctx bounds the whole session lifetime: cancelling it
// tears down the connection and the delivery pump.
func New(ctx context.Context, mgr *chat.Manager, store MessageStore, profiles ProfileDirectory, opts Options) *Session {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultLogCap
	}
	if opts.LogCap <= 0 {
		opts.LogCap = DefaultLogCap
	}
	return &Session{
		mgr:          mgr,
		store:        store,
		profiles:     profiles,
		historyLimit: opts.HistoryLimit,
		logCap:       opts.LogCap,
		baseCtx:      ctx,
	}
}

// JoinRoom connects to a room as the given user and seeds the message log
// from durable history. Joining the room the session is already connected to
// is a no-op; joining a different room tears the previous connection down
// first. JoinRoom returns once the connection is established (or has failed
// terminally), with history seeded and live delivery running.
func (s *Session) JoinRoom(ctx context.Context, roomID string, user token.User) error {
	s.mu.Lock()
	if s.roomID == roomID {
		switch s.mgr.State() {
		case chat.StateConnecting, chat.StateConnected, chat.StateDisconnected, chat.StateReconnecting:
			s.mu.Unlock()
			return nil
		}
	}
	s.teardownLocked()
	log := NewMessageLog(s.logCap)
	s.roomID = roomID
	s.user = user
	s.log = log
	s.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "session", "session.JoinRoom", telemetry.RoomIDAttr(roomID))
	defer span.End()

	start := time.Now()
	if err := s.mgr.Start(s.baseCtx, roomID, user); err != nil {
		telemetry.RecordError(span, err)
		return &JoinError{RoomID: roomID, Err: err}
	}
	if err := s.mgr.WaitReady(ctx); err != nil {
		// A caller timeout leaves the manager mid-attempt and needs a
		// teardown. A terminal failure means the run loop already exited;
		// stopping it would reset the observable Failed state.
		if ctx.Err() != nil {
			s.mgr.Stop()
		}
		telemetry.RecordError(span, err)
		return &JoinError{RoomID: roomID, Err: err}
	}

	s.seed(ctx, log, roomID)

	pumpCtx, cancel := context.WithCancel(s.baseCtx)
	done := make(chan struct{})
	s.mu.Lock()
	s.pumpCancel = cancel
	s.pumpDone = done
	s.mu.Unlock()
	go s.pump(pumpCtx, log, roomID, done)

	if telemetry.JoinDuration != nil {
		telemetry.JoinDuration.Observe(time.Since(start).Seconds())
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// LeaveRoom disconnects and discards the in-memory log. Pending retries are
// cancelled; anything arriving late for the old room is dropped.
func (s *Session) LeaveRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// Close tears the session down.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// SendMessage submits a message to the current room. It requires an active
// connection and never retries on failure; retrying is the caller's call
// because the first attempt may have landed server-side.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	if content == "" {
		return &chat.SendError{Reason: "empty content"}
	}
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if s.mgr.State() != chat.StateConnected {
		telemetry.IncSendFailures()
		return &chat.SendError{Reason: "connection is " + s.mgr.State().String(), Err: chat.ErrNotConnected}
	}
	return s.mgr.Send(ctx, chat.Outbound{
		Content:         content,
		SenderID:        user.ID,
		DisplayName:     s.resolveDisplayName(ctx, user.ID),
		ClientTimestamp: time.Now().UnixMilli(),
	})
}

// IsConnected reports whether the connection is currently established.
func (s *Session) IsConnected() bool {
	return s.mgr.State() == chat.StateConnected
}

// State reports the connection state for status UIs.
func (s *Session) State() chat.State { return s.mgr.State() }

// Room reports the currently joined room id, empty when idle.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// LastError reports the most recent connection error.
func (s *Session) LastError() error { return s.mgr.LastError() }

// RetryCount reports consecutive transport failures since the last success.
func (s *Session) RetryCount() int { return s.mgr.RetryCount() }

// Status delivers connection state change notifications.
func (s *Session) Status() <-chan chat.Status { return s.mgr.Status() }

// Messages returns a read-only snapshot of the merged message log.
func (s *Session) Messages() []message.ChatMessage {
	s.mu.Lock()
	log := s.log
	s.mu.Unlock()
	if log == nil {
		return []message.ChatMessage{}
	}
	return log.Snapshot()
}

// seed loads recent history into the log. A store failure costs history, not
// the join: the session starts with whatever loaded, possibly nothing.
func (s *Session) seed(ctx context.Context, log *MessageLog, roomID string) {
	var history []message.ChatMessage
	var err error
	telemetry.TimeFunc(telemetry.SeedDuration, func() {
		history, err = s.store.ListRecent(ctx, roomID, s.historyLimit)
	})
	if err != nil {
		telemetry.IncPersistFailures()
		slog.Warn("history load failed; starting with empty log", slog.String("room", roomID), slog.Any("err", err))
		return
	}
	log.Seed(history)
	slog.Info("history seeded", slog.String("room", roomID), slog.Int("messages", log.Len()))
}

// pump moves live messages from the connection manager into the store and the
// log, one at a time, preserving arrival order. Persistence failures are
// logged and never block delivery.
func (s *Session) pump(ctx context.Context, log *MessageLog, roomID string, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.mgr.Messages():
			if err := s.store.Append(ctx, roomID, msg); err != nil {
				telemetry.IncPersistFailures()
				slog.Warn("message persist failed", slog.String("room", roomID), slog.String("message_id", msg.ID), slog.Any("err", err))
			} else {
				telemetry.IncMessagesPersisted()
			}
			log.Ingest(msg)
		}
	}
}

func (s *Session) resolveDisplayName(ctx context.Context, userID string) string {
	if s.profiles != nil {
		name, ok, err := s.profiles.DisplayName(ctx, userID)
		if err != nil {
			slog.Warn("profile lookup failed", slog.String("user", userID), slog.Any("err", err))
		} else if ok {
			return name
		}
	}
	return message.GuestLabel(userID)
}

// teardownLocked assumes s.mu is held.
func (s *Session) teardownLocked() {
	if s.pumpCancel != nil {
		s.pumpCancel()
	}
	if s.pumpDone != nil {
		<-s.pumpDone
	}
	s.pumpCancel = nil
	s.pumpDone = nil
	s.mgr.Stop()
	s.roomID = ""
	s.log = nil
}
