package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/onnwee/chat-engine/message"
	"github.com/onnwee/chat-engine/telemetry"
	"github.com/onnwee/chat-engine/token"
)

// State is the connection lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a connection state change observed by subscribers.
type Status struct {
	State      State
	RetryCount int
	Err        error
}

// TokenSource issues a fresh room-scoped token per connect attempt.
type TokenSource interface {
	Issue(ctx context.Context, roomID string, user token.User) (token.Token, error)
}

// Outbound is a message submitted through the active transport.
type Outbound struct {
	Content         string
	SenderID        string
	DisplayName     string
	ClientTimestamp int64
}

// Options tune the manager. Zero values pick the defaults.
type Options struct {
	// MaxRetries bounds consecutive transport failures before Failed.
	MaxRetries int
	// RetryDelay seeds the reconnect backoff.
	RetryDelay time.Duration
	// Buffer sizes the inbound message channel.
	Buffer int
}

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 3 * time.Second
	defaultBuffer     = 256
)

// Manager owns one room connection and its retry loop.
type Manager struct {
	tokens     TokenSource
	transport  Transport
	maxRetries int
	retryDelay time.Duration

	msgs   chan message.ChatMessage
	status chan Status

	mu         sync.Mutex
	state      State
	retryCount int
	lastErr    error
	roomID     string
	user       token.User
	conn       Conn
	cancel     context.CancelFunc
	done       chan struct{}
	ready      chan error
}

// NewManager builds a manager around a token source and transport.
func NewManager(tokens TokenSource, transport Transport, opts Options) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	return &Manager{
		tokens:     tokens,
		transport:  transport,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		msgs:       make(chan message.ChatMessage, opts.Buffer),
		status:     make(chan Status, 16),
		state:      StateIdle,
	}
}

// Messages delivers validated inbound messages in receipt order.
func (m *Manager) Messages() <-chan message.ChatMessage { return m.msgs }

// Status delivers connection state changes. Slow subscribers miss
// intermediate transitions rather than blocking the connection loop.
func (m *Manager) Status() <-chan Status { return m.status }

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RetryCount reports consecutive transport failures since the last success.
func (m *Manager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// LastError reports the most recent connection error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Room reports the room this manager is bound to.
func (m *Manager) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

// Start begins connecting to a room. Only one attempt may be in flight per
// manager: a second Start while active returns ErrAlreadyActive so callers
// no-op instead of opening a duplicate socket. A manager parked in Failed is
// reset to Idle and started fresh.
func (m *Manager) Start(ctx context.Context, roomID string, user token.User) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateFailed:
	default:
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	// Claim the attempt before releasing the lock: a second Start racing in
	// ahead of the run goroutine must already see Connecting.
	m.state = StateConnecting
	m.roomID = roomID
	m.user = user
	m.retryCount = 0
	m.lastErr = nil
	m.cancel = cancel
	m.done = make(chan struct{})
	m.ready = make(chan error, 1)
	m.mu.Unlock()
	telemetry.SetConnectionState(int(StateConnecting))

	go m.run(runCtx)
	return nil
}

// WaitReady blocks until the first Connected transition or a terminal failure
// of the current attempt. It returns nil once connected.
func (m *Manager) WaitReady(ctx context.Context) error {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	if ready == nil {
		return ErrNotConnected
	}
	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels any pending retry timer, closes the transport, and returns the
// manager to Idle. Messages still buffered from the stopped room are drained
// so they can never leak into a later room's log.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	done := m.done
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	for {
		select {
		case <-m.msgs:
		default:
			m.mu.Lock()
			m.state = StateIdle
			m.cancel = nil
			m.done = nil
			m.mu.Unlock()
			telemetry.SetConnectionState(int(StateIdle))
			return
		}
	}
}

// Send submits one message through the active transport. It requires the
// Connected state and never retries: a retried send can duplicate a message
// that already landed server-side.
func (m *Manager) Send(ctx context.Context, out Outbound) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		telemetry.IncSendFailures()
		return &SendError{Reason: "connection is " + m.state.String(), Err: ErrNotConnected}
	}
	conn := m.conn
	m.mu.Unlock()

	frame, err := json.Marshal(map[string]any{
		"action":    "SEND_MESSAGE",
		"requestId": uuid.New().String(),
		"content":   out.Content,
		"attributes": map[string]string{
			"senderId":        out.SenderID,
			"displayName":     out.DisplayName,
			"clientTimestamp": strconv.FormatInt(out.ClientTimestamp, 10),
		},
	})
	if err != nil {
		telemetry.IncSendFailures()
		return &SendError{Reason: "encode message", Err: err}
	}
	if err := conn.Write(ctx, frame); err != nil {
		// A write failure surfaces to the caller only. If the socket is truly
		// gone, the read loop notices and drives the reconnect path.
		telemetry.IncSendFailures()
		return &SendError{Reason: "transport write", Err: err}
	}
	telemetry.IncMessagesSent()
	return nil
}

func (m *Manager) run(ctx context.Context) {
	m.mu.Lock()
	done := m.done
	roomID := m.roomID
	user := m.user
	m.mu.Unlock()
	defer close(done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.retryDelay

	for {
		m.setStatus(StateConnecting, nil)
		tok, err := m.tokens.Issue(ctx, roomID, user)
		if err != nil {
			if ctx.Err() != nil {
				m.finish(ctx.Err())
				return
			}
			// Token issuance is not retried: a broker rejection will not heal
			// on a timer, and the caller decides whether to join again.
			m.terminalFail(err)
			return
		}
		telemetry.IncTokensIssued()
		conn, err := m.transport.Dial(ctx, roomID, tok.Token)
		if err != nil {
			if ctx.Err() != nil {
				m.finish(ctx.Err())
				return
			}
			if !m.scheduleRetry(ctx, bo, err) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.retryCount = 0
		m.lastErr = nil
		m.mu.Unlock()
		bo.Reset()
		telemetry.IncConnects()
		m.setStatus(StateConnected, nil)
		m.signalReady(nil)

		readErr := m.readLoop(ctx, conn)
		_ = conn.Close()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()

		if ctx.Err() != nil {
			m.finish(nil)
			return
		}
		m.setStatus(StateDisconnected, readErr)
		if !m.scheduleRetry(ctx, bo, readErr) {
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read()
		if err != nil {
			return err
		}
		msg, err := message.Validate(data)
		if err != nil {
			telemetry.IncMessagesDropped()
			slog.Warn("dropping invalid inbound message", slog.String("room", m.Room()), slog.Any("err", err))
			continue
		}
		telemetry.IncMessagesReceived()
		select {
		case m.msgs <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// scheduleRetry counts a transport failure and waits out the backoff delay.
// It returns false when the retry budget is exhausted or the context is
// cancelled, meaning the run loop must exit.
func (m *Manager) scheduleRetry(ctx context.Context, bo *backoff.ExponentialBackOff, cause error) bool {
	m.mu.Lock()
	m.retryCount++
	failures := m.retryCount
	m.mu.Unlock()

	if failures >= m.maxRetries {
		m.terminalFail(&TerminalError{Attempts: failures, Cause: cause})
		return false
	}

	m.setStatus(StateReconnecting, cause)
	telemetry.IncReconnectAttempts()
	delay := bo.NextBackOff()
	if delay <= 0 {
		delay = m.retryDelay
	}
	slog.Info("chat reconnect scheduled",
		slog.String("room", m.Room()),
		slog.Int("failures", failures),
		slog.Duration("delay", delay),
		slog.Any("err", cause))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		m.finish(nil)
		return false
	case <-timer.C:
		return true
	}
}

// finish returns to Idle after a deliberate teardown.
func (m *Manager) finish(cause error) {
	m.setStatus(StateIdle, nil)
	if cause == nil {
		cause = context.Canceled
	}
	m.signalReady(cause)
}

func (m *Manager) terminalFail(err error) {
	slog.Error("chat connection failed", slog.String("room", m.Room()), slog.Any("err", err))
	m.setStatus(StateFailed, err)
	m.signalReady(err)
}

func (m *Manager) setStatus(s State, err error) {
	m.mu.Lock()
	m.state = s
	if err != nil {
		m.lastErr = err
	}
	st := Status{State: s, RetryCount: m.retryCount, Err: err}
	m.mu.Unlock()
	telemetry.SetConnectionState(int(s))
	select {
	case m.status <- st:
	default:
	}
}

func (m *Manager) signalReady(err error) {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	if ready == nil {
		return
	}
	select {
	case ready <- err:
	default:
	}
}
