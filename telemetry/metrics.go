// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesReceived  prometheus.Counter
	MessagesDropped   prometheus.Counter
	MessagesPersisted prometheus.Counter
	PersistFailures   prometheus.Counter
	MessagesSent      prometheus.Counter
	SendFailures      prometheus.Counter
	Connects          prometheus.Counter
	ReconnectAttempts prometheus.Counter
	TokensIssued      prometheus.Counter

	// Histograms (seconds)
	SeedDuration prometheus.Observer
	JoinDuration prometheus.Observer

	// Gauges
	ConnectionStateGauge prometheus.Gauge // numeric connection state
	LogDepthGauge        prometheus.Gauge // messages retained in memory
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_received_total", Help: "Validated inbound chat messages"})
		MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_dropped_total", Help: "Inbound payloads dropped by schema validation"})
		MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_persisted_total", Help: "Messages written to the durable store"})
		PersistFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_persist_failures_total", Help: "Durable writes that failed (delivery continued)"})
		MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_sent_total", Help: "Outgoing messages accepted by the transport"})
		SendFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_send_failures_total", Help: "Outgoing messages rejected or attempted while disconnected"})
		Connects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_connects_total", Help: "Successful transport handshakes"})
		ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_reconnect_attempts_total", Help: "Reconnect attempts scheduled after transport failures"})
		TokensIssued = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_tokens_issued_total", Help: "Chat tokens issued by the credential broker"})
		SeedDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_seed_duration_seconds", Help: "History seed duration seconds", Buckets: prometheus.DefBuckets})
		JoinDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_join_duration_seconds", Help: "Room join duration seconds", Buckets: prometheus.DefBuckets})
		ConnectionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_connection_state", Help: "Connection state: 0=idle 1=connecting 2=connected 3=disconnected 4=reconnecting 5=failed"})
		LogDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_log_depth", Help: "Messages currently retained in the in-memory log"})
	})
}

// The increment helpers are nil-safe so library code can run without Init.

func IncMessagesReceived() {
	if MessagesReceived != nil {
		MessagesReceived.Inc()
	}
}

func IncMessagesDropped() {
	if MessagesDropped != nil {
		MessagesDropped.Inc()
	}
}

func IncMessagesPersisted() {
	if MessagesPersisted != nil {
		MessagesPersisted.Inc()
	}
}

func IncPersistFailures() {
	if PersistFailures != nil {
		PersistFailures.Inc()
	}
}

func IncMessagesSent() {
	if MessagesSent != nil {
		MessagesSent.Inc()
	}
}

func IncSendFailures() {
	if SendFailures != nil {
		SendFailures.Inc()
	}
}

func IncConnects() {
	if Connects != nil {
		Connects.Inc()
	}
}

func IncReconnectAttempts() {
	if ReconnectAttempts != nil {
		ReconnectAttempts.Inc()
	}
}

func IncTokensIssued() {
	if TokensIssued != nil {
		TokensIssued.Inc()
	}
}

// SetConnectionState records the numeric connection state.
func SetConnectionState(s int) {
	if ConnectionStateGauge != nil {
		ConnectionStateGauge.Set(float64(s))
	}
}

// SetLogDepth records the in-memory log size.
func SetLogDepth(n int) {
	if LogDepthGauge != nil {
		LogDepthGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
