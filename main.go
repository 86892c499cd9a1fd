// Command chat-engine is the main entrypoint for the chat session service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the token broker, websocket transport, connection manager, and
//     session facade, optionally auto-joining a configured room.
//   - Exposes an HTTP server with health, status, message, and room endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chat-engine/chat"
	"github.com/onnwee/chat-engine/config"
	"github.com/onnwee/chat-engine/server"
	"github.com/onnwee/chat-engine/session"
	"github.com/onnwee/chat-engine/store"
	"github.com/onnwee/chat-engine/telemetry"
	"github.com/onnwee/chat-engine/token"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-engine", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := store.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := store.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Chat wiring: token broker -> websocket transport -> connection manager
	// -> session facade. The session exists even without chat creds so the
	// HTTP surface stays up; joining just fails until they are configured.
	broker := &token.Broker{Endpoint: cfg.TokenEndpoint}
	transport := &chat.WSTransport{
		URL:          cfg.WSURL,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.SendTimeout,
	}
	mgr := chat.NewManager(broker, transport, chat.Options{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	})
	st := store.New(database)
	sess := session.New(ctx, mgr, st, st, session.Options{
		HistoryLimit: cfg.HistoryLimit,
		LogCap:       cfg.LogCap,
	})
	defer sess.Close()

	// Auto-join the configured room when chat creds are present.
	if cfg.RoomID != "" {
		if err := cfg.ValidateChatReady(); err != nil {
			slog.Warn("room configured but chat not ready, skipping auto-join", slog.Any("err", err))
		} else {
			if err := st.UpsertRoom(ctx, store.Room{RoomID: cfg.RoomID, DisplayName: cfg.RoomID, IsActive: true}); err != nil {
				slog.Warn("room upsert failed", slog.String("room", cfg.RoomID), slog.Any("err", err))
			}
			joinCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := sess.JoinRoom(joinCtx, cfg.RoomID, token.User{ID: cfg.UserID, DisplayName: cfg.UserName})
			cancel()
			if err != nil {
				slog.Error("auto-join failed", slog.String("room", cfg.RoomID), slog.Any("err", err))
			} else {
				slog.Info("joined room", slog.String("room", cfg.RoomID), slog.Int("history", len(sess.Messages())))
			}
		}
	} else {
		slog.Info("no CHAT_ROOM_ID configured, waiting for API-driven joins")
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/messages/rooms/metrics)
	go func() {
		if err := server.Start(ctx, database, sess, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
