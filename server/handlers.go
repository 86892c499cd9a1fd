// Package server exposes the HTTP API: health, status, metrics, the message
// snapshot, send, and room history endpoints used by the frontend. It includes
// permissive CORS for development and injects correlation IDs into request
// contexts for consistent logging.
package server

import (
	"context"
	"database/sql"

	"github.com/onnwee/chat-engine/session"
	"github.com/onnwee/chat-engine/store"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db      *sql.DB
	store   *store.Store
	session *session.Session
	ctx     context.Context
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, sess *session.Session) *Handlers {
	return &Handlers{
		db:      db,
		store:   store.New(db),
		session: sess,
		ctx:     ctx,
	}
}
