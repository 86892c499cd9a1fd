// Package token implements the credential broker: it exchanges an
// authenticated identity for a short-lived chat token scoped to one room and
// one user. Tokens are never cached; they are short-lived and non-renewable in
// place, so every connection attempt asks for a fresh one.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// User identifies the caller requesting a token.
type User struct {
	ID          string
	DisplayName string
}

// Token is the capability required to open a room connection.
type Token struct {
	Token                 string
	SessionExpirationTime time.Time
	TokenExpirationTime   time.Time
}

// AuthError reports a failed or incomplete token issuance. It is fatal to the
// join attempt that triggered it; the engine never retries issuance on its own.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat token issuance failed: %s: %v", e.Reason, e.Err)
	}
	return "chat token issuance failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// Broker issues chat tokens from a remote token endpoint.
type Broker struct {
	Endpoint   string
	HTTPClient *http.Client
}

type issueRequest struct {
	RoomID       string   `json:"roomId"`
	UserID       string   `json:"userId"`
	DisplayName  string   `json:"displayName,omitempty"`
	Capabilities []string `json:"capabilities"`
}

type issueResponse struct {
	Token                 string `json:"token"`
	SessionExpirationTime string `json:"sessionExpirationTime"`
	TokenExpirationTime   string `json:"tokenExpirationTime"`
}

// Issue requests a token scoped to (roomID, user). Any missing field in the
// broker's response is a hard failure; a partially-populated token is never
// returned.
func (b *Broker) Issue(ctx context.Context, roomID string, user User) (Token, error) {
	if user.ID == "" {
		return Token{}, &AuthError{Reason: "user id is required"}
	}
	if roomID == "" {
		return Token{}, &AuthError{Reason: "room id is required"}
	}
	if b.Endpoint == "" {
		return Token{}, &AuthError{Reason: "token endpoint not configured"}
	}

	body, err := json.Marshal(issueRequest{
		RoomID:       roomID,
		UserID:       user.ID,
		DisplayName:  user.DisplayName,
		Capabilities: []string{"SEND_MESSAGE"},
	})
	if err != nil {
		return Token{}, &AuthError{Reason: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Token{}, &AuthError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	hc := b.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Token{}, &AuthError{Reason: "token request", Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return Token{}, &AuthError{Reason: fmt.Sprintf("token endpoint returned %s: %s", resp.Status, string(b))}
	}

	var ir issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return Token{}, &AuthError{Reason: "decode response", Err: err}
	}
	if ir.Token == "" || ir.SessionExpirationTime == "" || ir.TokenExpirationTime == "" {
		return Token{}, &AuthError{Reason: "incomplete token response"}
	}
	sessExp, err := time.Parse(time.RFC3339, ir.SessionExpirationTime)
	if err != nil {
		return Token{}, &AuthError{Reason: "invalid sessionExpirationTime", Err: err}
	}
	tokExp, err := time.Parse(time.RFC3339, ir.TokenExpirationTime)
	if err != nil {
		return Token{}, &AuthError{Reason: "invalid tokenExpirationTime", Err: err}
	}
	return Token{Token: ir.Token, SessionExpirationTime: sessExp, TokenExpirationTime: tokExp}, nil
}
