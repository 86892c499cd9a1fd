package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func tokenServer(t *testing.T, handler http.HandlerFunc) *Broker {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Broker{Endpoint: server.URL, HTTPClient: server.Client()}
}

func TestBroker_Issue(t *testing.T) {
	var gotReq map[string]any
	broker := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":                 "tok-abc",
			"sessionExpirationTime": "2030-01-01T00:05:00Z",
			"tokenExpirationTime":   "2030-01-01T01:00:00Z",
		})
	})

	tok, err := broker.Issue(context.Background(), "room-1", User{ID: "u1", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if tok.Token != "tok-abc" {
		t.Errorf("Token = %q, want tok-abc", tok.Token)
	}
	if want := time.Date(2030, 1, 1, 0, 5, 0, 0, time.UTC); !tok.SessionExpirationTime.Equal(want) {
		t.Errorf("SessionExpirationTime = %v, want %v", tok.SessionExpirationTime, want)
	}
	if gotReq["roomId"] != "room-1" || gotReq["userId"] != "u1" {
		t.Errorf("request body = %v, want roomId/userId populated", gotReq)
	}
}

func TestBroker_IssueIncompleteResponse(t *testing.T) {
	cases := map[string]map[string]string{
		"missing token":      {"sessionExpirationTime": "2030-01-01T00:05:00Z", "tokenExpirationTime": "2030-01-01T01:00:00Z"},
		"missing session":    {"token": "tok", "tokenExpirationTime": "2030-01-01T01:00:00Z"},
		"missing expiration": {"token": "tok", "sessionExpirationTime": "2030-01-01T00:05:00Z"},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			broker := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(resp)
			})
			_, err := broker.Issue(context.Background(), "room-1", User{ID: "u1"})
			var ae *AuthError
			if !errors.As(err, &ae) {
				t.Fatalf("Issue() error = %v, want *AuthError", err)
			}
			if !strings.Contains(ae.Reason, "incomplete") {
				t.Errorf("Reason = %q, want incomplete token response", ae.Reason)
			}
		})
	}
}

func TestBroker_IssueEmptyUserID(t *testing.T) {
	broker := &Broker{Endpoint: "http://unused"}
	_, err := broker.Issue(context.Background(), "room-1", User{})
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Issue() error = %v, want *AuthError", err)
	}
}

func TestBroker_IssueServerError(t *testing.T) {
	broker := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	_, err := broker.Issue(context.Background(), "room-1", User{ID: "u1"})
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Issue() error = %v, want *AuthError", err)
	}
}

func TestBroker_IssueNoCaching(t *testing.T) {
	calls := 0
	broker := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":                 "tok",
			"sessionExpirationTime": "2030-01-01T00:05:00Z",
			"tokenExpirationTime":   "2030-01-01T01:00:00Z",
		})
	})
	for i := 0; i < 3; i++ {
		if _, err := broker.Issue(context.Background(), "room-1", User{ID: "u1"}); err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
	}
	if calls != 3 {
		t.Errorf("endpoint called %d times, want 3 (no caching)", calls)
	}
}
