// Package message defines the validated chat message model and the schema
// normalization applied to every inbound payload, whether it arrives from the
// live socket or from a persisted history row. Both sources reduce to the same
// ChatMessage shape so the rest of the engine never sees a raw payload.
package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// AnonymousSender is the sender id substituted when a payload carries none.
const AnonymousSender = "anonymous"

// ChatMessage is a validated chat event.
type ChatMessage struct {
	ID              string            `json:"id"`
	Content         string            `json:"content"`
	SenderID        string            `json:"senderId"`
	DisplayName     string            `json:"displayName"`
	ClientTimestamp int64             `json:"clientTimestamp"` // epoch millis
	Attributes      map[string]string `json:"attributes"`
	// Extra holds unrecognized top-level payload fields. The schema is
	// additive, not closed; newer backends may attach fields older engines
	// don't model yet, and they must survive a round trip.
	Extra map[string]any `json:"extra,omitempty"`
}

// Key is the dedup identity of a message: two records sharing id and content
// are the same logical message.
type Key struct {
	ID      string
	Content string
}

// Key returns the message's dedup key.
func (m ChatMessage) Key() Key { return Key{ID: m.ID, Content: m.Content} }

// ValidationError reports a payload that failed schema validation. It is
// recovered locally: the message is dropped and processing continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid chat message: field %s %s", e.Field, e.Reason)
}

// Validate parses a raw JSON payload and normalizes it into a ChatMessage.
func Validate(raw []byte) (ChatMessage, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ChatMessage{}, &ValidationError{Field: "payload", Reason: "is not a JSON object: " + err.Error()}
	}
	return ValidateMap(payload)
}

// ValidateMap normalizes an already-decoded payload. Required fields are id
// and content; everything else defaults. Sender identity may arrive flat
// (senderId/displayName at the top level, as persisted rows do) or nested
// (sender.userId plus attributes.senderId, as the live socket delivers it).
func ValidateMap(payload map[string]any) (ChatMessage, error) {
	id, ok := stringField(payload, "id")
	if !ok || id == "" {
		return ChatMessage{}, &ValidationError{Field: "id", Reason: "is required"}
	}
	content, ok := stringField(payload, "content")
	if !ok || content == "" {
		return ChatMessage{}, &ValidationError{Field: "content", Reason: "is required"}
	}

	msg := ChatMessage{
		ID:         id,
		Content:    content,
		Attributes: map[string]string{},
	}

	var tsRaw any
	if attrs, ok := payload["attributes"].(map[string]any); ok {
		for k, v := range attrs {
			switch k {
			case "senderId":
				if s, ok := v.(string); ok {
					msg.SenderID = s
				}
			case "displayName":
				if s, ok := v.(string); ok {
					msg.DisplayName = s
				}
			case "clientTimestamp":
				tsRaw = v
			default:
				msg.Attributes[k] = fmt.Sprintf("%v", v)
			}
		}
	}
	if msg.SenderID == "" {
		if sender, ok := payload["sender"].(map[string]any); ok {
			if s, ok := sender["userId"].(string); ok {
				msg.SenderID = s
			}
		}
	}
	if s, ok := stringField(payload, "senderId"); ok && msg.SenderID == "" {
		msg.SenderID = s
	}
	if s, ok := stringField(payload, "displayName"); ok && msg.DisplayName == "" {
		msg.DisplayName = s
	}
	if tsRaw == nil {
		if v, ok := payload["clientTimestamp"]; ok {
			tsRaw = v
		}
	}

	if msg.SenderID == "" {
		msg.SenderID = AnonymousSender
	}
	if msg.DisplayName == "" {
		msg.DisplayName = GuestLabel(msg.SenderID)
	}
	msg.ClientTimestamp = normalizeTimestamp(tsRaw)

	for k, v := range payload {
		switch k {
		case "id", "content", "senderId", "displayName", "clientTimestamp", "sender", "attributes":
		default:
			if msg.Extra == nil {
				msg.Extra = map[string]any{}
			}
			msg.Extra[k] = v
		}
	}
	return msg, nil
}

// GuestLabel synthesizes a display name from a user id: "Guest" plus the last
// 5 characters of the id.
func GuestLabel(userID string) string {
	if len(userID) > 5 {
		userID = userID[len(userID)-5:]
	}
	return "Guest" + userID
}

// normalizeTimestamp coerces a producer-supplied send time into epoch millis.
// Accepted shapes: JSON number (millis), numeric string (millis), RFC3339
// string. Anything else, including absence, substitutes ingestion-time now.
func normalizeTimestamp(v any) int64 {
	switch t := v.(type) {
	case float64:
		if t > 0 {
			return int64(t)
		}
	case int64:
		if t > 0 {
			return t
		}
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil && n > 0 {
			return n
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts.UnixMilli()
		}
	}
	return time.Now().UnixMilli()
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
