package models

import (
	"regexp"
	"time"
)

// Envelope is the versioned wire form of a single session event.
// Once persisted it is immutable; the cursor is assigned by the store.
type Envelope struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ID              string         `json:"id"`
	TS              time.Time      `json:"ts"`
	SessionID       string         `json:"sessionId"`
	Type            string         `json:"type"`
	From            string         `json:"from,omitempty"`
	To              string         `json:"to,omitempty"`
	CorrelationID   string         `json:"correlationId,omitempty"`
	ParentID        string         `json:"parentId,omitempty"`
	TurnID          string         `json:"turnId,omitempty"`
	Payload         map[string]any `json:"payload"`
}

// BusEvent pairs a persisted envelope with its session cursor. This is the
// unit delivered to SSE/WebSocket subscribers and replay callbacks.
type BusEvent struct {
	Envelope Envelope `json:"envelope"`
	Cursor   int64    `json:"cursor"`
}

// sessionIDPattern matches valid session identifiers.
var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// ValidSessionID reports whether id is a well-formed session identifier:
// 1–64 characters from [a-zA-Z0-9._-].
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
