package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pushpals/pushpals/pkg/models"
	"github.com/pushpals/pushpals/pkg/version"
)

// ValidationError describes an envelope that failed schema validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid envelope: %s %s", e.Field, e.Reason)
}

// Normalize validates env against the fixed envelope schema, filling the
// server-assigned fields (id, ts, protocolVersion) when absent. It
// mutates env in place and returns a ValidationError on the first
// violation.
func Normalize(env *models.Envelope) error {
	if !models.ValidSessionID(env.SessionID) {
		return &ValidationError{Field: "sessionId", Reason: "must match [a-zA-Z0-9._-]{1,64}"}
	}
	if env.Type == "" {
		return &ValidationError{Field: "type", Reason: "is required"}
	}
	if !KnownType(env.Type) {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not a known event type", env.Type)}
	}
	if env.Payload == nil {
		return &ValidationError{Field: "payload", Reason: "must be an object"}
	}
	if env.ProtocolVersion == "" {
		env.ProtocolVersion = version.ProtocolVersion
	} else if env.ProtocolVersion != version.ProtocolVersion {
		return &ValidationError{
			Field:  "protocolVersion",
			Reason: fmt.Sprintf("%q does not match %q", env.ProtocolVersion, version.ProtocolVersion),
		}
	}
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.TS.IsZero() {
		env.TS = time.Now().UTC()
	}
	return nil
}

// errorEnvelope builds the error event persisted in place of an envelope
// that failed validation. The invalid original is not persisted.
func errorEnvelope(sessionID string, original models.Envelope, cause error) models.Envelope {
	return models.Envelope{
		ProtocolVersion: version.ProtocolVersion,
		ID:              uuid.New().String(),
		TS:              time.Now().UTC(),
		SessionID:       sessionID,
		Type:            TypeError,
		From:            "server",
		Payload: map[string]any{
			"message":      cause.Error(),
			"rejectedType": original.Type,
		},
	}
}
