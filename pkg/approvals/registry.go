// Package approvals tracks pending approval gates for side-effecting
// operations. The registry is in-memory only; approvals do not survive
// process restarts.
package approvals

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decisions accepted by Decide.
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

var (
	// ErrNotFound is returned for unknown or already-resolved approvals.
	ErrNotFound = errors.New("approval not found")

	// ErrBadDecision is returned for decisions outside {approve, deny}.
	ErrBadDecision = errors.New("decision must be approve or deny")
)

// Approval is one pending gate awaiting a client decision.
type Approval struct {
	ApprovalID string         `json:"approvalId"`
	SessionID  string         `json:"sessionId"`
	Action     string         `json:"action"`
	Summary    string         `json:"summary"`
	Details    map[string]any `json:"details,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Registry holds pending approvals keyed by id.
type Registry struct {
	mu      sync.Mutex
	pending map[string]Approval
}

// NewRegistry builds an empty approvals registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]Approval)}
}

// Create registers a new approval. When id is empty a fresh one is
// assigned; a tool_call gate passes its toolCallId as the id so the
// decision endpoint can address it directly.
func (r *Registry) Create(id, sessionID, action, summary string, details map[string]any, toolCallID string) Approval {
	if id == "" {
		id = uuid.New().String()
	}
	a := Approval{
		ApprovalID: id,
		SessionID:  sessionID,
		Action:     action,
		Summary:    summary,
		Details:    details,
		ToolCallID: toolCallID,
		CreatedAt:  time.Now(),
	}
	r.mu.Lock()
	r.pending[id] = a
	r.mu.Unlock()
	return a
}

// Decide resolves an approval exactly once, removing it from the
// registry. A second decision for the same id returns ErrNotFound.
func (r *Registry) Decide(id, decision string) (Approval, error) {
	if decision != DecisionApprove && decision != DecisionDeny {
		return Approval{}, ErrBadDecision
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.pending[id]
	if !ok {
		return Approval{}, ErrNotFound
	}
	delete(r.pending, id)
	return a, nil
}

// Get returns a pending approval without resolving it.
func (r *Registry) Get(id string) (Approval, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.pending[id]
	return a, ok
}

// List returns every pending approval, unordered.
func (r *Registry) List() []Approval {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Approval, 0, len(r.pending))
	for _, a := range r.pending {
		out = append(out, a)
	}
	return out
}
