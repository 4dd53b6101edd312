// Package events provides the per-session event bus: persist-first,
// cursor-ordered append-only log with live fan-out to bounded subscriber
// channels and cursor-based replay.
//
// Ordering contract: a subscriber attached before cursor C observes every
// event with cursor > its attach point, in strictly increasing cursor
// order, with no gaps. Persist-then-broadcast is mandatory — a subscriber
// never sees a cursor that is not yet durable, so reconnects can resume
// from the last cursor they observed.
package events

// Event types (closed set). Envelopes with any other type are rejected at
// validation and replaced by an error event.
const (
	// Conversational
	TypeMessage          = "message"
	TypeAssistantMessage = "assistant_message"
	TypeLog              = "log"
	TypeError            = "error"
	TypeDone             = "done"

	// Task lifecycle
	TypeTaskCreated   = "task_created"
	TypeTaskStarted   = "task_started"
	TypeTaskProgress  = "task_progress"
	TypeTaskCompleted = "task_completed"
	TypeTaskFailed    = "task_failed"

	// Tools
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"

	// Delegation
	TypeDelegateRequest  = "delegate_request"
	TypeDelegateResponse = "delegate_response"

	// Jobs
	TypeJobEnqueued  = "job_enqueued"
	TypeJobClaimed   = "job_claimed"
	TypeJobLog       = "job_log"
	TypeJobCompleted = "job_completed"
	TypeJobFailed    = "job_failed"

	// Approvals
	TypeApprovalRequired = "approval_required"
	TypeApproved         = "approved"
	TypeDenied           = "denied"

	// Repo
	TypeDiffReady = "diff_ready"
	TypeCommitted = "committed"

	// Misc
	TypeAgentStatus = "agent_status"
	TypeStatus      = "status"
	TypeScanResult  = "scan_result"
	TypeSuggestions = "suggestions"
)

// knownTypes is the closed event type set.
var knownTypes = map[string]bool{
	TypeMessage: true, TypeAssistantMessage: true, TypeLog: true,
	TypeError: true, TypeDone: true,
	TypeTaskCreated: true, TypeTaskStarted: true, TypeTaskProgress: true,
	TypeTaskCompleted: true, TypeTaskFailed: true,
	TypeToolCall: true, TypeToolResult: true,
	TypeDelegateRequest: true, TypeDelegateResponse: true,
	TypeJobEnqueued: true, TypeJobClaimed: true, TypeJobLog: true,
	TypeJobCompleted: true, TypeJobFailed: true,
	TypeApprovalRequired: true, TypeApproved: true, TypeDenied: true,
	TypeDiffReady: true, TypeCommitted: true,
	TypeAgentStatus: true, TypeStatus: true, TypeScanResult: true,
	TypeSuggestions: true,
}

// KnownType reports whether t belongs to the closed event type set.
func KnownType(t string) bool {
	return knownTypes[t]
}

// Required agents for the startup-readiness aggregation. A status event's
// agentId matches a required agent by prefix.
var requiredAgents = []string{"localbuddy", "remotebuddy", "source-control-manager"}

// ReadyMessage is the canonical text announced once every required agent
// has reported online.
const ReadyMessage = "All systems online. PushPals is ready."
