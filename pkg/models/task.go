package models

// Task statuses derived from task_* lifecycle events.
const (
	TaskStatusCreated    = "created"
	TaskStatusStarted    = "started"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// Task is the in-memory projection of task_* events for one task. It is
// never stored separately; the bus rebuilds it from the event log.
type Task struct {
	TaskID      string `json:"taskId"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
	Status      string `json:"status"`
	Summary     string `json:"summary,omitempty"`
	FailMessage string `json:"failMessage,omitempty"`
}
