package models

import "time"

// Priority orders queue head selection. Lower rank claims first.
type Priority string

// Priority levels.
const (
	PriorityInteractive Priority = "interactive"
	PriorityNormal      Priority = "normal"
	PriorityBackground  Priority = "background"
)

// Rank returns the integer ordering used for head selection:
// interactive=0, normal=1, background=2.
func (p Priority) Rank() int {
	switch p {
	case PriorityInteractive:
		return 0
	case PriorityNormal:
		return 1
	case PriorityBackground:
		return 2
	default:
		return 1
	}
}

// NormalizePriority maps unknown or empty priority strings to normal.
func NormalizePriority(s string) Priority {
	switch Priority(s) {
	case PriorityInteractive, PriorityNormal, PriorityBackground:
		return Priority(s)
	default:
		return PriorityNormal
	}
}

// SlotDuration is the advertised per-slot SLA for a priority level. ETA at
// queue position p is SlotDuration · (p−1). These are advertised targets,
// not enforced deadlines.
func (p Priority) SlotDuration() time.Duration {
	switch p {
	case PriorityInteractive:
		return 20 * time.Second
	case PriorityBackground:
		return 240 * time.Second
	default:
		return 90 * time.Second
	}
}
