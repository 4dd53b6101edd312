package models

import "time"

// Worker status values as reported by heartbeats.
const (
	WorkerStatusIdle    = "idle"
	WorkerStatusBusy    = "busy"
	WorkerStatusError   = "error"
	WorkerStatusOffline = "offline"
)

// WorkerCapabilities describes what a worker daemon can execute.
type WorkerCapabilities struct {
	Docker   bool     `json:"docker"`
	Labels   []string `json:"labels,omitempty"`
	Executor string   `json:"executor,omitempty"`
}

// WorkerInfo is a registry entry for a worker daemon, refreshed on every
// heartbeat. A worker is online iff now − LastHeartbeatAt ≤ ttl.
type WorkerInfo struct {
	WorkerID        string             `json:"workerId"`
	Status          string             `json:"status"`
	CurrentJobID    string             `json:"currentJobId,omitempty"`
	PollMs          int64              `json:"pollMs,omitempty"`
	Capabilities    WorkerCapabilities `json:"capabilities"`
	Details         map[string]any     `json:"details,omitempty"`
	LastHeartbeatAt time.Time          `json:"lastHeartbeatAt"`
	IsOnline        bool               `json:"isOnline"`
}
