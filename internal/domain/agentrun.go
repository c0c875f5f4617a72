package domain

import "time"

// RunStatus enumerates agent run lifecycle states.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// CanTransition reports whether moving to the given status is legal. Status
// transitions are one-directional except running<->paused; the terminal
// statuses absorb.
func (s RunStatus) CanTransition(to RunStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case RunPending:
		return to == RunRunning || to == RunCancelled || to == RunFailed
	case RunRunning:
		return to == RunPaused || to == RunCompleted || to == RunFailed || to == RunCancelled
	case RunPaused:
		// A resumed run goes back through pending so a worker can claim it.
		return to == RunPending || to == RunRunning || to == RunCancelled || to == RunFailed
	}
	return false
}

// RunLogEntry is a timestamped log line attached to an agent run.
type RunLogEntry struct {
	At       time.Time
	Severity string
	Message  string
}

// AgentRun is a bounded iterative session composing multiple independently
// billed tool calls toward one goal on a single work item tree.
type AgentRun struct {
	ID         string
	OwnerID    string
	WorkItemID string
	Status     RunStatus
	Iterations int
	Logs       []RunLogEntry
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
