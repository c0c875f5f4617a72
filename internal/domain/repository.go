package domain

import "context"

// WorkItemRepository defines persistence for work items. Advance and Fail
// report false without mutating when the item is already terminal, which is
// the persistence-level half of the cancellation race guard.
type WorkItemRepository interface {
	Create(ctx context.Context, item *WorkItem) error
	Get(ctx context.Context, id string) (*WorkItem, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]WorkItem, error)
	Advance(ctx context.Context, id string, to Stage) (bool, error)
	Fail(ctx context.Context, id, message string) (bool, error)
	SetOutput(ctx context.Context, id string, output []byte) error
	ClaimNext(ctx context.Context, class QueueClass) (*WorkItem, error)
	Delete(ctx context.Context, id string) error
}

// AgentRunRepository defines persistence for agent runs. UpdateStatus applies
// RunStatus.CanTransition and reports false when the transition is illegal.
type AgentRunRepository interface {
	Create(ctx context.Context, run *AgentRun) error
	Get(ctx context.Context, id string) (*AgentRun, error)
	UpdateStatus(ctx context.Context, id string, to RunStatus) (bool, error)
	AppendLog(ctx context.Context, id string, entry RunLogEntry) error
	IncrementIterations(ctx context.Context, id string) error
	ClaimNext(ctx context.Context) (*AgentRun, error)
}
