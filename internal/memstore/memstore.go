// Package memstore provides in-memory implementations of the repository
// contracts. It backs unit tests and local development without PostgreSQL;
// the guards (terminal stages, run transitions, claim exclusivity) match the
// SQL implementations.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"atelier/internal/domain"
)

// WorkItems is an in-memory domain.WorkItemRepository.
type WorkItems struct {
	mu    sync.Mutex
	items map[string]*domain.WorkItem
	order []string
}

// NewWorkItems creates an empty in-memory work item repository.
func NewWorkItems() *WorkItems {
	return &WorkItems{items: make(map[string]*domain.WorkItem)}
}

func (s *WorkItems) Create(_ context.Context, item *domain.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.items[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return nil
}

func (s *WorkItems) Get(_ context.Context, id string) (*domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *WorkItems) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []domain.WorkItem
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if item := s.items[s.order[i]]; item != nil && item.OwnerID == ownerID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *WorkItems) Advance(_ context.Context, id string, to domain.Stage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if item.Progress.Terminal() {
		return false, nil
	}
	if !domain.FlowFor(item.Kind).Allows(item.Progress, to) {
		return false, nil
	}
	item.Progress = to
	item.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *WorkItems) Fail(_ context.Context, id, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if item.Progress.Terminal() {
		return false, nil
	}
	item.Progress = domain.StageFailed
	item.ErrorMessage = message
	item.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *WorkItems) SetOutput(_ context.Context, id string, output []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Output = append([]byte(nil), output...)
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *WorkItems) ClaimNext(_ context.Context, class domain.QueueClass) (*domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		item := s.items[id]
		if item == nil || item.Progress != domain.StageQueued || item.Kind.Class() != class {
			continue
		}
		item.Progress = domain.StageValidating
		item.UpdatedAt = time.Now().UTC()
		cp := *item
		return &cp, nil
	}
	return nil, domain.ErrNoWorkAvailable
}

func (s *WorkItems) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	for childID, item := range s.items {
		if item.ParentID == id {
			delete(s.items, childID)
		}
	}
	return nil
}

// Credits is an in-memory credit.Store.
type Credits struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  []domain.LedgerEntry
}

// NewCredits creates an empty in-memory credit store.
func NewCredits() *Credits {
	return &Credits{balances: make(map[string]int64)}
}

// Seed sets an owner's balance directly. Test setup only; production balances
// move exclusively through the credit service.
func (s *Credits) Seed(ownerID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ownerID] = balance
}

func (s *Credits) Balance(_ context.Context, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[ownerID], nil
}

// Withdraw debits amount only when the balance covers it, mirroring the
// conditional UPDATE the Postgres store runs.
func (s *Credits) Withdraw(_ context.Context, ownerID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[ownerID] < amount {
		return 0, domain.ErrInsufficientCredits
	}
	s.balances[ownerID] -= amount
	return s.balances[ownerID], nil
}

func (s *Credits) ApplyDelta(_ context.Context, ownerID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ownerID] += delta
	return s.balances[ownerID], nil
}

func (s *Credits) AppendEntry(_ context.Context, entry *domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *Credits) EntriesByRef(_ context.Context, ref domain.TrackableRef) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.Ref == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Credits) EntriesByOwner(_ context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []domain.LedgerEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].OwnerID == ownerID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// AgentRuns is an in-memory domain.AgentRunRepository.
type AgentRuns struct {
	mu   sync.Mutex
	runs map[string]*domain.AgentRun
}

// NewAgentRuns creates an empty in-memory agent run repository.
func NewAgentRuns() *AgentRuns {
	return &AgentRuns{runs: make(map[string]*domain.AgentRun)}
}

func (s *AgentRuns) Create(_ context.Context, run *domain.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.runs[cp.ID] = &cp
	return nil
}

func (s *AgentRuns) Get(_ context.Context, id string) (*domain.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *run
	cp.Logs = append([]domain.RunLogEntry(nil), run.Logs...)
	return &cp, nil
}

func (s *AgentRuns) UpdateStatus(_ context.Context, id string, to domain.RunStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !run.Status.CanTransition(to) {
		return false, nil
	}
	run.Status = to
	run.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *AgentRuns) AppendLog(_ context.Context, id string, entry domain.RunLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	run.Logs = append(run.Logs, entry)
	return nil
}

func (s *AgentRuns) IncrementIterations(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	run.Iterations++
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *AgentRuns) ClaimNext(_ context.Context) (*domain.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*domain.AgentRun
	for _, run := range s.runs {
		if run.Status == domain.RunPending {
			pending = append(pending, run)
		}
	}
	if len(pending) == 0 {
		return nil, domain.ErrNoWorkAvailable
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	run := pending[0]
	run.Status = domain.RunRunning
	run.UpdatedAt = time.Now().UTC()
	cp := *run
	return &cp, nil
}
