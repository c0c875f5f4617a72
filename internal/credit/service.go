// Package credit is the single entry point for mutating credit balances.
// Every spend, refund, and adjustment in the system goes through Service so
// the per-owner lock discipline stays in one place; no other package touches
// a balance directly.
package credit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"atelier/internal/domain"
	"atelier/internal/observability"
)

// Store is the persistence contract the service drives. Withdraw must be a
// conditional debit: it fails with domain.ErrInsufficientCredits and applies
// nothing when the balance cannot cover the amount, atomically with respect
// to every other writer of the same account, across processes. ApplyDelta is
// the unconditional path for refunds and grants.
type Store interface {
	Balance(ctx context.Context, ownerID string) (int64, error)
	Withdraw(ctx context.Context, ownerID string, amount int64) (int64, error)
	ApplyDelta(ctx context.Context, ownerID string, delta int64) (int64, error)
	AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error
	EntriesByRef(ctx context.Context, ref domain.TrackableRef) ([]domain.LedgerEntry, error)
	EntriesByOwner(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error)
}

// Service charges and refunds credit accounts. Overdraw protection rests on
// the store's conditional Withdraw, which holds across processes; the
// per-owner mutex additionally serializes this process's debit-plus-ledger
// and outstanding-then-refund sequences. The lock is held only around store
// calls, never across an external call.
type Service struct {
	store  Store
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService constructs a credit service over the given store.
func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Service) ownerLock(ownerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ownerID] = l
	}
	return l
}

// Charge debits amount from the owner's balance and appends a spend entry as
// one atomic unit. It fails with domain.ErrInsufficientCredits, performing no
// mutation and writing no ledger entry, when the balance cannot cover amount.
func (s *Service) Charge(ctx context.Context, ownerID string, amount int64, ref domain.TrackableRef) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit: charge amount must be positive, got %d", amount)
	}
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.Withdraw(ctx, ownerID, amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			s.logger.Debug().
				Str("owner_id", ownerID).
				Int64("amount", amount).
				Msg("credit: charge rejected")
			return nil, domain.ErrInsufficientCredits
		}
		return nil, fmt.Errorf("credit: apply charge: %w", err)
	}
	entry := s.newEntry(ownerID, amount, domain.EntrySpend, ref, "")
	if err := s.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("credit: append spend entry: %w", err)
	}
	observability.CreditCharges.Inc()
	s.logger.Info().
		Str("owner_id", ownerID).
		Int64("amount", amount).
		Str("ref_kind", string(ref.Kind)).
		Str("ref_id", ref.ID).
		Msg("credit: charged")
	return entry, nil
}

// Refund credits amount back to the owner's balance and appends a refund
// entry. Refunds are unconditional and not charge-checked.
func (s *Service) Refund(ctx context.Context, ownerID string, amount int64, ref domain.TrackableRef) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit: refund amount must be positive, got %d", amount)
	}
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	return s.refundLocked(ctx, ownerID, amount, ref)
}

// refundLocked applies a refund while the caller holds the owner lock.
func (s *Service) refundLocked(ctx context.Context, ownerID string, amount int64, ref domain.TrackableRef) (*domain.LedgerEntry, error) {
	if _, err := s.store.ApplyDelta(ctx, ownerID, amount); err != nil {
		return nil, fmt.Errorf("credit: apply refund: %w", err)
	}
	entry := s.newEntry(ownerID, amount, domain.EntryRefund, ref, "")
	if err := s.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("credit: append refund entry: %w", err)
	}
	observability.CreditRefunds.Inc()
	s.logger.Info().
		Str("owner_id", ownerID).
		Int64("amount", amount).
		Str("ref_kind", string(ref.Kind)).
		Str("ref_id", ref.ID).
		Msg("credit: refunded")
	return entry, nil
}

// Adjust applies an operator-initiated balance change (grant or correction).
// Negative deltas never push the balance below zero.
func (s *Service) Adjust(ctx context.Context, ownerID string, delta int64, note string) (*domain.LedgerEntry, error) {
	if delta == 0 {
		return nil, fmt.Errorf("credit: adjustment delta must be non-zero")
	}
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if delta < 0 {
		if _, err := s.store.Withdraw(ctx, ownerID, -delta); err != nil {
			if errors.Is(err, domain.ErrInsufficientCredits) {
				return nil, domain.ErrInsufficientCredits
			}
			return nil, fmt.Errorf("credit: apply adjustment: %w", err)
		}
	} else if _, err := s.store.ApplyDelta(ctx, ownerID, delta); err != nil {
		return nil, fmt.Errorf("credit: apply adjustment: %w", err)
	}
	amount := delta
	if amount < 0 {
		amount = -amount
	}
	ref := domain.TrackableRef{Kind: domain.TrackableAccount, ID: ownerID}
	entry := s.newEntry(ownerID, amount, domain.EntryAdjustment, ref, note)
	if err := s.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("credit: append adjustment entry: %w", err)
	}
	s.logger.Info().
		Str("owner_id", ownerID).
		Int64("delta", delta).
		Str("note", note).
		Msg("credit: adjusted")
	return entry, nil
}

// Balance returns the current balance for the owner.
func (s *Service) Balance(ctx context.Context, ownerID string) (int64, error) {
	return s.store.Balance(ctx, ownerID)
}

// CanAfford reports whether the owner's balance covers amount. It takes no
// lock; the authoritative check happens inside Charge.
func (s *Service) CanAfford(ctx context.Context, ownerID string, amount int64) (bool, error) {
	balance, err := s.store.Balance(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// ChargedUnrefunded returns the outstanding spend amount for a trackable: the
// sum of spends minus the sum of refunds referencing it. A zero result means
// either the trackable was never charged or it has already been made whole,
// so callers can use it as an idempotent refund guard.
func (s *Service) ChargedUnrefunded(ctx context.Context, ref domain.TrackableRef) (int64, error) {
	return s.outstanding(ctx, ref)
}

func (s *Service) outstanding(ctx context.Context, ref domain.TrackableRef) (int64, error) {
	entries, err := s.store.EntriesByRef(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("credit: list entries: %w", err)
	}
	var outstanding int64
	for _, e := range entries {
		switch e.Kind {
		case domain.EntrySpend:
			outstanding += e.Amount
		case domain.EntryRefund:
			outstanding -= e.Amount
		}
	}
	if outstanding < 0 {
		outstanding = 0
	}
	return outstanding, nil
}

// CompensateIfCharged issues exactly one compensating refund for whatever
// spend is still outstanding against the trackable. It is safe to call on an
// uncharged or already-refunded trackable, and safe to call concurrently: the
// outstanding-amount check and the refund happen under the same owner lock,
// so a second caller observes zero outstanding and does nothing.
func (s *Service) CompensateIfCharged(ctx context.Context, ownerID string, ref domain.TrackableRef) (*domain.LedgerEntry, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	outstanding, err := s.outstanding(ctx, ref)
	if err != nil {
		return nil, err
	}
	if outstanding == 0 {
		return nil, nil
	}
	return s.refundLocked(ctx, ownerID, outstanding, ref)
}

// Ledger returns the most recent ledger entries for the owner.
func (s *Service) Ledger(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.EntriesByOwner(ctx, ownerID, limit)
}

func (s *Service) newEntry(ownerID string, amount int64, kind domain.EntryKind, ref domain.TrackableRef, note string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Amount:    amount,
		Kind:      kind,
		Ref:       ref,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
}
