package repo

import (
	"context"
	"fmt"

	"atelier/internal/domain"
	"atelier/internal/infra"
	"atelier/internal/sqlinline"
)

// CreditStorePG implements credit.Store over PostgreSQL. Withdraw is a
// conditional debit, so competing charges from any number of processes
// resolve at the database row, not in memory.
type CreditStorePG struct {
	sql infra.SQLExecutor
}

// NewCreditStore creates a credit store backed by PostgreSQL.
func NewCreditStore(sql infra.SQLExecutor) *CreditStorePG {
	return &CreditStorePG{sql: sql}
}

// Balance returns the owner's current balance. An owner with no account row
// yet has a zero balance.
func (s *CreditStorePG) Balance(ctx context.Context, ownerID string) (int64, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QGetBalance, ownerID)
	var balance int64
	if err := row.Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// Withdraw debits amount only when the balance covers it. The guard lives in
// the UPDATE's where clause; a miss (uncovered balance or no account row)
// comes back as domain.ErrInsufficientCredits.
func (s *CreditStorePG) Withdraw(ctx context.Context, ownerID string, amount int64) (int64, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QWithdrawBalance, ownerID, amount)
	var balance int64
	if err := row.Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrInsufficientCredits
		}
		return 0, fmt.Errorf("withdraw balance: %w", err)
	}
	return balance, nil
}

func (s *CreditStorePG) ApplyDelta(ctx context.Context, ownerID string, delta int64) (int64, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QApplyBalanceDelta, ownerID, delta)
	var balance int64
	if err := row.Scan(&balance); err != nil {
		return 0, fmt.Errorf("apply balance delta: %w", err)
	}
	return balance, nil
}

func (s *CreditStorePG) AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	_, err := s.sql.Exec(ctx, sqlinline.QInsertLedgerEntry,
		entry.ID,
		entry.OwnerID,
		entry.Amount,
		entry.Kind,
		entry.Ref.Kind,
		entry.Ref.ID,
		entry.Note,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (s *CreditStorePG) EntriesByRef(ctx context.Context, ref domain.TrackableRef) ([]domain.LedgerEntry, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QLedgerEntriesByRef, ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

func (s *CreditStorePG) EntriesByOwner(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sql.Query(ctx, sqlinline.QLedgerEntriesByOwner, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

type ledgerRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanLedgerEntries(rows ledgerRows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(
			&e.ID,
			&e.OwnerID,
			&e.Amount,
			&e.Kind,
			&e.Ref.Kind,
			&e.Ref.ID,
			&e.Note,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
