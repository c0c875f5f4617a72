package domain

import "time"

// CreditAccount is the mutable, shared per-owner balance of spendable units.
// The balance is an integer and never goes negative; it is only ever mutated
// under the credit service's per-owner lock.
type CreditAccount struct {
	OwnerID   string
	Balance   int64
	UpdatedAt time.Time
}

// EntryKind enumerates the reasons for a credit movement.
type EntryKind string

const (
	EntrySpend      EntryKind = "spend"
	EntryRefund     EntryKind = "refund"
	EntryAdjustment EntryKind = "adjustment"
)

// TrackableKind tags the type of record a ledger entry points at.
type TrackableKind string

const (
	TrackableWorkItem TrackableKind = "work_item"
	TrackableToolCall TrackableKind = "tool_call"
	TrackableAccount  TrackableKind = "account"
)

// TrackableRef identifies the work item or sub-step that caused a credit
// movement. It is a tagged pair rather than a free-form type name so that
// every ledger row can be resolved without reflection.
type TrackableRef struct {
	Kind TrackableKind
	ID   string
}

// LedgerEntry is an immutable record of a single credit movement. Entries are
// append-only; they are never updated or deleted.
type LedgerEntry struct {
	ID        string
	OwnerID   string
	Amount    int64
	Kind      EntryKind
	Ref       TrackableRef
	Note      string
	CreatedAt time.Time
}
