package credit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"atelier/internal/domain"
	"atelier/internal/memstore"
)

func newTestService(balance int64) (*Service, *memstore.Credits) {
	store := memstore.NewCredits()
	store.Seed("owner-1", balance)
	return NewService(store, zerolog.Nop()), store
}

func itemRef(id string) domain.TrackableRef {
	return domain.TrackableRef{Kind: domain.TrackableWorkItem, ID: id}
}

func TestChargeDebitsAndAppendsSpend(t *testing.T) {
	svc, _ := newTestService(50)
	ctx := context.Background()

	entry, err := svc.Charge(ctx, "owner-1", 8, itemRef("item-1"))
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	if entry.Kind != domain.EntrySpend {
		t.Fatalf("entry.Kind = %q, want %q", entry.Kind, domain.EntrySpend)
	}
	if entry.Amount != 8 {
		t.Fatalf("entry.Amount = %d, want 8", entry.Amount)
	}
	balance, err := svc.Balance(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 42 {
		t.Fatalf("Balance = %d, want 42", balance)
	}
}

func TestChargeInsufficientLeavesNoTrace(t *testing.T) {
	svc, _ := newTestService(5)
	ctx := context.Background()

	_, err := svc.Charge(ctx, "owner-1", 8, itemRef("item-1"))
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("Charge() error = %v, want ErrInsufficientCredits", err)
	}
	balance, _ := svc.Balance(ctx, "owner-1")
	if balance != 5 {
		t.Fatalf("Balance = %d, want untouched 5", balance)
	}
	entries, err := svc.Ledger(ctx, "owner-1", 10)
	if err != nil {
		t.Fatalf("Ledger() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ledger entries = %d, want 0", len(entries))
	}
}

func TestChargeRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService(50)
	if _, err := svc.Charge(context.Background(), "owner-1", 0, itemRef("item-1")); err == nil {
		t.Fatal("Charge(0) error = nil, want error")
	}
	if _, err := svc.Charge(context.Background(), "owner-1", -3, itemRef("item-1")); err == nil {
		t.Fatal("Charge(-3) error = nil, want error")
	}
}

func TestChargeRefundConservation(t *testing.T) {
	svc, _ := newTestService(100)
	ctx := context.Background()
	ref := itemRef("item-1")

	if _, err := svc.Charge(ctx, "owner-1", 16, ref); err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	if _, err := svc.Refund(ctx, "owner-1", 16, ref); err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	balance, _ := svc.Balance(ctx, "owner-1")
	if balance != 100 {
		t.Fatalf("Balance = %d, want restored 100", balance)
	}
	entries, _ := svc.Ledger(ctx, "owner-1", 10)
	var spends, refunds int64
	for _, e := range entries {
		switch e.Kind {
		case domain.EntrySpend:
			spends += e.Amount
		case domain.EntryRefund:
			refunds += e.Amount
		}
	}
	if spends != refunds {
		t.Fatalf("spends = %d, refunds = %d, want equal", spends, refunds)
	}
}

// Three workers race for a balance of 24 at a cost of 8 each. All three must
// win exactly once and a fourth attempt must be rejected with the balance at
// zero, never negative.
func TestConcurrentChargesNeverOverdraw(t *testing.T) {
	svc, _ := newTestService(24)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Charge(ctx, "owner-1", 8, itemRef("item-"+string(rune('a'+i))))
		}(i)
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Fatalf("Charge %d error = %v, want success", i, err)
		}
	}
	balance, _ := svc.Balance(ctx, "owner-1")
	if balance != 0 {
		t.Fatalf("Balance = %d, want 0", balance)
	}
	if _, err := svc.Charge(ctx, "owner-1", 8, itemRef("item-d")); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("fourth Charge error = %v, want ErrInsufficientCredits", err)
	}
}

// Two services over one store model the api and worker binaries hitting the
// same database. The per-service mutexes are distinct, so overdraw protection
// has to come from the store's conditional withdraw.
func TestCrossProcessChargesNeverOverdraw(t *testing.T) {
	store := memstore.NewCredits()
	store.Seed("owner-1", 8)
	svcA := NewService(store, zerolog.Nop())
	svcB := NewService(store, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, svc := range []*Service{svcA, svcB} {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			_, results[i] = svc.Charge(ctx, "owner-1", 8, itemRef("item-"+string(rune('a'+i))))
		}(i, svc)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientCredits):
			rejected++
		default:
			t.Fatalf("Charge error = %v, want nil or ErrInsufficientCredits", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("successes = %d, rejections = %d, want exactly 1 and 1", ok, rejected)
	}
	balance, _ := svcA.Balance(ctx, "owner-1")
	if balance != 0 {
		t.Fatalf("Balance = %d, want 0", balance)
	}
	entries, err := svcA.Ledger(ctx, "owner-1", 10)
	if err != nil {
		t.Fatalf("Ledger() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != domain.EntrySpend {
		t.Fatalf("ledger = %+v, want exactly one spend entry", entries)
	}
}

func TestCompensateIfChargedRefundsOutstandingOnce(t *testing.T) {
	svc, _ := newTestService(100)
	ctx := context.Background()
	ref := itemRef("item-1")

	if _, err := svc.Charge(ctx, "owner-1", 8, ref); err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	entry, err := svc.CompensateIfCharged(ctx, "owner-1", ref)
	if err != nil {
		t.Fatalf("CompensateIfCharged() error = %v", err)
	}
	if entry == nil || entry.Amount != 8 {
		t.Fatalf("entry = %+v, want refund of 8", entry)
	}

	// A second compensation must observe zero outstanding and do nothing.
	entry, err = svc.CompensateIfCharged(ctx, "owner-1", ref)
	if err != nil {
		t.Fatalf("second CompensateIfCharged() error = %v", err)
	}
	if entry != nil {
		t.Fatalf("second compensation entry = %+v, want nil", entry)
	}
	balance, _ := svc.Balance(ctx, "owner-1")
	if balance != 100 {
		t.Fatalf("Balance = %d, want 100", balance)
	}
}

func TestCompensateIfChargedConcurrentRefundsOnce(t *testing.T) {
	svc, _ := newTestService(100)
	ctx := context.Background()
	ref := itemRef("item-1")

	if _, err := svc.Charge(ctx, "owner-1", 8, ref); err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CompensateIfCharged(ctx, "owner-1", ref); err != nil {
				t.Errorf("CompensateIfCharged() error = %v", err)
			}
		}()
	}
	wg.Wait()

	balance, _ := svc.Balance(ctx, "owner-1")
	if balance != 100 {
		t.Fatalf("Balance = %d, want 100 after racing compensations", balance)
	}
}

func TestCompensateWithoutChargeIsNoOp(t *testing.T) {
	svc, _ := newTestService(100)
	entry, err := svc.CompensateIfCharged(context.Background(), "owner-1", itemRef("never-charged"))
	if err != nil {
		t.Fatalf("CompensateIfCharged() error = %v", err)
	}
	if entry != nil {
		t.Fatalf("entry = %+v, want nil", entry)
	}
}

func TestAdjustGrantAndOverdrawGuard(t *testing.T) {
	svc, _ := newTestService(10)
	ctx := context.Background()

	if _, err := svc.Adjust(ctx, "owner-1", 40, "promo grant"); err != nil {
		t.Fatalf("Adjust(+40) error = %v", err)
	}
	balance, _ := svc.Balance(ctx, "owner-1")
	if balance != 50 {
		t.Fatalf("Balance = %d, want 50", balance)
	}

	if _, err := svc.Adjust(ctx, "owner-1", -80, "correction"); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("Adjust(-80) error = %v, want ErrInsufficientCredits", err)
	}
	if _, err := svc.Adjust(ctx, "owner-1", -50, "correction"); err != nil {
		t.Fatalf("Adjust(-50) error = %v", err)
	}
	balance, _ = svc.Balance(ctx, "owner-1")
	if balance != 0 {
		t.Fatalf("Balance = %d, want 0", balance)
	}
}

func TestCanAfford(t *testing.T) {
	svc, _ := newTestService(10)
	ctx := context.Background()

	ok, err := svc.CanAfford(ctx, "owner-1", 10)
	if err != nil || !ok {
		t.Fatalf("CanAfford(10) = %v, %v, want true, nil", ok, err)
	}
	ok, err = svc.CanAfford(ctx, "owner-1", 11)
	if err != nil || ok {
		t.Fatalf("CanAfford(11) = %v, %v, want false, nil", ok, err)
	}
}

func TestChargedUnrefunded(t *testing.T) {
	svc, _ := newTestService(100)
	ctx := context.Background()
	ref := itemRef("item-1")

	if _, err := svc.Charge(ctx, "owner-1", 8, ref); err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	outstanding, err := svc.ChargedUnrefunded(ctx, ref)
	if err != nil {
		t.Fatalf("ChargedUnrefunded() error = %v", err)
	}
	if outstanding != 8 {
		t.Fatalf("outstanding = %d, want 8", outstanding)
	}
	if _, err := svc.Refund(ctx, "owner-1", 8, ref); err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	outstanding, _ = svc.ChargedUnrefunded(ctx, ref)
	if outstanding != 0 {
		t.Fatalf("outstanding = %d, want 0 after refund", outstanding)
	}
}
