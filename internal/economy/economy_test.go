package economy

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"roomrunner/internal/domain"
	"roomrunner/internal/logger"
	"roomrunner/internal/repository"
)

// applyMigrations loads internal/migrations/*.sql against a disposable
// test database, mirroring the teacher's integration-test bootstrap.
func applyMigrations(t *testing.T, db *pgxpool.Pool) {
	t.Helper()
	migDir := filepath.Join("..", "migrations")
	files, err := os.ReadDir(migDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	for _, f := range files {
		b, err := os.ReadFile(filepath.Join(migDir, f.Name()))
		if err != nil {
			t.Fatalf("read file: %v", err)
		}
		if _, err := db.Exec(context.Background(), string(b)); err != nil {
			t.Fatalf("apply migration %s: %v", f.Name(), err)
		}
	}
}

func newTestCore(t *testing.T) (*Core, int64) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	db, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	applyMigrations(t, db)

	wallets := repository.NewWalletRepository(db)
	ledger := repository.NewLedgerRepository(db)
	outbox := repository.NewOutboxRepository(db)
	core := New(wallets, ledger, outbox, nil, nil, 500, logger.Get())

	userID := rand.Int63n(1_000_000_000) + 1
	return core, userID
}

// TestProcessTransaction_LazyAccountCreation mirrors spec.md §4.5 step 3:
// a user's first transaction births the wallet at Economy.InitialCoins
// before applying the signed amount.
func TestProcessTransaction_LazyAccountCreation(t *testing.T) {
	core, userID := newTestCore(t)
	ctx := context.Background()

	result, err := core.ProcessTransaction(ctx, userID, -50, domain.LedgerDebit, "first spend", "", "first-"+randKey())
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	if result.LedgerEntry.BalanceAfter != 450 {
		t.Fatalf("expected 500-50=450, got %d", result.LedgerEntry.BalanceAfter)
	}
}

// TestProcessTransaction_IdempotencyKeyDeduplicates mirrors the spec's
// scenario 3: two concurrent calls with the same idempotency key must
// result in exactly one applied debit, with the loser returning the
// winner's balanceAfter via Replayed.
func TestProcessTransaction_IdempotencyKeyDeduplicates(t *testing.T) {
	core, userID := newTestCore(t)
	ctx := context.Background()
	key := "K1-" + randKey()

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = core.ProcessTransaction(ctx, userID, -50, domain.LedgerDebit, "concurrent debit", "R1", key)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("call %d: unexpected error %v", i, errs[i])
		}
	}
	if results[0].LedgerEntry.BalanceAfter != results[1].LedgerEntry.BalanceAfter {
		t.Fatalf("both calls must agree on balanceAfter: %d vs %d",
			results[0].LedgerEntry.BalanceAfter, results[1].LedgerEntry.BalanceAfter)
	}
	if !results[0].Replayed && !results[1].Replayed {
		t.Fatalf("exactly one of the two concurrent calls should be marked Replayed")
	}
	if results[0].Replayed && results[1].Replayed {
		t.Fatalf("at least one call must have actually applied the mutation")
	}
}

// TestProcessTransaction_InsufficientFunds mirrors §4.5 step 3's rejection
// branch: a debit that would drive the balance negative is rejected with
// no ledger row and no balance change.
func TestProcessTransaction_InsufficientFunds(t *testing.T) {
	core, userID := newTestCore(t)
	ctx := context.Background()

	if _, err := core.ProcessTransaction(ctx, userID, -100000, domain.LedgerDebit, "too much", "", "over-"+randKey()); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

// TestEntryFeeReserveAndRefund mirrors scenario 4: Reserve then Refund
// appends exactly one compensating credit, keyed refund:{reservationId},
// and a second Refund call is a no-op against the same key.
func TestEntryFeeReserveAndRefund(t *testing.T) {
	core, userID := newTestCore(t)
	ctx := context.Background()

	reservationID := "resv-" + randKey()
	res, err := core.ReserveEntryFee(ctx, userID, "roomR", 100, reservationID)
	if err != nil {
		t.Fatalf("ReserveEntryFee: %v", err)
	}
	if err := core.RefundEntryFee(ctx, res); err != nil {
		t.Fatalf("first RefundEntryFee: %v", err)
	}
	if err := core.RefundEntryFee(ctx, res); err != nil {
		t.Fatalf("second RefundEntryFee (idempotent replay): %v", err)
	}

	entries, err := core.ledger.ListForUser(ctx, userID, 50)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	refundKey := "refund:" + reservationID
	count := 0
	for _, e := range entries {
		if e.IdempotencyKey != nil && *e.IdempotencyKey == refundKey {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one refund ledger row for key %q, got %d", refundKey, count)
	}
}

// TestProcessTransaction_ZeroAmountRejected: a zero delta is invalid before
// any storage is touched, so this needs no database.
func TestProcessTransaction_ZeroAmountRejected(t *testing.T) {
	core := New(nil, nil, nil, nil, nil, 100, logger.Get())
	if _, err := core.ProcessTransaction(context.Background(), 1, 0, domain.LedgerCredit, "nothing", "", "zero-key"); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

// TestEntryFeeCommitRewritesReservation: Commit keeps the debited amount
// but rewrites the reservation row's description/reference to the committed
// entry-fee wording, with no new ledger row and no balance change.
func TestEntryFeeCommitRewritesReservation(t *testing.T) {
	core, userID := newTestCore(t)
	ctx := context.Background()

	reservationID := "commit-" + randKey()
	res, err := core.ReserveEntryFee(ctx, userID, "roomC", 100, reservationID)
	if err != nil {
		t.Fatalf("ReserveEntryFee: %v", err)
	}
	if err := core.CommitEntryFee(ctx, res); err != nil {
		t.Fatalf("CommitEntryFee: %v", err)
	}

	entry, err := core.ledger.FindByIdempotencyKey(ctx, reservationID)
	if err != nil {
		t.Fatalf("FindByIdempotencyKey: %v", err)
	}
	if entry == nil {
		t.Fatal("reservation row must survive the commit")
	}
	if entry.Amount != -100 {
		t.Fatalf("commit must not change the amount, got %d", entry.Amount)
	}
	if entry.Description == fmt.Sprintf("entry fee reserve for room %s", "roomC") {
		t.Fatal("commit must rewrite the tentative reserve description")
	}

	entries, err := core.ledger.ListForUser(ctx, userID, 50)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	count := 0
	for _, e := range entries {
		if e.IdempotencyKey != nil && *e.IdempotencyKey == reservationID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("commit must not append rows, got %d for key %q", count, reservationID)
	}
}

func randKey() string {
	return string(rune('a'+rand.Intn(26))) + string(rune('a'+rand.Intn(26))) + string(rune('a'+rand.Intn(26))) +
		string(rune('0' + rand.Intn(10)))
}
