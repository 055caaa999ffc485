package outbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"roomrunner/internal/logger"
	"roomrunner/internal/repository"
)

// Integration-style tests: run only if DATABASE_URL env is set, mirroring
// the economy suite's bootstrap.
func newTestRepo(t *testing.T) *repository.OutboxRepository {
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
	return repository.NewOutboxRepository(db)
}

// flakyPublisher fails its first failUntil calls, then succeeds, recording
// every payload it accepted.
type flakyPublisher struct {
	calls     int
	failUntil int
	delivered [][]byte
}

func (p *flakyPublisher) Publish(ctx context.Context, eventType string, payload []byte) error {
	p.calls++
	if p.calls <= p.failUntil {
		return errors.New("publisher unavailable")
	}
	p.delivered = append(p.delivered, payload)
	return nil
}

// TestDispatchRetriesUntilDelivered verifies the at-least-once contract: a
// PlayerUpdated row whose publish fails stays unprocessed with a bumped
// attempt count, and a later drain delivers it and marks it processed.
func TestDispatchRetriesUntilDelivered(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pub := &flakyPublisher{failUntil: 2}
	d := New(repo, nil, pub, nil, logger.Get())

	payload := []byte(fmt.Sprintf(`{"userId":%d,"newCoins":170,"changeType":"Updated"}`, os.Getpid()))
	if err := repo.Insert(ctx, EventTypePlayerUpdated, payload); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Two failing drains, then a succeeding one.
	for i := 0; i < 3; i++ {
		d.drainOnce(ctx)
	}

	if len(pub.delivered) == 0 {
		t.Fatal("expected the row to be delivered once the publisher recovered")
	}

	// Nothing left to claim: the delivered row is marked processed.
	batch, err := repo.ClaimBatch(ctx, maxAttempts, batchSize)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	for _, m := range batch {
		if string(m.PayloadJSON) == string(payload) {
			t.Fatalf("row should be processed, still claimable: %+v", m)
		}
	}
}

// TestDispatchStopsAtMaxAttempts verifies a permanently-failing row falls
// out of the claimable set once it exhausts maxAttempts, rather than
// looping forever.
func TestDispatchStopsAtMaxAttempts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pub := &flakyPublisher{failUntil: maxAttempts + 10}
	d := New(repo, nil, pub, nil, logger.Get())

	payload := []byte(fmt.Sprintf(`{"userId":%d,"newCoins":0,"changeType":"Updated"}`, os.Getpid()+1))
	if err := repo.Insert(ctx, EventTypePlayerUpdated, payload); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for i := 0; i < maxAttempts+2; i++ {
		d.drainOnce(ctx)
	}

	batch, err := repo.ClaimBatch(ctx, maxAttempts, batchSize)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	for _, m := range batch {
		if string(m.PayloadJSON) == string(payload) {
			t.Fatalf("row exceeding maxAttempts must not be claimable, got attempts=%d", m.Attempts)
		}
	}
}

// TestUnknownEventTypeIsDroppedWithoutError exercises the default dispatch
// branch: unknown events are logged and treated as handled so they don't
// wedge the queue.
func TestUnknownEventTypeIsDroppedWithoutError(t *testing.T) {
	d := New(nil, nil, &flakyPublisher{}, nil, logger.Get())
	if err := d.dispatch(context.Background(), "SomethingElse", []byte(`{}`)); err != nil {
		t.Fatalf("unknown event type must not error: %v", err)
	}
}
