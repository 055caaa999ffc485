package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxMessage is one row of the transactional outbox: a domain event
// recorded in the same transaction as the state change that produced it,
// dispatched asynchronously and retried until it succeeds or exhausts
// maxAttempts.
type OutboxMessage struct {
	ID          int64
	EventType   string
	PayloadJSON []byte
	Attempts    int
	LastError   *string
	Processed   bool
	CreatedAt   string
}

type OutboxRepository struct {
	db *pgxpool.Pool
}

func NewOutboxRepository(db *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Insert(ctx context.Context, eventType string, payloadJSON []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO outbox_messages (event_type, payload_json, attempts, processed, created_at)
		 VALUES ($1, $2, 0, false, now())`,
		eventType, payloadJSON,
	)
	return err
}

// InsertTx records a row inside the caller's transaction, so a
// wallet-mutation's outbox event commits atomically with the ledger entry
// that produced it.
func (r *OutboxRepository) InsertTx(ctx context.Context, tx pgx.Tx, eventType string, payloadJSON []byte) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox_messages (event_type, payload_json, attempts, processed, created_at)
		 VALUES ($1, $2, 0, false, now())`,
		eventType, payloadJSON,
	)
	return err
}

// ClaimBatch returns up to limit unprocessed rows under maxAttempts,
// ordered oldest first, for the dispatcher loop to work through.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, maxAttempts, limit int) ([]*OutboxMessage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, event_type, payload_json, attempts, last_error, processed, created_at
		 FROM outbox_messages
		 WHERE processed = false AND attempts < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OutboxMessage
	for rows.Next() {
		m := &OutboxMessage{}
		if err := rows.Scan(&m.ID, &m.EventType, &m.PayloadJSON, &m.Attempts, &m.LastError, &m.Processed, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE outbox_messages SET processed = true, processed_at = now(), last_error = NULL WHERE id = $1`, id)
	return err
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[len(errMsg)-500:]
	}
	_, err := r.db.Exec(ctx,
		`UPDATE outbox_messages SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
		id, errMsg,
	)
	return err
}

// CleanupProcessed deletes rows older than the retention window that
// either succeeded or exhausted maxAttempts, run hourly so the table
// doesn't grow unbounded with either successes or permanent failures.
func (r *OutboxRepository) CleanupProcessed(ctx context.Context, maxAttempts, retentionHours int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM outbox_messages
		 WHERE created_at < now() - ($1 || ' hours')::interval
		   AND (processed = true OR attempts >= $2)`,
		retentionHours, maxAttempts,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
