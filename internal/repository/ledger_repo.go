package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomrunner/internal/domain"
)

var ErrDuplicateIdempotencyKey = errors.New("repository: idempotency key already processed")

type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// FindByIdempotencyKey lets the economy core detect a retried request and
// return the original result instead of double-applying it.
func (r *LedgerRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, amount, balance_after, type, description, reference_id, idempotency_key, created_at
		 FROM ledger_entries WHERE idempotency_key = $1`,
		key,
	)
	e := &domain.LedgerEntry{}
	err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.BalanceAfter, &e.Type, &e.Description, &e.ReferenceID, &e.IdempotencyKey, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// Insert appends one append-only ledger row inside the caller's
// transaction. balanceAfter must already reflect the wallet update applied
// in the same transaction.
func (r *LedgerRepository) Insert(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (user_id, amount, balance_after, type, description, reference_id, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now()) RETURNING id`,
		e.UserID, e.Amount, e.BalanceAfter, e.Type, e.Description, e.ReferenceID, e.IdempotencyKey,
	).Scan(&id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return 0, ErrDuplicateIdempotencyKey
	}
	return id, err
}

// RewriteByIdempotencyKey updates a reservation row's description and
// reference in place once the entry fee is committed. The amount and
// balance_after columns are never touched — the row stays an accurate
// record of the balance movement that already happened.
func (r *LedgerRepository) RewriteByIdempotencyKey(ctx context.Context, key, description, referenceID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE ledger_entries SET description = $2, reference_id = $3 WHERE idempotency_key = $1`,
		key, description, referenceID,
	)
	return err
}

// ClearExpiredIdempotencyKeys nulls out keys past the retention window so
// the unique index stays small; the ledger rows themselves are never
// deleted. After expiry a replayed request applies as a fresh transaction,
// which is the documented retention trade-off.
func (r *LedgerRepository) ClearExpiredIdempotencyKeys(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE ledger_entries SET idempotency_key = NULL
		 WHERE idempotency_key IS NOT NULL
		   AND created_at < now() - ($1 || ' days')::interval`,
		retentionDays,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *LedgerRepository) ListForUser(ctx context.Context, userID int64, limit int) ([]*domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, amount, balance_after, type, description, reference_id, idempotency_key, created_at
		 FROM ledger_entries WHERE user_id = $1 ORDER BY id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.LedgerEntry
	for rows.Next() {
		e := &domain.LedgerEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.BalanceAfter, &e.Type, &e.Description, &e.ReferenceID, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
