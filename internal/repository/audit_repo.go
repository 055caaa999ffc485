package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry records one privileged action (currently only admin balance
// adjustments) for later review.
type AuditEntry struct {
	ID          int64
	ActorID     int64
	Action      string
	TargetUser  int64
	Amount      int64
	Reason      string
	CreatedAt   string
}

type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, actorID, targetUser, amount int64, action, reason string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_log (actor_id, action, target_user, amount, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		actorID, action, targetUser, amount, reason,
	)
	return err
}

func (r *AuditRepository) ListForUser(ctx context.Context, targetUser int64, limit int) ([]*AuditEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, actor_id, action, target_user, amount, reason, created_at
		 FROM audit_log WHERE target_user = $1 ORDER BY id DESC LIMIT $2`,
		targetUser, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetUser, &e.Amount, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
