// Package audit records privileged, non-gameplay actions — currently just
// admin wallet adjustments — so they can be reviewed independently of the
// ledger's own append-only trail.
package audit

import (
	"context"

	"roomrunner/internal/repository"
)

const ActionAdminAdjust = "admin_adjust"

type Service struct {
	repo *repository.AuditRepository
}

func New(repo *repository.AuditRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) RecordAdminAdjust(ctx context.Context, actorID, targetUser, amount int64, reason string) error {
	return s.repo.Record(ctx, actorID, targetUser, amount, ActionAdminAdjust, reason)
}

func (s *Service) History(ctx context.Context, targetUser int64, limit int) ([]*repository.AuditEntry, error) {
	return s.repo.ListForUser(ctx, targetUser, limit)
}
