// Package archive persists a finished room's final state to durable
// storage once the outbox dispatcher drains its GameEnded event, freeing
// the Redis-backed state store entry.
package archive

import (
	"context"
	"encoding/json"
	"time"

	"roomrunner/internal/domain"
	"roomrunner/internal/repository"
)

type Service struct {
	repo *repository.ArchiveRepository
}

func New(repo *repository.ArchiveRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Archive(ctx context.Context, p *domain.GameEndedEvent) error {
	seatsJSON, err := json.Marshal(p.PlayerSeats)
	if err != nil {
		return err
	}

	return s.repo.Insert(ctx, &domain.ArchivedGame{
		RoomID:          p.RoomID,
		GameType:        p.GameType,
		FinalStateJSON:  p.FinalState,
		PlayerSeatsJSON: seatsJSON,
		WinnerUserID:    p.WinnerUserID,
		WinnerRanking:   p.WinnerRanking,
		TotalPot:        p.TotalPot,
		StartedAt:       time.Unix(0, p.StartedAtUnix),
		EndedAt:         time.Unix(0, p.EndedAtUnix),
	})
}
