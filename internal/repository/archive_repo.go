package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"roomrunner/internal/domain"
)

type ArchiveRepository struct {
	db *pgxpool.Pool
}

func NewArchiveRepository(db *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

func (r *ArchiveRepository) Insert(ctx context.Context, g *domain.ArchivedGame) error {
	rankingJSON, err := json.Marshal(g.WinnerRanking)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO archived_games
		   (room_id, game_type, final_state_json, player_seats_json, winner_user_id, winner_ranking, total_pot, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		g.RoomID, g.GameType, g.FinalStateJSON, g.PlayerSeatsJSON, g.WinnerUserID, rankingJSON, g.TotalPot, g.StartedAt, g.EndedAt,
	)
	return err
}

func (r *ArchiveRepository) GetByRoomID(ctx context.Context, roomID string) (*domain.ArchivedGame, error) {
	g := &domain.ArchivedGame{}
	var rankingJSON []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, room_id, game_type, final_state_json, player_seats_json, winner_user_id, winner_ranking, total_pot, started_at, ended_at
		 FROM archived_games WHERE room_id = $1`,
		roomID,
	).Scan(&g.ID, &g.RoomID, &g.GameType, &g.FinalStateJSON, &g.PlayerSeatsJSON, &g.WinnerUserID, &rankingJSON, &g.TotalPot, &g.StartedAt, &g.EndedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rankingJSON, &g.WinnerRanking); err != nil {
		return nil, err
	}
	return g, nil
}
