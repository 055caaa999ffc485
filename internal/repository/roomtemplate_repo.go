package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomrunner/internal/domain"
)

var ErrTemplateNotFound = errors.New("repository: room template not found")

type RoomTemplateRepository struct {
	db *pgxpool.Pool
}

func NewRoomTemplateRepository(db *pgxpool.Pool) *RoomTemplateRepository {
	return &RoomTemplateRepository{db: db}
}

func (r *RoomTemplateRepository) GetByID(ctx context.Context, id int64) (*domain.RoomTemplate, error) {
	t := &domain.RoomTemplate{}
	var configJSON []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, name, game_type, max_players, entry_fee, config_json FROM room_templates WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Name, &t.GameType, &t.MaxPlayers, &t.EntryFee, &configJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &t.Config); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (r *RoomTemplateRepository) ListByGameType(ctx context.Context, gameType domain.GameType) ([]*domain.RoomTemplate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, game_type, max_players, entry_fee, config_json FROM room_templates WHERE game_type = $1 ORDER BY id`,
		gameType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RoomTemplate
	for rows.Next() {
		t := &domain.RoomTemplate{}
		var configJSON []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.GameType, &t.MaxPlayers, &t.EntryFee, &configJSON); err != nil {
			return nil, err
		}
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &t.Config); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *RoomTemplateRepository) GetGlobalSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM global_settings WHERE key = $1`, key).Scan(&value)
	return value, err
}
