package domain

import "time"

// GameStateMeta is the JSON-serialized sidecar to a game's opaque byte
// state: the fields the Dispatcher and scheduler need without decoding the
// game-specific payload.
type GameStateMeta struct {
	RoomID        string    `json:"roomId"`
	GameType      GameType  `json:"gameType"`
	CurrentPlayer int       `json:"currentPlayer"`
	TurnID        uint64    `json:"turnId"`
	Terminal      bool      `json:"terminal"`
	WinnerRanking []int     `json:"winnerRanking,omitempty"`
	TurnStartedAt time.Time `json:"turnStartedAt"`
	LastActivity  time.Time `json:"lastActivity"`
}

// ArchivedGame is the immutable record written once a room's game ends.
type ArchivedGame struct {
	ID             int64           `db:"id" json:"id"`
	RoomID         string          `db:"room_id" json:"roomId"`
	GameType       GameType        `db:"game_type" json:"gameType"`
	FinalStateJSON []byte          `db:"final_state_json" json:"-"`
	PlayerSeatsJSON []byte         `db:"player_seats_json" json:"-"`
	WinnerUserID   *int64          `db:"winner_user_id" json:"winnerUserId,omitempty"`
	WinnerRanking  []int           `db:"winner_ranking" json:"winnerRanking,omitempty"`
	TotalPot       int64           `db:"total_pot" json:"totalPot"`
	StartedAt      time.Time       `db:"started_at" json:"startedAt"`
	EndedAt        time.Time       `db:"ended_at" json:"endedAt"`
}
