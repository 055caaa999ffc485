package statestore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"roomrunner/internal/domain"
)

const (
	defaultSnapshotInterval = time.Minute
	snapshotPageSize        = 200
)

// RoomLister is the slice of the room registry the snapshot worker needs:
// paging through every live room of a game type.
type RoomLister interface {
	ListRooms(ctx context.Context, gameType domain.GameType, offset, limit int64) ([]string, error)
}

// SnapshotWorker copies each live room's (state, meta) pair into Postgres
// at a coarse interval. The snapshot table is a recovery fall-back for a
// lost Redis, never a primary read path, so lag of up to one interval is
// acceptable by design of the store contract.
type SnapshotWorker struct {
	store    *Store
	rooms    RoomLister
	db       *pgxpool.Pool
	types    func() []domain.GameType
	interval time.Duration
	log      *slog.Logger
}

func NewSnapshotWorker(store *Store, rooms RoomLister, db *pgxpool.Pool, types func() []domain.GameType, interval time.Duration, log *slog.Logger) *SnapshotWorker {
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}
	return &SnapshotWorker{store: store, rooms: rooms, db: db, types: types, interval: interval, log: log}
}

func (w *SnapshotWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, gameType := range w.types() {
				w.snapshotGameType(ctx, gameType)
			}
		}
	}
}

func (w *SnapshotWorker) snapshotGameType(ctx context.Context, gameType domain.GameType) {
	for offset := int64(0); ; offset += snapshotPageSize {
		roomIDs, err := w.rooms.ListRooms(ctx, gameType, offset, snapshotPageSize)
		if err != nil {
			w.log.Error("snapshot: failed to list rooms", "gameType", gameType, "err", err)
			return
		}
		if len(roomIDs) == 0 {
			return
		}

		states, metas, err := w.store.LoadMany(ctx, gameType, roomIDs)
		if err != nil {
			w.log.Error("snapshot: bulk load failed", "gameType", gameType, "err", err)
			return
		}
		for roomID, state := range states {
			meta := metas[roomID]
			if meta == nil {
				continue
			}
			if err := w.upsert(ctx, gameType, roomID, state, meta); err != nil {
				w.log.Warn("snapshot: upsert failed", "room", roomID, "err", err)
			}
		}

		if int64(len(roomIDs)) < snapshotPageSize {
			return
		}
	}
}

func (w *SnapshotWorker) upsert(ctx context.Context, gameType domain.GameType, roomID string, state []byte, meta *domain.GameStateMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = w.db.Exec(ctx,
		`INSERT INTO game_state_snapshots (game_type, room_id, state, meta_json, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (game_type, room_id)
		 DO UPDATE SET state = EXCLUDED.state, meta_json = EXCLUDED.meta_json, updated_at = now()`,
		gameType, roomID, state, metaJSON,
	)
	return err
}

// Restore reads the fall-back copy for one room, for use after a Redis
// loss. Returns ErrNotFound when no snapshot was ever taken.
func (w *SnapshotWorker) Restore(ctx context.Context, gameType domain.GameType, roomID string) ([]byte, *domain.GameStateMeta, error) {
	var state []byte
	var metaJSON []byte
	err := w.db.QueryRow(ctx,
		`SELECT state, meta_json FROM game_state_snapshots WHERE game_type = $1 AND room_id = $2`,
		gameType, roomID,
	).Scan(&state, &metaJSON)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	var meta domain.GameStateMeta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, err
	}
	return state, &meta, nil
}
