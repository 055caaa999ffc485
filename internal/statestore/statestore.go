// Package statestore persists a room's encoded engine state and JSON meta
// in Redis, namespaced per game type so two engines never collide on a
// room ID.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"roomrunner/internal/domain"
)

var ErrNotFound = errors.New("statestore: room state not found")

type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func stateKey(gameType domain.GameType, roomID string) string {
	return fmt.Sprintf("state:%s:%s:data", gameType, roomID)
}

func metaKey(gameType domain.GameType, roomID string) string {
	return fmt.Sprintf("state:%s:%s:meta", gameType, roomID)
}

// Save writes the encoded engine state and its meta atomically.
func (s *Store) Save(ctx context.Context, gameType domain.GameType, roomID string, state []byte, meta *domain.GameStateMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, stateKey(gameType, roomID), state, 0)
	pipe.Set(ctx, metaKey(gameType, roomID), metaJSON, 0)
	_, err = pipe.Exec(ctx)
	return err
}

// Load returns the encoded state and meta for one room.
func (s *Store) Load(ctx context.Context, gameType domain.GameType, roomID string) ([]byte, *domain.GameStateMeta, error) {
	pipe := s.rdb.TxPipeline()
	stateCmd := pipe.Get(ctx, stateKey(gameType, roomID))
	metaCmd := pipe.Get(ctx, metaKey(gameType, roomID))
	_, err := pipe.Exec(ctx)
	if err == redis.Nil {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	stateBytes, err := stateCmd.Bytes()
	if err != nil {
		return nil, nil, ErrNotFound
	}
	metaBytes, err := metaCmd.Bytes()
	if err != nil {
		return nil, nil, ErrNotFound
	}
	var meta domain.GameStateMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, nil, err
	}
	return stateBytes, &meta, nil
}

// LoadMany batches Load across a page of rooms (the snapshot worker's
// read path), to avoid one Redis round trip per room.
func (s *Store) LoadMany(ctx context.Context, gameType domain.GameType, roomIDs []string) (map[string][]byte, map[string]*domain.GameStateMeta, error) {
	states := make(map[string][]byte, len(roomIDs))
	metas := make(map[string]*domain.GameStateMeta, len(roomIDs))
	if len(roomIDs) == 0 {
		return states, metas, nil
	}

	pipe := s.rdb.Pipeline()
	stateCmds := make(map[string]*redis.StringCmd, len(roomIDs))
	metaCmds := make(map[string]*redis.StringCmd, len(roomIDs))
	for _, id := range roomIDs {
		stateCmds[id] = pipe.Get(ctx, stateKey(gameType, id))
		metaCmds[id] = pipe.Get(ctx, metaKey(gameType, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, err
	}

	for _, id := range roomIDs {
		stateBytes, err := stateCmds[id].Bytes()
		if err != nil {
			continue
		}
		metaBytes, err := metaCmds[id].Bytes()
		if err != nil {
			continue
		}
		var meta domain.GameStateMeta
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			continue
		}
		states[id] = stateBytes
		metas[id] = &meta
	}
	return states, metas, nil
}

func (s *Store) Delete(ctx context.Context, gameType domain.GameType, roomID string) error {
	return s.rdb.Del(ctx, stateKey(gameType, roomID), metaKey(gameType, roomID)).Err()
}
