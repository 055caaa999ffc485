// Package registry is the Redis-backed room directory: every running room is
// indexed so the dispatcher, scheduler and HTTP surface can all find it in
// O(1) without holding state in process memory (this process is one of
// many behind the load balancer).
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"roomrunner/internal/domain"
)

var ErrRoomNotFound = errors.New("registry: room not found")
var ErrLockHeld = errors.New("registry: lock already held")

const (
	keyRoomMeta       = "room:meta:"        // + roomID -> hash (gameType, maxPlayers, entryFee, isPublic, createdAt)
	keyRoomJSON       = "room:data:"        // + roomID -> full domain.Room JSON (seat map included)
	keyGameTypeByID   = "room:gametype:"    // + roomID -> string
	keyActivityZSet   = "room:activity:"    // + gameType -> zset roomID->unixnano
	keyCreatedZSet    = "room:created:"     // + gameType -> zset roomID->unixnano
	keyUserRoom       = "user:room:"        // + userID -> roomID
	keyUserConnCount  = "user:conns:"       // + userID -> int
	keyDisconnGrace   = "room:grace:"       // + roomID + ":" + userID -> seat, with TTL
	keyRateLimit      = "rl:ws:"            // + userID -> int, with TTL
	keyLock           = "room:lock:"        // + roomID -> lock token, with TTL
	keyCommandSeen    = "room:cmd:"         // + roomID + ":" + commandID -> "1", with TTL
	lockValuePrefix   = "held-by-"

	commandDedupTTL = 5 * time.Minute
)

type Registry struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// RegisterRoom indexes a freshly created room by game type, creation time
// and activity time, so it can be discovered by the scheduler or listed by
// the HTTP surface without a table scan.
func (r *Registry) RegisterRoom(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	now := float64(room.CreatedAt.UnixNano())
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, keyRoomMeta+room.ID, map[string]any{
		"gameType":   string(room.GameType),
		"maxPlayers": room.MaxPlayers,
		"entryFee":   room.EntryFee,
		"isPublic":   room.IsPublic,
		"createdAt":  room.CreatedAt.Format(time.RFC3339Nano),
	})
	pipe.Set(ctx, keyRoomJSON+room.ID, data, 0)
	pipe.Set(ctx, keyGameTypeByID+room.ID, string(room.GameType), 0)
	pipe.ZAdd(ctx, keyCreatedZSet+string(room.GameType), redis.Z{Score: now, Member: room.ID})
	pipe.ZAdd(ctx, keyActivityZSet+string(room.GameType), redis.Z{Score: now, Member: room.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// UnregisterRoom removes every index entry for a deleted or expired room.
func (r *Registry) UnregisterRoom(ctx context.Context, roomID string) error {
	gameType, err := r.rdb.Get(ctx, keyGameTypeByID+roomID).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keyRoomMeta+roomID)
	pipe.Del(ctx, keyRoomJSON+roomID)
	pipe.Del(ctx, keyGameTypeByID+roomID)
	if gameType != "" {
		pipe.ZRem(ctx, keyCreatedZSet+gameType, roomID)
		pipe.ZRem(ctx, keyActivityZSet+gameType, roomID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// TouchActivity bumps a room's position in the per-gameType activity index.
// The scheduler reads this index to find rooms stale enough to need a
// forced-timeout check.
func (r *Registry) TouchActivity(ctx context.Context, gameType domain.GameType, roomID string, now time.Time) error {
	return r.rdb.ZAdd(ctx, keyActivityZSet+string(gameType), redis.Z{
		Score: float64(now.UnixNano()), Member: roomID,
	}).Err()
}

// StaleRooms returns up to limit room IDs for gameType whose last recorded
// activity is older than olderThan, ordered from most to least stale.
func (r *Registry) StaleRooms(ctx context.Context, gameType domain.GameType, olderThan time.Time, limit int64) ([]string, error) {
	return r.rdb.ZRangeByScore(ctx, keyActivityZSet+string(gameType), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", olderThan.UnixNano()),
		Count: limit,
	}).Result()
}

// SaveRoom rewrites the full room record, seat map included. The registry
// copy is the authoritative one: every process resolves rooms through it,
// and in-process caches are refreshed from it, never the other way around.
func (r *Registry) SaveRoom(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, keyRoomJSON+room.ID, data, 0).Err()
}

// GetRoom resolves a room by ID from the shared store, returning
// ErrRoomNotFound when no such room is registered.
func (r *Registry) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	data, err := r.rdb.Get(ctx, keyRoomJSON+roomID).Bytes()
	if err == redis.Nil {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRooms pages through a game type's rooms newest-first, off the
// creation-score index.
func (r *Registry) ListRooms(ctx context.Context, gameType domain.GameType, offset, limit int64) ([]string, error) {
	return r.rdb.ZRevRange(ctx, keyCreatedZSet+string(gameType), offset, offset+limit-1).Result()
}

// SetUserRoom records which room a user currently occupies.
func (r *Registry) SetUserRoom(ctx context.Context, userID int64, roomID string) error {
	return r.rdb.Set(ctx, fmt.Sprintf("%s%d", keyUserRoom, userID), roomID, 0).Err()
}

func (r *Registry) GetUserRoom(ctx context.Context, userID int64) (string, bool, error) {
	roomID, err := r.rdb.Get(ctx, fmt.Sprintf("%s%d", keyUserRoom, userID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return roomID, true, nil
}

func (r *Registry) ClearUserRoom(ctx context.Context, userID int64) error {
	return r.rdb.Del(ctx, fmt.Sprintf("%s%d", keyUserRoom, userID)).Err()
}

// IncrConnectionCount and DecrConnectionCount enforce the per-user maximum
// concurrent connection limit across every process sharing this Redis.
func (r *Registry) IncrConnectionCount(ctx context.Context, userID int64) (int64, error) {
	return r.rdb.Incr(ctx, fmt.Sprintf("%s%d", keyUserConnCount, userID)).Result()
}

func (r *Registry) DecrConnectionCount(ctx context.Context, userID int64) (int64, error) {
	n, err := r.rdb.Decr(ctx, fmt.Sprintf("%s%d", keyUserConnCount, userID)).Result()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		r.rdb.Del(ctx, fmt.Sprintf("%s%d", keyUserConnCount, userID))
	}
	return n, nil
}

// SetDisconnectedGrace marks a seat as reconnectable for gracePeriod; a
// matching GetAndClearDisconnectedGrace within the window restores the
// seat instead of treating the rejoin as a new player.
func (r *Registry) SetDisconnectedGrace(ctx context.Context, roomID string, userID int64, seat int, gracePeriod time.Duration) error {
	key := fmt.Sprintf("%s%s:%d", keyDisconnGrace, roomID, userID)
	return r.rdb.Set(ctx, key, seat, gracePeriod).Err()
}

func (r *Registry) GetAndClearDisconnectedGrace(ctx context.Context, roomID string, userID int64) (int, bool, error) {
	key := fmt.Sprintf("%s%s:%d", keyDisconnGrace, roomID, userID)
	seat, err := r.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	r.rdb.Del(ctx, key)
	return seat, true, nil
}

// IncrRateLimit implements the per-user message rate limit with a fixed
// window, mirroring the HTTP rate limiter's INCR/EXPIRE pattern.
func (r *Registry) IncrRateLimit(ctx context.Context, userID int64, window time.Duration) (int64, error) {
	key := fmt.Sprintf("%s%d", keyRateLimit, userID)
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		r.rdb.Expire(ctx, key, window)
	}
	return n, nil
}

// AcquireLock takes a per-room mutual-exclusion lock using SET NX PX, so
// only one dispatcher goroutine across the fleet can mutate a room's state
// at a time. Returns ErrLockHeld if another holder currently has it.
func (r *Registry) AcquireLock(ctx context.Context, roomID string, ttl time.Duration) (token string, err error) {
	token = lockValuePrefix + uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, keyLock+roomID, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// AcquireLockWithRetry polls AcquireLock until it succeeds or timeout
// elapses, used by command handling which can tolerate a short wait rather
// than failing outright on contention.
func (r *Registry) AcquireLockWithRetry(ctx context.Context, roomID string, ttl, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		token, err := r.AcquireLock(ctx, roomID, ttl)
		if err == nil {
			return token, nil
		}
		if err != ErrLockHeld {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// releaseLockScript only deletes the lock if the caller still holds it,
// so a lock that expired and was re-acquired by someone else is untouched.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (r *Registry) ReleaseLock(ctx context.Context, roomID, token string) error {
	return releaseLockScript.Run(ctx, r.rdb, []string{keyLock + roomID}, token).Err()
}

// IsCommandProcessed reports whether a commandID was already marked
// processed for a room within the dedup window. Read-only: a command that
// fails before completing must stay retryable, so the mark is written
// separately by MarkCommandProcessed only after success.
func (r *Registry) IsCommandProcessed(ctx context.Context, roomID, commandID string) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", keyCommandSeen, roomID, commandID)
	n, err := r.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// MarkCommandProcessed records a successfully-applied commandID so a
// client retry within the dedup window is dropped instead of re-executed.
func (r *Registry) MarkCommandProcessed(ctx context.Context, roomID, commandID string) error {
	key := fmt.Sprintf("%s%s:%s", keyCommandSeen, roomID, commandID)
	return r.rdb.Set(ctx, key, "1", commandDedupTTL).Err()
}
