package registry

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"roomrunner/internal/domain"
)

// Integration-style tests: run only if REDIS_ADDR env is set.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb)
}

func testRoom(id string) *domain.Room {
	return &domain.Room{
		ID:          id,
		GameType:    domain.GameTypeLudo,
		MaxPlayers:  4,
		EntryFee:    100,
		PlayerSeats: map[int64]int{},
		CreatedAt:   time.Now(),
	}
}

func TestRegisterAndStaleRooms(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	roomID := fmt.Sprintf("reg-test-%d", rand.Int63())

	room := testRoom(roomID)
	if err := reg.RegisterRoom(ctx, room); err != nil {
		t.Fatalf("RegisterRoom: %v", err)
	}
	t.Cleanup(func() { reg.UnregisterRoom(ctx, roomID) })

	// Freshly registered: not stale against a cutoff in the past.
	stale, err := reg.StaleRooms(ctx, domain.GameTypeLudo, time.Now().Add(-time.Minute), 1000)
	if err != nil {
		t.Fatalf("StaleRooms: %v", err)
	}
	for _, id := range stale {
		if id == roomID {
			t.Fatal("fresh room must not be listed as stale")
		}
	}

	// Against a future cutoff the room qualifies.
	stale, err = reg.StaleRooms(ctx, domain.GameTypeLudo, time.Now().Add(time.Minute), 1000)
	if err != nil {
		t.Fatalf("StaleRooms: %v", err)
	}
	found := false
	for _, id := range stale {
		if id == roomID {
			found = true
		}
	}
	if !found {
		t.Fatal("registered room missing from activity index")
	}

	// Touching activity moves it out of a cutoff just after registration.
	reg.TouchActivity(ctx, domain.GameTypeLudo, roomID, time.Now().Add(time.Hour))
	stale, err = reg.StaleRooms(ctx, domain.GameTypeLudo, time.Now().Add(time.Minute), 1000)
	if err != nil {
		t.Fatalf("StaleRooms: %v", err)
	}
	for _, id := range stale {
		if id == roomID {
			t.Fatal("touched room must not be listed as stale")
		}
	}
}

func TestLockMutualExclusionAndRelease(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	roomID := fmt.Sprintf("lock-test-%d", rand.Int63())

	token, err := reg.AcquireLock(ctx, roomID, 2*time.Second)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if _, err := reg.AcquireLock(ctx, roomID, 2*time.Second); err != ErrLockHeld {
		t.Fatalf("expected ErrLockHeld on second acquire, got %v", err)
	}

	// A stale token must not release a lock it no longer holds.
	if err := reg.ReleaseLock(ctx, roomID, "held-by-someone-else"); err != nil {
		t.Fatalf("ReleaseLock with foreign token: %v", err)
	}
	if _, err := reg.AcquireLock(ctx, roomID, 2*time.Second); err != ErrLockHeld {
		t.Fatal("foreign-token release must not free the lock")
	}

	if err := reg.ReleaseLock(ctx, roomID, token); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	token2, err := reg.AcquireLock(ctx, roomID, 2*time.Second)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	reg.ReleaseLock(ctx, roomID, token2)
}

func TestDisconnectedGraceGetAndClearIsOneShot(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	roomID := fmt.Sprintf("grace-test-%d", rand.Int63())
	userID := rand.Int63()

	if err := reg.SetDisconnectedGrace(ctx, roomID, userID, 2, 30*time.Second); err != nil {
		t.Fatalf("SetDisconnectedGrace: %v", err)
	}
	seat, ok, err := reg.GetAndClearDisconnectedGrace(ctx, roomID, userID)
	if err != nil || !ok {
		t.Fatalf("expected grace slot present, ok=%v err=%v", ok, err)
	}
	if seat != 2 {
		t.Fatalf("expected seat 2, got %d", seat)
	}

	// Second read must find nothing: the reclaim is atomic-once.
	_, ok, err = reg.GetAndClearDisconnectedGrace(ctx, roomID, userID)
	if err != nil {
		t.Fatalf("GetAndClearDisconnectedGrace: %v", err)
	}
	if ok {
		t.Fatal("grace slot must be cleared after the first reclaim")
	}
}

func TestRateLimitCounterWindow(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	userID := rand.Int63()

	for i := 1; i <= 3; i++ {
		n, err := reg.IncrRateLimit(ctx, userID, time.Second)
		if err != nil {
			t.Fatalf("IncrRateLimit: %v", err)
		}
		if n != int64(i) {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}

	time.Sleep(1100 * time.Millisecond)
	n, err := reg.IncrRateLimit(ctx, userID, time.Second)
	if err != nil {
		t.Fatalf("IncrRateLimit after window: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected counter reset after window expiry, got %d", n)
	}
}

func TestCommandDedupMarksOnlyAfterExplicitWrite(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	roomID := fmt.Sprintf("cmd-test-%d", rand.Int63())

	seen, err := reg.IsCommandProcessed(ctx, roomID, "cmd-1")
	if err != nil {
		t.Fatalf("IsCommandProcessed: %v", err)
	}
	if seen {
		t.Fatal("unmarked commandId must not read as processed")
	}
	if err := reg.MarkCommandProcessed(ctx, roomID, "cmd-1"); err != nil {
		t.Fatalf("MarkCommandProcessed: %v", err)
	}
	seen, err = reg.IsCommandProcessed(ctx, roomID, "cmd-1")
	if err != nil || !seen {
		t.Fatalf("marked commandId must read as processed, seen=%v err=%v", seen, err)
	}
}

func TestRoomRecordRoundTripsWithSeats(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	roomID := fmt.Sprintf("room-json-%d", rand.Int63())

	room := testRoom(roomID)
	if err := reg.RegisterRoom(ctx, room); err != nil {
		t.Fatalf("RegisterRoom: %v", err)
	}
	t.Cleanup(func() { reg.UnregisterRoom(ctx, roomID) })

	room.PlayerSeats[42] = 0
	room.PlayerSeats[43] = 1
	if err := reg.SaveRoom(ctx, room); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}

	got, err := reg.GetRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.GameType != room.GameType || got.MaxPlayers != room.MaxPlayers {
		t.Fatalf("room fields lost in round trip: %+v", got)
	}
	if len(got.PlayerSeats) != 2 || got.PlayerSeats[42] != 0 || got.PlayerSeats[43] != 1 {
		t.Fatalf("seat map lost in round trip: %+v", got.PlayerSeats)
	}

	if err := reg.UnregisterRoom(ctx, roomID); err != nil {
		t.Fatalf("UnregisterRoom: %v", err)
	}
	if _, err := reg.GetRoom(ctx, roomID); err != ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound after unregister, got %v", err)
	}
}

func TestConnectionCountDropsKeyAtZero(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	userID := rand.Int63()

	if _, err := reg.IncrConnectionCount(ctx, userID); err != nil {
		t.Fatalf("IncrConnectionCount: %v", err)
	}
	n, err := reg.IncrConnectionCount(ctx, userID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 connections, got %d (err %v)", n, err)
	}
	reg.DecrConnectionCount(ctx, userID)
	n, err = reg.DecrConnectionCount(ctx, userID)
	if err != nil {
		t.Fatalf("DecrConnectionCount: %v", err)
	}
	if n > 0 {
		t.Fatalf("expected count back at zero, got %d", n)
	}
	exists, err := reg.rdb.Exists(ctx, fmt.Sprintf("%s%d", keyUserConnCount, userID)).Result()
	if err != nil || exists != 0 {
		t.Fatalf("expected connection-count key removed at zero, exists=%d err=%v", exists, err)
	}
}
