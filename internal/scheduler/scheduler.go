// Package scheduler runs the periodic turn-timeout sweep: rooms whose
// current turn has gone stale get their engine's CheckTimeouts invoked on
// behalf of the idle player, same as a real command but privileged and
// server-initiated.
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"roomrunner/internal/domain"
	"roomrunner/internal/engine"
	"roomrunner/internal/gamereg"
	"roomrunner/internal/registry"
	"roomrunner/internal/statestore"
)

const defaultTurnTimeout = 30 * time.Second

func turnTimeoutFor(room *domain.Room) time.Duration {
	raw, ok := room.Config["turnTimeoutSeconds"]
	if !ok {
		return defaultTurnTimeout
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return defaultTurnTimeout
	}
	return time.Duration(seconds) * time.Second
}

const (
	defaultTickInterval = 5 * time.Second
	staleAfter          = 5 * time.Second
	maxRoomsPerTick     = 50
	lockTTL             = 1 * time.Second
)

// RoomFinishedHandler lets the caller (the ws dispatcher) fold every
// broadcastable scheduler-forced result into the same broadcast path a
// client-driven command would take, and a terminal one into the same
// payout/archive path.
type RoomFinishedHandler func(ctx context.Context, room *domain.Room, meta *domain.GameStateMeta, result engine.Result)

type Scheduler struct {
	reg          *registry.Registry
	store        *statestore.Store
	onResult     RoomFinishedHandler
	tickInterval time.Duration
	log          *slog.Logger
}

func New(reg *registry.Registry, store *statestore.Store, onResult RoomFinishedHandler, tickInterval time.Duration, log *slog.Logger) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	return &Scheduler{reg: reg, store: store, onResult: onResult, tickInterval: tickInterval, log: log}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, gameType := range gamereg.Types() {
				s.sweepGameType(ctx, gameType)
			}
		}
	}
}

func (s *Scheduler) sweepGameType(ctx context.Context, gameType domain.GameType) {
	staleRoomIDs, err := s.reg.StaleRooms(ctx, gameType, time.Now().Add(-staleAfter), maxRoomsPerTick)
	if err != nil {
		s.log.Error("scheduler: failed to list stale rooms", "gameType", gameType, "err", err)
		return
	}
	for _, roomID := range staleRoomIDs {
		s.checkRoom(ctx, gameType, roomID)
	}
}

func (s *Scheduler) checkRoom(ctx context.Context, gameType domain.GameType, roomID string) {
	// Resolve through the shared registry, not any process-local cache:
	// the stale room may have been created by a sibling process.
	room, err := s.reg.GetRoom(ctx, roomID)
	if err != nil {
		if err != registry.ErrRoomNotFound {
			s.log.Warn("scheduler: failed to resolve room", "room", roomID, "err", err)
		}
		return
	}
	module, ok := gamereg.Get(gameType)
	if !ok {
		return
	}

	token, err := s.reg.AcquireLock(ctx, roomID, lockTTL)
	if err != nil {
		return // another dispatcher/scheduler instance already holds it.
	}
	defer s.reg.ReleaseLock(ctx, roomID, token)

	state, meta, err := s.store.Load(ctx, gameType, roomID)
	if err != nil {
		return
	}

	result, err := module.CheckTimeouts(state, meta, time.Now(), turnTimeoutFor(room))
	if err != nil {
		s.log.Warn("scheduler: CheckTimeouts failed", "room", roomID, "err", err)
		return
	}
	if !result.ShouldBroadcast {
		return
	}

	if err := s.store.Save(ctx, gameType, roomID, result.State, meta); err != nil {
		s.log.Error("scheduler: failed to save post-timeout state", "room", roomID, "err", err)
		return
	}
	s.reg.TouchActivity(ctx, gameType, roomID, time.Now())

	if s.onResult != nil {
		s.onResult(ctx, room, meta, result)
	}
}
