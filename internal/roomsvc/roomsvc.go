// Package roomsvc owns room lifecycle: creation, seat assignment, leaving
// and deletion. It coordinates the room registry (who's where), the entry
// fee reservation (economy) and the engine's initial state (once every
// seat is filled) but never runs game logic itself.
package roomsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"roomrunner/internal/domain"
	"roomrunner/internal/economy"
	"roomrunner/internal/gamereg"
	"roomrunner/internal/registry"
	"roomrunner/internal/statestore"
)

var (
	ErrRoomFull        = errors.New("roomsvc: room is full")
	ErrAlreadySeated   = errors.New("roomsvc: user already seated in this room")
	ErrUnknownGameType = errors.New("roomsvc: unknown game type")
	ErrRoomNotFound    = registry.ErrRoomNotFound
)

type Service struct {
	reg   *registry.Registry
	store *statestore.Store
	econ  *economy.Core
	log   *slog.Logger
}

func New(reg *registry.Registry, store *statestore.Store, econ *economy.Core, log *slog.Logger) *Service {
	return &Service{reg: reg, store: store, econ: econ, log: log}
}

// Create allocates a new room and indexes it, but does not start the game:
// the engine's initial state is only materialized once every seat fills.
func (s *Service) Create(ctx context.Context, gameType domain.GameType, maxPlayers int, entryFee int64, config map[string]string, isPublic bool) (*domain.Room, error) {
	if _, ok := gamereg.Get(gameType); !ok {
		return nil, ErrUnknownGameType
	}
	room := &domain.Room{
		ID:          uuid.NewString(),
		GameType:    gameType,
		MaxPlayers:  maxPlayers,
		EntryFee:    entryFee,
		Config:      config,
		IsPublic:    isPublic,
		PlayerSeats: make(map[int64]int),
		CreatedAt:   time.Now(),
	}
	if err := s.reg.RegisterRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// Join reserves the entry fee, assigns the next free seat, persists the
// updated seat map to the registry, and — if that was the last seat —
// materializes the engine's initial state and starts the first turn clock.
// Every failure after the reservation releases the seat and refunds the
// fee, so a failed join leaves neither a stuck debit nor a ghost seat.
func (s *Service) Join(ctx context.Context, room *domain.Room, userID int64) (seat int, started bool, err error) {
	if _, already := room.SeatOf(userID); already {
		return 0, false, ErrAlreadySeated
	}
	if !room.HasFreeSeat() {
		return 0, false, ErrRoomFull
	}

	idempotencyKey := fmt.Sprintf("join-%s-%d", room.ID, userID)
	reservation, err := s.econ.ReserveEntryFee(ctx, userID, room.ID, room.EntryFee, idempotencyKey)
	if err != nil {
		return 0, false, err
	}

	seat = room.NextFreeSeat()
	room.PlayerSeats[userID] = seat

	rollback := func() {
		delete(room.PlayerSeats, userID)
		if err := s.reg.SaveRoom(ctx, room); err != nil {
			s.log.Error("roomsvc: failed to release seat after join failure", "room", room.ID, "user", userID, "err", err)
		}
		if err := s.reg.ClearUserRoom(ctx, userID); err != nil {
			s.log.Error("roomsvc: failed to clear user-room after join failure", "room", room.ID, "user", userID, "err", err)
		}
		if err := s.econ.RefundEntryFee(ctx, reservation); err != nil {
			s.log.Error("roomsvc: failed to refund reservation after join failure", "room", room.ID, "user", userID, "err", err)
		}
	}

	if err := s.reg.SetUserRoom(ctx, userID, room.ID); err != nil {
		rollback()
		return 0, false, err
	}
	if err := s.reg.SaveRoom(ctx, room); err != nil {
		rollback()
		return 0, false, err
	}

	if len(room.PlayerSeats) < room.MaxPlayers {
		return seat, false, nil
	}

	module, ok := gamereg.Get(room.GameType)
	if !ok {
		rollback()
		return 0, false, ErrUnknownGameType
	}
	now := time.Now()
	state, meta, err := module.NewState(room.PlayerSeats, room.EntryFee, now)
	if err != nil {
		rollback()
		return 0, false, err
	}
	if err := s.store.Save(ctx, room.GameType, room.ID, state, meta); err != nil {
		rollback()
		return 0, false, err
	}
	room.TurnStartedAt = now
	if err := s.reg.SaveRoom(ctx, room); err != nil {
		s.log.Warn("roomsvc: failed to persist turn start time", "room", room.ID, "err", err)
	}

	// The game is on: finalize every seat's tentative reservation. A failed
	// rewrite is logged, not fatal — the debit itself already happened and
	// the description rewrite carries no balance effect.
	for uid := range room.PlayerSeats {
		res := &domain.EntryFeeReservation{
			ReservationID: fmt.Sprintf("join-%s-%d", room.ID, uid),
			UserID:        uid,
			RoomID:        room.ID,
			Amount:        room.EntryFee,
		}
		if err := s.econ.CommitEntryFee(ctx, res); err != nil {
			s.log.Warn("roomsvc: failed to commit entry fee reservation", "room", room.ID, "user", uid, "err", err)
		}
	}
	return seat, true, nil
}

// Leave refunds a never-started room's reservation and frees the seat, or
// (if the game already started) leaves the seat's fee forfeit to the pot
// and lets the dispatcher's disconnect-grace handling decide whether the
// game continues short-handed.
func (s *Service) Leave(ctx context.Context, room *domain.Room, userID int64, gameStarted bool) error {
	if _, ok := room.SeatOf(userID); !ok {
		return nil
	}
	if err := s.reg.ClearUserRoom(ctx, userID); err != nil {
		return err
	}
	if !gameStarted {
		idempotencyKey := fmt.Sprintf("join-%s-%d", room.ID, userID)
		if err := s.econ.RefundEntryFee(ctx, &domain.EntryFeeReservation{
			UserID: userID, RoomID: room.ID, Amount: room.EntryFee, ReservationID: idempotencyKey,
		}); err != nil {
			return err
		}
		delete(room.PlayerSeats, userID)
		if err := s.reg.SaveRoom(ctx, room); err != nil {
			return err
		}
	}
	return nil
}

// Delete tears down every index entry for a room once it's archived.
func (s *Service) Delete(ctx context.Context, room *domain.Room) error {
	if err := s.store.Delete(ctx, room.GameType, room.ID); err != nil {
		return err
	}
	for userID := range room.PlayerSeats {
		_ = s.reg.ClearUserRoom(ctx, userID)
	}
	return s.reg.UnregisterRoom(ctx, room.ID)
}
