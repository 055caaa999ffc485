// Package ws is the Dispatcher/Hub: it owns every live websocket
// connection, routes inbound commands to the right room's engine under a
// distributed lock, and broadcasts the resulting state and events back out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roomrunner/internal/domain"
	"roomrunner/internal/economy"
	"roomrunner/internal/engine"
	"roomrunner/internal/gamereg"
	"roomrunner/internal/registry"
	"roomrunner/internal/repository"
	"roomrunner/internal/roomsvc"
	"roomrunner/internal/statestore"
)

const (
	lockTTL                 = 2 * time.Second
	lockWaitTimeout         = 2 * time.Second
	defaultReconnectGrace   = 30 * time.Second
	rateLimitWindow         = time.Minute
	defaultRateLimitPerUser = 60
	defaultMaxConnsPerUser  = 3
)

// ErrTooManyConnections is returned by Attach when the user already has the
// configured maximum number of live connections across the fleet.
var ErrTooManyConnections = errors.New("ws: too many connections for user")

// connectedRoom tracks who is currently connected to a room on this
// process. The room field is a snapshot taken at track time and is only
// read for its immutable ID/gameType; the authoritative record (seat map
// included) always comes from registry.GetRoom, so multiple dispatcher
// processes agree on who sits where.
type connectedRoom struct {
	mu      sync.RWMutex
	room    *domain.Room
	clients map[int64]*Client
}

type Dispatcher struct {
	reg     *registry.Registry
	store   *statestore.Store
	rooms   *roomsvc.Service
	econ    *economy.Core
	outbox  *repository.OutboxRepository
	log     *slog.Logger

	reconnectGrace   time.Duration
	rateLimitPerUser int
	maxConnsPerUser  int

	mu        sync.RWMutex
	connected map[string]*connectedRoom
}

// NewDispatcher wires the hub. reconnectGrace, rateLimitPerUser and
// maxConnsPerUser come from config.SessionConfig/RateLimitConfig; a zero
// value for any of them falls back to this build's defaults.
func NewDispatcher(reg *registry.Registry, store *statestore.Store, rooms *roomsvc.Service, econ *economy.Core, outbox *repository.OutboxRepository, log *slog.Logger, reconnectGrace time.Duration, rateLimitPerUser, maxConnsPerUser int) *Dispatcher {
	if reconnectGrace <= 0 {
		reconnectGrace = defaultReconnectGrace
	}
	if rateLimitPerUser <= 0 {
		rateLimitPerUser = defaultRateLimitPerUser
	}
	if maxConnsPerUser <= 0 {
		maxConnsPerUser = defaultMaxConnsPerUser
	}
	return &Dispatcher{
		reg:              reg,
		store:            store,
		rooms:            rooms,
		econ:             econ,
		outbox:           outbox,
		log:              log,
		reconnectGrace:   reconnectGrace,
		rateLimitPerUser: rateLimitPerUser,
		maxConnsPerUser:  maxConnsPerUser,
		connected:        make(map[string]*connectedRoom),
	}
}

// TrackRoom registers a room with the dispatcher's in-process fan-out so
// clients connecting to it can be found; called by the HTTP layer right
// after roomsvc.Create and by Attach for rooms created on a sibling
// process.
func (d *Dispatcher) TrackRoom(room *domain.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.connected[room.ID]; !ok {
		d.connected[room.ID] = &connectedRoom{room: room, clients: make(map[int64]*Client)}
	}
}

func (d *Dispatcher) roomFor(roomID string) (*connectedRoom, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cr, ok := d.connected[roomID]
	return cr, ok
}

// Attach registers a new connection into a room's fan-out, handling the
// reconnection-grace path: a client re-connecting within the grace window
// re-occupies their old seat instead of being treated as a brand new
// participant.
func (d *Dispatcher) Attach(ctx context.Context, client *Client) error {
	cr, ok := d.roomFor(client.RoomID)
	if !ok {
		// Room created on a sibling process: resolve it through the
		// registry and start tracking it locally for fan-out.
		room, err := d.reg.GetRoom(ctx, client.RoomID)
		if err != nil {
			return roomsvc.ErrRoomNotFound
		}
		d.TrackRoom(room)
		cr, _ = d.roomFor(client.RoomID)
	}

	// Bump the fleet-wide connection count first; over the cap, undo the
	// bump and refuse the connection.
	if n, err := d.reg.IncrConnectionCount(ctx, client.UserID); err == nil && n > int64(d.maxConnsPerUser) {
		d.reg.DecrConnectionCount(ctx, client.UserID)
		return ErrTooManyConnections
	}

	_, wasGraced, err := d.reg.GetAndClearDisconnectedGrace(ctx, client.RoomID, client.UserID)
	if err == nil && wasGraced {
		d.log.Info("ws: client reconnected within grace window", "user", client.UserID, "room", client.RoomID)
	}

	cr.mu.Lock()
	cr.clients[client.UserID] = client
	cr.mu.Unlock()

	if wasGraced {
		cr.mu.RLock()
		for uid, other := range cr.clients {
			if uid == client.UserID {
				continue
			}
			other.sendType(MsgPlayerReconnected, map[string]any{"userId": client.UserID})
		}
		cr.mu.RUnlock()
	}

	d.pushGameState(ctx, cr, client.UserID)
	return nil
}

// Detach removes a connection from the fan-out and, for a seated player,
// starts the reconnection grace window and hands the expiry check to
// scheduleDisconnectEviction.
func (d *Dispatcher) Detach(client *Client) {
	ctx := context.Background()
	cr, ok := d.roomFor(client.RoomID)
	if !ok {
		return
	}
	cr.mu.Lock()
	delete(cr.clients, client.UserID)
	cr.mu.Unlock()

	d.reg.DecrConnectionCount(ctx, client.UserID)
	room, err := d.reg.GetRoom(ctx, client.RoomID)
	if err != nil {
		return
	}
	if seat, ok := room.SeatOf(client.UserID); ok {
		d.reg.SetDisconnectedGrace(ctx, client.RoomID, client.UserID, seat, d.reconnectGrace+time.Second)

		cr.mu.RLock()
		for uid, other := range cr.clients {
			if uid == client.UserID {
				continue
			}
			other.sendType(MsgPlayerDisconnected, map[string]any{"userId": client.UserID, "graceSeconds": int(d.reconnectGrace.Seconds())})
		}
		cr.mu.RUnlock()

		d.scheduleDisconnectEviction(client.RoomID, client.UserID)
	}
}

// scheduleDisconnectEviction implements the Reconnection Manager's expiry
// path: after grace+2s, if the grace slot is still present (the user never
// reconnected and reclaimed it), the seat is released via roomsvc.Leave and
// a PlayerLeft event is broadcast. The check itself takes a short
// per-user lock so it can't race a concurrent reconnect.
func (d *Dispatcher) scheduleDisconnectEviction(roomID string, userID int64) {
	go func() {
		time.Sleep(d.reconnectGrace + 2*time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		lockKey := fmt.Sprintf("disconnect:%d", userID)
		token, err := d.reg.AcquireLock(ctx, lockKey, 5*time.Second)
		if err != nil {
			return
		}
		defer d.reg.ReleaseLock(ctx, lockKey, token)

		seat, stillGraced, err := d.reg.GetAndClearDisconnectedGrace(ctx, roomID, userID)
		if err != nil || !stillGraced {
			return
		}

		room, err := d.reg.GetRoom(ctx, roomID)
		if err != nil {
			return // room already torn down; nothing to evict from.
		}
		gameStarted := len(room.PlayerSeats) == room.MaxPlayers
		if err := d.rooms.Leave(ctx, room, userID, gameStarted); err != nil {
			d.log.Error("ws: failed to evict disconnected player", "room", roomID, "user", userID, "err", err)
			return
		}

		if cr, ok := d.roomFor(roomID); ok {
			cr.mu.RLock()
			for _, other := range cr.clients {
				other.sendType(MsgPlayerLeft, map[string]any{"userId": userID, "seat": seat})
			}
			cr.mu.RUnlock()
		}
	}()
}

// HandleMessage is the Client.Run onMessage callback: decodes the inbound
// frame and, for commands, runs the full validated dispatch path.
func (d *Dispatcher) HandleMessage(client *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.log.Warn("ws: malformed message", "user", client.UserID, "err", err)
		return
	}
	if msg.Type != MsgCommand {
		return
	}

	var cmd CommandEnvelope
	body, _ := json.Marshal(msg.Payload)
	if err := json.Unmarshal(body, &cmd); err != nil {
		client.sendType(MsgActionError, map[string]any{"code": engine.ErrCodeInvalidInput, "message": "malformed command"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.dispatchCommand(ctx, client, cmd)
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, client *Client, cmd CommandEnvelope) {
	cr, ok := d.roomFor(client.RoomID)
	if !ok {
		client.sendType(MsgActionError, map[string]any{"code": engine.ErrCodeInvalidInput, "message": "room not found"})
		return
	}

	if n, err := d.reg.IncrRateLimit(ctx, client.UserID, rateLimitWindow); err == nil && n > int64(d.rateLimitPerUser) {
		client.sendType(MsgActionError, map[string]any{"code": "rate_limited", "message": "too many commands"})
		return
	}

	// Room lifecycle/read-only commands run without the per-action room
	// lock, per spec: they don't touch engine state.
	switch cmd.Action {
	case "get_state":
		d.pushGameState(ctx, cr, client.UserID)
		return
	case "get_legal_actions":
		d.handleGetLegalActions(ctx, cr, client)
		return
	case "send_chat_message":
		d.handleChatMessage(cr, client, cmd.Payload)
		return
	case "spectate":
		d.handleSpectate(ctx, cr, client)
		return
	case "stop_spectating":
		d.handleStopSpectating(cr, client)
		return
	}

	// Read-only duplicate check: the mark itself is only written after a
	// successful apply+save, so a command that bounced off a busy lock or
	// an engine rejection stays retryable under the same commandId.
	if cmd.CommandID != "" {
		if seen, err := d.reg.IsCommandProcessed(ctx, client.RoomID, cmd.CommandID); err == nil && seen {
			return // already applied; silently drop the retried command.
		}
	}

	token, err := d.reg.AcquireLockWithRetry(ctx, client.RoomID, lockTTL, lockWaitTimeout)
	if err != nil {
		client.sendType(MsgActionError, map[string]any{"code": "room_busy", "message": "room is busy, try again"})
		return
	}
	defer d.reg.ReleaseLock(ctx, client.RoomID, token)

	room, err := d.reg.GetRoom(ctx, client.RoomID)
	if err != nil {
		client.sendType(MsgActionError, map[string]any{"code": engine.ErrCodeInvalidInput, "message": "room not found"})
		return
	}
	seat, ok := room.SeatOf(client.UserID)
	if !ok {
		client.sendType(MsgActionError, map[string]any{"code": engine.ErrCodeInvalidInput, "message": "not seated in this room"})
		return
	}

	module, ok := gamereg.Get(room.GameType)
	if !ok {
		client.sendType(MsgActionError, map[string]any{"code": engine.ErrCodeInvalidInput, "message": "unknown game type"})
		return
	}

	state, meta, err := d.store.Load(ctx, room.GameType, room.ID)
	if err != nil {
		client.sendType(MsgActionError, map[string]any{"code": engine.ErrCodeInvalidInput, "message": "game not started"})
		return
	}

	result, applyErr := module.Apply(state, meta, engine.Command{
		UserID: client.UserID, Seat: seat, Action: cmd.Action, Payload: cmd.Payload,
	}, time.Now())
	if applyErr != nil {
		var actionErr *engine.ActionError
		code := engine.ErrorCode("invalid_input")
		msg := applyErr.Error()
		if ae, ok := applyErr.(*engine.ActionError); ok {
			actionErr = ae
			code = actionErr.Code
		}
		client.sendType(MsgActionError, map[string]any{"code": code, "message": msg})
		return
	}

	if err := d.store.Save(ctx, room.GameType, room.ID, result.State, meta); err != nil {
		d.log.Error("ws: failed to save state", "room", room.ID, "err", err)
		return
	}
	d.reg.TouchActivity(ctx, room.GameType, room.ID, time.Now())
	if cmd.CommandID != "" {
		if err := d.reg.MarkCommandProcessed(ctx, client.RoomID, cmd.CommandID); err != nil {
			d.log.Warn("ws: failed to mark command processed", "room", room.ID, "commandId", cmd.CommandID, "err", err)
		}
	}

	if result.ShouldBroadcast {
		d.broadcastState(ctx, cr, module, meta, result)
	}
	if result.Terminal {
		d.finishRoom(ctx, cr, room, result)
	}
}

func (d *Dispatcher) pushGameState(ctx context.Context, cr *connectedRoom, userID int64) {
	module, ok := gamereg.Get(cr.room.GameType)
	if !ok {
		return
	}
	state, meta, err := d.store.Load(ctx, cr.room.GameType, cr.room.ID)
	if err != nil {
		return
	}
	view, err := module.DecodeForClient(state, meta)
	if err != nil {
		return
	}
	cr.mu.RLock()
	client, ok := cr.clients[userID]
	cr.mu.RUnlock()
	if ok {
		client.sendType(MsgGameState, view)
	}
}

// handleGetLegalActions answers GetLegalActions(roomId): the caller's seat
// must be resolvable and the engine's LegalActions is computed read-only,
// with no state mutation or broadcast to the rest of the room.
func (d *Dispatcher) handleGetLegalActions(ctx context.Context, cr *connectedRoom, client *Client) {
	module, ok := gamereg.Get(cr.room.GameType)
	if !ok {
		client.sendType(MsgLegalActions, map[string]any{"actions": []string{}})
		return
	}
	room, err := d.reg.GetRoom(ctx, cr.room.ID)
	if err != nil {
		client.sendType(MsgLegalActions, map[string]any{"actions": []string{}})
		return
	}
	seat, ok := room.SeatOf(client.UserID)
	if !ok {
		client.sendType(MsgLegalActions, map[string]any{"actions": []string{}})
		return
	}
	state, meta, err := d.store.Load(ctx, cr.room.GameType, cr.room.ID)
	if err != nil {
		client.sendType(MsgLegalActions, map[string]any{"actions": []string{}})
		return
	}
	client.sendType(MsgLegalActions, map[string]any{"actions": module.LegalActions(state, meta, seat)})
}

// handleChatMessage fans SendChatMessage out to every connected client in
// the room; chat has no effect on game state and isn't ordered against
// in-game action broadcasts (per spec 5: PlayerJoined/Left/chat ordering
// is not serialized against game action broadcasts).
func (d *Dispatcher) handleChatMessage(cr *connectedRoom, client *Client, payload map[string]any) {
	text, _ := payload["message"].(string)
	if text == "" {
		return
	}
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	for _, other := range cr.clients {
		other.sendType(MsgChat, map[string]any{
			"userId": client.UserID,
			"message": text,
			"ts":      time.Now().UnixMilli(),
		})
	}
}

// handleSpectate opts a non-seated connection into the room's broadcast
// fan-out. Seated players are already subscribed, so for them this is just
// a state refresh; spectators never enter the seat map and any game
// command from them is rejected at the seat check.
func (d *Dispatcher) handleSpectate(ctx context.Context, cr *connectedRoom, client *Client) {
	cr.mu.Lock()
	cr.clients[client.UserID] = client
	cr.mu.Unlock()
	d.pushGameState(ctx, cr, client.UserID)
}

// handleStopSpectating drops the connection from the fan-out without
// touching seats; a seated player calling it simply stops receiving
// broadcasts until they spectate or reconnect.
func (d *Dispatcher) handleStopSpectating(cr *connectedRoom, client *Client) {
	cr.mu.Lock()
	delete(cr.clients, client.UserID)
	cr.mu.Unlock()
}

func (d *Dispatcher) broadcastState(ctx context.Context, cr *connectedRoom, module engine.Engine, meta *domain.GameStateMeta, result engine.Result) {
	view, err := module.DecodeForClient(result.State, meta)
	if err != nil {
		view = map[string]any{}
	}
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	for _, client := range cr.clients {
		client.sendType(MsgGameState, view)
		for _, ev := range result.Events {
			client.sendType(MsgEvent, map[string]any{"name": ev.Name, "data": ev.Data, "autoPlay": ev.AutoPlay})
		}
	}
}

// finishRoom pays out the pot, enqueues the GameEnded outbox event
// (archival and the ephemeral-store teardown happen asynchronously when
// the outbox drains it) and notifies connected clients. room is the
// registry-resolved record so the seat map reflects every process's joins.
func (d *Dispatcher) finishRoom(ctx context.Context, cr *connectedRoom, room *domain.Room, result engine.Result) {
	seatToUserID := make(map[int]int64, len(room.PlayerSeats))
	for userID, seat := range room.PlayerSeats {
		seatToUserID[seat] = userID
	}

	var winnerUserID *int64
	if len(result.WinnerRanking) > 0 {
		if uid, ok := seatToUserID[result.WinnerRanking[0]]; ok {
			winnerUserID = &uid
		}
	}

	pot := room.EntryFee * int64(len(room.PlayerSeats))
	if pot > 0 {
		if err := d.econ.ProcessGamePayouts(ctx, room.ID, pot, result.WinnerRanking, winnerUserID, seatToUserID); err != nil {
			d.log.Error("ws: payout failed", "room", room.ID, "err", err)
		}
	}

	payload := domain.GameEndedEvent{
		RoomID:        room.ID,
		GameType:      room.GameType,
		FinalState:    result.State,
		PlayerSeats:   room.PlayerSeats,
		WinnerUserID:  winnerUserID,
		WinnerRanking: result.WinnerRanking,
		TotalPot:      pot,
		StartedAtUnix: room.TurnStartedAt.UnixNano(),
		EndedAtUnix:   time.Now().UnixNano(),
	}
	data, _ := json.Marshal(payload)
	if err := d.outbox.Insert(ctx, "GameEnded", data); err != nil {
		d.log.Error("ws: failed to enqueue GameEnded", "room", room.ID, "err", err)
	}

	cr.mu.RLock()
	for _, client := range cr.clients {
		client.sendType(MsgGameEnded, map[string]any{"winnerRanking": result.WinnerRanking})
	}
	cr.mu.RUnlock()

	d.mu.Lock()
	delete(d.connected, room.ID)
	d.mu.Unlock()
}

// HandleSchedulerResult folds a scheduler-forced CheckTimeouts result into
// the same broadcast/payout/archive path a client command would take.
func (d *Dispatcher) HandleSchedulerResult(ctx context.Context, room *domain.Room, meta *domain.GameStateMeta, result engine.Result) {
	cr, ok := d.roomFor(room.ID)
	if !ok {
		cr = &connectedRoom{room: room, clients: make(map[int64]*Client)}
	}
	module, ok := gamereg.Get(room.GameType)
	if !ok {
		return
	}
	if result.ShouldBroadcast {
		d.broadcastState(ctx, cr, module, meta, result)
	}
	if result.Terminal {
		d.finishRoom(ctx, cr, room, result)
	}
}
