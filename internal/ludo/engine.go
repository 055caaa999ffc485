package ludo

import (
	"math/rand"
	"time"

	"roomrunner/internal/domain"
	"roomrunner/internal/engine"
)

// Engine implements engine.Engine for four-seat Ludo.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Type() domain.GameType { return domain.GameTypeLudo }

func (e *Engine) NewState(seats map[int64]int, entryFee int64, now time.Time) ([]byte, *domain.GameStateMeta, error) {
	s := &State{}
	for i := range s.Tokens {
		s.Tokens[i] = Base
	}
	for i := range s.WinnerRanking {
		s.WinnerRanking[i] = Unset
	}
	for _, seat := range seats {
		s.ActiveSeatsMask |= 1 << uint(seat)
	}
	s.CurrentPlayer = uint8(lowestActiveSeat(s.ActiveSeatsMask, 0))
	meta := &domain.GameStateMeta{
		GameType:      domain.GameTypeLudo,
		CurrentPlayer: int(s.CurrentPlayer),
		TurnID:        0,
		TurnStartedAt: now,
		LastActivity:  now,
	}
	return Encode(s), meta, nil
}

func (e *Engine) Apply(buf []byte, meta *domain.GameStateMeta, cmd engine.Command, now time.Time) (engine.Result, error) {
	s, err := Decode(buf)
	if err != nil {
		return engine.Result{}, engine.NewActionError(engine.ErrCodeInvalidInput, err.Error())
	}
	if meta.Terminal {
		return engine.Result{}, engine.NewActionError(engine.ErrCodeGameOver, "game already over")
	}
	if !cmd.Privileged && cmd.Seat != int(s.CurrentPlayer) {
		return engine.Result{}, engine.NewActionError(engine.ErrCodeNotYourTurn, "not your turn")
	}

	switch cmd.Action {
	case "roll":
		return e.applyRoll(s, meta, cmd.Seat, cmd.Payload, now)
	case "move":
		tokenIdx, ok := intPayload(cmd.Payload, "tokenIndex")
		if !ok || tokenIdx < 0 || tokenIdx >= TokensPerSeat {
			return engine.Result{}, engine.NewActionError(engine.ErrCodeInvalidInput, "tokenIndex required, 0..3")
		}
		return e.applyMove(s, meta, cmd.Seat, tokenIdx, now)
	default:
		return engine.Result{}, engine.NewActionError(engine.ErrCodeInvalidInput, "unknown action: "+cmd.Action)
	}
}

func (e *Engine) applyRoll(s *State, meta *domain.GameStateMeta, seat int, payload map[string]any, now time.Time) (engine.Result, error) {
	if s.LastDiceRoll != 0 {
		return engine.Result{}, engine.NewActionError(engine.ErrCodeIllegalMove, "dice already rolled")
	}
	value := rollValue(meta, payload)
	events := []engine.Event{{Name: "DiceRolled", Data: map[string]any{"value": value, "player": seat}}}

	if value == 6 {
		s.ConsecutiveSixes++
	} else {
		s.ConsecutiveSixes = 0
	}

	if s.ConsecutiveSixes >= 3 {
		s.ConsecutiveSixes = 0
		s.LastDiceRoll = 0
		events = append(events, e.advanceTurn(s, meta, now)...)
		return e.finish(s, meta, events, now), nil
	}

	s.LastDiceRoll = value
	if legalMovesMask(s, seat, value) == 0 {
		s.LastDiceRoll = 0
		s.ConsecutiveSixes = 0
		events = append(events, e.advanceTurn(s, meta, now)...)
	}
	return e.finish(s, meta, events, now), nil
}

func (e *Engine) applyMove(s *State, meta *domain.GameStateMeta, seat int, tokenIdx int, now time.Time) (engine.Result, error) {
	if s.LastDiceRoll == 0 {
		return engine.Result{}, engine.NewActionError(engine.ErrCodeIllegalMove, "roll before moving")
	}
	dice := s.LastDiceRoll
	mask := legalMovesMask(s, seat, dice)
	if mask&(1<<uint(tokenIdx)) == 0 {
		return engine.Result{}, engine.NewActionError(engine.ErrCodeIllegalMove, "token cannot make that move")
	}

	idx := TokenIndex(seat, tokenIdx)
	pos := s.Tokens[idx]
	var newPos uint8
	if pos == Base {
		newPos = 1
	} else {
		newPos = pos + dice
	}

	events := []engine.Event{}
	captured := false
	if newPos >= 1 && newPos <= TrackLength-1 {
		globalCell := GlobalCell(seat, newPos)
		if !IsSafeCell(globalCell) {
			for other := 0; other < Seats; other++ {
				if other == seat || !seatActive(s.ActiveSeatsMask, other) {
					continue
				}
				for t := 0; t < TokensPerSeat; t++ {
					oIdx := TokenIndex(other, t)
					oPos := s.Tokens[oIdx]
					if oPos >= 1 && oPos <= TrackLength-1 && GlobalCell(other, oPos) == globalCell {
						s.Tokens[oIdx] = Base
						captured = true
						events = append(events, engine.Event{
							Name: "TokenCaptured",
							Data: map[string]any{"capturedPlayer": other, "capturedToken": t},
						})
					}
				}
			}
		}
	}

	s.Tokens[idx] = newPos
	events = append(events, engine.Event{
		Name: "TokenMoved",
		Data: map[string]any{"player": seat, "tokenIndex": tokenIdx, "newPosition": int(newPos)},
	})

	justFinished := false
	if newPos == Home && allTokensHome(s, seat) {
		s.FinishedMask |= 1 << uint(seat)
		if s.WinnersCount < Seats {
			s.WinnerRanking[s.WinnersCount] = uint8(seat)
			s.WinnersCount++
		}
		justFinished = true
		events = append(events, engine.Event{Name: "PlayerFinished", Data: map[string]any{"player": seat}})
	}

	s.LastDiceRoll = 0
	extraTurn := !justFinished && (dice == 6 || captured)
	if !extraTurn {
		events = append(events, e.advanceTurn(s, meta, now)...)
	} else {
		// extra turn: same player rolls again, pointer and turnId unchanged
	}

	return e.finish(s, meta, events, now), nil
}

// advanceTurn moves the pointer round-robin to the next non-finished active
// seat (safety cap of 5 attempts), bumps TurnID, and returns a TurnChanged
// event, or a GameEnded event if the game has reached its terminal state.
func (e *Engine) advanceTurn(s *State, meta *domain.GameStateMeta, now time.Time) []engine.Event {
	s.ConsecutiveSixes = 0

	remaining := activeUnfinishedCount(s)
	if remaining <= 1 {
		if remaining == 1 {
			last := lastRemainingSeat(s)
			if s.WinnersCount < Seats {
				s.WinnerRanking[s.WinnersCount] = uint8(last)
				s.WinnersCount++
			}
		}
		meta.Terminal = true
		return []engine.Event{{Name: "GameEnded"}}
	}

	next := int(s.CurrentPlayer)
	for attempt := 0; attempt < 5; attempt++ {
		next = (next + 1) % Seats
		if seatActive(s.ActiveSeatsMask, next) && s.FinishedMask&(1<<uint(next)) == 0 {
			break
		}
	}
	s.CurrentPlayer = uint8(next)
	s.TurnID++
	return []engine.Event{{Name: "TurnChanged", Data: map[string]any{"newPlayer": next}}}
}

func (e *Engine) finish(s *State, meta *domain.GameStateMeta, events []engine.Event, now time.Time) engine.Result {
	meta.CurrentPlayer = int(s.CurrentPlayer)
	meta.TurnID = uint64(s.TurnID)
	meta.LastActivity = now
	if hasEvent(events, "TurnChanged") {
		meta.TurnStartedAt = now
	}
	ranking := []int{}
	for i := 0; i < int(s.WinnersCount); i++ {
		ranking = append(ranking, int(s.WinnerRanking[i]))
	}
	meta.WinnerRanking = ranking

	return engine.Result{
		State:           Encode(s),
		ShouldBroadcast: true,
		Events:          events,
		Terminal:        meta.Terminal,
		WinnerRanking:   ranking,
	}
}

func (e *Engine) CheckTimeouts(buf []byte, meta *domain.GameStateMeta, now time.Time, turnTimeout time.Duration) (engine.Result, error) {
	if meta.Terminal {
		return engine.Result{}, nil
	}
	if now.Sub(meta.TurnStartedAt) < turnTimeout {
		return engine.Result{}, nil
	}

	s, err := Decode(buf)
	if err != nil {
		return engine.Result{}, err
	}
	seat := int(s.CurrentPlayer)
	events := []engine.Event{{Name: "TurnTimeout", Data: map[string]any{"player": seat}}}

	if s.LastDiceRoll == 0 {
		value := rollValue(meta, map[string]any{"turnTimeoutSeed": now.UnixNano()})
		events = append(events, engine.Event{Name: "DiceRolled", Data: map[string]any{"value": value, "player": seat}, AutoPlay: true})
		if value == 6 {
			s.ConsecutiveSixes++
		} else {
			s.ConsecutiveSixes = 0
		}
		if s.ConsecutiveSixes >= 3 {
			s.ConsecutiveSixes = 0
			events = append(events, e.advanceTurn(s, meta, now)...)
			return e.finish(s, meta, events, now), nil
		}
		s.LastDiceRoll = value
	}

	mask := legalMovesMask(s, seat, s.LastDiceRoll)
	if mask != 0 {
		tokenIdx := lowestSetBit(mask)
		moveResult, moveErr := e.applyMove(s, meta, seat, tokenIdx, now)
		if moveErr == nil {
			combined := append(events, moveResult.Events...)
			// re-tag the move's events as auto-play
			for i := range combined {
				if combined[i].Name == "TokenMoved" || combined[i].Name == "TokenCaptured" {
					combined[i].AutoPlay = true
				}
			}
			moveResult.Events = combined
			return moveResult, nil
		}
	}

	s.LastDiceRoll = 0
	events = append(events, e.advanceTurn(s, meta, now)...)
	return e.finish(s, meta, events, now), nil
}

func (e *Engine) LegalActions(buf []byte, meta *domain.GameStateMeta, seat int) []string {
	s, err := Decode(buf)
	if err != nil || meta.Terminal || seat != int(s.CurrentPlayer) {
		return nil
	}
	if s.LastDiceRoll == 0 {
		return []string{"roll"}
	}
	if legalMovesMask(s, seat, s.LastDiceRoll) != 0 {
		return []string{"move"}
	}
	return nil
}

func (e *Engine) DecodeForClient(buf []byte, meta *domain.GameStateMeta) (map[string]any, error) {
	s, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	ranking := make([]int, 0, s.WinnersCount)
	for i := 0; i < int(s.WinnersCount); i++ {
		ranking = append(ranking, int(s.WinnerRanking[i]))
	}
	return map[string]any{
		"tokens":           s.Tokens[:],
		"currentPlayer":    int(s.CurrentPlayer),
		"lastDiceRoll":     int(s.LastDiceRoll),
		"consecutiveSixes": int(s.ConsecutiveSixes),
		"finishedMask":     int(s.FinishedMask),
		"activeSeatsMask":  int(s.ActiveSeatsMask),
		"turnId":           s.TurnID,
		"winnerRanking":    ranking,
		"terminal":         meta.Terminal,
	}, nil
}

// GetLegalMovesMask exposes the per-token legal-move bitmask, matching the
// behavior named in the spec for client-side UI hints.
func GetLegalMovesMask(buf []byte, seat int, dice uint8) (uint8, error) {
	s, err := Decode(buf)
	if err != nil {
		return 0, err
	}
	return legalMovesMask(s, seat, dice), nil
}

func legalMovesMask(s *State, seat int, dice uint8) uint8 {
	var mask uint8
	for t := 0; t < TokensPerSeat; t++ {
		pos := s.Tokens[TokenIndex(seat, t)]
		if pos == Home {
			continue
		}
		if pos == Base {
			if dice == 6 {
				mask |= 1 << uint(t)
			}
			continue
		}
		if pos+dice <= Home {
			mask |= 1 << uint(t)
		}
	}
	return mask
}

func allTokensHome(s *State, seat int) bool {
	for t := 0; t < TokensPerSeat; t++ {
		if s.Tokens[TokenIndex(seat, t)] != Home {
			return false
		}
	}
	return true
}

func activeUnfinishedCount(s *State) int {
	count := 0
	for seat := 0; seat < Seats; seat++ {
		if seatActive(s.ActiveSeatsMask, seat) && s.FinishedMask&(1<<uint(seat)) == 0 {
			count++
		}
	}
	return count
}

func lastRemainingSeat(s *State) int {
	for seat := 0; seat < Seats; seat++ {
		if seatActive(s.ActiveSeatsMask, seat) && s.FinishedMask&(1<<uint(seat)) == 0 {
			return seat
		}
	}
	return -1
}

func lowestActiveSeat(mask uint8, from int) int {
	for seat := from; seat < Seats; seat++ {
		if mask&(1<<uint(seat)) != 0 {
			return seat
		}
	}
	return 0
}

func lowestSetBit(mask uint8) int {
	for i := 0; i < TokensPerSeat; i++ {
		if mask&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

func hasEvent(events []engine.Event, name string) bool {
	for _, ev := range events {
		if ev.Name == name {
			return true
		}
	}
	return false
}

func intPayload(payload map[string]any, key string) (int, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// rollValue picks the dice value for a roll: a caller-forced value from the
// command payload (used by tests and by the dispatcher when replaying a
// deterministic sequence), or a value derived from the turn counter so the
// engine remains a pure function of its inputs.
func rollValue(meta *domain.GameStateMeta, payload map[string]any) uint8 {
	if v, ok := intPayload(payload, "diceValue"); ok && v >= 1 && v <= 6 {
		return uint8(v)
	}
	if v, ok := intPayload(payload, "forcedRoll"); ok && v >= 1 && v <= 6 {
		return uint8(v)
	}
	seed := int64(meta.TurnID)*2654435761 + meta.TurnStartedAt.UnixNano()
	if seedOverride, ok := payload["turnTimeoutSeed"]; ok {
		if n, ok2 := seedOverride.(int64); ok2 {
			seed += n
		}
	}
	return uint8(rand.New(rand.NewSource(seed)).Intn(6) + 1)
}
