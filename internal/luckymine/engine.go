package luckymine

import (
	"math/rand"
	"time"

	"roomrunner/internal/domain"
	"roomrunner/internal/engine"
)

// DefaultTotalTiles and DefaultTotalMines size the board when a room's
// config map doesn't override them.
const (
	DefaultTotalTiles = 25
	DefaultTotalMines = 5
	DefaultSlopeMilli = 120 // 12% of entryCost per safe reveal
)

type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Type() domain.GameType { return domain.GameTypeLuckyMine }

func (e *Engine) NewState(seats map[int64]int, entryFee int64, now time.Time) ([]byte, *domain.GameStateMeta, error) {
	s := &State{
		TotalTiles:       DefaultTotalTiles,
		TotalMines:       DefaultTotalMines,
		RewardSlopeMilli: DefaultSlopeMilli,
		EntryCost:        entryFee,
		Status:           StatusActive,
	}
	for _, seat := range seats {
		s.ActiveSeatsMask |= 1 << uint(seat)
	}
	s.CurrentPlayerIndex = uint8(lowestActiveSeat(s.ActiveSeatsMask))

	placeMines(s, now.UnixNano())

	meta := &domain.GameStateMeta{
		GameType:      domain.GameTypeLuckyMine,
		CurrentPlayer: int(s.CurrentPlayerIndex),
		TurnID:        0,
		TurnStartedAt: now,
		LastActivity:  now,
	}
	return Encode(s), meta, nil
}

// placeMines runs a Fisher-Yates shuffle over tile indices and marks the
// first TotalMines of the shuffled order as mined.
func placeMines(s *State, seed int64) {
	order := make([]int, s.TotalTiles)
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	for i := len(order) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	for i := 0; i < int(s.TotalMines) && i < len(order); i++ {
		setTileBit(&s.MineMask, order[i])
	}
}

func (e *Engine) Apply(buf []byte, meta *domain.GameStateMeta, cmd engine.Command, now time.Time) (engine.Result, error) {
	s, err := Decode(buf)
	if err != nil {
		return engine.Result{}, engine.NewActionError(engine.ErrCodeInvalidInput, err.Error())
	}
	if meta.Terminal || s.Status != StatusActive {
		return engine.Result{}, engine.NewActionError(engine.ErrCodeGameOver, "game already over")
	}
	if !cmd.Privileged && cmd.Seat != int(s.CurrentPlayerIndex) {
		return engine.Result{}, engine.NewActionError(engine.ErrCodeNotYourTurn, "not your turn")
	}

	switch cmd.Action {
	case "reveal":
		tile, ok := intPayload(cmd.Payload, "tileIndex")
		if !ok || tile < 0 || tile >= int(s.TotalTiles) {
			return engine.Result{}, engine.NewActionError(engine.ErrCodeInvalidInput, "tileIndex out of range")
		}
		return e.reveal(s, meta, cmd.Seat, tile, now), nil
	case "cashout":
		return e.cashout(s, meta, cmd.Seat, now), nil
	default:
		return engine.Result{}, engine.NewActionError(engine.ErrCodeInvalidInput, "unknown action: "+cmd.Action)
	}
}

func (e *Engine) reveal(s *State, meta *domain.GameStateMeta, seat, tile int, now time.Time) engine.Result {
	if tileBit(&s.RevealMask, tile) {
		// already revealed: no-op, matches spec "if revealed, ignore"
		return engine.Result{State: Encode(s), ShouldBroadcast: false}
	}
	setTileBit(&s.RevealMask, tile)

	var events []engine.Event
	if tileBit(&s.MineMask, tile) {
		s.Status = StatusAllMinesHit
		s.DeadPlayerMask |= 1 << uint(seat)
		meta.Terminal = true
		events = append(events, engine.Event{Name: "HitMine", Data: map[string]any{"player": seat, "tileIndex": tile}})
		events = append(events, engine.Event{Name: "GameEnded"})
	} else {
		s.SafeRevealedCount++
		s.CumulativeWinnings = winningsFor(s)
		events = append(events, engine.Event{Name: "Revealed", Data: map[string]any{
			"player": seat, "tileIndex": tile, "winnings": s.CumulativeWinnings,
		}})
		events = append(events, e.advanceTurn(s, meta, now)...)
	}

	meta.LastActivity = now
	meta.WinnerRanking = ranking(s, seat)
	return engine.Result{
		State:           Encode(s),
		ShouldBroadcast: true,
		Events:          events,
		Terminal:        meta.Terminal,
		WinnerRanking:   meta.WinnerRanking,
	}
}

func (e *Engine) cashout(s *State, meta *domain.GameStateMeta, seat int, now time.Time) engine.Result {
	s.Status = StatusGameOver
	meta.Terminal = true
	meta.LastActivity = now
	meta.WinnerRanking = rankingWinnerFirst(s, seat)
	events := []engine.Event{
		{Name: "CashedOut", Data: map[string]any{"player": seat, "amount": s.CumulativeWinnings}},
		{Name: "GameEnded"},
	}
	return engine.Result{
		State:           Encode(s),
		ShouldBroadcast: true,
		Events:          events,
		Terminal:        true,
		WinnerRanking:   meta.WinnerRanking,
	}
}

func (e *Engine) advanceTurn(s *State, meta *domain.GameStateMeta, now time.Time) []engine.Event {
	next := int(s.CurrentPlayerIndex)
	for attempt := 0; attempt < 5; attempt++ {
		next = (next + 1) % MaxSeats
		if seatActive(s.ActiveSeatsMask, next) && s.DeadPlayerMask&(1<<uint(next)) == 0 {
			break
		}
	}
	s.CurrentPlayerIndex = uint8(next)
	s.TurnID++
	meta.CurrentPlayer = next
	meta.TurnID = uint64(s.TurnID)
	meta.TurnStartedAt = now
	return []engine.Event{{Name: "TurnChanged", Data: map[string]any{"newPlayer": next}}}
}

// CheckTimeouts auto-cashes out the current player once their turn has
// been idle for longer than turnTimeout, preserving whatever pot had
// already accrued.
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
	seat := int(s.CurrentPlayerIndex)
	events := []engine.Event{{Name: "TurnTimeout", Data: map[string]any{"player": seat}}}
	result := e.cashout(s, meta, seat, now)
	result.Events = append(events, result.Events...)
	for i := range result.Events {
		if result.Events[i].Name == "CashedOut" {
			result.Events[i].AutoPlay = true
		}
	}
	return result, nil
}

func (e *Engine) LegalActions(buf []byte, meta *domain.GameStateMeta, seat int) []string {
	s, err := Decode(buf)
	if err != nil || meta.Terminal || seat != int(s.CurrentPlayerIndex) {
		return nil
	}
	return []string{"reveal", "cashout"}
}

func (e *Engine) DecodeForClient(buf []byte, meta *domain.GameStateMeta) (map[string]any, error) {
	s, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	revealed := make([]int, 0, s.SafeRevealedCount)
	for i := 0; i < int(s.TotalTiles); i++ {
		if tileBit(&s.RevealMask, i) {
			revealed = append(revealed, i)
		}
	}
	return map[string]any{
		"revealedTiles":   revealed,
		"totalTiles":      s.TotalTiles,
		"totalMines":      s.TotalMines,
		"currentPlayer":   int(s.CurrentPlayerIndex),
		"status":          int(s.Status),
		"cumulativeWinnings": s.CumulativeWinnings,
		"turnId":          s.TurnID,
		"terminal":        meta.Terminal,
	}, nil
}

// winningsFor computes the accrued payout after SafeRevealedCount safe
// reveals: entryCost grown linearly by rewardSlopeMilli thousandths per
// safe tile.
func winningsFor(s *State) int64 {
	growth := s.EntryCost * int64(s.RewardSlopeMilli) * int64(s.SafeRevealedCount) / 1000
	return s.EntryCost + growth
}

func ranking(s *State, lastActor int) []int {
	if s.Status == StatusAllMinesHit {
		return rankingLoserLast(s, lastActor)
	}
	return nil
}

// rankingLoserLast puts every surviving active seat ahead of the seat that
// just hit a mine, in seat order.
func rankingLoserLast(s *State, loser int) []int {
	var out []int
	for seat := 0; seat < MaxSeats; seat++ {
		if seatActive(s.ActiveSeatsMask, seat) && seat != loser {
			out = append(out, seat)
		}
	}
	out = append(out, loser)
	return out
}

func rankingWinnerFirst(s *State, winner int) []int {
	out := []int{winner}
	for seat := 0; seat < MaxSeats; seat++ {
		if seatActive(s.ActiveSeatsMask, seat) && seat != winner {
			out = append(out, seat)
		}
	}
	return out
}

func seatActive(mask uint8, seat int) bool { return mask&(1<<uint(seat)) != 0 }

func lowestActiveSeat(mask uint8) int {
	for seat := 0; seat < MaxSeats; seat++ {
		if mask&(1<<uint(seat)) != 0 {
			return seat
		}
	}
	return 0
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
