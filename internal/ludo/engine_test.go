package ludo

import (
	"testing"
	"time"

	"roomrunner/internal/domain"
	"roomrunner/internal/engine"
)

func freshState(activeMask uint8, currentPlayer uint8) *State {
	s := &State{ActiveSeatsMask: activeMask, CurrentPlayer: currentPlayer}
	for i := range s.Tokens {
		s.Tokens[i] = Base
	}
	for i := range s.WinnerRanking {
		s.WinnerRanking[i] = Unset
	}
	return s
}

// TestThreeConsecutiveSixesForfeitsTurn mirrors the spec's first end-to-end
// scenario: a third consecutive six forfeits the turn outright, without a
// move, clearing the dice and consecutive-six counter and rotating the
// pointer to the next active seat.
func TestThreeConsecutiveSixesForfeitsTurn(t *testing.T) {
	e := New()
	s := freshState(0b0101, 0) // seats 0 and 2 active, seat 0 to act
	s.ConsecutiveSixes = 2
	meta := &domain.GameStateMeta{TurnStartedAt: time.Now(), LastActivity: time.Now()}

	result, err := e.Apply(Encode(s), meta, engine.Command{
		Seat: 0, Action: "roll", Payload: map[string]any{"diceValue": 6},
	}, time.Now())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !hasEvent(result.Events, "DiceRolled") {
		t.Fatalf("expected DiceRolled event, got %+v", result.Events)
	}
	tc := findEvent(result.Events, "TurnChanged")
	if tc == nil {
		t.Fatalf("expected TurnChanged event after forfeiture, got %+v", result.Events)
	}
	if tc.Data["newPlayer"] != 2 {
		t.Fatalf("expected turn to pass to seat 2, got %v", tc.Data["newPlayer"])
	}

	got, err := Decode(result.State)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConsecutiveSixes != 0 {
		t.Fatalf("expected consecutiveSixes reset to 0, got %d", got.ConsecutiveSixes)
	}
	if got.LastDiceRoll != 0 {
		t.Fatalf("expected lastDiceRoll cleared to 0, got %d", got.LastDiceRoll)
	}
}

// TestMoveOntoOpponentCapturesAndGrantsExtraTurn builds a board where seat
// 0's move lands on the same (non-safe) global cell as seat 1's token: the
// opponent's token must be sent back to Base, a TokenCaptured event
// emitted, and the mover granted an extra turn (pointer/turnId unchanged).
func TestMoveOntoOpponentCapturesAndGrantsExtraTurn(t *testing.T) {
	e := New()
	s := freshState(0b0011, 0) // seats 0 and 1 active, seat 0 to act
	s.Tokens[TokenIndex(0, 1)] = 5  // seat 0's second token already on the board
	s.Tokens[TokenIndex(1, 0)] = 47 // seat 1's first token, lands on the same global cell
	s.LastDiceRoll = 3
	s.TurnID = 9
	meta := &domain.GameStateMeta{TurnStartedAt: time.Now(), LastActivity: time.Now(), TurnID: 9}

	if cell0 := GlobalCell(0, 8); IsSafeCell(cell0) {
		t.Fatalf("test setup invalid: global cell %d must not be safe", cell0)
	}

	result, err := e.Apply(Encode(s), meta, engine.Command{
		Seat: 0, Action: "move", Payload: map[string]any{"tokenIndex": 1},
	}, time.Now())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	captured := findEvent(result.Events, "TokenCaptured")
	if captured == nil {
		t.Fatalf("expected TokenCaptured event, got %+v", result.Events)
	}
	if captured.Data["capturedPlayer"] != 1 || captured.Data["capturedToken"] != 0 {
		t.Fatalf("unexpected capture payload: %+v", captured.Data)
	}
	if hasEvent(result.Events, "TurnChanged") {
		t.Fatal("a capture grants an extra turn; pointer must not advance")
	}

	got, err := Decode(result.State)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tokens[TokenIndex(1, 0)] != Base {
		t.Fatalf("captured token must return to Base, got %d", got.Tokens[TokenIndex(1, 0)])
	}
	if got.Tokens[TokenIndex(0, 1)] != 8 {
		t.Fatalf("mover's token should land on local 8, got %d", got.Tokens[TokenIndex(0, 1)])
	}
	if got.TurnID != 9 {
		t.Fatalf("extra turn must not bump turnId, got %d", got.TurnID)
	}
}

// TestTokenLeavingBaseRequiresASix checks the Base-exit precondition.
func TestTokenLeavingBaseRequiresASix(t *testing.T) {
	mask := legalMovesMask(freshState(0b0001, 0), 0, 4)
	if mask != 0 {
		t.Fatalf("expected no legal moves with a non-six dice from base, got mask %b", mask)
	}
	mask = legalMovesMask(freshState(0b0001, 0), 0, 6)
	if mask == 0 {
		t.Fatal("expected a token to be able to leave base on a six")
	}
}

// TestGameEndsWhenOneActiveSeatRemains checks the terminal/winner-ranking
// rule: the game ends once a single non-finished active seat remains, and
// that seat is appended to the ranking last.
func TestGameEndsWhenOneActiveSeatRemains(t *testing.T) {
	e := New()
	s := freshState(0b0011, 0)
	s.FinishedMask = 1 << 1 // seat 1 already finished
	s.WinnerRanking[0] = 1
	s.WinnersCount = 1
	s.LastDiceRoll = 6
	// move seat 0's last token home to trigger the finish check.
	s.Tokens[TokenIndex(0, 0)] = Home - 6
	for i := 1; i < TokensPerSeat; i++ {
		s.Tokens[TokenIndex(0, i)] = Home
	}
	meta := &domain.GameStateMeta{TurnStartedAt: time.Now(), LastActivity: time.Now()}

	result, err := e.Apply(Encode(s), meta, engine.Command{
		Seat: 0, Action: "move", Payload: map[string]any{"tokenIndex": 0},
	}, time.Now())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.Terminal {
		t.Fatal("expected game to end once the last seat finishes")
	}
	if len(result.WinnerRanking) != 2 || result.WinnerRanking[0] != 1 || result.WinnerRanking[1] != 0 {
		t.Fatalf("expected ranking [1,0], got %v", result.WinnerRanking)
	}
}

func TestLegalActionsReflectsDiceState(t *testing.T) {
	e := New()
	s := freshState(0b0001, 0)
	meta := &domain.GameStateMeta{}
	actions := e.LegalActions(Encode(s), meta, 0)
	if len(actions) != 1 || actions[0] != "roll" {
		t.Fatalf("expected [roll] when dice unrolled, got %v", actions)
	}

	s.LastDiceRoll = 6
	actions = e.LegalActions(Encode(s), meta, 0)
	if len(actions) != 1 || actions[0] != "move" {
		t.Fatalf("expected [move] with a legal six, got %v", actions)
	}
}

func TestApplyRejectsActionWhenGameOver(t *testing.T) {
	e := New()
	s := freshState(0b0011, 0)
	meta := &domain.GameStateMeta{Terminal: true}
	_, err := e.Apply(Encode(s), meta, engine.Command{Seat: 0, Action: "roll"}, time.Now())
	if err == nil {
		t.Fatal("expected error acting on a terminal game")
	}
	actionErr, ok := err.(*engine.ActionError)
	if !ok || actionErr.Code != engine.ErrCodeGameOver {
		t.Fatalf("expected ErrCodeGameOver, got %v", err)
	}
}

// TestCheckTimeoutsAutoPlaysStaleTurn drives the scheduler's forced-timeout
// path: a turn idle past the timeout gets an automatic roll (and move when
// one is legal) on behalf of the current player, tagged AutoPlay, and the
// game advances — either the pointer rotates or the auto-move earns the
// player an extra turn.
func TestCheckTimeoutsAutoPlaysStaleTurn(t *testing.T) {
	e := New()
	s := freshState(0b0011, 1) // seat 1 is the idle player
	s.TurnID = 4
	meta := &domain.GameStateMeta{
		TurnStartedAt: time.Now().Add(-60 * time.Second),
		LastActivity:  time.Now().Add(-60 * time.Second),
		TurnID:        4,
	}

	result, err := e.CheckTimeouts(Encode(s), meta, time.Now(), 30*time.Second)
	if err != nil {
		t.Fatalf("CheckTimeouts: %v", err)
	}
	if !result.ShouldBroadcast {
		t.Fatal("a stale turn must produce a broadcastable result")
	}
	tt := findEvent(result.Events, "TurnTimeout")
	if tt == nil {
		t.Fatalf("expected TurnTimeout event, got %+v", result.Events)
	}
	if tt.Data["player"] != 1 {
		t.Fatalf("timeout must name the idle player, got %v", tt.Data)
	}
	dr := findEvent(result.Events, "DiceRolled")
	if dr == nil || !dr.AutoPlay {
		t.Fatalf("expected an AutoPlay DiceRolled event, got %+v", result.Events)
	}

	got, err := Decode(result.State)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	advanced := got.TurnID > 4 || got.CurrentPlayer != 1
	movedWithExtraTurn := got.CurrentPlayer == 1 && findEvent(result.Events, "TokenMoved") != nil
	if !advanced && !movedWithExtraTurn {
		t.Fatalf("auto-play must advance the game: %+v", got)
	}
}

// TestCheckTimeoutsNoOpCases: terminal games and fresh turns are left alone.
func TestCheckTimeoutsNoOpCases(t *testing.T) {
	e := New()
	s := freshState(0b0011, 0)

	terminal := &domain.GameStateMeta{Terminal: true, TurnStartedAt: time.Now().Add(-time.Hour)}
	result, err := e.CheckTimeouts(Encode(s), terminal, time.Now(), 30*time.Second)
	if err != nil {
		t.Fatalf("CheckTimeouts terminal: %v", err)
	}
	if result.ShouldBroadcast || len(result.Events) != 0 {
		t.Fatalf("terminal game must be a no-op, got %+v", result)
	}

	fresh := &domain.GameStateMeta{TurnStartedAt: time.Now()}
	result, err = e.CheckTimeouts(Encode(s), fresh, time.Now(), 30*time.Second)
	if err != nil {
		t.Fatalf("CheckTimeouts fresh: %v", err)
	}
	if result.ShouldBroadcast || len(result.Events) != 0 {
		t.Fatalf("a fresh turn must be a no-op, got %+v", result)
	}
}

func findEvent(events []engine.Event, name string) *engine.Event {
	for i := range events {
		if events[i].Name == name {
			return &events[i]
		}
	}
	return nil
}
