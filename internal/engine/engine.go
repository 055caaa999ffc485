// Package engine defines the generic contract every game module satisfies:
// a pure, deterministic function over (state, meta, command) that the
// dispatcher wraps with load/save. Engines never perform I/O.
package engine

import (
	"time"

	"roomrunner/internal/domain"
)

// Command carries one client action into an engine call.
type Command struct {
	UserID      int64
	Seat        int
	Privileged  bool // true for scheduler/admin-driven calls
	Action      string
	Payload     map[string]any
}

// Event is one domain event emitted by an engine call, broadcast verbatim
// to the room's subscribers by the dispatcher.
type Event struct {
	Name     string         `json:"name"`
	Data     map[string]any `json:"data,omitempty"`
	AutoPlay bool           `json:"autoPlay,omitempty"`
}

// Result is everything the dispatcher needs after invoking an engine.
type Result struct {
	State           []byte
	ShouldBroadcast bool
	Events          []Event
	LegalActions    []string
	Terminal        bool
	WinnerRanking   []int
}

// ErrorCode is a small closed taxonomy so the dispatcher can turn an engine
// failure into a categorical ActionError without inspecting error strings.
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "invalid_input"
	ErrCodeNotYourTurn  ErrorCode = "not_your_turn"
	ErrCodeIllegalMove  ErrorCode = "illegal_move"
	ErrCodeGameOver     ErrorCode = "game_over"
)

// ActionError wraps an engine rejection with a stable code for the client.
type ActionError struct {
	Code    ErrorCode
	Message string
}

func (e *ActionError) Error() string { return e.Message }

func NewActionError(code ErrorCode, msg string) *ActionError {
	return &ActionError{Code: code, Message: msg}
}

// Engine is the per-game-type pure state machine. Implementations live in
// internal/ludo and internal/luckymine.
type Engine interface {
	Type() domain.GameType

	// NewState builds the initial byte-encoded state for a room whose
	// seats are already assigned. entryFee is the per-seat fee already
	// reserved by the economy core; engines that price in-game payouts off
	// it (LuckyMine's reward slope) seed their state with it, engines that
	// don't (Ludo) ignore it.
	NewState(seats map[int64]int, entryFee int64, now time.Time) ([]byte, *domain.GameStateMeta, error)

	// Apply validates and executes one command, returning the new state
	// and any events. On rejection it returns an *ActionError and the
	// original state/meta are left untouched by the caller.
	Apply(state []byte, meta *domain.GameStateMeta, cmd Command, now time.Time) (Result, error)

	// CheckTimeouts implements the scheduler-driven forced-timeout path
	// per spec: no-op if terminal or not yet stale, otherwise advances
	// the game deterministically on behalf of the current player.
	CheckTimeouts(state []byte, meta *domain.GameStateMeta, now time.Time, turnTimeout time.Duration) (Result, error)

	// LegalActions computes the caller's currently-legal action set.
	LegalActions(state []byte, meta *domain.GameStateMeta, seat int) []string

	// DecodeForClient renders a JSON-friendly snapshot of state for the
	// GameState push message.
	DecodeForClient(state []byte, meta *domain.GameStateMeta) (map[string]any, error)
}
