package gamereg

import (
	"testing"
	"time"

	"roomrunner/internal/domain"
	"roomrunner/internal/engine"
)

type stubEngine struct{ gameType domain.GameType }

func (s *stubEngine) Type() domain.GameType { return s.gameType }
func (s *stubEngine) NewState(seats map[int64]int, entryFee int64, now time.Time) ([]byte, *domain.GameStateMeta, error) {
	return nil, nil, nil
}
func (s *stubEngine) Apply(state []byte, meta *domain.GameStateMeta, cmd engine.Command, now time.Time) (engine.Result, error) {
	return engine.Result{}, nil
}
func (s *stubEngine) CheckTimeouts(state []byte, meta *domain.GameStateMeta, now time.Time, turnTimeout time.Duration) (engine.Result, error) {
	return engine.Result{}, nil
}
func (s *stubEngine) LegalActions(state []byte, meta *domain.GameStateMeta, seat int) []string {
	return nil
}
func (s *stubEngine) DecodeForClient(state []byte, meta *domain.GameStateMeta) (map[string]any, error) {
	return nil, nil
}

func TestRegisterAndGet(t *testing.T) {
	const gt domain.GameType = "test-gamereg-register"
	m := &stubEngine{gameType: gt}
	Register(gt, m)

	got, ok := Get(gt)
	if !ok || got != m {
		t.Fatalf("expected registered module to be retrievable, got (%v, %v)", got, ok)
	}

	found := false
	for _, t2 := range Types() {
		if t2 == gt {
			found = true
		}
	}
	if !found {
		t.Fatal("expected registered game type to appear in Types()")
	}
}

func TestGetUnknownGameTypeReturnsFalse(t *testing.T) {
	_, ok := Get("test-gamereg-never-registered")
	if ok {
		t.Fatal("expected unregistered game type to report false")
	}
}

func TestRegisterTwiceForSameTypePanics(t *testing.T) {
	const gt domain.GameType = "test-gamereg-duplicate"
	Register(gt, &stubEngine{gameType: gt})

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register(gt, &stubEngine{gameType: gt})
}
