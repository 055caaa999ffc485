package domain

import "testing"

func TestNextFreeSeatFillsLowestIndexFirst(t *testing.T) {
	room := &Room{MaxPlayers: 4, PlayerSeats: map[int64]int{}}
	for i := 0; i < 4; i++ {
		if !room.HasFreeSeat() {
			t.Fatalf("expected a free seat before filling seat %d", i)
		}
		seat := room.NextFreeSeat()
		if seat != i {
			t.Fatalf("expected seat %d to fill next, got %d", i, seat)
		}
		room.PlayerSeats[int64(100+i)] = seat
	}
	if room.HasFreeSeat() {
		t.Fatal("room should be full after MaxPlayers joins")
	}
	if room.NextFreeSeat() != -1 {
		t.Fatalf("expected -1 when full, got %d", room.NextFreeSeat())
	}
}

func TestNextFreeSeatSkipsTakenSeats(t *testing.T) {
	room := &Room{MaxPlayers: 4, PlayerSeats: map[int64]int{1: 0, 2: 2}}
	seat := room.NextFreeSeat()
	if seat != 1 {
		t.Fatalf("expected lowest unused seat 1, got %d", seat)
	}
}

func TestSeatOfReportsOccupancy(t *testing.T) {
	room := &Room{MaxPlayers: 2, PlayerSeats: map[int64]int{42: 1}}
	seat, ok := room.SeatOf(42)
	if !ok || seat != 1 {
		t.Fatalf("expected seat 1 for user 42, got (%d, %v)", seat, ok)
	}
	if _, ok := room.SeatOf(99); ok {
		t.Fatal("expected no seat for an unseated user")
	}
}

// TestPlayerSeatsNeverExceedsMaxPlayers checks the invariant |playerSeats|
// <= maxPlayers with seat indices unique within [0, maxPlayers).
func TestPlayerSeatsNeverExceedsMaxPlayers(t *testing.T) {
	room := &Room{MaxPlayers: 3, PlayerSeats: map[int64]int{}}
	users := []int64{1, 2, 3, 4, 5}
	seated := 0
	for _, u := range users {
		if !room.HasFreeSeat() {
			continue
		}
		room.PlayerSeats[u] = room.NextFreeSeat()
		seated++
	}
	if seated != 3 {
		t.Fatalf("expected exactly 3 users seated, got %d", seated)
	}
	if len(room.PlayerSeats) > room.MaxPlayers {
		t.Fatalf("playerSeats exceeded maxPlayers: %d > %d", len(room.PlayerSeats), room.MaxPlayers)
	}
	seen := map[int]bool{}
	for _, seat := range room.PlayerSeats {
		if seen[seat] {
			t.Fatalf("duplicate seat index %d", seat)
		}
		seen[seat] = true
	}
}
