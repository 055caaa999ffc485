package luckymine

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := &State{
		MineMask:           [2]uint64{0x1, 0x8000000000000000},
		RevealMask:         [2]uint64{0x2, 0},
		CurrentPlayerIndex: 1,
		TotalMines:         5,
		TotalTiles:         25,
		Status:             StatusActive,
		EntryCost:          100,
		RewardSlopeMilli:   120,
		DeadPlayerMask:     0,
		CumulativeWinnings: 112,
		ActiveSeatsMask:    0b0011,
		TurnID:             7,
		SafeRevealedCount:  1,
	}

	buf := Encode(s)
	if len(buf) != StateSize {
		t.Fatalf("expected %d bytes, got %d", StateSize, len(buf))
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *s {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	if _, err := Decode(make([]byte, StateSize-1)); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
	if _, err := Decode(make([]byte, StateSize+1)); err == nil {
		t.Fatal("expected error for oversized buffer")
	}
}

func TestTileBitHelpers(t *testing.T) {
	var mask [2]uint64
	setTileBit(&mask, 0)
	setTileBit(&mask, 63)
	setTileBit(&mask, 64)
	setTileBit(&mask, 127)

	for _, tile := range []int{0, 63, 64, 127} {
		if !tileBit(&mask, tile) {
			t.Fatalf("expected tile %d set", tile)
		}
	}
	if tileBit(&mask, 1) {
		t.Fatal("tile 1 should not be set")
	}
}
