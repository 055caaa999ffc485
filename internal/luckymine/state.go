// Package luckymine implements the reference tile-reveal risk engine: a
// shared board of up to 128 tiles, seated players take turns, and on its
// turn a seat either reveals a tile or cashes out the accrued pot before
// someone reveals a mine.
package luckymine

import "encoding/binary"

const (
	MaxTiles = 128
	MaxSeats = 4

	StatusActive     uint8 = 0
	StatusAllMinesHit uint8 = 1
	StatusGameOver   uint8 = 2 // cashed out

	// StateSize is the fixed little-endian byte image.
	//  0..15  mineMask [2]uint64
	// 16..31  revealMask [2]uint64
	//     32  currentPlayerIndex
	// 33..34  totalMines uint16
	// 35..36  totalTiles uint16
	//     37  status
	// 38..45  entryCost int64
	// 46..49  rewardSlopeMilli int32 (fixed point, thousandths)
	//     50  deadPlayerMask
	// 51..58  cumulativeWinnings int64
	//     59  activeSeatsMask
	// 60..63  turnId uint32
	// 64..65  safeRevealedCount uint16
	StateSize = 66
)

type State struct {
	MineMask           [2]uint64
	RevealMask         [2]uint64
	CurrentPlayerIndex uint8
	TotalMines         uint16
	TotalTiles         uint16
	Status             uint8
	EntryCost          int64
	RewardSlopeMilli   int32
	DeadPlayerMask     uint8
	CumulativeWinnings int64
	ActiveSeatsMask    uint8
	TurnID             uint32
	SafeRevealedCount  uint16
}

func Encode(s *State) []byte {
	buf := make([]byte, StateSize)
	binary.LittleEndian.PutUint64(buf[0:8], s.MineMask[0])
	binary.LittleEndian.PutUint64(buf[8:16], s.MineMask[1])
	binary.LittleEndian.PutUint64(buf[16:24], s.RevealMask[0])
	binary.LittleEndian.PutUint64(buf[24:32], s.RevealMask[1])
	buf[32] = s.CurrentPlayerIndex
	binary.LittleEndian.PutUint16(buf[33:35], s.TotalMines)
	binary.LittleEndian.PutUint16(buf[35:37], s.TotalTiles)
	buf[37] = s.Status
	binary.LittleEndian.PutUint64(buf[38:46], uint64(s.EntryCost))
	binary.LittleEndian.PutUint32(buf[46:50], uint32(s.RewardSlopeMilli))
	buf[50] = s.DeadPlayerMask
	binary.LittleEndian.PutUint64(buf[51:59], uint64(s.CumulativeWinnings))
	buf[59] = s.ActiveSeatsMask
	binary.LittleEndian.PutUint32(buf[60:64], s.TurnID)
	binary.LittleEndian.PutUint16(buf[64:66], s.SafeRevealedCount)
	return buf
}

func Decode(buf []byte) (*State, error) {
	if len(buf) != StateSize {
		return nil, errInvalidStateSize(len(buf))
	}
	s := &State{}
	s.MineMask[0] = binary.LittleEndian.Uint64(buf[0:8])
	s.MineMask[1] = binary.LittleEndian.Uint64(buf[8:16])
	s.RevealMask[0] = binary.LittleEndian.Uint64(buf[16:24])
	s.RevealMask[1] = binary.LittleEndian.Uint64(buf[24:32])
	s.CurrentPlayerIndex = buf[32]
	s.TotalMines = binary.LittleEndian.Uint16(buf[33:35])
	s.TotalTiles = binary.LittleEndian.Uint16(buf[35:37])
	s.Status = buf[37]
	s.EntryCost = int64(binary.LittleEndian.Uint64(buf[38:46]))
	s.RewardSlopeMilli = int32(binary.LittleEndian.Uint32(buf[46:50]))
	s.DeadPlayerMask = buf[50]
	s.CumulativeWinnings = int64(binary.LittleEndian.Uint64(buf[51:59]))
	s.ActiveSeatsMask = buf[59]
	s.TurnID = binary.LittleEndian.Uint32(buf[60:64])
	s.SafeRevealedCount = binary.LittleEndian.Uint16(buf[64:66])
	return s, nil
}

type errInvalidStateSize int

func (e errInvalidStateSize) Error() string { return "luckymine: invalid state size" }

func tileBit(mask *[2]uint64, tile int) bool {
	return mask[tile/64]&(1<<uint(tile%64)) != 0
}

func setTileBit(mask *[2]uint64, tile int) {
	mask[tile/64] |= 1 << uint(tile%64)
}
