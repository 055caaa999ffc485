package economy

import (
	"context"
	"fmt"

	"roomrunner/internal/domain"
)

// payoutWeights maps the number of ranked finishers to the per-position
// shares (index 0 = first place) of the ranked pot for small tables, drawn
// directly from the platform's fixed payout tables. Larger tables fall back to a normalized 1/(i+1) weighting
// over the top half of finishers (rounded up).
var payoutWeights = map[int][]int64{
	1: {100},
	2: {70, 30},
	3: {50, 30, 20},
	4: {40, 30, 20, 10},
}

// RakePercent is the platform's cut of every pot before ranked distribution.
const RakePercent = 3

// ProcessGamePayouts distributes a room's entry-fee pot after deducting the
// rake, crediting each payee's wallet with an idempotent ledger entry
// keyed on the room so a retried dispatch never double-pays. Three modes,
// tried in order: a finishing-order ranking pays the weighted tables
// below; a lone winnerUserID (no ranking) pays winner-takes-all; neither
// present splits the pot evenly among seated players (refund semantics,
// used when a room dissolves without a decided outcome).
func (c *Core) ProcessGamePayouts(ctx context.Context, roomID string, pot int64, winnerRanking []int, winnerUserID *int64, seatToUserID map[int]int64) error {
	if pot <= 0 {
		return nil
	}
	rake := pot * RakePercent / 100
	distributable := pot - rake
	if distributable <= 0 {
		return nil
	}

	switch {
	case len(winnerRanking) > 0:
		return c.payByRanking(ctx, roomID, distributable, winnerRanking, seatToUserID)
	case winnerUserID != nil:
		return c.creditPayout(ctx, roomID, *winnerUserID, distributable)
	default:
		return c.payEvenSplit(ctx, roomID, distributable, seatToUserID)
	}
}

func (c *Core) payByRanking(ctx context.Context, roomID string, distributable int64, winnerRanking []int, seatToUserID map[int]int64) error {
	weights := payoutWeightsFor(len(winnerRanking))
	totalWeight := int64(0)
	for _, w := range weights {
		totalWeight += w
	}
	if totalWeight == 0 {
		return nil
	}

	for i, w := range weights {
		if i >= len(winnerRanking) {
			break
		}
		seat := winnerRanking[i]
		userID, ok := seatToUserID[seat]
		if !ok {
			continue
		}
		// Shares round down; any positive remainder stays with the house
		// on top of the rake.
		share := distributable * w / totalWeight
		if share <= 0 {
			continue
		}
		if err := c.creditPayout(ctx, roomID, userID, share); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) payEvenSplit(ctx context.Context, roomID string, distributable int64, seatToUserID map[int]int64) error {
	if len(seatToUserID) == 0 {
		return nil
	}
	share := distributable / int64(len(seatToUserID))
	if share <= 0 {
		return nil
	}
	for _, userID := range seatToUserID {
		if err := c.creditPayout(ctx, roomID, userID, share); err != nil {
			return err
		}
	}
	return nil
}

// creditPayout credits one winner, keyed "win:{roomId}:{userId}" per
// spec.md 4.5 so a retried dispatch (e.g. the outbox re-delivering a
// GameEnded event) never double-pays the same user for the same room.
func (c *Core) creditPayout(ctx context.Context, roomID string, userID, amount int64) error {
	idempotencyKey := fmt.Sprintf("win:%s:%d", roomID, userID)
	_, err := c.ProcessTransaction(ctx, userID, amount, domain.LedgerCredit,
		fmt.Sprintf("game payout for room %s", roomID), roomID, idempotencyKey)
	return err
}

// payoutWeightsFor picks the fixed small-table weights when available, and
// otherwise pays the top ceil(n/2) finishers with normalized 1/(i+1)
// weights — the position scaled inversely, so 1st place gets more than
// 2nd and so on.
func payoutWeightsFor(n int) []int64 {
	if w, ok := payoutWeights[n]; ok {
		return w
	}
	paidPositions := (n + 1) / 2
	weights := make([]int64, paidPositions)
	// 1/(i+1) scaled to an integer-friendly common denominator (lcm-ish via
	// a large constant) so integer math in the caller stays exact enough.
	const scale = 1_000_000
	for i := 0; i < paidPositions; i++ {
		weights[i] = int64(scale / (i + 1))
	}
	return weights
}
