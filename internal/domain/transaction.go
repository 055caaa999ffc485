package domain

import "time"

// LedgerType classifies a LedgerEntry's direction/origin.
type LedgerType string

const (
	LedgerCredit     LedgerType = "credit"
	LedgerDebit      LedgerType = "debit"
	LedgerAdminAdjust LedgerType = "admin_adjust"
)

// LedgerEntry is an immutable row appended by every wallet mutation.
// Amount is signed (debits negative); BalanceAfter = prevBalance + Amount.
type LedgerEntry struct {
	ID             int64      `db:"id" json:"id"`
	UserID         int64      `db:"user_id" json:"userId"`
	Amount         int64      `db:"amount" json:"amount"`
	BalanceAfter   int64      `db:"balance_after" json:"balanceAfter"`
	Type           LedgerType `db:"type" json:"type"`
	Description    string     `db:"description" json:"description"`
	ReferenceID    string     `db:"reference_id" json:"referenceId,omitempty"`
	IdempotencyKey *string    `db:"idempotency_key" json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}

// WalletAccount is the one-per-user balance row.
type WalletAccount struct {
	UserID    int64     `db:"user_id" json:"userId"`
	Coins     int64     `db:"coins" json:"coins"`
	Version   int64     `db:"version" json:"version"`
	IsDeleted bool      `db:"is_deleted" json:"isDeleted"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// EntryFeeReservation is the handle returned by a Reserve() call; Commit()
// and Refund() both key off ReservationID.
type EntryFeeReservation struct {
	ReservationID string
	UserID        int64
	RoomID        string
	Amount        int64
	LedgerEntryID int64
}
