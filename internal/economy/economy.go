// Package economy is the ledger-backed wallet core: every coin movement is
// an idempotent, append-only ledger entry, and the wallet balance is always
// derivable from (and kept consistent with) that ledger.
package economy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"roomrunner/internal/domain"
	"roomrunner/internal/repository"
)

// Publisher is the realtime fan-out economy uses for a best-effort
// immediate publish of PlayerUpdated events; if it's unset or returns an
// error, the event stays in the outbox for the background dispatcher to
// pick up (§4.5 step 7: "best-effort immediate publish... if publish
// fails, leave the outbox row unprocessed").
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte) error
}

// SettingsReader resolves admin-tunable `GlobalSetting` rows. Economy only
// reads "Economy:InitialCoins" through it (§4.5 step 3: "read
// Economy:InitialCoins setting (fall back to config default)"); nil is a
// valid value, meaning no DB override exists and the config default always
// wins.
type SettingsReader interface {
	GetGlobalSetting(ctx context.Context, key string) (string, error)
}

const initialCoinsSettingKey = "Economy:InitialCoins"

var (
	ErrInsufficientFunds = errors.New("economy: insufficient funds")
	ErrInvalidAmount     = errors.New("economy: amount must be non-zero")
	ErrTooMuchContention = errors.New("economy: too much contention, retry later")
)

const maxRetries = 3

// Result distinguishes a freshly-applied transaction from a
// replay (the idempotency key was already used), matching the platform's
// tagged-result convention rather than relying on callers to parse error
// strings.
type Result struct {
	LedgerEntry *domain.LedgerEntry
	Replayed    bool
}

type Core struct {
	wallets      *repository.WalletRepository
	ledger       *repository.LedgerRepository
	outbox       *repository.OutboxRepository
	publisher    Publisher
	settings     SettingsReader
	initialCoins int64
	log          *slog.Logger
}

// New wires the economy core. initialCoins is the config-level fallback
// used to seed a wallet the first time a transaction references a user with
// no existing account (§4.5 step 3, Economy.InitialCoins), defaulting to
// 100 (spec.md §6's documented default) if zero. settings may be nil, in
// which case the config fallback always applies; when non-nil it is
// consulted first for a live "Economy:InitialCoins" override.
func New(wallets *repository.WalletRepository, ledger *repository.LedgerRepository, outbox *repository.OutboxRepository, publisher Publisher, settings SettingsReader, initialCoins int64, log *slog.Logger) *Core {
	if initialCoins <= 0 {
		initialCoins = 100
	}
	return &Core{wallets: wallets, ledger: ledger, outbox: outbox, publisher: publisher, settings: settings, initialCoins: initialCoins, log: log}
}

// resolveInitialCoins implements §4.5 step 3's lookup order: the live
// GlobalSetting row wins when present and parses cleanly, otherwise the
// config-level default applies.
func (c *Core) resolveInitialCoins(ctx context.Context) int64 {
	if c.settings == nil {
		return c.initialCoins
	}
	raw, err := c.settings.GetGlobalSetting(ctx, initialCoinsSettingKey)
	if err != nil || raw == "" {
		return c.initialCoins
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return c.initialCoins
	}
	return n
}

// ProcessTransaction applies a signed amount (positive credit, negative
// debit) to userID's wallet. It is safe to call repeatedly with the same
// idempotencyKey: the second call returns the first call's result instead
// of applying the delta twice.
func (c *Core) ProcessTransaction(ctx context.Context, userID int64, amount int64, ledgerType domain.LedgerType, description, referenceID, idempotencyKey string) (*Result, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if existing, err := c.ledger.FindByIdempotencyKey(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return &Result{LedgerEntry: existing, Replayed: true}, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		entry, err := c.applyOnce(ctx, userID, amount, ledgerType, description, referenceID, idempotencyKey)
		if err == nil {
			c.publishBestEffort(ctx, userID, entry)
			return &Result{LedgerEntry: entry}, nil
		}
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, err
		}
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			existing, ferr := c.ledger.FindByIdempotencyKey(ctx, idempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return &Result{LedgerEntry: existing, Replayed: true}, nil
			}
		}
		lastErr = err
		c.log.Warn("economy: retrying transaction after contention", "user", userID, "attempt", attempt, "err", err)
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return nil, fmt.Errorf("%w: %v", ErrTooMuchContention, lastErr)
}

func (c *Core) applyOnce(ctx context.Context, userID, amount int64, ledgerType domain.LedgerType, description, referenceID, idempotencyKey string) (*domain.LedgerEntry, error) {
	tx, err := c.wallets.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	coins, _, err := c.wallets.GetForUpdate(ctx, tx, userID)
	if errors.Is(err, repository.ErrWalletNotFound) {
		// Lazily birth the account (§3 Lifecycle) seeded at the configured
		// initial balance, then re-read under the same row lock so a
		// concurrent first-transaction for this user serializes normally
		// instead of both branches computing from a stale zero balance.
		if err := c.wallets.EnsureExistsTx(ctx, tx, userID, c.resolveInitialCoins(ctx)); err != nil {
			return nil, err
		}
		coins, _, err = c.wallets.GetForUpdate(ctx, tx, userID)
	}
	if err != nil {
		return nil, err
	}

	newBalance := coins + amount
	if newBalance < 0 {
		return nil, ErrInsufficientFunds
	}

	if err := c.wallets.SetBalance(ctx, tx, userID, newBalance); err != nil {
		return nil, err
	}

	key := idempotencyKey
	entry := &domain.LedgerEntry{
		UserID:         userID,
		Amount:         amount,
		BalanceAfter:   newBalance,
		Type:           ledgerType,
		Description:    description,
		ReferenceID:    referenceID,
		IdempotencyKey: &key,
	}
	id, err := c.ledger.Insert(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	entry.ID = id

	updatedPayload, err := json.Marshal(domain.PlayerUpdatedEvent{
		UserID:     userID,
		NewCoins:   newBalance,
		ChangeType: domain.PlayerUpdatedChanged,
	})
	if err != nil {
		return nil, err
	}
	if err := c.outbox.InsertTx(ctx, tx, "PlayerUpdated", updatedPayload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// publishBestEffort tries an immediate realtime push of the new balance.
// Failure is swallowed: the PlayerUpdated row committed in applyOnce stays
// unprocessed and the outbox background loop will deliver it instead.
func (c *Core) publishBestEffort(ctx context.Context, userID int64, entry *domain.LedgerEntry) {
	if c.publisher == nil {
		return
	}
	payload, err := json.Marshal(domain.PlayerUpdatedEvent{
		UserID:     userID,
		NewCoins:   entry.BalanceAfter,
		ChangeType: domain.PlayerUpdatedChanged,
	})
	if err != nil {
		return
	}
	if err := c.publisher.Publish(ctx, "PlayerUpdated", payload); err != nil {
		c.log.Warn("economy: best-effort publish failed, outbox will retry", "user", userID, "err", err)
	}
}

// ReserveEntryFee debits the entry fee from the joining player's wallet,
// producing a reservation the room service can later Commit (fee is kept,
// game proceeds) or Refund (seat never filled, player leaves before start).
func (c *Core) ReserveEntryFee(ctx context.Context, userID int64, roomID string, amount int64, idempotencyKey string) (*domain.EntryFeeReservation, error) {
	if amount == 0 {
		return &domain.EntryFeeReservation{UserID: userID, RoomID: roomID, Amount: 0}, nil
	}
	result, err := c.ProcessTransaction(ctx, userID, -amount, domain.LedgerDebit,
		fmt.Sprintf("entry fee reserve for room %s", roomID), roomID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return &domain.EntryFeeReservation{
		ReservationID: idempotencyKey,
		UserID:        userID,
		RoomID:        roomID,
		Amount:        amount,
		LedgerEntryID: result.LedgerEntry.ID,
	}, nil
}

// CommitEntryFee finalizes a reservation once the game actually starts:
// the reserved debit's description and reference are rewritten from the
// tentative ENTRY_RESERVE wording to a committed entry fee. No balance
// change — the coins already left the wallet at reserve time.
func (c *Core) CommitEntryFee(ctx context.Context, res *domain.EntryFeeReservation) error {
	if res.Amount == 0 {
		return nil
	}
	return c.ledger.RewriteByIdempotencyKey(ctx, res.ReservationID,
		fmt.Sprintf("entry fee for room %s", res.RoomID), res.RoomID)
}

// RefundEntryFee credits the reserved amount back, used when a room never
// fills or is cancelled before the game starts.
func (c *Core) RefundEntryFee(ctx context.Context, res *domain.EntryFeeReservation) error {
	if res.Amount == 0 {
		return nil
	}
	_, err := c.ProcessTransaction(ctx, res.UserID, res.Amount, domain.LedgerCredit,
		fmt.Sprintf("entry fee refund for room %s", res.RoomID), res.RoomID, "refund:"+res.ReservationID)
	return err
}

// RunKeyRetention loops hourly, expiring idempotency keys older than
// retentionDays so the ledger's unique index stays bounded. Blocks until
// ctx is cancelled.
func (c *Core) RunKeyRetention(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := c.ledger.ClearExpiredIdempotencyKeys(ctx, retentionDays)
			if err != nil {
				c.log.Error("economy: idempotency key retention sweep failed", "err", err)
				continue
			}
			if n > 0 {
				c.log.Info("economy: expired idempotency keys", "count", n)
			}
		}
	}
}

// AdminAdjust applies a manual balance correction outside normal game flow.
// Callers are expected to have already authorized the actor.
func (c *Core) AdminAdjust(ctx context.Context, userID, amount int64, reason, idempotencyKey string) (*Result, error) {
	return c.ProcessTransaction(ctx, userID, amount, domain.LedgerAdminAdjust, reason, "", idempotencyKey)
}
