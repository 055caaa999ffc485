package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrWalletNotFound = errors.New("repository: wallet not found")

type WalletRepository struct {
	db *pgxpool.Pool
}

func NewWalletRepository(db *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{db: db}
}

// GetForUpdate loads a wallet row with FOR UPDATE inside an already-open
// transaction, so the caller can safely read-modify-write the balance.
func (r *WalletRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (coins int64, version int64, err error) {
	err = tx.QueryRow(ctx,
		`SELECT coins, version FROM wallet_accounts WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&coins, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrWalletNotFound
	}
	return coins, version, err
}

// SetBalance writes the new coin balance and bumps the optimistic version,
// inside the caller's transaction.
func (r *WalletRepository) SetBalance(ctx context.Context, tx pgx.Tx, userID, newBalance int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE wallet_accounts SET coins = $1, version = version + 1, updated_at = now() WHERE user_id = $2`,
		newBalance, userID,
	)
	return err
}

// EnsureExistsTx creates a wallet row seeded with initialCoins if the user
// has none yet, run inside the caller's transaction so a lazily-created
// account and the mutation that discovered its absence commit (or roll
// back) together.
func (r *WalletRepository) EnsureExistsTx(ctx context.Context, tx pgx.Tx, userID, initialCoins int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO wallet_accounts (user_id, coins, version) VALUES ($1, $2, 0)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, initialCoins,
	)
	return err
}

func (r *WalletRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var coins int64
	err := r.db.QueryRow(ctx, `SELECT coins FROM wallet_accounts WHERE user_id = $1`, userID).Scan(&coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrWalletNotFound
	}
	return coins, err
}

func (r *WalletRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}
