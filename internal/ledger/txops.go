package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// In-transaction row helpers. The trading engine and the fund manager compose
// these inside a single Serialized call so that every trade either fully
// applies or fully aborts.

func UserTx(ctx context.Context, tx pgx.Tx, id int64) (User, error) {
	return scanUser(tx.QueryRow(ctx, userQuery+` WHERE user_id = $1 FOR UPDATE`, id))
}

func WalletTx(ctx context.Context, tx pgx.Tx, id int64) (Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, walletQuery+` WHERE user_id = $1 FOR UPDATE`, id))
}

func SecurityTx(ctx context.Context, tx pgx.Tx, id int64) (Security, error) {
	return scanSecurity(tx.QueryRow(ctx, securityQuery+` WHERE user_id = $1 FOR UPDATE`, id))
}

// HoldingTx returns ErrNotFound when the holder has no position.
func HoldingTx(ctx context.Context, tx pgx.Tx, holderID, securityID int64) (Holding, error) {
	return scanHolding(tx.QueryRow(ctx,
		holdingQuery+` WHERE holder_id = $1 AND security_id = $2 FOR UPDATE`,
		holderID, securityID))
}

func ShortTx(ctx context.Context, tx pgx.Tx, id int64) (ShortPosition, error) {
	return scanShort(tx.QueryRow(ctx, shortQuery+` WHERE id = $1 FOR UPDATE`, id))
}

func ShortsOfHolderTx(ctx context.Context, tx pgx.Tx, holderID, securityID int64) ([]ShortPosition, error) {
	rows, err := tx.Query(ctx,
		shortQuery+` WHERE holder_id = $1 AND security_id = $2 ORDER BY opened_at FOR UPDATE`,
		holderID, securityID)
	if err != nil {
		return nil, fmt.Errorf("list shorts: %w", err)
	}
	defer rows.Close()
	var out []ShortPosition
	for rows.Next() {
		p, err := scanShort(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddBalanceTx applies a raw delta with no floor; callers that must respect
// the protected floor check the wallet first.
func AddBalanceTx(ctx context.Context, tx pgx.Tx, userID, delta int64) error {
	earned := int64(0)
	if delta > 0 {
		earned = delta
	}
	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance_cents = balance_cents + $2,
		    lifetime_earnings = lifetime_earnings + $3
		WHERE user_id = $1`,
		userID, delta, earned)
	if err != nil {
		return fmt.Errorf("add balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustAvailableTx moves shares between the open float and circulation.
// Positive delta returns shares to the float.
func AdjustAvailableTx(ctx context.Context, tx pgx.Tx, securityID, delta int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE users SET shares_available = shares_available + $2 WHERE user_id = $1`,
		securityID, delta)
	if err != nil {
		return fmt.Errorf("adjust available: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertHoldingTx adds shares to a holding at the given price, maintaining
// the weighted average cost basis, and extends the lockup.
func UpsertHoldingTx(ctx context.Context, tx pgx.Tx, holderID, securityID, shares, price int64, lockedUntil time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO holdings (holder_id, security_id, shares, avg_buy_price, locked_until)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (holder_id, security_id) DO UPDATE
		SET avg_buy_price = (holdings.shares * holdings.avg_buy_price + $3::bigint * $4::bigint)
		                    / (holdings.shares + $3::bigint),
		    shares = holdings.shares + $3::bigint,
		    locked_until = $5`,
		holderID, securityID, shares, price, lockedUntil)
	if err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}
	return nil
}

// ReduceHoldingTx removes shares from a holding, deleting the row when the
// whole position goes. held is the row's share count the caller read under
// lock in this transaction.
func ReduceHoldingTx(ctx context.Context, tx pgx.Tx, holderID, securityID, shares, held int64) error {
	if shares >= held {
		_, err := tx.Exec(ctx, `
			DELETE FROM holdings WHERE holder_id = $1 AND security_id = $2`,
			holderID, securityID)
		if err != nil {
			return fmt.Errorf("close holding: %w", err)
		}
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE holdings SET shares = shares - $3
		WHERE holder_id = $1 AND security_id = $2`,
		holderID, securityID, shares)
	if err != nil {
		return fmt.Errorf("reduce holding: %w", err)
	}
	return nil
}

func InsertShortTx(ctx context.Context, tx pgx.Tx, p ShortPosition) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO short_positions (holder_id, security_id, shares, entry_price,
		                             collateral, margin_call_price, liquidation_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		p.HolderID, p.SecurityID, p.Shares, p.EntryPrice,
		p.Collateral, p.MarginCallPrice, p.LiquidationPrice).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert short: %w", err)
	}
	return id, nil
}

// ReduceShortTx shrinks a short position, releasing collateralDelta from it,
// and deletes the row when fully covered. positionShares is the row's share
// count the caller read under lock in this transaction.
func ReduceShortTx(ctx context.Context, tx pgx.Tx, id, shares, collateralDelta, positionShares int64) error {
	if shares >= positionShares {
		_, err := tx.Exec(ctx, `DELETE FROM short_positions WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("close short: %w", err)
		}
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE short_positions
		SET shares = shares - $2, collateral = collateral - $3
		WHERE id = $1`,
		id, shares, collateralDelta)
	if err != nil {
		return fmt.Errorf("reduce short: %w", err)
	}
	return nil
}

func DeleteShortTx(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM short_positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete short: %w", err)
	}
	return nil
}

// LogTransactionTx appends one trade to the immutable log under a fresh
// transaction group id.
func LogTransactionTx(ctx context.Context, tx pgx.Tx, t Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (tx_group_id, buyer_id, seller_id, security_id,
		                          shares, price_cents, total_cents, kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), t.BuyerID, t.SellerID, t.SecurityID,
		t.Shares, t.Price, t.Total, t.Kind)
	if err != nil {
		return fmt.Errorf("log transaction: %w", err)
	}
	return nil
}

// BumpVolumeTx adds traded shares to today's volume counter.
func BumpVolumeTx(ctx context.Context, tx pgx.Tx, securityID, shares int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE securities SET volume_today = volume_today + $2 WHERE user_id = $1`,
		securityID, shares)
	if err != nil {
		return fmt.Errorf("bump volume: %w", err)
	}
	return nil
}
