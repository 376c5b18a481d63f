package ledger

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	userQuery = `SELECT user_id, username, display_name, COALESCE(avatar_url, ''),
		total_shares, shares_available, opted_out, opt_out_date, created_at
		FROM users`

	walletQuery = `SELECT user_id, balance_cents, daily_streak, last_daily_claim,
		lifetime_earnings, lifetime_dividends, last_active
		FROM wallets`

	securityQuery = `SELECT user_id, base_price, current_price, previous_close,
		daily_high, daily_low, all_time_high, all_time_low, volume_today, last_updated
		FROM securities`

	holdingQuery = `SELECT holder_id, security_id, shares, avg_buy_price, locked_until
		FROM holdings`

	shortQuery = `SELECT id, holder_id, security_id, shares, entry_price, collateral,
		margin_call_price, liquidation_price, opened_at
		FROM short_positions`
)

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL,
		&u.TotalShares, &u.SharesAvailable, &u.OptedOut, &u.OptOutDate, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	err := row.Scan(&w.UserID, &w.Balance, &w.DailyStreak, &w.LastDailyClaim,
		&w.LifetimeEarnings, &w.LifetimeDividends, &w.LastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("scan wallet: %w", err)
	}
	return w, nil
}

func scanSecurity(row pgx.Row) (Security, error) {
	var sec Security
	err := row.Scan(&sec.UserID, &sec.BasePrice, &sec.CurrentPrice, &sec.PreviousClose,
		&sec.DailyHigh, &sec.DailyLow, &sec.AllTimeHigh, &sec.AllTimeLow,
		&sec.VolumeToday, &sec.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Security{}, ErrNotFound
	}
	if err != nil {
		return Security{}, fmt.Errorf("scan security: %w", err)
	}
	return sec, nil
}

func scanHolding(row pgx.Row) (Holding, error) {
	var h Holding
	err := row.Scan(&h.HolderID, &h.SecurityID, &h.Shares, &h.AvgBuyPrice, &h.LockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return Holding{}, ErrNotFound
	}
	if err != nil {
		return Holding{}, fmt.Errorf("scan holding: %w", err)
	}
	return h, nil
}

func scanShort(row pgx.Row) (ShortPosition, error) {
	var p ShortPosition
	err := row.Scan(&p.ID, &p.HolderID, &p.SecurityID, &p.Shares, &p.EntryPrice,
		&p.Collateral, &p.MarginCallPrice, &p.LiquidationPrice, &p.OpenedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ShortPosition{}, ErrNotFound
	}
	if err != nil {
		return ShortPosition{}, fmt.Errorf("scan short: %w", err)
	}
	return p, nil
}
