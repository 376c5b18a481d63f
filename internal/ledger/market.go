package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
)

// Market-wide operations driven by the reconciliation sweeps.

// RefreshCandidates lists every security with the fields the price-refresh
// sweep needs. Read outside any transaction; each candidate is then
// reconciled in its own transaction.
func (s *Store) RefreshCandidates(ctx context.Context) ([]RefreshCandidate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.user_id, u.opted_out, u.total_shares,
		       sec.base_price, sec.current_price,
		       w.daily_streak, w.last_active
		FROM users u
		JOIN securities sec ON sec.user_id = u.user_id
		JOIN wallets w ON w.user_id = u.user_id
		ORDER BY u.user_id`)
	if err != nil {
		return nil, fmt.Errorf("refresh candidates: %w", err)
	}
	defer rows.Close()
	var out []RefreshCandidate
	for rows.Next() {
		var c RefreshCandidate
		if err := rows.Scan(&c.UserID, &c.OptedOut, &c.TotalShares,
			&c.BasePrice, &c.CurrentPrice, &c.DailyStreak, &c.LastActive); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListHoldings enumerates every open position for per-entity sweeps.
func (s *Store) ListHoldings(ctx context.Context) ([]HoldingRef, error) {
	rows, err := s.db.Query(ctx,
		`SELECT holder_id, security_id FROM holdings WHERE shares > 0`)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()
	var out []HoldingRef
	for rows.Next() {
		var r HoldingRef
		if err := rows.Scan(&r.HolderID, &r.SecurityID); err != nil {
			return nil, fmt.Errorf("scan holding ref: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListOpenShorts enumerates every short position id for the margin sweep.
func (s *Store) ListOpenShorts(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM short_positions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list shorts: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan short id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PayDividend credits one holder their per-payout dividend on one position
// and returns the amount paid. Holdings in opted-out securities pay nothing.
func (s *Store) PayDividend(ctx context.Context, holderID, securityID int64, rate float64) (int64, error) {
	var amount int64
	err := s.Serialized(ctx, func(tx pgx.Tx) error {
		var shares, price int64
		var optedOut bool
		err := tx.QueryRow(ctx, `
			SELECT h.shares, sec.current_price, u.opted_out
			FROM holdings h
			JOIN securities sec ON sec.user_id = h.security_id
			JOIN users u ON u.user_id = h.security_id
			WHERE h.holder_id = $1 AND h.security_id = $2
			FOR UPDATE OF h`,
			holderID, securityID).Scan(&shares, &price, &optedOut)
		if errors.Is(err, pgx.ErrNoRows) {
			amount = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("read position: %w", err)
		}
		if optedOut {
			amount = 0
			return nil
		}
		amount = RoundCents(float64(shares*price) * rate)
		if amount <= 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE wallets
			SET balance_cents = balance_cents + $2,
			    lifetime_earnings = lifetime_earnings + $2,
			    lifetime_dividends = lifetime_dividends + $2
			WHERE user_id = $1`,
			holderID, amount)
		if err != nil {
			return fmt.Errorf("credit dividend: %w", err)
		}
		return nil
	})
	return amount, err
}

// ApplySplit executes a 2-for-1 style split: the share count multiplies by
// the ratio and every per-share price divides by it. Holdings and open shorts
// rescale so that position values and collateral are unchanged.
func (s *Store) ApplySplit(ctx context.Context, securityID, ratio int64) (SplitReport, error) {
	if ratio < 2 {
		return SplitReport{}, fmt.Errorf("ledger: split ratio must be at least 2")
	}
	var rep SplitReport
	err := s.Serialized(ctx, func(tx pgx.Tx) error {
		sec, err := SecurityTx(ctx, tx, securityID)
		if err != nil {
			return err
		}
		u, err := UserTx(ctx, tx, securityID)
		if err != nil {
			return err
		}
		rep = SplitReport{
			SecurityID: securityID,
			Ratio:      ratio,
			OldPrice:   sec.CurrentPrice,
			NewPrice:   sec.CurrentPrice / ratio,
			OldShares:  u.TotalShares,
			NewShares:  u.TotalShares * ratio,
		}
		_, err = tx.Exec(ctx, `
			UPDATE securities
			SET base_price     = base_price / $2,
			    current_price  = current_price / $2,
			    previous_close = previous_close / $2,
			    daily_high     = daily_high / $2,
			    daily_low      = daily_low / $2,
			    last_updated   = now()
			WHERE user_id = $1`,
			securityID, ratio)
		if err != nil {
			return fmt.Errorf("split prices: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET total_shares = total_shares * $2,
			    shares_available = shares_available * $2
			WHERE user_id = $1`,
			securityID, ratio)
		if err != nil {
			return fmt.Errorf("split float: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE holdings
			SET shares = shares * $2, avg_buy_price = avg_buy_price / $2
			WHERE security_id = $1`,
			securityID, ratio)
		if err != nil {
			return fmt.Errorf("split holdings: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE short_positions
			SET shares            = shares * $2,
			    entry_price       = entry_price / $2,
			    margin_call_price = margin_call_price / $2,
			    liquidation_price = liquidation_price / $2
			WHERE security_id = $1`,
			securityID, ratio)
		if err != nil {
			return fmt.Errorf("split shorts: %w", err)
		}
		rep.ShortsMoved = tag.RowsAffected()
		_, err = tx.Exec(ctx, `
			INSERT INTO stock_splits (user_id, old_shares, new_shares, split_ratio, old_price, new_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			securityID, rep.OldShares, rep.NewShares,
			fmt.Sprintf("%d:1", ratio), rep.OldPrice, rep.NewPrice)
		if err != nil {
			return fmt.Errorf("record split: %w", err)
		}
		return nil
	})
	return rep, err
}

// SplitCandidates lists securities whose price has crossed the threshold.
func (s *Store) SplitCandidates(ctx context.Context, thresholdCents int64) ([]int64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id FROM securities WHERE current_price >= $1`, thresholdCents)
	if err != nil {
		return nil, fmt.Errorf("split candidates: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan split candidate: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ApplyMarketEvent scales every live price by magnitude in one transaction
// and records the event. Used for market-wide crashes and booms.
func (s *Store) ApplyMarketEvent(ctx context.Context, eventType string, magnitude float64, description string, activeFor time.Duration) error {
	if magnitude <= 0 {
		return fmt.Errorf("ledger: event magnitude must be positive")
	}
	return s.Serialized(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE securities
			SET current_price = GREATEST(1, ROUND(current_price * $1)::bigint),
			    daily_high    = GREATEST(daily_high, ROUND(current_price * $1)::bigint),
			    daily_low     = LEAST(daily_low, GREATEST(1, ROUND(current_price * $1)::bigint)),
			    last_updated  = now()`,
			magnitude)
		if err != nil {
			return fmt.Errorf("apply event: %w", err)
		}
		var until *time.Time
		if activeFor > 0 {
			t := time.Now().Add(activeFor)
			until = &t
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO market_events (event_type, magnitude, description, active_until)
			VALUES ($1, $2, $3, $4)`,
			eventType, magnitude, description, until)
		if err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		return nil
	})
}

// RecordNews applies a single-security news impact and logs the story.
// The price moves by (1+impact) and respects the price floor.
func (s *Store) RecordNews(ctx context.Context, userID int64, newsType, description string, impact float64, floorCents int64) error {
	return s.Serialized(ctx, func(tx pgx.Tx) error {
		sec, err := SecurityTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		newPrice := int64(math.Round(float64(sec.CurrentPrice) * (1 + impact)))
		if newPrice < floorCents {
			newPrice = floorCents
		}
		_, err = tx.Exec(ctx, `
			UPDATE securities
			SET current_price = $2,
			    daily_high    = GREATEST(daily_high, $2),
			    daily_low     = LEAST(daily_low, $2),
			    all_time_high = GREATEST(all_time_high, $2),
			    all_time_low  = LEAST(all_time_low, $2),
			    last_updated  = now()
			WHERE user_id = $1`,
			userID, newPrice)
		if err != nil {
			return fmt.Errorf("apply news: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO market_news (user_id, news_type, description, impact)
			VALUES ($1, $2, $3, $4)`,
			userID, newsType, description, impact)
		if err != nil {
			return fmt.Errorf("record news: %w", err)
		}
		return nil
	})
}

// LastNewsAt reports when the member last made headlines.
func (s *Store) LastNewsAt(ctx context.Context, userID int64) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRow(ctx, `
		SELECT created_at FROM market_news
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`,
		userID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last news: %w", err)
	}
	return t, true, nil
}

// RecentNews returns the latest stories across the market.
func (s *Store) RecentNews(ctx context.Context, limit int) ([]NewsEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, news_type, description, impact, created_at
		FROM market_news ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent news: %w", err)
	}
	defer rows.Close()
	var out []NewsEvent
	for rows.Next() {
		var n NewsEvent
		if err := rows.Scan(&n.ID, &n.UserID, &n.NewsType, &n.Description,
			&n.Impact, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan news: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UnlockAchievement records a one-time achievement. Returns true when this
// call performed the unlock.
func (s *Store) UnlockAchievement(ctx context.Context, userID int64, name, description string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO achievements (user_id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, name) DO NOTHING`,
		userID, name, description)
	if err != nil {
		return false, fmt.Errorf("unlock achievement: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
