package ledger

import (
	"context"
	"fmt"
)

// Read-only views served by the API. These run outside transactions against
// committed state.

func (s *Store) Portfolio(ctx context.Context, holderID int64) ([]PortfolioEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT h.security_id, u.username, u.display_name,
		       h.shares, h.avg_buy_price, sec.current_price
		FROM holdings h
		JOIN users u ON u.user_id = h.security_id
		JOIN securities sec ON sec.user_id = h.security_id
		WHERE h.holder_id = $1
		ORDER BY h.shares * sec.current_price DESC`,
		holderID)
	if err != nil {
		return nil, fmt.Errorf("portfolio: %w", err)
	}
	defer rows.Close()
	var out []PortfolioEntry
	for rows.Next() {
		var e PortfolioEntry
		if err := rows.Scan(&e.SecurityID, &e.Username, &e.DisplayName,
			&e.Shares, &e.AvgBuyPrice, &e.CurrentPrice); err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Shareholders(ctx context.Context, securityID int64) ([]Shareholder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT h.holder_id, u.username, u.display_name, h.shares
		FROM holdings h
		JOIN users u ON u.user_id = h.holder_id
		WHERE h.security_id = $1
		ORDER BY h.shares DESC`,
		securityID)
	if err != nil {
		return nil, fmt.Errorf("shareholders: %w", err)
	}
	defer rows.Close()
	var out []Shareholder
	for rows.Next() {
		var sh Shareholder
		if err := rows.Scan(&sh.HolderID, &sh.Username, &sh.DisplayName, &sh.Shares); err != nil {
			return nil, fmt.Errorf("scan shareholder: %w", err)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// NetWorth is cash plus marked holdings minus short exposure at the live
// price, plus posted collateral.
func (s *Store) NetWorth(ctx context.Context, userID int64) (int64, error) {
	var worth int64
	err := s.db.QueryRow(ctx, `
		SELECT w.balance_cents
		     + COALESCE((SELECT SUM(h.shares * sec.current_price)
		                 FROM holdings h
		                 JOIN securities sec ON sec.user_id = h.security_id
		                 WHERE h.holder_id = w.user_id), 0)
		     + COALESCE((SELECT SUM(sp.collateral - sp.shares * sec.current_price)
		                 FROM short_positions sp
		                 JOIN securities sec ON sec.user_id = sp.security_id
		                 WHERE sp.holder_id = w.user_id), 0)
		FROM wallets w
		WHERE w.user_id = $1`,
		userID).Scan(&worth)
	if err != nil {
		return 0, fmt.Errorf("net worth: %w", err)
	}
	return worth, nil
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.user_id, u.username, u.display_name, w.balance_cents,
		       COALESCE((SELECT SUM(h.shares * sec.current_price)
		                 FROM holdings h
		                 JOIN securities sec ON sec.user_id = h.security_id
		                 WHERE h.holder_id = u.user_id), 0) AS portfolio_value
		FROM users u
		JOIN wallets w ON w.user_id = u.user_id
		ORDER BY w.balance_cents + COALESCE((SELECT SUM(h.shares * sec.current_price)
		                 FROM holdings h
		                 JOIN securities sec ON sec.user_id = h.security_id
		                 WHERE h.holder_id = u.user_id), 0) DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()
	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.DisplayName,
			&e.Balance, &e.PortfolioValue); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		e.NetWorth = e.Balance + e.PortfolioValue
		out = append(out, e)
	}
	return out, rows.Err()
}

const moverQuery = `
	SELECT u.user_id, u.username, u.display_name,
	       sec.current_price, sec.previous_close, sec.volume_today
	FROM securities sec
	JOIN users u ON u.user_id = sec.user_id
	WHERE NOT u.opted_out AND sec.previous_close > 0`

func (s *Store) scanMovers(ctx context.Context, query string, limit int) ([]MoverEntry, error) {
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("movers: %w", err)
	}
	defer rows.Close()
	var out []MoverEntry
	for rows.Next() {
		var e MoverEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.DisplayName,
			&e.CurrentPrice, &e.PreviousClose, &e.VolumeToday); err != nil {
			return nil, fmt.Errorf("scan mover: %w", err)
		}
		e.ChangePct = 100 * float64(e.CurrentPrice-e.PreviousClose) / float64(e.PreviousClose)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Trending lists the biggest gainers since the previous close.
func (s *Store) Trending(ctx context.Context, limit int) ([]MoverEntry, error) {
	return s.scanMovers(ctx, moverQuery+`
		ORDER BY (sec.current_price - sec.previous_close)::float / sec.previous_close DESC
		LIMIT $1`, limit)
}

// Losers lists the biggest decliners since the previous close.
func (s *Store) Losers(ctx context.Context, limit int) ([]MoverEntry, error) {
	return s.scanMovers(ctx, moverQuery+`
		ORDER BY (sec.current_price - sec.previous_close)::float / sec.previous_close ASC
		LIMIT $1`, limit)
}

func (s *Store) TopVolume(ctx context.Context, limit int) ([]VolumeEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.user_id, u.username, u.display_name, sec.current_price, sec.volume_today
		FROM securities sec
		JOIN users u ON u.user_id = sec.user_id
		WHERE sec.volume_today > 0
		ORDER BY sec.volume_today DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("top volume: %w", err)
	}
	defer rows.Close()
	var out []VolumeEntry
	for rows.Next() {
		var e VolumeEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.DisplayName,
			&e.CurrentPrice, &e.VolumeToday); err != nil {
			return nil, fmt.Errorf("scan volume: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ShortsOf lists a member's open shorts marked against the live price.
func (s *Store) ShortsOf(ctx context.Context, holderID int64) ([]ShortView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT sp.id, sp.holder_id, sp.security_id, sp.shares, sp.entry_price,
		       sp.collateral, sp.margin_call_price, sp.liquidation_price, sp.opened_at,
		       u.username, u.display_name, sec.current_price
		FROM short_positions sp
		JOIN users u ON u.user_id = sp.security_id
		JOIN securities sec ON sec.user_id = sp.security_id
		WHERE sp.holder_id = $1
		ORDER BY sp.opened_at`,
		holderID)
	if err != nil {
		return nil, fmt.Errorf("shorts of: %w", err)
	}
	defer rows.Close()
	var out []ShortView
	for rows.Next() {
		var v ShortView
		if err := rows.Scan(&v.ID, &v.HolderID, &v.SecurityID, &v.Shares, &v.EntryPrice,
			&v.Collateral, &v.MarginCallPrice, &v.LiquidationPrice, &v.OpenedAt,
			&v.Username, &v.DisplayName, &v.CurrentPrice); err != nil {
			return nil, fmt.Errorf("scan short view: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) PriceHistory(ctx context.Context, securityID int64, limit int) ([]PricePoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT price_cents, recorded_at FROM price_history
		WHERE user_id = $1 ORDER BY recorded_at DESC LIMIT $2`,
		securityID, limit)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	defer rows.Close()
	var out []PricePoint
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.Price, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Achievements(ctx context.Context, userID int64) ([]Achievement, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, name, description, unlocked_at
		FROM achievements WHERE user_id = $1 ORDER BY unlocked_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("achievements: %w", err)
	}
	defer rows.Close()
	var out []Achievement
	for rows.Next() {
		var a Achievement
		if err := rows.Scan(&a.UserID, &a.Name, &a.Description, &a.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateLimitOrder files a standing order for the limit sweep to fill.
func (s *Store) CreateLimitOrder(ctx context.Context, ownerID, securityID, shares, targetPrice int64, dir OrderDirection) (int64, error) {
	if shares <= 0 || targetPrice <= 0 {
		return 0, ErrInvalidQuantity
	}
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO limit_orders (owner_id, security_id, shares, target_price, direction)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		ownerID, securityID, shares, targetPrice, dir).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create limit order: %w", err)
	}
	return id, nil
}

func (s *Store) PendingLimitOrders(ctx context.Context) ([]LimitOrder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, security_id, shares, target_price, direction, created_at
		FROM limit_orders ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("pending orders: %w", err)
	}
	defer rows.Close()
	var out []LimitOrder
	for rows.Next() {
		var o LimitOrder
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.SecurityID, &o.Shares,
			&o.TargetPrice, &o.Direction, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) LimitOrdersOf(ctx context.Context, ownerID int64) ([]LimitOrder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, security_id, shares, target_price, direction, created_at
		FROM limit_orders WHERE owner_id = $1 ORDER BY created_at`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("orders of: %w", err)
	}
	defer rows.Close()
	var out []LimitOrder
	for rows.Next() {
		var o LimitOrder
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.SecurityID, &o.Shares,
			&o.TargetPrice, &o.Direction, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteLimitOrder removes a filled or cancelled order. When ownerID is
// non-zero the delete is scoped to that owner.
func (s *Store) DeleteLimitOrder(ctx context.Context, id, ownerID int64) error {
	var (
		tag interface{ RowsAffected() int64 }
		err error
	)
	if ownerID != 0 {
		tag, err = s.db.Exec(ctx,
			`DELETE FROM limit_orders WHERE id = $1 AND owner_id = $2`, id, ownerID)
	} else {
		tag, err = s.db.Exec(ctx, `DELETE FROM limit_orders WHERE id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("delete limit order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
