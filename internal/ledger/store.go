package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Params fixes the economy constants the store needs at registration and
// balance-mutation time.
type Params struct {
	TotalShares       int64
	BasePriceCents    int64
	StartingCents     int64
	BalanceFloorCents int64
}

type Store struct {
	db     *pgxpool.Pool
	params Params
	log    *slog.Logger
}

func New(db *pgxpool.Pool, params Params, logger *slog.Logger) *Store {
	return &Store{db: db, params: params, log: logger}
}

// Pool exposes the underlying pool for read-only query paths.
func (s *Store) Pool() *pgxpool.Pool { return s.db }

const (
	maxTxAttempts  = 8
	initialBackoff = 75 * time.Millisecond
	maxBackoff     = 1200 * time.Millisecond
)

// Serialized runs fn inside a serializable transaction, retrying on
// serialization failures with a bounded doubling backoff. Business errors
// returned by fn abort the transaction and are returned as-is.
func (s *Store) Serialized(ctx context.Context, fn func(pgx.Tx) error) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		lastErr = err
		s.log.Debug("serialization conflict, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff))
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("%w: %v", ErrTxConflict, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RegisterOrFetch creates the user, their wallet and their security in one
// transaction if they do not exist yet, then returns the user row.
// Registration is idempotent; an existing user's profile fields are refreshed.
func (s *Store) RegisterOrFetch(ctx context.Context, id int64, username, displayName, avatarURL string) (User, error) {
	var u User
	err := s.Serialized(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (user_id, username, display_name, avatar_url, total_shares, shares_available)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (user_id) DO UPDATE
			SET username = EXCLUDED.username,
			    display_name = EXCLUDED.display_name,
			    avatar_url = EXCLUDED.avatar_url`,
			id, username, displayName, avatarURL, s.params.TotalShares)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO wallets (user_id, balance_cents)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING`,
			id, s.params.StartingCents)
		if err != nil {
			return fmt.Errorf("insert wallet: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO securities (user_id, base_price, current_price, previous_close,
			                        daily_high, daily_low, all_time_high, all_time_low)
			VALUES ($1, $2, $2, $2, $2, $2, $2, $2)
			ON CONFLICT (user_id) DO NOTHING`,
			id, s.params.BasePriceCents)
		if err != nil {
			return fmt.Errorf("insert security: %w", err)
		}
		u, err = UserTx(ctx, tx, id)
		return err
	})
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(s.db.QueryRow(ctx, userQuery+` WHERE user_id = $1`, id))
}

func (s *Store) GetWallet(ctx context.Context, id int64) (Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, walletQuery+` WHERE user_id = $1`, id))
}

func (s *Store) GetSecurity(ctx context.Context, id int64) (Security, error) {
	return scanSecurity(s.db.QueryRow(ctx, securityQuery+` WHERE user_id = $1`, id))
}

func (s *Store) GetHolding(ctx context.Context, holderID, securityID int64) (Holding, error) {
	return scanHolding(s.db.QueryRow(ctx,
		holdingQuery+` WHERE holder_id = $1 AND security_id = $2`, holderID, securityID))
}

// MutateBalance credits or debits a wallet. Debits never take the balance
// below the protected floor; the remainder of the debit is forgiven. Credits
// also count toward lifetime earnings. Returns the new balance.
func (s *Store) MutateBalance(ctx context.Context, userID, delta int64) (int64, error) {
	var newBalance int64
	err := s.Serialized(ctx, func(tx pgx.Tx) error {
		var balance int64
		err := tx.QueryRow(ctx,
			`SELECT balance_cents FROM wallets WHERE user_id = $1 FOR UPDATE`,
			userID).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		newBalance = balance + delta
		if newBalance < s.params.BalanceFloorCents {
			newBalance = s.params.BalanceFloorCents
		}
		earned := int64(0)
		if delta > 0 {
			earned = delta
		}
		_, err = tx.Exec(ctx, `
			UPDATE wallets
			SET balance_cents = $2, lifetime_earnings = lifetime_earnings + $3
			WHERE user_id = $1`,
			userID, newBalance, earned)
		if err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
		return nil
	})
	return newBalance, err
}

// UpdatePrice sets a security's live price and maintains the daily and
// all-time extremes plus the price history series.
func (s *Store) UpdatePrice(ctx context.Context, securityID, newPrice int64) error {
	return s.Serialized(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE securities
			SET current_price = $2,
			    daily_high    = GREATEST(daily_high, $2),
			    daily_low     = LEAST(daily_low, $2),
			    all_time_high = GREATEST(all_time_high, $2),
			    all_time_low  = LEAST(all_time_low, $2),
			    last_updated  = now()
			WHERE user_id = $1`,
			securityID, newPrice)
		if err != nil {
			return fmt.Errorf("update price: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO price_history (user_id, price_cents) VALUES ($1, $2)`,
			securityID, newPrice)
		if err != nil {
			return fmt.Errorf("record history: %w", err)
		}
		return nil
	})
}

var activityColumns = map[ActivityKind]string{
	ActivityMessage:  "messages",
	ActivityReaction: "unique_reactors",
	ActivityVoice:    "voice_minutes",
	ActivityReply:    "replies_received",
	ActivityMention:  "mentions_received",
}

// RecordActivity bumps one engagement counter for today. Opted-out members
// accrue nothing. The member's last-active day is refreshed as a side effect.
func (s *Store) RecordActivity(ctx context.Context, userID int64, kind ActivityKind, amount int64) error {
	col, ok := activityColumns[kind]
	if !ok {
		return fmt.Errorf("ledger: unknown activity kind %q", kind)
	}
	return s.Serialized(ctx, func(tx pgx.Tx) error {
		var optedOut bool
		err := tx.QueryRow(ctx,
			`SELECT opted_out FROM users WHERE user_id = $1`, userID).Scan(&optedOut)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check opt-out: %w", err)
		}
		if optedOut {
			return nil
		}
		// col comes from the whitelist above, never from input.
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO activity_metrics (user_id, day, %s)
			VALUES ($1, CURRENT_DATE, $2)
			ON CONFLICT (user_id, day) DO UPDATE SET %s = activity_metrics.%s + $2`,
			col, col, col),
			userID, amount)
		if err != nil {
			return fmt.Errorf("bump activity: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE wallets SET last_active = CURRENT_DATE WHERE user_id = $1`, userID)
		if err != nil {
			return fmt.Errorf("touch last_active: %w", err)
		}
		return nil
	})
}

// ActivityWindow sums engagement counters over the last n days including today.
func (s *Store) ActivityWindow(ctx context.Context, userID int64, days int) (ActivityTotals, error) {
	var t ActivityTotals
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(messages), 0),
		       COALESCE(SUM(unique_reactors), 0),
		       COALESCE(SUM(voice_minutes), 0),
		       COALESCE(SUM(replies_received), 0),
		       COALESCE(SUM(mentions_received), 0)
		FROM activity_metrics
		WHERE user_id = $1 AND day > CURRENT_DATE - $2::int`,
		userID, days).Scan(&t.Messages, &t.UniqueReactors, &t.VoiceMinutes,
		&t.RepliesReceived, &t.MentionsReceived)
	if err != nil {
		return ActivityTotals{}, fmt.Errorf("activity window: %w", err)
	}
	return t, nil
}

// DemandCounts reports buy and sell trade counts for a security over the
// trailing 24 hours, feeding the demand modifier.
func (s *Store) DemandCounts(ctx context.Context, securityID int64) (buys, sells int64, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE kind = 'buy'),
		       COUNT(*) FILTER (WHERE kind = 'sell')
		FROM transactions
		WHERE security_id = $1 AND created_at > now() - interval '24 hours'`,
		securityID).Scan(&buys, &sells)
	if err != nil {
		return 0, 0, fmt.Errorf("demand counts: %w", err)
	}
	return buys, sells, nil
}

// PurgeUser removes a worthless opted-out member and everything attached to
// them in one transaction: wallet, security, holdings on both sides, shorts
// on both sides, limit orders, activity, news, achievements, history and fund
// memberships. The trade log is kept.
func (s *Store) PurgeUser(ctx context.Context, userID int64) error {
	return s.Serialized(ctx, func(tx pgx.Tx) error {
		stmts := []string{
			`DELETE FROM holdings WHERE holder_id = $1 OR security_id = $1`,
			`DELETE FROM short_positions WHERE holder_id = $1 OR security_id = $1`,
			`DELETE FROM limit_orders WHERE owner_id = $1 OR security_id = $1`,
			`DELETE FROM activity_metrics WHERE user_id = $1`,
			`DELETE FROM market_news WHERE user_id = $1`,
			`DELETE FROM achievements WHERE user_id = $1`,
			`DELETE FROM price_history WHERE user_id = $1`,
			`DELETE FROM hedge_fund_members WHERE user_id = $1`,
			`DELETE FROM securities WHERE user_id = $1`,
			`DELETE FROM wallets WHERE user_id = $1`,
			`DELETE FROM users WHERE user_id = $1`,
		}
		for _, q := range stmts {
			if _, err := tx.Exec(ctx, q, userID); err != nil {
				return fmt.Errorf("purge: %w", err)
			}
		}
		return nil
	})
}

// MarkOptedOut flags a member as withdrawn from the market. Irreversible.
func (s *Store) MarkOptedOut(ctx context.Context, userID int64) error {
	return s.Serialized(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users SET opted_out = TRUE, opt_out_date = now()
			WHERE user_id = $1 AND NOT opted_out`,
			userID)
		if err != nil {
			return fmt.Errorf("mark opted out: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DailyReset rolls every security's close over to the live price and clears
// the daily extremes and volume. Runs once at local midnight.
func (s *Store) DailyReset(ctx context.Context) (int64, error) {
	var n int64
	err := s.Serialized(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE securities
			SET previous_close = current_price,
			    daily_high     = current_price,
			    daily_low      = current_price,
			    volume_today   = 0`)
		if err != nil {
			return fmt.Errorf("daily reset: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// RoundCents rounds a float cent amount to a whole cent.
func RoundCents(v float64) int64 {
	return int64(math.Round(v))
}
