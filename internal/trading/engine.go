// Package trading composes ledger transactions into the exchange's trade
// operations: market buys and sells, shorts and covers, limit orders, the
// daily bonus and market opt-out. Every operation validates and applies
// inside one serializable transaction.
package trading

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
)

// Config carries the trade-rule constants.
type Config struct {
	OwnershipCapPct   float64
	BuyLockup         time.Duration
	ShortLockup       time.Duration
	MarginRequirement float64
	MarginCallRatio   float64
	LiquidationRatio  float64
	DailyBonusCents   int64
	DailyStreakStep   int64
	DailyStreakCap    int
}

type Engine struct {
	store *ledger.Store
	cfg   Config
	log   *slog.Logger
}

func NewEngine(store *ledger.Store, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{store: store, cfg: cfg, log: logger}
}

// Receipt reports an executed market trade.
type Receipt struct {
	Kind       ledger.TradeKind `json:"kind"`
	SecurityID int64            `json:"security_id"`
	Shares     int64            `json:"shares"`
	Price      int64            `json:"price_cents"`
	Total      int64            `json:"total_cents"`
	PnL        int64            `json:"pnl_cents"`
	NewBalance int64            `json:"new_balance_cents"`
}

// maxHoldable is the per-holder ownership cap in shares.
func (e *Engine) maxHoldable(totalShares int64) int64 {
	return int64(math.Floor(e.cfg.OwnershipCapPct * float64(totalShares)))
}

// Buy purchases shares from the security's open float at the live price.
// The market is the counterparty; the buyer's cash leaves circulation.
func (e *Engine) Buy(ctx context.Context, buyerID, securityID, shares int64) (Receipt, error) {
	if shares <= 0 {
		return Receipt{}, ledger.ErrInvalidQuantity
	}
	if buyerID == securityID {
		return Receipt{}, ledger.ErrSelfTrade
	}
	var r Receipt
	err := e.store.Serialized(ctx, func(tx pgx.Tx) error {
		issuer, err := ledger.UserTx(ctx, tx, securityID)
		if err != nil {
			return err
		}
		if issuer.OptedOut {
			return ledger.ErrOptedOut
		}
		sec, err := ledger.SecurityTx(ctx, tx, securityID)
		if err != nil {
			return err
		}
		wallet, err := ledger.WalletTx(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		if issuer.SharesAvailable < shares {
			return ledger.ErrInsufficientShares
		}
		held := int64(0)
		h, err := ledger.HoldingTx(ctx, tx, buyerID, securityID)
		if err == nil {
			held = h.Shares
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		if held+shares > e.maxHoldable(issuer.TotalShares) {
			return ledger.ErrOwnershipLimit
		}
		cost := sec.CurrentPrice * shares
		if wallet.Balance < cost {
			return ledger.ErrInsufficientFunds
		}
		if err := ledger.AddBalanceTx(ctx, tx, buyerID, -cost); err != nil {
			return err
		}
		if err := ledger.AdjustAvailableTx(ctx, tx, securityID, -shares); err != nil {
			return err
		}
		lockUntil := time.Now().Add(e.cfg.BuyLockup)
		if err := ledger.UpsertHoldingTx(ctx, tx, buyerID, securityID, shares, sec.CurrentPrice, lockUntil); err != nil {
			return err
		}
		if err := ledger.LogTransactionTx(ctx, tx, ledger.Transaction{
			BuyerID:    &buyerID,
			SecurityID: securityID,
			Shares:     shares,
			Price:      sec.CurrentPrice,
			Total:      cost,
			Kind:       ledger.KindBuy,
		}); err != nil {
			return err
		}
		if err := ledger.BumpVolumeTx(ctx, tx, securityID, shares); err != nil {
			return err
		}
		r = Receipt{
			Kind:       ledger.KindBuy,
			SecurityID: securityID,
			Shares:     shares,
			Price:      sec.CurrentPrice,
			Total:      cost,
			NewBalance: wallet.Balance - cost,
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	e.log.Info("buy executed",
		slog.Int64("buyer", buyerID),
		slog.Int64("security", securityID),
		slog.Int64("shares", shares),
		slog.Int64("total_cents", r.Total))
	return r, nil
}

// Sell returns shares to the float at the live price once the lockup has
// passed. PnL is reported against the weighted average cost basis.
func (e *Engine) Sell(ctx context.Context, sellerID, securityID, shares int64) (Receipt, error) {
	if shares <= 0 {
		return Receipt{}, ledger.ErrInvalidQuantity
	}
	var r Receipt
	err := e.store.Serialized(ctx, func(tx pgx.Tx) error {
		h, err := ledger.HoldingTx(ctx, tx, sellerID, securityID)
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.ErrInsufficientShares
		}
		if err != nil {
			return err
		}
		if h.Shares < shares {
			return ledger.ErrInsufficientShares
		}
		if h.Locked(time.Now()) {
			return ledger.ErrSharesLocked
		}
		sec, err := ledger.SecurityTx(ctx, tx, securityID)
		if err != nil {
			return err
		}
		wallet, err := ledger.WalletTx(ctx, tx, sellerID)
		if err != nil {
			return err
		}
		proceeds := sec.CurrentPrice * shares
		if err := ledger.ReduceHoldingTx(ctx, tx, sellerID, securityID, shares, h.Shares); err != nil {
			return err
		}
		if err := ledger.AdjustAvailableTx(ctx, tx, securityID, shares); err != nil {
			return err
		}
		if err := ledger.AddBalanceTx(ctx, tx, sellerID, proceeds); err != nil {
			return err
		}
		if err := ledger.LogTransactionTx(ctx, tx, ledger.Transaction{
			SellerID:   &sellerID,
			SecurityID: securityID,
			Shares:     shares,
			Price:      sec.CurrentPrice,
			Total:      proceeds,
			Kind:       ledger.KindSell,
		}); err != nil {
			return err
		}
		if err := ledger.BumpVolumeTx(ctx, tx, securityID, shares); err != nil {
			return err
		}
		r = Receipt{
			Kind:       ledger.KindSell,
			SecurityID: securityID,
			Shares:     shares,
			Price:      sec.CurrentPrice,
			Total:      proceeds,
			PnL:        (sec.CurrentPrice - h.AvgBuyPrice) * shares,
			NewBalance: wallet.Balance + proceeds,
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	e.log.Info("sell executed",
		slog.Int64("seller", sellerID),
		slog.Int64("security", securityID),
		slog.Int64("shares", shares),
		slog.Int64("pnl_cents", r.PnL))
	return r, nil
}

// OpenShort posts collateral against a bet that the security falls and
// credits the sale proceeds of the borrowed shares. The position is
// synthetic: the float is untouched and profit settles in cash at cover
// time, so covering flat at the entry price nets to zero.
func (e *Engine) OpenShort(ctx context.Context, holderID, securityID, shares int64) (ShortTerms, error) {
	if shares <= 0 {
		return ShortTerms{}, ledger.ErrInvalidQuantity
	}
	if holderID == securityID {
		return ShortTerms{}, ledger.ErrSelfTrade
	}
	var terms ShortTerms
	err := e.store.Serialized(ctx, func(tx pgx.Tx) error {
		issuer, err := ledger.UserTx(ctx, tx, securityID)
		if err != nil {
			return err
		}
		if issuer.OptedOut {
			return ledger.ErrOptedOut
		}
		sec, err := ledger.SecurityTx(ctx, tx, securityID)
		if err != nil {
			return err
		}
		wallet, err := ledger.WalletTx(ctx, tx, holderID)
		if err != nil {
			return err
		}
		terms = ComputeShortTerms(sec.CurrentPrice, shares,
			e.cfg.MarginRequirement, e.cfg.MarginCallRatio, e.cfg.LiquidationRatio)
		if wallet.Balance < terms.Collateral {
			return ledger.ErrInsufficientFunds
		}
		// Collateral leaves the wallet, the sale of the borrowed shares
		// comes back in. One delta so the seller's lifetime earnings
		// are not inflated by their own proceeds.
		if err := ledger.AddBalanceTx(ctx, tx, holderID, terms.Proceeds-terms.Collateral); err != nil {
			return err
		}
		if _, err := ledger.InsertShortTx(ctx, tx, ledger.ShortPosition{
			HolderID:         holderID,
			SecurityID:       securityID,
			Shares:           shares,
			EntryPrice:       terms.EntryPrice,
			Collateral:       terms.Collateral,
			MarginCallPrice:  terms.MarginCallPrice,
			LiquidationPrice: terms.LiquidationPrice,
		}); err != nil {
			return err
		}
		if err := ledger.LogTransactionTx(ctx, tx, ledger.Transaction{
			SellerID:   &holderID,
			SecurityID: securityID,
			Shares:     shares,
			Price:      sec.CurrentPrice,
			Total:      terms.Collateral,
			Kind:       ledger.KindShort,
		}); err != nil {
			return err
		}
		return ledger.BumpVolumeTx(ctx, tx, securityID, shares)
	})
	if err != nil {
		return ShortTerms{}, err
	}
	e.log.Info("short opened",
		slog.Int64("holder", holderID),
		slog.Int64("security", securityID),
		slog.Int64("shares", shares),
		slog.Int64("proceeds_cents", terms.Proceeds),
		slog.Int64("collateral_cents", terms.Collateral))
	return terms, nil
}

// CoverReceipt reports settling shorts against one security.
type CoverReceipt struct {
	SecurityID         int64 `json:"security_id"`
	Shares             int64 `json:"shares"`
	Price              int64 `json:"price_cents"`
	CollateralReleased int64 `json:"collateral_released_cents"`
	Refund             int64 `json:"refund_cents"`
	PnL                int64 `json:"pnl_cents"`
}

// CoverShort buys back shares across the holder's open positions in the
// security, oldest first. Positions inside the lockup cannot be touched.
func (e *Engine) CoverShort(ctx context.Context, holderID, securityID, shares int64) (CoverReceipt, error) {
	if shares <= 0 {
		return CoverReceipt{}, ledger.ErrInvalidQuantity
	}
	var r CoverReceipt
	err := e.store.Serialized(ctx, func(tx pgx.Tx) error {
		positions, err := ledger.ShortsOfHolderTx(ctx, tx, holderID, securityID)
		if err != nil {
			return err
		}
		var open int64
		for _, p := range positions {
			open += p.Shares
		}
		if open < shares {
			return ledger.ErrInsufficientShares
		}
		sec, err := ledger.SecurityTx(ctx, tx, securityID)
		if err != nil {
			return err
		}
		now := time.Now()
		r = CoverReceipt{SecurityID: securityID, Price: sec.CurrentPrice}
		remaining := shares
		for _, p := range positions {
			if remaining == 0 {
				break
			}
			if now.Before(p.OpenedAt.Add(e.cfg.ShortLockup)) {
				return ledger.ErrSharesLocked
			}
			n := remaining
			if n > p.Shares {
				n = p.Shares
			}
			out := ComputeCover(p.EntryPrice, sec.CurrentPrice, n, p.Shares, p.Collateral)
			if err := ledger.ReduceShortTx(ctx, tx, p.ID, n, out.CollateralReleased, p.Shares); err != nil {
				return err
			}
			r.Shares += n
			r.CollateralReleased += out.CollateralReleased
			r.Refund += out.Refund
			r.PnL += out.PnL
			remaining -= n
		}
		if err := ledger.AddBalanceTx(ctx, tx, holderID, r.Refund); err != nil {
			return err
		}
		if err := ledger.LogTransactionTx(ctx, tx, ledger.Transaction{
			BuyerID:    &holderID,
			SecurityID: securityID,
			Shares:     r.Shares,
			Price:      sec.CurrentPrice,
			Total:      sec.CurrentPrice * r.Shares,
			Kind:       ledger.KindShortCover,
		}); err != nil {
			return err
		}
		return ledger.BumpVolumeTx(ctx, tx, securityID, r.Shares)
	})
	if err != nil {
		return CoverReceipt{}, err
	}
	e.log.Info("short covered",
		slog.Int64("holder", holderID),
		slog.Int64("security", securityID),
		slog.Int64("shares", r.Shares),
		slog.Int64("pnl_cents", r.PnL))
	return r, nil
}

// LiquidateShort force-closes one position when the live price has reached
// its liquidation threshold. Losses are capped at posted collateral. Returns
// false when the threshold has not been hit.
func (e *Engine) LiquidateShort(ctx context.Context, shortID int64) (bool, int64, error) {
	liquidated := false
	var refund int64
	err := e.store.Serialized(ctx, func(tx pgx.Tx) error {
		liquidated, refund = false, 0
		p, err := ledger.ShortTx(ctx, tx, shortID)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		sec, err := ledger.SecurityTx(ctx, tx, p.SecurityID)
		if err != nil {
			return err
		}
		if sec.CurrentPrice < p.LiquidationPrice {
			return nil
		}
		refund = ComputeLiquidation(p.Shares, sec.CurrentPrice, p.Collateral)
		if refund > 0 {
			if err := ledger.AddBalanceTx(ctx, tx, p.HolderID, refund); err != nil {
				return err
			}
		}
		if err := ledger.DeleteShortTx(ctx, tx, p.ID); err != nil {
			return err
		}
		if err := ledger.LogTransactionTx(ctx, tx, ledger.Transaction{
			BuyerID:    &p.HolderID,
			SecurityID: p.SecurityID,
			Shares:     p.Shares,
			Price:      sec.CurrentPrice,
			Total:      sec.CurrentPrice * p.Shares,
			Kind:       ledger.KindLiquidate,
		}); err != nil {
			return err
		}
		liquidated = true
		return ledger.BumpVolumeTx(ctx, tx, p.SecurityID, p.Shares)
	})
	if err != nil {
		return false, 0, err
	}
	if liquidated {
		e.log.Warn("short liquidated",
			slog.Int64("short_id", shortID),
			slog.Int64("refund_cents", refund))
	}
	return liquidated, refund, nil
}

// DailyReceipt reports a claimed daily bonus.
type DailyReceipt struct {
	Amount     int64 `json:"amount_cents"`
	Streak     int   `json:"streak"`
	NewBalance int64 `json:"new_balance_cents"`
}

// ClaimDaily pays the daily bonus once per calendar day. Consecutive-day
// claims grow the streak; the streak bonus is capped.
func (e *Engine) ClaimDaily(ctx context.Context, userID int64) (DailyReceipt, error) {
	var r DailyReceipt
	err := e.store.Serialized(ctx, func(tx pgx.Tx) error {
		var (
			balance   int64
			streak    int
			claimedToday,
			claimedYesterday bool
		)
		err := tx.QueryRow(ctx, `
			SELECT balance_cents, daily_streak,
			       COALESCE(last_daily_claim = CURRENT_DATE, FALSE),
			       COALESCE(last_daily_claim = CURRENT_DATE - 1, FALSE)
			FROM wallets WHERE user_id = $1 FOR UPDATE`,
			userID).Scan(&balance, &streak, &claimedToday, &claimedYesterday)
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrNotFound
		}
		if err != nil {
			return err
		}
		if claimedToday {
			return ledger.ErrAlreadyClaimed
		}
		if claimedYesterday {
			streak++
		} else {
			streak = 1
		}
		bonusDays := streak
		if bonusDays > e.cfg.DailyStreakCap {
			bonusDays = e.cfg.DailyStreakCap
		}
		amount := e.cfg.DailyBonusCents + int64(bonusDays)*e.cfg.DailyStreakStep
		_, err = tx.Exec(ctx, `
			UPDATE wallets
			SET balance_cents = balance_cents + $2,
			    lifetime_earnings = lifetime_earnings + $2,
			    daily_streak = $3,
			    last_daily_claim = CURRENT_DATE
			WHERE user_id = $1`,
			userID, amount, streak)
		if err != nil {
			return err
		}
		r = DailyReceipt{Amount: amount, Streak: streak, NewBalance: balance + amount}
		return nil
	})
	return r, err
}

// PlaceLimitOrder files a standing order. Buy-low orders fill when the price
// drops to target; sell-high orders require the shares up front and fill
// when the price reaches target.
func (e *Engine) PlaceLimitOrder(ctx context.Context, ownerID, securityID, shares, targetPrice int64, dir ledger.OrderDirection) (int64, error) {
	if ownerID == securityID {
		return 0, ledger.ErrSelfTrade
	}
	issuer, err := e.store.GetUser(ctx, securityID)
	if err != nil {
		return 0, err
	}
	if issuer.OptedOut {
		return 0, ledger.ErrOptedOut
	}
	if dir == ledger.SellHigh {
		h, err := e.store.GetHolding(ctx, ownerID, securityID)
		if errors.Is(err, ledger.ErrNotFound) || (err == nil && h.Shares < shares) {
			return 0, ledger.ErrInsufficientShares
		}
		if err != nil {
			return 0, err
		}
	}
	return e.store.CreateLimitOrder(ctx, ownerID, securityID, shares, targetPrice, dir)
}

// TryFillLimitOrder executes an order whose trigger has been reached, then
// removes it. Orders that fail for business reasons (funds gone, shares
// sold) are dropped rather than retried forever. Returns the executed
// receipt when a fill happened.
func (e *Engine) TryFillLimitOrder(ctx context.Context, o ledger.LimitOrder, currentPrice int64) (*Receipt, error) {
	triggered := (o.Direction == ledger.BuyLow && currentPrice <= o.TargetPrice) ||
		(o.Direction == ledger.SellHigh && currentPrice >= o.TargetPrice)
	if !triggered {
		return nil, nil
	}
	var (
		r   Receipt
		err error
	)
	switch o.Direction {
	case ledger.BuyLow:
		r, err = e.Buy(ctx, o.OwnerID, o.SecurityID, o.Shares)
	case ledger.SellHigh:
		r, err = e.Sell(ctx, o.OwnerID, o.SecurityID, o.Shares)
	}
	if err != nil && !isBusinessError(err) {
		return nil, err
	}
	if delErr := e.store.DeleteLimitOrder(ctx, o.ID, 0); delErr != nil && !errors.Is(delErr, ledger.ErrNotFound) {
		return nil, delErr
	}
	if err != nil {
		e.log.Info("limit order dropped",
			slog.Int64("order_id", o.ID),
			slog.String("reason", err.Error()))
		return nil, nil
	}
	return &r, nil
}

// isBusinessError reports whether the failure is a rule violation rather
// than an infrastructure fault.
func isBusinessError(err error) bool {
	for _, e := range []error{
		ledger.ErrInsufficientFunds,
		ledger.ErrInsufficientShares,
		ledger.ErrOwnershipLimit,
		ledger.ErrSharesLocked,
		ledger.ErrSelfTrade,
		ledger.ErrOptedOut,
		ledger.ErrInvalidQuantity,
		ledger.ErrNotFound,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
