package trading_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
	"github.com/0oeaaeo/discord-stocks-bot/internal/testutil"
	"github.com/0oeaaeo/discord-stocks-bot/internal/trading"
)

func newTestEngine(t *testing.T) (*trading.Engine, *ledger.Store) {
	t.Helper()
	store := testutil.Store(t)
	eng := trading.NewEngine(store, trading.Config{
		OwnershipCapPct:   0.10,
		BuyLockup:         0, // no lockup so tests can sell immediately
		ShortLockup:       0,
		MarginRequirement: 1.5,
		MarginCallRatio:   1.2,
		LiquidationRatio:  1.4,
		DailyBonusCents:   500_00,
		DailyStreakStep:   50_00,
		DailyStreakCap:    7,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return eng, store
}

func register(t *testing.T, store *ledger.Store, name string) int64 {
	t.Helper()
	id := testutil.UniqueID()
	if _, err := store.RegisterOrFetch(context.Background(), id, name, name, ""); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return id
}

func TestBuySellRoundTrip(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	buyer := register(t, store, "buyer")
	issuer := register(t, store, "issuer")

	r, err := eng.Buy(ctx, buyer, issuer, 5)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if r.Total != 5*100_00 {
		t.Fatalf("total = %d, want 50000", r.Total)
	}
	u, _ := store.GetUser(ctx, issuer)
	if u.SharesAvailable != 995 {
		t.Fatalf("available = %d, want 995", u.SharesAvailable)
	}

	if _, err := eng.Sell(ctx, buyer, issuer, 5); err != nil {
		t.Fatalf("sell: %v", err)
	}

	// Share conservation: the float is whole again and the wallet is back
	// where it started.
	u, _ = store.GetUser(ctx, issuer)
	if u.SharesAvailable != 1000 {
		t.Errorf("available = %d, want 1000", u.SharesAvailable)
	}
	w, _ := store.GetWallet(ctx, buyer)
	if w.Balance != 1000_00 {
		t.Errorf("balance = %d, want 100000", w.Balance)
	}
	if _, err := store.GetHolding(ctx, buyer, issuer); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("holding after full sell: err = %v", err)
	}
}

func TestBuyRejectionsLeaveStateUntouched(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	buyer := register(t, store, "capped")
	issuer := register(t, store, "popular")

	if _, err := eng.Buy(ctx, buyer, buyer, 1); !errors.Is(err, ledger.ErrSelfTrade) {
		t.Errorf("self trade: err = %v", err)
	}
	if _, err := eng.Buy(ctx, buyer, issuer, 0); !errors.Is(err, ledger.ErrInvalidQuantity) {
		t.Errorf("zero shares: err = %v", err)
	}
	// 10% of 1000 shares is 100; 101 crosses the cap.
	if _, err := eng.Buy(ctx, buyer, issuer, 101); !errors.Is(err, ledger.ErrOwnershipLimit) {
		t.Errorf("cap: err = %v", err)
	}

	w, _ := store.GetWallet(ctx, buyer)
	if w.Balance != 1000_00 {
		t.Errorf("balance mutated by rejected buys: %d", w.Balance)
	}
	u, _ := store.GetUser(ctx, issuer)
	if u.SharesAvailable != 1000 {
		t.Errorf("float mutated by rejected buys: %d", u.SharesAvailable)
	}
}

func TestBuyInsufficientFunds(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	buyer := register(t, store, "poor")
	issuer := register(t, store, "rich")

	// Starting balance $1000 covers 10 shares at $100; 11 does not.
	if _, err := eng.Buy(ctx, buyer, issuer, 11); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestSellLockedShares(t *testing.T) {
	_, store := newTestEngine(t)
	ctx := context.Background()
	buyer := register(t, store, "locked")
	issuer := register(t, store, "held")

	lockedEng := trading.NewEngine(store, trading.Config{
		OwnershipCapPct: 0.10,
		BuyLockup:       time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := lockedEng.Buy(ctx, buyer, issuer, 2); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := lockedEng.Sell(ctx, buyer, issuer, 2); !errors.Is(err, ledger.ErrSharesLocked) {
		t.Fatalf("err = %v, want ErrSharesLocked", err)
	}
}

func TestShortRoundTrip(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	holder := register(t, store, "bear")
	issuer := register(t, store, "target")

	terms, err := eng.OpenShort(ctx, holder, issuer, 5)
	if err != nil {
		t.Fatalf("open short: %v", err)
	}
	if terms.Collateral != 750_00 {
		t.Fatalf("collateral = %d, want 75000", terms.Collateral)
	}
	if terms.Proceeds != 500_00 {
		t.Fatalf("proceeds = %d, want 50000", terms.Proceeds)
	}
	// Collateral out, sale proceeds in: 1000 - 750 + 500.
	w, _ := store.GetWallet(ctx, holder)
	if w.Balance != 750_00 {
		t.Fatalf("balance = %d, want 75000", w.Balance)
	}

	// Price drops to $80; covering banks the $100 profit.
	if err := store.UpdatePrice(ctx, issuer, 80_00); err != nil {
		t.Fatalf("update price: %v", err)
	}
	r, err := eng.CoverShort(ctx, holder, issuer, 5)
	if err != nil {
		t.Fatalf("cover: %v", err)
	}
	if r.PnL != 100_00 {
		t.Errorf("pnl = %d, want 10000", r.PnL)
	}
	w, _ = store.GetWallet(ctx, holder)
	if w.Balance != 1100_00 {
		t.Errorf("balance = %d, want 110000", w.Balance)
	}

	if views, _ := store.ShortsOf(ctx, holder); len(views) != 0 {
		t.Errorf("open shorts after cover = %d", len(views))
	}
}

func TestShortFlatCoverNetsZero(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	holder := register(t, store, "flat-bear")
	issuer := register(t, store, "flat-target")

	before, _ := store.GetWallet(ctx, holder)
	if _, err := eng.OpenShort(ctx, holder, issuer, 5); err != nil {
		t.Fatalf("open short: %v", err)
	}
	// Covering at the unchanged entry price returns the collateral in full.
	r, err := eng.CoverShort(ctx, holder, issuer, 5)
	if err != nil {
		t.Fatalf("cover: %v", err)
	}
	if r.PnL != 0 {
		t.Errorf("pnl = %d, want 0", r.PnL)
	}
	after, _ := store.GetWallet(ctx, holder)
	if after.Balance != before.Balance {
		t.Errorf("net = %d, want 0", after.Balance-before.Balance)
	}
}

func TestPlaceLimitOrderRejectsMissingSecurity(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	owner := register(t, store, "filer")

	ghost := testutil.UniqueID()
	if _, err := eng.PlaceLimitOrder(ctx, owner, ghost, 1, 50_00, ledger.BuyLow); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("buy_low on missing security: err = %v, want ErrNotFound", err)
	}

	delisted := register(t, store, "delisted")
	if err := store.MarkOptedOut(ctx, delisted); err != nil {
		t.Fatalf("mark opted out: %v", err)
	}
	if _, err := eng.PlaceLimitOrder(ctx, owner, delisted, 1, 50_00, ledger.BuyLow); !errors.Is(err, ledger.ErrOptedOut) {
		t.Errorf("buy_low on delisted security: err = %v, want ErrOptedOut", err)
	}
}

func TestLiquidateShortAtThreshold(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	holder := register(t, store, "squeezed")
	issuer := register(t, store, "mooning")

	if _, err := eng.OpenShort(ctx, holder, issuer, 5); err != nil {
		t.Fatalf("open short: %v", err)
	}
	ids, err := store.ListOpenShorts(ctx)
	if err != nil || len(ids) == 0 {
		t.Fatalf("list shorts: %v", err)
	}
	shortID := ids[len(ids)-1]

	// Below the 1.4x threshold nothing happens.
	if err := store.UpdatePrice(ctx, issuer, 139_99); err != nil {
		t.Fatalf("update price: %v", err)
	}
	if done, _, err := eng.LiquidateShort(ctx, shortID); err != nil || done {
		t.Fatalf("premature liquidation: done=%v err=%v", done, err)
	}

	if err := store.UpdatePrice(ctx, issuer, 140_00); err != nil {
		t.Fatalf("update price: %v", err)
	}
	done, refund, err := eng.LiquidateShort(ctx, shortID)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !done {
		t.Fatal("liquidation did not fire at threshold")
	}
	// Collateral 750, buy-back 5*140=700, refund 50.
	if refund != 50_00 {
		t.Errorf("refund = %d, want 5000", refund)
	}
}

func TestClaimDailyOncePerDay(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	id := register(t, store, "claimer")

	r, err := eng.ClaimDaily(ctx, id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if r.Streak != 1 || r.Amount != 500_00+50_00 {
		t.Errorf("receipt = %+v", r)
	}
	if _, err := eng.ClaimDaily(ctx, id); !errors.Is(err, ledger.ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}
}
