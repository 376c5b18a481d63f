package ledger_test

import (
	"context"
	"testing"

	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
	"github.com/0oeaaeo/discord-stocks-bot/internal/testutil"
)

func TestRegisterOrFetchIdempotent(t *testing.T) {
	store := testutil.Store(t)
	ctx := context.Background()
	id := testutil.UniqueID()

	u, err := store.RegisterOrFetch(ctx, id, "alice", "Alice", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.TotalShares != 1000 || u.SharesAvailable != 1000 {
		t.Fatalf("shares = %d/%d, want 1000/1000", u.SharesAvailable, u.TotalShares)
	}

	w, err := store.GetWallet(ctx, id)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if w.Balance != 1000_00 {
		t.Fatalf("balance = %d, want 100000", w.Balance)
	}

	// Second registration keeps state but refreshes the profile.
	if _, err := store.MutateBalance(ctx, id, -200_00); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	u2, err := store.RegisterOrFetch(ctx, id, "alice", "Alice Cooper", "")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if u2.DisplayName != "Alice Cooper" {
		t.Errorf("display name = %q", u2.DisplayName)
	}
	w2, _ := store.GetWallet(ctx, id)
	if w2.Balance != 800_00 {
		t.Errorf("balance reset on re-register: %d", w2.Balance)
	}
}

func TestMutateBalanceFloor(t *testing.T) {
	store := testutil.Store(t)
	ctx := context.Background()
	id := testutil.UniqueID()
	if _, err := store.RegisterOrFetch(ctx, id, "bob", "Bob", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := store.MutateBalance(ctx, id, -5000_00)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got != 100_00 {
		t.Fatalf("balance = %d, want floor 10000", got)
	}
}

func TestUpdatePriceExtremes(t *testing.T) {
	store := testutil.Store(t)
	ctx := context.Background()
	id := testutil.UniqueID()
	if _, err := store.RegisterOrFetch(ctx, id, "carol", "Carol", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, p := range []int64{120_00, 90_00, 110_00} {
		if err := store.UpdatePrice(ctx, id, p); err != nil {
			t.Fatalf("update price: %v", err)
		}
	}
	sec, err := store.GetSecurity(ctx, id)
	if err != nil {
		t.Fatalf("security: %v", err)
	}
	if sec.CurrentPrice != 110_00 {
		t.Errorf("current = %d", sec.CurrentPrice)
	}
	if sec.DailyHigh != 120_00 || sec.AllTimeHigh != 120_00 {
		t.Errorf("high = %d/%d", sec.DailyHigh, sec.AllTimeHigh)
	}
	if sec.DailyLow != 90_00 || sec.AllTimeLow != 90_00 {
		t.Errorf("low = %d/%d", sec.DailyLow, sec.AllTimeLow)
	}

	hist, err := store.PriceHistory(ctx, id, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 {
		t.Errorf("history rows = %d, want 3", len(hist))
	}
}

func TestRecordActivitySkipsOptedOut(t *testing.T) {
	store := testutil.Store(t)
	ctx := context.Background()
	id := testutil.UniqueID()
	if _, err := store.RegisterOrFetch(ctx, id, "dan", "Dan", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := store.RecordActivity(ctx, id, ledger.ActivityMessage, 3); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.MarkOptedOut(ctx, id); err != nil {
		t.Fatalf("opt out: %v", err)
	}
	if err := store.RecordActivity(ctx, id, ledger.ActivityMessage, 5); err != nil {
		t.Fatalf("record after opt-out: %v", err)
	}

	tot, err := store.ActivityWindow(ctx, id, 1)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if tot.Messages != 3 {
		t.Errorf("messages = %d, want 3 (opted-out activity ignored)", tot.Messages)
	}
}

func TestPurgeUserCascades(t *testing.T) {
	store := testutil.Store(t)
	ctx := context.Background()
	id := testutil.UniqueID()
	if _, err := store.RegisterOrFetch(ctx, id, "eve", "Eve", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := store.MarkOptedOut(ctx, id); err != nil {
		t.Fatalf("opt out: %v", err)
	}

	if err := store.PurgeUser(ctx, id); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := store.GetUser(ctx, id); err != ledger.ErrNotFound {
		t.Errorf("user after purge: err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetWallet(ctx, id); err != ledger.ErrNotFound {
		t.Errorf("wallet after purge: err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetSecurity(ctx, id); err != ledger.ErrNotFound {
		t.Errorf("security after purge: err = %v, want ErrNotFound", err)
	}
}
