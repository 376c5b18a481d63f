package fund_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/0oeaaeo/discord-stocks-bot/internal/fund"
	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
	"github.com/0oeaaeo/discord-stocks-bot/internal/testutil"
)

func newManager(t *testing.T) (*fund.Manager, *ledger.Store) {
	t.Helper()
	store := testutil.Store(t)
	return fund.NewManager(store, 1000_00,
		slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func register(t *testing.T, store *ledger.Store, name string) int64 {
	t.Helper()
	id := testutil.UniqueID()
	if _, err := store.RegisterOrFetch(context.Background(), id, name, name, ""); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return id
}

func TestCreateChargesFeeAndSeedsTreasury(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	founder := register(t, store, "founder")
	name := fmt.Sprintf("alpha-%d", founder)

	f, err := mgr.Create(ctx, founder, name)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.Treasury != 1000_00 {
		t.Errorf("treasury = %d, want 100000", f.Treasury)
	}
	w, _ := store.GetWallet(ctx, founder)
	if w.Balance != 0 {
		t.Errorf("founder balance = %d, want 0", w.Balance)
	}

	members, err := mgr.Members(ctx, f.ID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0].SharePct != 100 {
		t.Errorf("members = %+v, want single founder at 100%%", members)
	}

	if _, err := mgr.Create(ctx, founder, name); !errors.Is(err, ledger.ErrFundNameTaken) {
		t.Errorf("duplicate name err = %v, want ErrFundNameTaken", err)
	}
}

func TestDepositRecomputesShares(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	founder := register(t, store, "founder2")
	joiner := register(t, store, "joiner")
	name := fmt.Sprintf("beta-%d", founder)

	f, err := mgr.Create(ctx, founder, name)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Founder contributed $1000; a matching deposit splits the fund 50/50.
	f, err = mgr.Deposit(ctx, f.ID, joiner, 1000_00)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if f.Treasury != 2000_00 {
		t.Errorf("treasury = %d, want 200000", f.Treasury)
	}

	members, err := mgr.Members(ctx, f.ID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	for _, m := range members {
		if math.Abs(m.SharePct-50) > 0.01 {
			t.Errorf("member %d share = %.2f, want 50", m.UserID, m.SharePct)
		}
	}
}

func TestDepositRejectsOverdraft(t *testing.T) {
	mgr, store := newManager(t)
	ctx := context.Background()
	founder := register(t, store, "founder3")
	name := fmt.Sprintf("gamma-%d", founder)

	f, err := mgr.Create(ctx, founder, name)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := mgr.Deposit(ctx, f.ID, founder, 1); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
	if _, err := mgr.Deposit(ctx, 999_999_999, founder, 1); !errors.Is(err, ledger.ErrFundNotFound) {
		t.Errorf("err = %v, want ErrFundNotFound", err)
	}
}
