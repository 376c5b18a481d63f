package trading

import "testing"

func TestComputeShortTerms(t *testing.T) {
	terms := ComputeShortTerms(100_00, 10, 1.5, 1.2, 1.4)
	if terms.Proceeds != 1000_00 {
		t.Errorf("proceeds = %d, want 100000", terms.Proceeds)
	}
	if terms.Collateral != 1500_00 {
		t.Errorf("collateral = %d, want 150000", terms.Collateral)
	}
	if terms.MarginCallPrice != 120_00 {
		t.Errorf("margin call = %d, want 12000", terms.MarginCallPrice)
	}
	if terms.LiquidationPrice != 140_00 {
		t.Errorf("liquidation = %d, want 14000", terms.LiquidationPrice)
	}
}

// The wallet sees three flows over a short's life: proceeds in and
// collateral out at open, refund in at cover. Their sum must equal PnL.
func TestShortCashFlowsSumToPnL(t *testing.T) {
	cases := []struct {
		name       string
		coverPrice int64
	}{
		{"flat", 100_00},
		{"drop", 80_00},
		{"squeeze", 130_00},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			terms := ComputeShortTerms(100_00, 10, 1.5, 1.2, 1.4)
			out := ComputeCover(100_00, tc.coverPrice, 10, 10, terms.Collateral)
			net := terms.Proceeds - terms.Collateral + out.Refund
			if net != out.PnL {
				t.Errorf("net = %d, pnl = %d", net, out.PnL)
			}
			if tc.coverPrice == 100_00 && net != 0 {
				t.Errorf("flat round trip net = %d, want 0", net)
			}
		})
	}
}

func TestComputeCoverProfit(t *testing.T) {
	// Shorted 10 at $100, covering all at $80: profit $200 on top of the
	// released collateral.
	out := ComputeCover(100_00, 80_00, 10, 10, 1500_00)
	if out.CollateralReleased != 1500_00 {
		t.Errorf("released = %d", out.CollateralReleased)
	}
	if out.Cost != 800_00 {
		t.Errorf("cost = %d", out.Cost)
	}
	if out.Refund != 700_00 {
		t.Errorf("refund = %d, want 70000", out.Refund)
	}
	if out.PnL != 200_00 {
		t.Errorf("pnl = %d, want 20000", out.PnL)
	}
}

func TestComputeCoverPartialProportional(t *testing.T) {
	// Covering 4 of 10 releases 40% of collateral.
	out := ComputeCover(100_00, 110_00, 4, 10, 1500_00)
	if out.CollateralReleased != 600_00 {
		t.Errorf("released = %d, want 60000", out.CollateralReleased)
	}
	if out.Refund != 600_00-440_00 {
		t.Errorf("refund = %d, want %d", out.Refund, 600_00-440_00)
	}
	if out.PnL != -40_00 {
		t.Errorf("pnl = %d, want -4000", out.PnL)
	}
}

func TestComputeCoverLossCanExceedRelease(t *testing.T) {
	out := ComputeCover(100_00, 160_00, 10, 10, 1500_00)
	if out.Refund != -100_00 {
		t.Errorf("refund = %d, want -10000", out.Refund)
	}
}

func TestComputeLiquidation(t *testing.T) {
	// Liquidating 10 shares at $140 against $1500 collateral returns $100.
	if got := ComputeLiquidation(10, 140_00, 1500_00); got != 100_00 {
		t.Errorf("refund = %d, want 10000", got)
	}
	// Losses cap at collateral.
	if got := ComputeLiquidation(10, 200_00, 1500_00); got != 0 {
		t.Errorf("refund = %d, want 0", got)
	}
}
