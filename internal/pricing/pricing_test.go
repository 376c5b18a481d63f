package pricing

import (
	"math"
	"testing"
	"time"
)

func TestActivityMultiplierDiminishingMessages(t *testing.T) {
	tests := []struct {
		messages int64
		want     float64
	}{
		{0, 1.0},
		{10, 1.05},
		{50, 1.25},
		{100, 1.375}, // 50 full weight + 50 at half weight
	}
	for _, tc := range tests {
		got := ActivityMultiplier(Metrics{Messages: tc.messages})
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("messages=%d got=%v want=%v", tc.messages, got, tc.want)
		}
	}
}

func TestActivityMultiplierFloor(t *testing.T) {
	if got := ActivityMultiplier(Metrics{}); got != 1.0 {
		t.Fatalf("empty metrics should floor at 1.0, got %v", got)
	}
}

func TestStreakMultiplierCap(t *testing.T) {
	if got := StreakMultiplier(3); math.Abs(got-1.3) > 1e-9 {
		t.Fatalf("streak=3 got=%v want=1.3", got)
	}
	if got := StreakMultiplier(50); got != 2.0 {
		t.Fatalf("streak cap broken: got=%v", got)
	}
}

func TestDemandModifierClamps(t *testing.T) {
	if got := DemandModifier(Demand{Buys: 100000, Sells: 0, TotalShares: 1000}); got != 1.5 {
		t.Fatalf("demand upper clamp: got=%v", got)
	}
	if got := DemandModifier(Demand{Buys: 0, Sells: 100000, TotalShares: 1000}); got != 0.5 {
		t.Fatalf("demand lower clamp: got=%v", got)
	}
	if got := DemandModifier(Demand{TotalShares: 0}); got != 1.0 {
		t.Fatalf("zero shares should be neutral: got=%v", got)
	}
}

func TestPriceExample(t *testing.T) {
	// base $100, 10 messages, nothing else: activity 1.05 -> $105.00
	got := Price(100_00, Metrics{Messages: 10}, 0, Demand{TotalShares: 1000}, 0)
	if got != 105_00 {
		t.Fatalf("got=%d want=%d", got, 105_00)
	}
}

func TestPriceFloor(t *testing.T) {
	got := Price(10_00, Metrics{}, 0, Demand{TotalShares: 1000}, 365)
	if got != FloorCents {
		t.Fatalf("decay path must floor at %d, got %d", FloorCents, got)
	}
}

func TestPriceMonotonicInMetrics(t *testing.T) {
	lesser := Metrics{Messages: 5, UniqueReactors: 1}
	pairs := []Metrics{
		{Messages: 6, UniqueReactors: 1},
		{Messages: 5, UniqueReactors: 2},
		{Messages: 5, UniqueReactors: 1, VoiceMinutes: 30},
		{Messages: 5, UniqueReactors: 1, RepliesReceived: 4},
		{Messages: 5, UniqueReactors: 1, MentionsReceived: 2},
	}
	base := Price(100_00, lesser, 2, Demand{TotalShares: 1000}, 0)
	for _, greater := range pairs {
		got := Price(100_00, greater, 2, Demand{TotalShares: 1000}, 0)
		if got < base {
			t.Fatalf("dominating metrics %+v priced %d below %d", greater, got, base)
		}
	}
}

func TestInactivityDecayCompounds(t *testing.T) {
	one := InactivityDecay(1)
	two := InactivityDecay(2)
	if math.Abs(one-0.95) > 1e-9 {
		t.Fatalf("one day decay got=%v", one)
	}
	if math.Abs(two-0.95*0.95) > 1e-9 {
		t.Fatalf("two day decay got=%v", two)
	}
}

func TestOptOutTickFactor(t *testing.T) {
	factor := OptOutTickFactor(0.25, 5*time.Minute)
	// 288 five-minute ticks per day should compound to ~75% retained.
	daily := math.Pow(factor, 288)
	if math.Abs(daily-0.75) > 1e-6 {
		t.Fatalf("daily compounding got=%v want=0.75", daily)
	}
}

func TestDecayOptedOutNoFloor(t *testing.T) {
	price := int64(12)
	factor := OptOutTickFactor(0.25, 5*time.Minute)
	for i := 0; i < 10000 && price > 0; i++ {
		price = DecayOptedOut(price, factor)
	}
	if price > 0 {
		t.Fatalf("opt-out decay should reach zero, stuck at %d", price)
	}
}
