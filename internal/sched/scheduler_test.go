package sched

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
)

// A limit order outlives its security only when the security is truly gone;
// transient lookup failures must leave the order for the next sweep.
func TestOrderOrphaned(t *testing.T) {
	if !orderOrphaned(ledger.ErrNotFound) {
		t.Error("ErrNotFound should orphan the order")
	}
	if !orderOrphaned(fmt.Errorf("get security: %w", ledger.ErrNotFound)) {
		t.Error("wrapped ErrNotFound should orphan the order")
	}
	if orderOrphaned(errors.New("connection refused")) {
		t.Error("infrastructure failure must not drop the order")
	}
	if orderOrphaned(context.DeadlineExceeded) {
		t.Error("timeout must not drop the order")
	}
}

func TestNextMidnight(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	now := time.Date(2025, 6, 1, 23, 59, 30, 0, loc)
	got := NextMidnight(now)
	want := time.Date(2025, 6, 2, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("NextMidnight = %v, want %v", got, want)
	}
	if !NextMidnight(got).Equal(time.Date(2025, 6, 3, 0, 0, 0, 0, loc)) {
		t.Errorf("midnight of a midnight should be the next day")
	}
}

func TestDaysInactive(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		last *time.Time
		want int
	}{
		{"never active", nil, 0},
		{"today", ptr(now.Add(-2 * time.Hour)), 0},
		{"three days", ptr(now.AddDate(0, 0, -3)), 3},
		{"future clock skew", ptr(now.Add(time.Hour)), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := daysInactive(tc.last, now); got != tc.want {
				t.Errorf("daysInactive = %d, want %d", got, tc.want)
			}
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }
