// Package testutil provides database fixtures for integration tests.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
)

// DB connects to the Postgres named by DSX_TEST_DATABASE_URL, or skips the
// test when the variable is unset or the server is unreachable. The schema
// must already be migrated.
func DB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DSX_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DSX_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("postgres unreachable: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// Store wraps DB in a ledger store with the default economy parameters and
// a quiet logger.
func Store(t *testing.T) *ledger.Store {
	t.Helper()
	return ledger.New(DB(t), ledger.Params{
		TotalShares:       1000,
		BasePriceCents:    100_00,
		StartingCents:     1000_00,
		BalanceFloorCents: 100_00,
	}, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

var idCounter atomic.Int64

// UniqueID hands out ids unlikely to collide across test runs.
func UniqueID() int64 {
	return time.Now().UnixNano()%1_000_000_000_000 + idCounter.Add(1)
}
