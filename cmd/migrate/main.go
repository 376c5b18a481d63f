// migrate applies or rolls back the SQL migrations in migrations/.
//
// Usage:
//
//	DATABASE_URL=postgres://... migrate up
//	DATABASE_URL=postgres://... migrate down
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/lib/pq"

	"github.com/0oeaaeo/discord-stocks-bot/internal/db"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(logger); err != nil {
		logger.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}
	url := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if url == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	dir := os.Getenv("DSX_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	conn, err := sql.Open("postgres", url)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	ctx := context.Background()
	m := db.NewMigrator(conn, dir)
	switch direction {
	case "up":
		if err := m.Up(ctx); err != nil {
			return err
		}
		logger.Info("migrations applied")
	case "down":
		if err := m.Down(ctx); err != nil {
			return err
		}
		logger.Info("migrations rolled back")
	default:
		return fmt.Errorf("unknown direction %q (want up or down)", direction)
	}
	return nil
}
