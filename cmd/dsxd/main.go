// dsxd is the exchange daemon: one process owning the Postgres ledger, the
// reconciliation scheduler, the Discord gateway and the HTTP command surface.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/0oeaaeo/discord-stocks-bot/internal/api"
	"github.com/0oeaaeo/discord-stocks-bot/internal/config"
	"github.com/0oeaaeo/discord-stocks-bot/internal/db"
	"github.com/0oeaaeo/discord-stocks-bot/internal/fund"
	"github.com/0oeaaeo/discord-stocks-bot/internal/gateway"
	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
	"github.com/0oeaaeo/discord-stocks-bot/internal/observ"
	"github.com/0oeaaeo/discord-stocks-bot/internal/pricing"
	"github.com/0oeaaeo/discord-stocks-bot/internal/sched"
	"github.com/0oeaaeo/discord-stocks-bot/internal/trading"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("database connected")

	store := ledger.New(pool, ledger.Params{
		TotalShares:       cfg.TotalShares,
		BasePriceCents:    cfg.BasePriceCents,
		StartingCents:     cfg.StartingCents,
		BalanceFloorCents: cfg.BalanceFloorCents,
	}, logger)

	engine := trading.NewEngine(store, trading.Config{
		OwnershipCapPct:   cfg.OwnershipCapPct,
		BuyLockup:         cfg.BuyLockup,
		ShortLockup:       cfg.ShortLockup,
		MarginRequirement: cfg.MarginRequirement,
		MarginCallRatio:   cfg.MarginCallRatio,
		LiquidationRatio:  cfg.LiquidationRatio,
		DailyBonusCents:   cfg.DailyBonusCents,
		DailyStreakStep:   cfg.DailyStreakStep,
		DailyStreakCap:    cfg.DailyStreakCap,
	}, logger)

	funds := fund.NewManager(store, cfg.FundCreationCents, logger)
	desk := trading.NewOptOutDesk(store, cfg.OptOutConfirmation)
	metrics := observ.New()

	var (
		wg       sync.WaitGroup
		notifier sched.Notifier = sched.NopNotifier{}
	)

	var gw *gateway.Gateway
	if cfg.DiscordToken != "" {
		gw, err = gateway.New(cfg.DiscordToken, store, metrics, logger)
		if err != nil {
			return err
		}
		notifier = gw
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gw.Run(ctx); err != nil {
				logger.Error("gateway stopped", slog.Any("error", err))
				stop()
			}
		}()
	} else {
		logger.Warn("DISCORD_TOKEN not set, running without gateway")
	}

	scheduler := sched.New(store, engine, sched.Config{
		PriceRefreshEvery:   cfg.PriceRefreshEvery,
		MarginSweepEvery:    cfg.MarginSweepEvery,
		DividendEvery:       cfg.DividendEvery,
		SplitSweepEvery:     cfg.SplitSweepEvery,
		EventRollEvery:      cfg.EventRollEvery,
		PriceFloorCents:     pricing.FloorCents,
		PurgeThresholdCents: 1,
		OptOutDailyDecay:    cfg.OptOutDailyDecay,
		DividendDailyRate:   cfg.DividendDailyRate,
		SplitThresholdCents: cfg.SplitThresholdCents,
		CrashProbability:    cfg.CrashProbability,
		BoomProbability:     cfg.BoomProbability,
		NewsCooldown:        cfg.NewsCooldown,
	}, metrics, notifier, logger)
	if gw != nil {
		scheduler.OnDailyReset(gw.ResetDaily)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	server := api.NewServer(store, engine, funds, desk, metrics, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("exchange listening", slog.String("addr", cfg.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		wg.Wait()
		return err
	}
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}
