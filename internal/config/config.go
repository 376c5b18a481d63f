package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is loaded once at process start and never mutated afterwards.
type Config struct {
	Addr         string
	DatabaseURL  string
	DiscordToken string

	// Job intervals.
	PriceRefreshEvery time.Duration
	MarginSweepEvery  time.Duration
	DividendEvery     time.Duration
	SplitSweepEvery   time.Duration
	EventRollEvery    time.Duration

	// Trading rules.
	TotalShares        int64
	BasePriceCents     int64
	StartingCents      int64
	BalanceFloorCents  int64
	OwnershipCapPct    float64
	BuyLockup          time.Duration
	ShortLockup        time.Duration
	OptOutConfirmation time.Duration

	// Short margin ratios over entry price.
	MarginRequirement float64
	MarginCallRatio   float64
	LiquidationRatio  float64

	// Economy.
	DividendDailyRate float64
	DailyBonusCents   int64
	DailyStreakStep   int64
	DailyStreakCap    int
	FundCreationCents int64

	// Market dynamics.
	SplitThresholdCents int64
	CrashProbability    float64
	BoomProbability     float64
	OptOutDailyDecay    float64
	NewsCooldown        time.Duration
}

func LoadFromEnv() (Config, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("DSX_ADDR", ":8080")
	}

	cfg := Config{
		Addr:         addr,
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DiscordToken: strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),

		PriceRefreshEvery: envDurationDefault("DSX_PRICE_REFRESH_EVERY", 5*time.Minute),
		MarginSweepEvery:  envDurationDefault("DSX_MARGIN_SWEEP_EVERY", 5*time.Minute),
		DividendEvery:     envDurationDefault("DSX_DIVIDEND_EVERY", time.Hour),
		SplitSweepEvery:   envDurationDefault("DSX_SPLIT_SWEEP_EVERY", 6*time.Hour),
		EventRollEvery:    envDurationDefault("DSX_EVENT_ROLL_EVERY", time.Hour),

		TotalShares:        envInt64Default("DSX_TOTAL_SHARES", 1000),
		BasePriceCents:     envInt64Default("DSX_BASE_PRICE_CENTS", 100_00),
		StartingCents:      envInt64Default("DSX_STARTING_CENTS", 1000_00),
		BalanceFloorCents:  envInt64Default("DSX_BALANCE_FLOOR_CENTS", 100_00),
		OwnershipCapPct:    envFloatDefault("DSX_OWNERSHIP_CAP_PCT", 0.10),
		BuyLockup:          envDurationDefault("DSX_BUY_LOCKUP", time.Hour),
		ShortLockup:        envDurationDefault("DSX_SHORT_LOCKUP", time.Hour),
		OptOutConfirmation: envDurationDefault("DSX_OPTOUT_CONFIRMATION", 30*time.Second),

		MarginRequirement: envFloatDefault("DSX_MARGIN_REQUIREMENT", 1.5),
		MarginCallRatio:   envFloatDefault("DSX_MARGIN_CALL_RATIO", 1.2),
		LiquidationRatio:  envFloatDefault("DSX_LIQUIDATION_RATIO", 1.4),

		DividendDailyRate: envFloatDefault("DSX_DIVIDEND_DAILY_RATE", 0.02),
		DailyBonusCents:   envInt64Default("DSX_DAILY_BONUS_CENTS", 500_00),
		DailyStreakStep:   envInt64Default("DSX_DAILY_STREAK_STEP_CENTS", 50_00),
		DailyStreakCap:    int(envInt64Default("DSX_DAILY_STREAK_CAP", 7)),
		FundCreationCents: envInt64Default("DSX_FUND_CREATION_CENTS", 1000_00),

		SplitThresholdCents: envInt64Default("DSX_SPLIT_THRESHOLD_CENTS", 10_000_00),
		CrashProbability:    envFloatDefault("DSX_CRASH_PROBABILITY", 0.02),
		BoomProbability:     envFloatDefault("DSX_BOOM_PROBABILITY", 0.02),
		OptOutDailyDecay:    envFloatDefault("DSX_OPTOUT_DAILY_DECAY", 0.25),
		NewsCooldown:        envDurationDefault("DSX_NEWS_COOLDOWN", 4*time.Hour),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
