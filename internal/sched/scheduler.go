// Package sched runs the reconciliation jobs that keep the market honest:
// price refresh, margin sweep, dividends, splits, random market events and
// the midnight reset. Each job ticks on its own goroutine and commits one
// serializable transaction per entity so no sweep holds a long transaction.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
	"github.com/0oeaaeo/discord-stocks-bot/internal/observ"
	"github.com/0oeaaeo/discord-stocks-bot/internal/pricing"
	"github.com/0oeaaeo/discord-stocks-bot/internal/trading"
)

// Notifier delivers market announcements (margin calls, fills, splits) to
// the presentation layer. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string)
}

// NopNotifier drops announcements; used when no gateway is connected.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, int64, string) {}

// DailyHook runs extra work at the midnight reset, such as clearing the
// gateway's reaction dedup state.
type DailyHook func()

type Config struct {
	PriceRefreshEvery time.Duration
	MarginSweepEvery  time.Duration
	DividendEvery     time.Duration
	SplitSweepEvery   time.Duration
	EventRollEvery    time.Duration

	PriceFloorCents     int64
	PurgeThresholdCents int64
	OptOutDailyDecay    float64

	DividendDailyRate   float64
	SplitThresholdCents int64
	CrashProbability    float64
	BoomProbability     float64
	NewsCooldown        time.Duration
}

type Scheduler struct {
	store    *ledger.Store
	engine   *trading.Engine
	cfg      Config
	metrics  *observ.Metrics
	notifier Notifier
	log      *slog.Logger

	dailyHooks []DailyHook
	now        func() time.Time
}

func New(store *ledger.Store, engine *trading.Engine, cfg Config, metrics *observ.Metrics, notifier Notifier, logger *slog.Logger) *Scheduler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Scheduler{
		store:    store,
		engine:   engine,
		cfg:      cfg,
		metrics:  metrics,
		notifier: notifier,
		log:      logger,
		now:      time.Now,
	}
}

// OnDailyReset registers a hook to run after each midnight reset.
func (s *Scheduler) OnDailyReset(h DailyHook) {
	s.dailyHooks = append(s.dailyHooks, h)
}

// Run starts every job and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	jobs := []struct {
		name  string
		every time.Duration
		fn    func(context.Context) error
	}{
		{"price_refresh", s.cfg.PriceRefreshEvery, s.refreshPrices},
		{"margin_sweep", s.cfg.MarginSweepEvery, s.sweepMargins},
		{"dividends", s.cfg.DividendEvery, s.payDividends},
		{"split_sweep", s.cfg.SplitSweepEvery, s.sweepSplits},
		{"event_roll", s.cfg.EventRollEvery, s.rollEvents},
	}
	for _, j := range jobs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.tickLoop(ctx, j.name, j.every, j.fn)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dailyLoop(ctx)
	}()
	wg.Wait()
}

func (s *Scheduler) tickLoop(ctx context.Context, name string, every time.Duration, fn func(context.Context) error) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runJob(ctx, name, fn)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(context.Context) error) {
	start := s.now()
	err := fn(ctx)
	s.metrics.SweepDuration.WithLabelValues(name).Observe(s.now().Sub(start).Seconds())
	if err != nil {
		s.metrics.SweepRunsTotal.WithLabelValues(name, "error").Inc()
		s.log.Error("sweep failed", slog.String("job", name), slog.Any("error", err))
		return
	}
	s.metrics.SweepRunsTotal.WithLabelValues(name, "ok").Inc()
}

// dailyLoop waits for local midnight then resets every 24h.
func (s *Scheduler) dailyLoop(ctx context.Context) {
	for {
		wait := time.Until(NextMidnight(s.now()))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			s.runJob(ctx, "daily_reset", s.dailyReset)
		}
	}
}

// NextMidnight returns the next local midnight strictly after now.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

func (s *Scheduler) dailyReset(ctx context.Context) error {
	n, err := s.store.DailyReset(ctx)
	if err != nil {
		return err
	}
	for _, h := range s.dailyHooks {
		h()
	}
	s.log.Info("daily reset complete", slog.Int64("securities", n))
	return nil
}

// refreshPrices reconciles every security: live pricing for active members,
// compounding decay and eventual purge for opted-out ones. Afterwards it
// rolls member news, the millionaire achievement check and the limit order
// sweep, all of which depend on fresh prices.
func (s *Scheduler) refreshPrices(ctx context.Context) error {
	candidates, err := s.store.RefreshCandidates(ctx)
	if err != nil {
		return err
	}
	tickFactor := pricing.OptOutTickFactor(s.cfg.OptOutDailyDecay, s.cfg.PriceRefreshEvery)
	var firstErr error
	for _, c := range candidates {
		if err := s.refreshOne(ctx, c, tickFactor); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("security %d: %w", c.UserID, err)
		}
	}
	if err := s.rollNews(ctx, candidates); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.checkMillionaires(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.sweepLimitOrders(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Scheduler) refreshOne(ctx context.Context, c ledger.RefreshCandidate, tickFactor float64) error {
	if c.OptedOut {
		decayed := pricing.DecayOptedOut(c.CurrentPrice, tickFactor)
		if decayed < s.cfg.PurgeThresholdCents {
			if err := s.store.PurgeUser(ctx, c.UserID); err != nil {
				return err
			}
			s.metrics.PurgesTotal.Inc()
			s.log.Info("purged worthless security", slog.Int64("user", c.UserID))
			return nil
		}
		return s.store.UpdatePrice(ctx, c.UserID, decayed)
	}

	totals, err := s.store.ActivityWindow(ctx, c.UserID, 1)
	if err != nil {
		return err
	}
	buys, sells, err := s.store.DemandCounts(ctx, c.UserID)
	if err != nil {
		return err
	}
	newPrice := pricing.Price(c.BasePrice,
		pricing.Metrics{
			Messages:         totals.Messages,
			UniqueReactors:   totals.UniqueReactors,
			VoiceMinutes:     totals.VoiceMinutes,
			RepliesReceived:  totals.RepliesReceived,
			MentionsReceived: totals.MentionsReceived,
		},
		c.DailyStreak,
		pricing.Demand{Buys: buys, Sells: sells, TotalShares: c.TotalShares},
		daysInactive(c.LastActive, s.now()),
	)
	if newPrice == c.CurrentPrice {
		return nil
	}
	return s.store.UpdatePrice(ctx, c.UserID, newPrice)
}

func daysInactive(lastActive *time.Time, now time.Time) int {
	if lastActive == nil {
		return 0
	}
	d := int(now.Sub(*lastActive).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// rollNews publishes at most one story per eligible member per cooldown:
// heavy reaction days move the price up 10%, heavy reply days 5%.
func (s *Scheduler) rollNews(ctx context.Context, candidates []ledger.RefreshCandidate) error {
	var firstErr error
	for _, c := range candidates {
		if c.OptedOut {
			continue
		}
		totals, err := s.store.ActivityWindow(ctx, c.UserID, 1)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		var (
			newsType string
			impact   float64
		)
		switch {
		case totals.UniqueReactors >= 20:
			newsType, impact = "viral", 0.10
		case totals.RepliesReceived >= 10:
			newsType, impact = "talk_of_the_town", 0.05
		default:
			continue
		}
		last, found, err := s.store.LastNewsAt(ctx, c.UserID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if found && s.now().Sub(last) < s.cfg.NewsCooldown {
			continue
		}
		desc := fmt.Sprintf("%s story moves the stock %+.0f%%", newsType, impact*100)
		if err := s.store.RecordNews(ctx, c.UserID, newsType, desc, impact, s.cfg.PriceFloorCents); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.notifier.Notify(ctx, c.UserID, desc)
	}
	return firstErr
}

const millionCents = 1_000_000_00

func (s *Scheduler) checkMillionaires(ctx context.Context) error {
	top, err := s.store.Leaderboard(ctx, 10)
	if err != nil {
		return err
	}
	for _, e := range top {
		if e.NetWorth < millionCents {
			break
		}
		unlocked, err := s.store.UnlockAchievement(ctx, e.UserID,
			"first_millionaire", "Reached a $1,000,000 net worth")
		if err != nil {
			return err
		}
		if unlocked {
			s.notifier.Notify(ctx, e.UserID, "Achievement unlocked: First Millionaire")
		}
	}
	return nil
}

func (s *Scheduler) sweepLimitOrders(ctx context.Context) error {
	orders, err := s.store.PendingLimitOrders(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, o := range orders {
		sec, err := s.store.GetSecurity(ctx, o.SecurityID)
		if err != nil {
			if orderOrphaned(err) {
				// Security purged since filing; the order can never fill.
				_ = s.store.DeleteLimitOrder(ctx, o.ID, 0)
				continue
			}
			// Transient lookup failure; keep the order for the next tick.
			s.log.Warn("limit sweep lookup failed",
				slog.Int64("order_id", o.ID), slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r, err := s.engine.TryFillLimitOrder(ctx, o, sec.CurrentPrice)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if r != nil {
			s.metrics.TradesTotal.WithLabelValues(string(r.Kind)).Inc()
			s.notifier.Notify(ctx, o.OwnerID,
				fmt.Sprintf("Limit order filled: %d shares at %s", r.Shares, Dollars(r.Price)))
		}
	}
	return firstErr
}

// orderOrphaned reports whether a security lookup failure means the order
// can never fill again. Anything else is retried on the next sweep.
func orderOrphaned(err error) bool {
	return errors.Is(err, ledger.ErrNotFound)
}

// sweepMargins liquidates every short past its threshold and warns holders
// inside the margin-call band.
func (s *Scheduler) sweepMargins(ctx context.Context) error {
	ids, err := s.store.ListOpenShorts(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, id := range ids {
		done, refund, err := s.engine.LiquidateShort(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("short %d: %w", id, err)
			}
			continue
		}
		if done {
			s.metrics.LiquidationsTotal.Inc()
			s.metrics.TradesTotal.WithLabelValues(string(ledger.KindLiquidate)).Inc()
			s.log.Info("short liquidated by sweep",
				slog.Int64("short_id", id),
				slog.Int64("refund_cents", refund))
		}
	}
	if err := s.warnMarginCalls(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Scheduler) warnMarginCalls(ctx context.Context) error {
	rows, err := s.store.Pool().Query(ctx, `
		SELECT sp.holder_id, sp.security_id, sec.current_price, sp.margin_call_price
		FROM short_positions sp
		JOIN securities sec ON sec.user_id = sp.security_id
		WHERE sec.current_price >= sp.margin_call_price
		  AND sec.current_price < sp.liquidation_price`)
	if err != nil {
		return fmt.Errorf("margin calls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var holderID, securityID, price, callPrice int64
		if err := rows.Scan(&holderID, &securityID, &price, &callPrice); err != nil {
			return fmt.Errorf("scan margin call: %w", err)
		}
		s.notifier.Notify(ctx, holderID, fmt.Sprintf(
			"Margin call: your short on %d is at %s, liquidation is approaching",
			securityID, Dollars(price)))
	}
	return rows.Err()
}

// payDividends credits each open position its hourly share of the daily rate.
func (s *Scheduler) payDividends(ctx context.Context) error {
	refs, err := s.store.ListHoldings(ctx)
	if err != nil {
		return err
	}
	perPayout := s.cfg.DividendDailyRate * float64(s.cfg.DividendEvery) / float64(24*time.Hour)
	var firstErr error
	for _, ref := range refs {
		paid, err := s.store.PayDividend(ctx, ref.HolderID, ref.SecurityID, perPayout)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if paid > 0 {
			s.metrics.DividendsPaid.Add(float64(paid))
		}
	}
	return firstErr
}

func (s *Scheduler) sweepSplits(ctx context.Context) error {
	ids, err := s.store.SplitCandidates(ctx, s.cfg.SplitThresholdCents)
	if err != nil {
		return err
	}
	var firstErr error
	for _, id := range ids {
		rep, err := s.store.ApplySplit(ctx, id, 2)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("split %d: %w", id, err)
			}
			continue
		}
		s.metrics.SplitsTotal.Inc()
		s.log.Info("stock split",
			slog.Int64("security", rep.SecurityID),
			slog.Int64("old_price", rep.OldPrice),
			slog.Int64("new_price", rep.NewPrice))
		s.notifier.Notify(ctx, id, fmt.Sprintf(
			"Your stock split 2-for-1: %s -> %s", Dollars(rep.OldPrice), Dollars(rep.NewPrice)))
	}
	return firstErr
}

// rollEvents fires market-wide crashes and booms at their configured
// per-roll probabilities.
func (s *Scheduler) rollEvents(ctx context.Context) error {
	switch {
	case rand.Float64() < s.cfg.CrashProbability:
		magnitude := 0.70 + rand.Float64()*0.20
		s.metrics.EventsRolled.WithLabelValues("crash").Inc()
		return s.store.ApplyMarketEvent(ctx, "crash", magnitude,
			"Market crash: prices tumble across the board", time.Hour)
	case rand.Float64() < s.cfg.BoomProbability:
		magnitude := 1.10 + rand.Float64()*0.20
		s.metrics.EventsRolled.WithLabelValues("boom").Inc()
		return s.store.ApplyMarketEvent(ctx, "boom", magnitude,
			"Market boom: everything is up", time.Hour)
	}
	return nil
}

// Dollars renders cents as a dollar string for announcements.
func Dollars(cents int64) string {
	return fmt.Sprintf("$%.2f", ledger.CentsToDollars(cents))
}
