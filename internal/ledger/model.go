// Package ledger is the canonical store for the exchange: members, wallets,
// securities, holdings, short positions, limit orders and hedge funds live
// here, and every multi-entity mutation runs inside one serializable
// transaction.
package ledger

import (
	"math"
	"time"
)

const CentsPerDollar = int64(100)

func DollarsToCents(v float64) int64 {
	return int64(math.Round(v * float64(CentsPerDollar)))
}

func CentsToDollars(v int64) float64 {
	return float64(v) / float64(CentsPerDollar)
}

// User is one registered member; every member is also a tradable security.
type User struct {
	ID              int64      `json:"id"`
	Username        string     `json:"username"`
	DisplayName     string     `json:"display_name"`
	AvatarURL       string     `json:"avatar_url,omitempty"`
	TotalShares     int64      `json:"total_shares"`
	SharesAvailable int64      `json:"shares_available"`
	OptedOut        bool       `json:"opted_out"`
	OptOutDate      *time.Time `json:"opt_out_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Wallet struct {
	UserID            int64      `json:"user_id"`
	Balance           int64      `json:"balance_cents"`
	DailyStreak       int        `json:"daily_streak"`
	LastDailyClaim    *time.Time `json:"last_daily_claim,omitempty"`
	LifetimeEarnings  int64      `json:"lifetime_earnings_cents"`
	LifetimeDividends int64      `json:"lifetime_dividends_cents"`
	LastActive        *time.Time `json:"last_active,omitempty"`
}

type Security struct {
	UserID        int64     `json:"user_id"`
	BasePrice     int64     `json:"base_price_cents"`
	CurrentPrice  int64     `json:"current_price_cents"`
	PreviousClose int64     `json:"previous_close_cents"`
	DailyHigh     int64     `json:"daily_high_cents"`
	DailyLow      int64     `json:"daily_low_cents"`
	AllTimeHigh   int64     `json:"all_time_high_cents"`
	AllTimeLow    int64     `json:"all_time_low_cents"`
	VolumeToday   int64     `json:"volume_today"`
	LastUpdated   time.Time `json:"last_updated"`
}

type Holding struct {
	HolderID    int64      `json:"holder_id"`
	SecurityID  int64      `json:"security_id"`
	Shares      int64      `json:"shares"`
	AvgBuyPrice int64      `json:"avg_buy_price_cents"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// Locked reports whether the holding is still inside its lockup window.
func (h Holding) Locked(now time.Time) bool {
	return h.LockedUntil != nil && now.Before(*h.LockedUntil)
}

type ShortPosition struct {
	ID               int64     `json:"id"`
	HolderID         int64     `json:"holder_id"`
	SecurityID       int64     `json:"security_id"`
	Shares           int64     `json:"shares"`
	EntryPrice       int64     `json:"entry_price_cents"`
	Collateral       int64     `json:"collateral_cents"`
	MarginCallPrice  int64     `json:"margin_call_price_cents"`
	LiquidationPrice int64     `json:"liquidation_price_cents"`
	OpenedAt         time.Time `json:"opened_at"`
}

type OrderDirection string

const (
	BuyLow   OrderDirection = "buy_low"
	SellHigh OrderDirection = "sell_high"
)

type LimitOrder struct {
	ID          int64          `json:"id"`
	OwnerID     int64          `json:"owner_id"`
	SecurityID  int64          `json:"security_id"`
	Shares      int64          `json:"shares"`
	TargetPrice int64          `json:"target_price_cents"`
	Direction   OrderDirection `json:"direction"`
	CreatedAt   time.Time      `json:"created_at"`
}

type HedgeFund struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	FounderID int64     `json:"founder_id"`
	Treasury  int64     `json:"treasury_cents"`
	CreatedAt time.Time `json:"created_at"`
}

type FundMember struct {
	FundID       int64   `json:"fund_id"`
	UserID       int64   `json:"user_id"`
	Username     string  `json:"username"`
	DisplayName  string  `json:"display_name"`
	Role         string  `json:"role"`
	Contribution int64   `json:"contribution_cents"`
	SharePct     float64 `json:"share_pct"`
}

type TradeKind string

const (
	KindBuy        TradeKind = "buy"
	KindSell       TradeKind = "sell"
	KindShort      TradeKind = "short"
	KindShortCover TradeKind = "short_cover"
	KindLiquidate  TradeKind = "liquidation"
)

// Transaction is one append-only trade log row.
type Transaction struct {
	BuyerID    *int64
	SellerID   *int64
	SecurityID int64
	Shares     int64
	Price      int64
	Total      int64
	Kind       TradeKind
}

// ActivityKind names one engagement signal from the chat platform.
type ActivityKind string

const (
	ActivityMessage  ActivityKind = "message"
	ActivityReaction ActivityKind = "reaction"
	ActivityVoice    ActivityKind = "voice"
	ActivityReply    ActivityKind = "reply"
	ActivityMention  ActivityKind = "mention"
)

// ActivityTotals is the summed engagement window feeding the pricing formula.
type ActivityTotals struct {
	Messages         int64 `json:"messages"`
	UniqueReactors   int64 `json:"unique_reactors"`
	VoiceMinutes     int64 `json:"voice_minutes"`
	RepliesReceived  int64 `json:"replies_received"`
	MentionsReceived int64 `json:"mentions_received"`
}

type PricePoint struct {
	Price      int64     `json:"price_cents"`
	RecordedAt time.Time `json:"recorded_at"`
}

type MarketEvent struct {
	ID          int64
	EventType   string
	Magnitude   float64
	Description string
	CreatedAt   time.Time
	ActiveUntil *time.Time
}

type NewsEvent struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	NewsType    string    `json:"news_type"`
	Description string    `json:"description"`
	Impact      float64   `json:"impact"`
	CreatedAt   time.Time `json:"created_at"`
}

type Achievement struct {
	UserID      int64     `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	UnlockedAt  time.Time `json:"unlocked_at"`
}

// PortfolioEntry is one row of a member's holdings view.
type PortfolioEntry struct {
	SecurityID   int64  `json:"security_id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	Shares       int64  `json:"shares"`
	AvgBuyPrice  int64  `json:"avg_buy_price_cents"`
	CurrentPrice int64  `json:"current_price_cents"`
}

type Shareholder struct {
	HolderID    int64  `json:"holder_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Shares      int64  `json:"shares"`
}

type LeaderboardEntry struct {
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	Balance        int64  `json:"balance_cents"`
	PortfolioValue int64  `json:"portfolio_value_cents"`
	NetWorth       int64  `json:"net_worth_cents"`
}

// MoverEntry is one row of the trending/losers views.
type MoverEntry struct {
	UserID        int64   `json:"user_id"`
	Username      string  `json:"username"`
	DisplayName   string  `json:"display_name"`
	CurrentPrice  int64   `json:"current_price_cents"`
	PreviousClose int64   `json:"previous_close_cents"`
	ChangePct     float64 `json:"change_pct"`
	VolumeToday   int64   `json:"volume_today"`
}

type VolumeEntry struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	CurrentPrice int64  `json:"current_price_cents"`
	VolumeToday  int64  `json:"volume_today"`
}

// ShortView is an open short position joined with the live price.
type ShortView struct {
	ShortPosition
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	CurrentPrice int64  `json:"current_price_cents"`
}

// UnrealizedPL is the mark-to-market gain on the short.
func (v ShortView) UnrealizedPL() int64 {
	return (v.EntryPrice - v.CurrentPrice) * v.Shares
}

// RefreshCandidate is one security as seen by the price-refresh sweep.
type RefreshCandidate struct {
	UserID       int64
	OptedOut     bool
	BasePrice    int64
	CurrentPrice int64
	TotalShares  int64
	DailyStreak  int
	LastActive   *time.Time
}

// HoldingRef identifies one holding for per-entity sweep transactions.
type HoldingRef struct {
	HolderID   int64
	SecurityID int64
}

// SplitReport summarizes an executed stock split.
type SplitReport struct {
	SecurityID  int64 `json:"security_id"`
	Ratio       int64 `json:"ratio"`
	OldPrice    int64 `json:"old_price_cents"`
	NewPrice    int64 `json:"new_price_cents"`
	OldShares   int64 `json:"old_shares"`
	NewShares   int64 `json:"new_shares"`
	ShortsMoved int64 `json:"shorts_rescaled"`
}
