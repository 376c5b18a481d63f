// Package pricing converts engagement signals into a share price.
//
// Price = base x activity x streak x demand x decay, rounded to whole cents
// and floored at the penny-stock level. The opt-out decay path is separate
// and has no floor.
package pricing

import (
	"math"
	"time"
)

const (
	// FloorCents is the minimum price a tracked security can reach.
	FloorCents = int64(10_00)

	messageWeight     = 0.005
	messageDiminishAt = 50
	reactorWeight     = 0.02
	voiceWeight       = 0.001
	replyWeight       = 0.03
	mentionWeight     = 0.01

	streakBonusPerDay = 0.1
	maxStreakBonus    = 2.0

	demandImpact = 0.1

	inactivityDecayPerDay = 0.05
)

// Metrics is one day of engagement signals for a single member.
type Metrics struct {
	Messages         int64
	UniqueReactors   int64
	VoiceMinutes     int64
	RepliesReceived  int64
	MentionsReceived int64
}

// Demand is the trailing-24h net order flow on a security.
type Demand struct {
	Buys        int64
	Sells       int64
	TotalShares int64
}

// ActivityMultiplier returns the engagement component, always >= 1.0.
// Messages past the diminish threshold count at half weight.
func ActivityMultiplier(m Metrics) float64 {
	mult := 1.0
	if m.Messages <= messageDiminishAt {
		mult += float64(m.Messages) * messageWeight
	} else {
		mult += messageDiminishAt * messageWeight
		mult += float64(m.Messages-messageDiminishAt) * messageWeight * 0.5
	}
	mult += float64(m.UniqueReactors) * reactorWeight
	mult += float64(m.VoiceMinutes) * voiceWeight
	mult += float64(m.RepliesReceived) * replyWeight
	mult += float64(m.MentionsReceived) * mentionWeight
	return math.Max(1.0, mult)
}

// StreakMultiplier rewards consecutive active days, capped at 2x.
func StreakMultiplier(consecutiveDays int) float64 {
	return math.Min(1.0+float64(consecutiveDays)*streakBonusPerDay, maxStreakBonus)
}

// DemandModifier nudges the price by net buy/sell imbalance, clamped to
// [0.5, 1.5]. Zero total shares yields a neutral modifier.
func DemandModifier(d Demand) float64 {
	if d.TotalShares == 0 {
		return 1.0
	}
	ratio := float64(d.Buys-d.Sells) / float64(d.TotalShares)
	mod := 1.0 + ratio*demandImpact
	return math.Max(0.5, math.Min(1.5, mod))
}

// InactivityDecay compounds a 5% daily haircut per day inactive.
func InactivityDecay(daysInactive int) float64 {
	if daysInactive <= 0 {
		return 1.0
	}
	return math.Pow(1.0-inactivityDecayPerDay, float64(daysInactive))
}

// Price computes the full formula from cents to cents.
func Price(basePrice int64, m Metrics, consecutiveDays int, d Demand, daysInactive int) int64 {
	p := float64(basePrice)
	p *= ActivityMultiplier(m)
	p *= StreakMultiplier(consecutiveDays)
	p *= DemandModifier(d)
	p *= InactivityDecay(daysInactive)
	cents := int64(math.Round(p))
	if cents < FloorCents {
		return FloorCents
	}
	return cents
}

// OptOutTickFactor converts a daily compounding decay rate into the per-tick
// multiplier for a refresh interval, e.g. 25%/day at 5-minute ticks.
func OptOutTickFactor(dailyDecay float64, tickEvery time.Duration) float64 {
	if dailyDecay <= 0 || tickEvery <= 0 {
		return 1.0
	}
	ticksPerDay := float64(24*time.Hour) / float64(tickEvery)
	return math.Pow(1.0-dailyDecay, 1.0/ticksPerDay)
}

// DecayOptedOut applies one tick of opt-out decay. No floor: the result may
// fall below a cent, which is the caller's removal signal.
func DecayOptedOut(price int64, tickFactor float64) int64 {
	return int64(math.Floor(float64(price) * tickFactor))
}
