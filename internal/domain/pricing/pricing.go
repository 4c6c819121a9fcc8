// Package pricing computes booking totals from a site's nightly rate and its
// optional dynamic pricing rules. It holds no state.
package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoNights    = errors.New("pricing: stay must cover at least one night")
	ErrInvalidRate = errors.New("pricing: nightly rate must be positive")
)

// SeasonalRate applies Multiplier to every night falling in one of Months.
type SeasonalRate struct {
	Season     string          `json:"season"`
	Months     []time.Month    `json:"months"`
	Multiplier decimal.Decimal `json:"price_multiplier"`
}

// DemandRule scales the stay by how full the site already is. Thresholds are
// occupancy percentages of the busiest requested night.
type DemandRule struct {
	HighThresholdPct int             `json:"high_demand_threshold"`
	HighMultiplier   decimal.Decimal `json:"high_demand_multiplier"`
	LowThresholdPct  int             `json:"low_demand_threshold"`
	LowMultiplier    decimal.Decimal `json:"low_demand_multiplier"`
}

// LastMinuteRule discounts stays booked within DaysBeforeCheckIn days.
type LastMinuteRule struct {
	DaysBeforeCheckIn int             `json:"days_before_check_in"`
	Multiplier        decimal.Decimal `json:"discount_multiplier"`
}

// Rules is the per-site dynamic pricing configuration. Every part is optional.
type Rules struct {
	Seasonal   []SeasonalRate  `json:"seasonal_rates,omitempty"`
	Demand     *DemandRule     `json:"demand_based,omitempty"`
	LastMinute *LastMinuteRule `json:"last_minute_discount,omitempty"`
}

// Input describes one stay to price.
type Input struct {
	NightlyRateCents int64
	CheckIn          time.Time
	CheckOut         time.Time
	// PeakOccupancyPct is reservedCount/cap of the busiest night before this booking.
	PeakOccupancyPct int
	Now              time.Time
	Rules            Rules
}

// Quote is the priced stay.
type Quote struct {
	Nights           int             `json:"nights"`
	NightlyRateCents int64           `json:"nightly_rate_cents"`
	BaseCents        int64           `json:"base_cents"`
	DemandMultiplier decimal.Decimal `json:"demand_multiplier"`
	LastMinute       bool            `json:"last_minute"`
	TotalCents       int64           `json:"total_cents"`
}

// Nights returns the number of nights between two calendar dates.
func Nights(checkIn, checkOut time.Time) int {
	in := truncateDay(checkIn)
	out := truncateDay(checkOut)
	return int(out.Sub(in).Hours() / 24)
}

// Calculate prices a stay. Seasonal multipliers apply per night, then the
// demand multiplier, then the last-minute discount. The result is rounded
// half-up to whole cents.
func Calculate(in Input) (Quote, error) {
	if in.NightlyRateCents <= 0 {
		return Quote{}, ErrInvalidRate
	}
	nights := Nights(in.CheckIn, in.CheckOut)
	if nights < 1 {
		return Quote{}, ErrNoNights
	}

	rate := decimal.NewFromInt(in.NightlyRateCents)
	one := decimal.NewFromInt(1)

	total := decimal.Zero
	night := truncateDay(in.CheckIn)
	for i := 0; i < nights; i++ {
		total = total.Add(rate.Mul(seasonalMultiplier(in.Rules.Seasonal, night.Month())))
		night = night.AddDate(0, 0, 1)
	}
	base := total

	demand := one
	if d := in.Rules.Demand; d != nil {
		switch {
		case d.HighThresholdPct > 0 && in.PeakOccupancyPct >= d.HighThresholdPct && d.HighMultiplier.IsPositive():
			demand = d.HighMultiplier
		case in.PeakOccupancyPct <= d.LowThresholdPct && d.LowMultiplier.IsPositive():
			demand = d.LowMultiplier
		}
	}
	total = total.Mul(demand)

	lastMinute := false
	if lm := in.Rules.LastMinute; lm != nil && lm.Multiplier.IsPositive() {
		now := in.Now
		if now.IsZero() {
			now = time.Now()
		}
		if daysUntil := Nights(now, in.CheckIn); daysUntil <= lm.DaysBeforeCheckIn {
			total = total.Mul(lm.Multiplier)
			lastMinute = true
		}
	}

	return Quote{
		Nights:           nights,
		NightlyRateCents: in.NightlyRateCents,
		BaseCents:        base.Round(0).IntPart(),
		DemandMultiplier: demand,
		LastMinute:       lastMinute,
		TotalCents:       total.Round(0).IntPart(),
	}, nil
}

// SplitShare returns percent of amountCents rounded half-up, and the remainder.
func SplitShare(amountCents int64, percent decimal.Decimal) (share, remainder int64) {
	share = decimal.NewFromInt(amountCents).Mul(percent).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	return share, amountCents - share
}

func seasonalMultiplier(rates []SeasonalRate, m time.Month) decimal.Decimal {
	for _, r := range rates {
		if !r.Multiplier.IsPositive() {
			continue
		}
		for _, month := range r.Months {
			if month == m {
				return r.Multiplier
			}
		}
	}
	return decimal.NewFromInt(1)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
