package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/storage"
)

// Trend classifies the recent direction of a rate series.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// TrendThreshold is the minimum mean daily delta that counts as a real
// move rather than noise. Kept from the original calibration; not
// validated against observed rate volatility.
var TrendThreshold = decimal.RequireFromString("0.05")

// trendWindow is how many trailing daily deltas feed the trend mean.
const trendWindow = 3

// changeTolerance is how far from the exact historical date a change
// lookup may land. Publishers skip weekends and holidays.
const changeTolerance = 3 * 24 * time.Hour

// Summary aggregates range, change, and trend statistics for one series.
// A nil change means no observation existed near that historical point;
// it is never reported as zero.
type Summary struct {
	Low52W      decimal.Decimal
	High52W     decimal.Decimal
	Avg52W      decimal.Decimal
	ChangeDay   *decimal.Decimal
	ChangeWeek  *decimal.Decimal
	ChangeMonth *decimal.Decimal
	ChangeYear  *decimal.Decimal
	Trend       Trend
}

// Summarize computes statistics over a series history, ordered ascending
// by date. The caller passes up to the last 52 weeks; shorter histories
// are summarised as-is, never padded.
func Summarize(history []storage.RateObservation) Summary {
	if len(history) == 0 {
		return Summary{Trend: TrendStable}
	}

	low := history[0].RateValue
	high := history[0].RateValue
	sum := decimal.Zero
	for _, obs := range history {
		if obs.RateValue.LessThan(low) {
			low = obs.RateValue
		}
		if obs.RateValue.GreaterThan(high) {
			high = obs.RateValue
		}
		sum = sum.Add(obs.RateValue)
	}

	latest := history[len(history)-1]

	return Summary{
		Low52W:      low,
		High52W:     high,
		Avg52W:      sum.Div(decimal.NewFromInt(int64(len(history)))),
		ChangeDay:   changeOver(history, latest, 24*time.Hour),
		ChangeWeek:  changeOver(history, latest, 7*24*time.Hour),
		ChangeMonth: changeOver(history, latest, 30*24*time.Hour),
		ChangeYear:  changeOver(history, latest, 365*24*time.Hour),
		Trend:       classifyTrend(history),
	}
}

// changeOver reports latest minus the observation nearest to
// (latest date - period), or nil when none lies within tolerance.
func changeOver(history []storage.RateObservation, latest storage.RateObservation, period time.Duration) *decimal.Decimal {
	target := latest.ObservationDate.Add(-period)

	var nearest *storage.RateObservation
	var nearestGap time.Duration
	for i := range history {
		obs := history[i]
		if obs.ObservationDate.Equal(latest.ObservationDate) {
			continue
		}
		gap := obs.ObservationDate.Sub(target)
		if gap < 0 {
			gap = -gap
		}
		if gap > changeTolerance {
			continue
		}
		if nearest == nil || gap < nearestGap {
			nearest = &history[i]
			nearestGap = gap
		}
	}
	if nearest == nil {
		return nil
	}

	change := latest.RateValue.Sub(nearest.RateValue)
	return &change
}

// classifyTrend averages the last few daily deltas and compares against
// TrendThreshold in either direction.
func classifyTrend(history []storage.RateObservation) Trend {
	deltas := make([]decimal.Decimal, 0, trendWindow)
	for i := len(history) - 1; i > 0 && len(deltas) < trendWindow; i-- {
		deltas = append(deltas, history[i].RateValue.Sub(history[i-1].RateValue))
	}
	if len(deltas) == 0 {
		return TrendStable
	}

	sum := decimal.Zero
	for _, d := range deltas {
		sum = sum.Add(d)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(deltas))))

	switch {
	case mean.GreaterThan(TrendThreshold):
		return TrendUp
	case mean.LessThan(TrendThreshold.Neg()):
		return TrendDown
	default:
		return TrendStable
	}
}
