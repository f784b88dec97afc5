package market

import "time"

// FundingSample is one funding observation. Rate is per funding interval and
// not annualized.
type FundingSample struct {
	Venue         string    `json:"venue"`
	Symbol        string    `json:"symbol"`
	Rate          float64   `json:"rate"`
	SampledAt     time.Time `json:"sampled_at"`
	NextFundingAt time.Time `json:"next_funding_at"`
}

// Annualize converts a per-period funding rate into an APY percentage.
func Annualize(rate, periodsPerDay float64) float64 {
	return rate * periodsPerDay * 365 * 100
}

// PeriodsPerDay converts a funding interval into funding events per day.
func PeriodsPerDay(interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	return float64(24*time.Hour) / float64(interval)
}

// nextFundingAfter rolls a funding boundary forward on a fixed interval grid.
func nextFundingAfter(now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return time.Time{}
	}
	return now.Truncate(interval).Add(interval)
}
