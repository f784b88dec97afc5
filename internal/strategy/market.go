package strategy

import (
	"time"

	"carry-engine/internal/market"
)

// Market is the cache view an evaluation runs against.
type Market struct {
	Now           time.Time
	SpotMid       float64
	HasSpot       bool
	PerpMid       float64
	HasPerp       bool
	Funding       market.FundingSample
	HasFunding    bool
	PeriodsPerDay float64
}

func (m Market) FundingAPY() float64 {
	if !m.HasFunding {
		return 0
	}
	return market.Annualize(m.Funding.Rate, m.PeriodsPerDay)
}
