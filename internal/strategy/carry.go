package strategy

// RebalanceCostUSD estimates the cost of a corrective trade from a flat bps rate.
func RebalanceCostUSD(quantity, price, costBps float64) float64 {
	if quantity <= 0 || price <= 0 || costBps <= 0 {
		return 0
	}
	return quantity * price * costBps / 10000
}

// FundingCarryUSD is the funding payment a short perp leg of the given size
// collects over one funding period.
func FundingCarryUSD(perp Leg, price, rate float64) float64 {
	if perp.Side != SideShort || price <= 0 {
		return 0
	}
	return perp.Quantity * price * rate
}
