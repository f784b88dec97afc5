package strategy

import "math"

type DeltaState struct {
	NetDelta     float64 `json:"net_delta"`
	DeviationPct float64 `json:"delta_deviation_pct"`
}

// ComputeDelta derives net exposure from the two legs. Deviation is zero when
// both legs are flat.
func ComputeDelta(spot, perp Leg) DeltaState {
	net := spot.SignedQuantity() + perp.SignedQuantity()
	total := math.Abs(spot.Quantity) + math.Abs(perp.Quantity)
	if total < flatEpsilon {
		return DeltaState{}
	}
	return DeltaState{
		NetDelta:     net,
		DeviationPct: math.Abs(net) * 100 / total,
	}
}
