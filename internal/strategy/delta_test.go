package strategy

import "testing"

func TestComputeDeltaFlat(t *testing.T) {
	d := ComputeDelta(Leg{Side: SideLong}, Leg{Side: SideShort})
	if d.NetDelta != 0 || d.DeviationPct != 0 {
		t.Fatalf("expected zero delta, got %+v", d)
	}
}

func TestComputeDeltaMatchedLegs(t *testing.T) {
	d := ComputeDelta(Leg{Side: SideLong, Quantity: 0.75}, Leg{Side: SideShort, Quantity: 0.75})
	if d.NetDelta != 0 || d.DeviationPct != 0 {
		t.Fatalf("expected neutral delta, got %+v", d)
	}
}

func TestComputeDeltaSingleLeg(t *testing.T) {
	d := ComputeDelta(Leg{Side: SideLong, Quantity: 1}, Leg{Side: SideShort})
	if d.NetDelta != 1 || d.DeviationPct != 100 {
		t.Fatalf("expected net 1 at 100%%, got %+v", d)
	}
}

func TestComputeDeltaPartial(t *testing.T) {
	d := ComputeDelta(Leg{Side: SideLong, Quantity: 1.1}, Leg{Side: SideShort, Quantity: 0.9})
	if !approx(d.NetDelta, 0.2) || !approx(d.DeviationPct, 10) {
		t.Fatalf("unexpected delta %+v", d)
	}
}
