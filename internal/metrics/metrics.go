package metrics

type Counter interface {
	Inc()
}

// Gauge is a per-instrument value.
type Gauge interface {
	Set(instrument string, value float64)
}

type Metrics struct {
	OrdersSubmitted Counter
	OrdersFilled    Counter
	OrdersRejected  Counter
	OrdersTimedOut  Counter
	PositionsOpened Counter
	PositionsClosed Counter
	Rebalances      Counter
	EmergencyExits  Counter

	NetDelta       Gauge
	DeltaDeviation Gauge
	FundingAPY     Gauge
	UnrealizedPnL  Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(string, float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		OrdersSubmitted: n,
		OrdersFilled:    n,
		OrdersRejected:  n,
		OrdersTimedOut:  n,
		PositionsOpened: n,
		PositionsClosed: n,
		Rebalances:      n,
		EmergencyExits:  n,
		NetDelta:        g,
		DeltaDeviation:  g,
		FundingAPY:      g,
		UnrealizedPnL:   g,
	}
}
