package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "carry_engine"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	vec *prometheus.GaugeVec
}

func (p promGauge) Set(instrument string, value float64) {
	p.vec.WithLabelValues(instrument).Set(value)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]*prometheus.GaugeVec
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry: registry,
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
	p.Metrics = &Metrics{
		OrdersSubmitted: p.counter("orders_submitted_total", "Leg orders accepted by the venue transport."),
		OrdersFilled:    p.counter("orders_filled_total", "Leg orders confirmed filled."),
		OrdersRejected:  p.counter("orders_rejected_total", "Leg orders rejected by signing, transport or venue."),
		OrdersTimedOut:  p.counter("orders_timed_out_total", "Leg orders that exhausted the confirmation polling window."),
		PositionsOpened: p.counter("positions_opened_total", "Paired positions opened."),
		PositionsClosed: p.counter("positions_closed_total", "Paired positions that returned flat."),
		Rebalances:      p.counter("rebalances_total", "Corrective spot trades submitted."),
		EmergencyExits:  p.counter("emergency_exits_total", "Emergency closes triggered by the loss limit."),
		NetDelta:        p.gauge("net_delta", "Net delta of the paired position."),
		DeltaDeviation:  p.gauge("delta_deviation_pct", "Delta deviation as a percentage of gross quantity."),
		FundingAPY:      p.gauge("funding_apy_pct", "Annualized funding yield of the perp leg."),
		UnrealizedPnL:   p.gauge("unrealized_pnl_usd", "Unrealized P&L across both legs."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return promCounter{c}
}

func (p *Prometheus) gauge(name, help string) Gauge {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	}, []string{"instrument"})
	p.registry.MustRegister(g)
	p.gauges[name] = g
	return promGauge{g}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
