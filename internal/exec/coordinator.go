package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"carry-engine/internal/config"
	"carry-engine/internal/metrics"
	"carry-engine/internal/state"
	"carry-engine/internal/strategy"

	"go.uber.org/zap"
)

// Coordinator drives leg orders through sign, submit and confirmation polling.
// Each lifecycle runs off the caller's goroutine and reports back through the
// sink; fills are folded into positions only by Apply, on the owning stream.
// Nothing is retried.
type Coordinator struct {
	routes        map[string]Route
	store         state.Store
	metrics       *metrics.Metrics
	log           *zap.Logger
	pollInterval  time.Duration
	pollAttempts  int
	submitTimeout time.Duration

	now    func() time.Time
	newID  func() string
	runner func(func())
	sink   func(OrderEvent)

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Update describes what applying an order event changed.
type Update struct {
	Order    PendingOrder
	Previous Status
	Applied  bool
	Realized float64
	// Opened is set when the fill took the position from flat to open,
	// Flattened when it took it back to flat.
	Opened    bool
	Flattened bool
}

func New(cfg config.OrderConfig, routes map[string]Route, store state.Store, m *metrics.Metrics, log *zap.Logger) *Coordinator {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		routes:        routes,
		store:         store,
		metrics:       m,
		log:           log,
		pollInterval:  cfg.PollInterval,
		pollAttempts:  cfg.PollAttempts,
		submitTimeout: cfg.SubmitTimeout,
		now:           time.Now,
		newID:         NewClientOrderID,
		runner:        func(fn func()) { go fn() },
		sink:          func(OrderEvent) {},
		cancels:       make(map[string]context.CancelFunc),
	}
}

// SetSink routes lifecycle events back to the owner of the order.
func (c *Coordinator) SetSink(sink func(OrderEvent)) {
	if sink != nil {
		c.sink = sink
	}
}

func (c *Coordinator) SetRunner(runner func(func())) {
	if runner != nil {
		c.runner = runner
	}
}

func (c *Coordinator) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Submit starts the lifecycle of a Created order. The order must already be
// in its instrument's book.
func (c *Coordinator) Submit(ctx context.Context, order PendingOrder) {
	lctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels[order.ClientOrderID] = cancel
	c.mu.Unlock()
	c.runner(func() {
		defer c.Cancel(order.ClientOrderID)
		c.run(lctx, order)
	})
}

// Cancel stops the poller of an order. It is a no-op for unknown ids.
func (c *Coordinator) Cancel(clientOrderID string) {
	c.mu.Lock()
	cancel, ok := c.cancels[clientOrderID]
	delete(c.cancels, clientOrderID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// CloseAll sends a best-effort close-all for a leg. Failures are logged only.
func (c *Coordinator) CloseAll(ctx context.Context, leg strategy.Leg) {
	route, ok := c.routes[leg.Venue]
	if !ok || route.Venue == nil {
		c.log.Warn("close-all skipped: no route", zap.String("venue", leg.Venue), zap.String("symbol", leg.Symbol))
		return
	}
	c.runner(func() {
		cctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()
		if err := route.Venue.CloseAll(cctx, leg.Symbol); err != nil {
			c.log.Warn("close-all failed", zap.String("venue", leg.Venue), zap.String("symbol", leg.Symbol), zap.Error(err))
		}
	})
}

func (c *Coordinator) run(ctx context.Context, order PendingOrder) {
	id := order.ClientOrderID
	route, ok := c.routes[order.Venue]
	if !ok || route.Venue == nil || route.Signer == nil {
		c.fail(id, ErrTransportFailure, "no route for venue "+order.Venue)
		return
	}
	payload := order.Payload()
	sig, err := route.Signer.Sign(ctx, payload)
	if err != nil {
		c.fail(id, ErrSigningFailure, err.Error())
		return
	}
	c.emit(OrderEvent{ClientOrderID: id, Status: StatusSigned})

	submitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	venueOrderID, err := route.Venue.Submit(submitCtx, payload, sig)
	cancel()
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			c.fail(id, ErrVenueRejection, rej.Reason)
		} else {
			c.fail(id, ErrTransportFailure, err.Error())
		}
		return
	}
	if err := state.SaveOrderID(ctx, c.store, id, venueOrderID); err != nil {
		c.log.Warn("failed to persist order id", zap.String("cloid", id), zap.Error(err))
	}
	c.emit(OrderEvent{ClientOrderID: id, Status: StatusSubmitted, VenueOrderID: venueOrderID})
	c.poll(ctx, id, route.Venue, venueOrderID)
}

func (c *Coordinator) poll(ctx context.Context, id string, venue Venue, venueOrderID string) {
	accepted := false
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pollInterval):
		}
		report, ok, err := venue.PollStatus(ctx, venueOrderID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Debug("order status poll failed", zap.String("cloid", id), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		switch report.Status {
		case StatusAccepted:
			if !accepted {
				accepted = true
				c.emit(OrderEvent{ClientOrderID: id, Status: StatusAccepted, VenueOrderID: venueOrderID})
			}
		case StatusFilled:
			c.emit(OrderEvent{
				ClientOrderID: id,
				Status:        StatusFilled,
				VenueOrderID:  venueOrderID,
				FilledQty:     report.FilledQty,
				FilledPrice:   report.FilledPrice,
			})
			return
		case StatusRejected:
			c.fail(id, ErrVenueRejection, report.Reason)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	c.fail(id, ErrConfirmationTimeout, fmt.Sprintf("no fill after %d status polls", c.pollAttempts))
}

func (c *Coordinator) fail(id string, kind error, reason string) {
	status := StatusRejected
	if errors.Is(kind, ErrConfirmationTimeout) {
		status = StatusTimedOut
	}
	c.emit(OrderEvent{
		ClientOrderID: id,
		Status:        status,
		Err:           &OrderError{Kind: kind, ClientOrderID: id, Reason: reason},
	})
}

func (c *Coordinator) emit(ev OrderEvent) {
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	c.sink(ev)
}

// Apply folds an order event into the instrument's book and position. Only a
// fill mutates a leg. Events for unknown orders, orders already terminal, or
// transitions the order FSM does not allow are ignored.
func (c *Coordinator) Apply(inst *strategy.Instrument, book *OrderBook, ev OrderEvent) Update {
	order, ok := book.live[ev.ClientOrderID]
	if !ok {
		if book.Done(ev.ClientOrderID) {
			c.log.Debug("ignoring event for finished order", zap.String("cloid", ev.ClientOrderID), zap.String("status", string(ev.Status)))
		}
		prev, _ := book.Get(ev.ClientOrderID)
		return Update{Order: prev, Previous: prev.Status}
	}
	if !CanTransition(order.Status, ev.Status) {
		c.log.Debug("ignoring order transition",
			zap.String("cloid", order.ClientOrderID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(ev.Status)),
		)
		return Update{Order: *order, Previous: order.Status}
	}
	at := ev.At
	if at.IsZero() {
		at = c.now()
	}
	up := Update{Previous: order.Status, Applied: true}
	order.Status = ev.Status
	order.UpdatedAt = at
	if ev.VenueOrderID != "" {
		order.VenueOrderID = ev.VenueOrderID
	}

	switch ev.Status {
	case StatusSubmitted:
		order.SubmittedAt = at
		c.metrics.OrdersSubmitted.Inc()
	case StatusFilled:
		qty := ev.FilledQty
		if qty <= 0 {
			qty = order.Quantity
		}
		price := ev.FilledPrice
		if price <= 0 {
			price = order.RefPrice
		}
		wasOpen := inst.Position.IsOpen()
		up.Realized = inst.Position.Leg(order.Role).ApplyFill(order.IsBuy, qty, price)
		inst.Stats.RealizedPnL += up.Realized
		order.FilledQty = qty
		order.FilledPrice = price
		nowOpen := inst.Position.IsOpen()
		if !wasOpen && nowOpen {
			inst.Position.OpenedAt = at
			up.Opened = true
		}
		up.Flattened = wasOpen && !nowOpen
		c.metrics.OrdersFilled.Inc()
	case StatusRejected, StatusTimedOut:
		kind := ErrVenueRejection
		if ev.Status == StatusTimedOut {
			kind = ErrConfirmationTimeout
		}
		order.Failure = failureName(kind)
		if ev.Err != nil {
			order.Failure = failureName(ev.Err.Kind)
			order.Reason = ev.Err.Reason
		}
		if ev.Status == StatusTimedOut {
			c.metrics.OrdersTimedOut.Inc()
		} else {
			c.metrics.OrdersRejected.Inc()
		}
	}

	up.Order = *order
	if order.Status.Terminal() {
		c.Cancel(order.ClientOrderID)
		book.finish(order.ClientOrderID)
		if order.Status != StatusFilled {
			c.deadLetter(up.Order)
		}
	}
	return up
}

func (c *Coordinator) deadLetter(order PendingOrder) {
	dl := state.DeadLetter{
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  order.VenueOrderID,
		Instrument:    order.Instrument,
		Venue:         order.Venue,
		Symbol:        order.Symbol,
		Role:          string(order.Role),
		Purpose:       string(order.Purpose),
		Side:          order.Side(),
		Quantity:      order.Quantity,
		Status:        string(order.Status),
		Failure:       order.Failure,
		Reason:        order.Reason,
		SubmittedAt:   order.SubmittedAt,
		FinishedAt:    order.UpdatedAt,
	}
	if err := state.SaveDeadLetter(context.Background(), c.store, dl); err != nil {
		c.log.Warn("failed to persist dead letter", zap.String("cloid", order.ClientOrderID), zap.Error(err))
	}
	c.log.Warn("leg order failed",
		zap.String("instrument", order.Instrument),
		zap.String("cloid", order.ClientOrderID),
		zap.String("venue", order.Venue),
		zap.String("status", string(order.Status)),
		zap.String("failure", order.Failure),
		zap.String("reason", order.Reason),
	)
}
