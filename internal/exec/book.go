package exec

import (
	"sort"

	"carry-engine/internal/strategy"
)

const (
	finishedLimit = 20
	seenLimit     = 1024
)

// OrderBook tracks the leg orders of one instrument. It is owned by that
// instrument's event stream and is not safe for concurrent use.
type OrderBook struct {
	live     map[string]*PendingOrder
	finished []PendingOrder
	seen     map[string]struct{}
	seenFIFO []string
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		live: make(map[string]*PendingOrder),
		seen: make(map[string]struct{}),
	}
}

func (b *OrderBook) Add(order PendingOrder) {
	o := order
	b.live[order.ClientOrderID] = &o
}

func (b *OrderBook) Get(clientOrderID string) (PendingOrder, bool) {
	if o, ok := b.live[clientOrderID]; ok {
		return *o, true
	}
	for i := len(b.finished) - 1; i >= 0; i-- {
		if b.finished[i].ClientOrderID == clientOrderID {
			return b.finished[i], true
		}
	}
	return PendingOrder{}, false
}

// Done reports whether the order already reached a terminal status.
func (b *OrderBook) Done(clientOrderID string) bool {
	_, ok := b.seen[clientOrderID]
	return ok
}

func (b *OrderBook) Live() []PendingOrder {
	out := make([]PendingOrder, 0, len(b.live))
	for _, o := range b.live {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ClientOrderID < out[j].ClientOrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Finished returns the most recent terminal orders, oldest first.
func (b *OrderBook) Finished() []PendingOrder {
	return append([]PendingOrder(nil), b.finished...)
}

func (b *OrderBook) Inflight() strategy.Inflight {
	var in strategy.Inflight
	for _, o := range b.live {
		in.Live++
		switch o.Purpose {
		case PurposeClose:
			in.Closing = true
		case PurposeRebalance:
			if o.Status == StatusCreated || o.Status == StatusSigned {
				in.RebalanceUnsubmitted = true
			}
		}
	}
	return in
}

func (b *OrderBook) finish(clientOrderID string) {
	o, ok := b.live[clientOrderID]
	if !ok {
		return
	}
	delete(b.live, clientOrderID)
	b.finished = append(b.finished, *o)
	if len(b.finished) > finishedLimit {
		b.finished = append([]PendingOrder(nil), b.finished[len(b.finished)-finishedLimit:]...)
	}
	b.seen[clientOrderID] = struct{}{}
	b.seenFIFO = append(b.seenFIFO, clientOrderID)
	if len(b.seenFIFO) > seenLimit {
		delete(b.seen, b.seenFIFO[0])
		b.seenFIFO = b.seenFIFO[1:]
	}
}
