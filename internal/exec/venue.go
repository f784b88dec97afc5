package exec

import "context"

type OrderPayload struct {
	ClientOrderID string
	Symbol        string
	IsBuy         bool
	Quantity      float64
	RefPrice      float64
	ReduceOnly    bool
}

// Signature is opaque to the coordinator. Venues put whatever their submit
// call needs in Body.
type Signature struct {
	Nonce  uint64
	Digest string
	Body   any
}

type Signer interface {
	Sign(ctx context.Context, payload OrderPayload) (Signature, error)
}

// StatusReport is a venue's view of an order. Status is Submitted while the
// venue has not acknowledged it yet.
type StatusReport struct {
	Status      Status
	FilledQty   float64
	FilledPrice float64
	Reason      string
}

type Venue interface {
	Submit(ctx context.Context, payload OrderPayload, sig Signature) (string, error)
	PollStatus(ctx context.Context, venueOrderID string) (StatusReport, bool, error)
	CloseAll(ctx context.Context, symbol string) error
}

// Route pairs a venue with the signer that authorizes its orders.
type Route struct {
	Signer Signer
	Venue  Venue
}
