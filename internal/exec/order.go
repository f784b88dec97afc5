package exec

import (
	"encoding/hex"
	"time"

	"carry-engine/internal/strategy"

	"github.com/google/uuid"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusSigned    Status = "signed"
	StatusSubmitted Status = "submitted"
	StatusAccepted  Status = "accepted"
	StatusFilled    Status = "filled"
	StatusRejected  Status = "rejected"
	StatusTimedOut  Status = "timed_out"
)

func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusTimedOut
}

// CanTransition reports whether a leg order may move from one status to
// another. A fill reported while Submitted passes through Accepted implicitly.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusRejected {
		return true
	}
	switch from {
	case StatusCreated:
		return to == StatusSigned
	case StatusSigned:
		return to == StatusSubmitted
	case StatusSubmitted:
		return to == StatusAccepted || to == StatusFilled || to == StatusTimedOut
	case StatusAccepted:
		return to == StatusFilled || to == StatusTimedOut
	}
	return false
}

type Purpose string

const (
	PurposeOpen      Purpose = "open"
	PurposeClose     Purpose = "close"
	PurposeRebalance Purpose = "rebalance"
)

// PendingOrder is one leg order tracked from creation to a terminal status.
type PendingOrder struct {
	ClientOrderID string           `json:"client_order_id"`
	Instrument    string           `json:"instrument"`
	Venue         string           `json:"venue"`
	Symbol        string           `json:"symbol"`
	Role          strategy.LegRole `json:"leg_role"`
	Purpose       Purpose          `json:"purpose"`
	IsBuy         bool             `json:"is_buy"`
	Quantity      float64          `json:"quantity"`
	RefPrice      float64          `json:"ref_price"`
	ReduceOnly    bool             `json:"reduce_only"`
	Status        Status           `json:"status"`
	VenueOrderID  string           `json:"venue_order_id,omitempty"`
	FilledQty     float64          `json:"filled_qty,omitempty"`
	FilledPrice   float64          `json:"filled_price,omitempty"`
	Failure       string           `json:"failure,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	SubmittedAt   time.Time        `json:"submitted_at,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (o PendingOrder) Side() string {
	if o.IsBuy {
		return "buy"
	}
	return "sell"
}

func (o PendingOrder) Payload() OrderPayload {
	return OrderPayload{
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		IsBuy:         o.IsBuy,
		Quantity:      o.Quantity,
		RefPrice:      o.RefPrice,
		ReduceOnly:    o.ReduceOnly,
	}
}

// OrderEvent reports a status change of a leg order. Events come from the
// lifecycle runner or from an external caller.
type OrderEvent struct {
	ClientOrderID string
	Status        Status
	VenueOrderID  string
	FilledQty     float64
	FilledPrice   float64
	Err           *OrderError
	At            time.Time
}

// NewClientOrderID returns a 128-bit hex id in the 0x-prefixed form venues
// accept as a client order id.
func NewClientOrderID() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}
