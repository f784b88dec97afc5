package exec

import (
	"errors"
	"fmt"
)

var (
	ErrSigningFailure      = errors.New("signing failure")
	ErrTransportFailure    = errors.New("transport failure")
	ErrVenueRejection      = errors.New("venue rejection")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// OrderError is the terminal failure recorded against a leg order. Kind is one
// of the sentinel errors above.
type OrderError struct {
	Kind          error
	ClientOrderID string
	Reason        string
}

func (e *OrderError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("order %s: %v", e.ClientOrderID, e.Kind)
	}
	return fmt.Sprintf("order %s: %v: %s", e.ClientOrderID, e.Kind, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Kind
}

// Rejection is returned by venues when the order was received and refused.
// Any other submit error is treated as a transport failure.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return "rejected: " + r.Reason
}

func Reject(reason string) error {
	return &Rejection{Reason: reason}
}

func failureName(kind error) string {
	switch {
	case errors.Is(kind, ErrSigningFailure):
		return "signing_failure"
	case errors.Is(kind, ErrTransportFailure):
		return "transport_failure"
	case errors.Is(kind, ErrVenueRejection):
		return "venue_rejection"
	case errors.Is(kind, ErrConfirmationTimeout):
		return "confirmation_timeout"
	default:
		return ""
	}
}
