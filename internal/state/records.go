package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"carry-engine/internal/strategy"
)

const (
	instrumentKeyPrefix = "instrument:"
	deadLetterKeyPrefix = "deadletter:"
	orderIDKeyPrefix    = "cloid:"
)

// DeadLetter is the persisted record of a leg order that ended rejected or
// timed out.
type DeadLetter struct {
	ClientOrderID string    `json:"client_order_id"`
	VenueOrderID  string    `json:"venue_order_id,omitempty"`
	Instrument    string    `json:"instrument"`
	Venue         string    `json:"venue"`
	Symbol        string    `json:"symbol"`
	Role          string    `json:"leg_role"`
	Purpose       string    `json:"purpose"`
	Side          string    `json:"side"`
	Quantity      float64   `json:"quantity"`
	Status        string    `json:"status"`
	Failure       string    `json:"failure"`
	Reason        string    `json:"reason"`
	SubmittedAt   time.Time `json:"submitted_at,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

func SaveInstrument(ctx context.Context, store Store, inst strategy.Instrument) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	return store.Set(ctx, instrumentKeyPrefix+inst.Name, string(payload))
}

func LoadInstrument(ctx context.Context, store Store, name string) (strategy.Instrument, bool, error) {
	if store == nil {
		return strategy.Instrument{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, instrumentKeyPrefix+name)
	if err != nil {
		return strategy.Instrument{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return strategy.Instrument{}, false, nil
	}
	var inst strategy.Instrument
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return strategy.Instrument{}, false, fmt.Errorf("decode instrument %s: %w", name, err)
	}
	return inst, true, nil
}

func SaveDeadLetter(ctx context.Context, store Store, dl DeadLetter) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if dl.FinishedAt.IsZero() {
		dl.FinishedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(dl)
	if err != nil {
		return err
	}
	return store.Set(ctx, deadLetterKey(dl), string(payload))
}

// ListDeadLetters returns up to limit of the most recent dead letters for an
// instrument, oldest first. A limit <= 0 returns all of them.
func ListDeadLetters(ctx context.Context, store Store, instrument string, limit int) ([]DeadLetter, error) {
	if store == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := store.List(ctx, deadLetterKeyPrefix+instrument+":")
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]DeadLetter, 0, len(entries))
	for _, entry := range entries {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(entry.Value), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter %s: %w", entry.Key, err)
		}
		out = append(out, dl)
	}
	return out, nil
}

func SaveOrderID(ctx context.Context, store Store, clientOrderID, venueOrderID string) error {
	if store == nil || clientOrderID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return store.Set(ctx, orderIDKeyPrefix+clientOrderID, venueOrderID)
}

// keys sort by finish time so List returns them in order
func deadLetterKey(dl DeadLetter) string {
	return fmt.Sprintf("%s%s:%020d:%s", deadLetterKeyPrefix, dl.Instrument, dl.FinishedAt.UnixNano(), dl.ClientOrderID)
}
