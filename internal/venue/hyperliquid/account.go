package hyperliquid

import (
	"strconv"
	"strings"

	"carry-engine/internal/market"
)

type fill struct {
	OrderID string
	Coin    string
	Size    float64
	Price   float64
}

type orderState struct {
	Status  string
	OrigSz  float64
	Sz      float64
	LimitPx float64
}

// Filled is the executed size; canceled IOC remainders are left out.
func (o orderState) Filled() float64 {
	if o.Status == "filled" {
		return o.OrigSz
	}
	if o.OrigSz > o.Sz {
		return o.OrigSz - o.Sz
	}
	return 0
}

// parseOrderStatus reads an orderStatus info response. ok is false for an
// oid the exchange does not know (yet).
func parseOrderStatus(payload map[string]any) (orderState, bool) {
	if payload == nil {
		return orderState{}, false
	}
	if status, _ := payload["status"].(string); status == "unknownOid" {
		return orderState{}, false
	}
	wrapper, ok := payload["order"].(map[string]any)
	if !ok {
		return orderState{}, false
	}
	out := orderState{Status: strings.TrimSpace(stringFromAny(wrapper["status"]))}
	if order, ok := wrapper["order"].(map[string]any); ok {
		out.OrigSz = floatOrZero(order["origSz"])
		out.Sz = floatOrZero(order["sz"])
		out.LimitPx = floatOrZero(order["limitPx"])
	}
	return out, out.Status != ""
}

func parseFills(payload any) []fill {
	var raw []any
	switch v := payload.(type) {
	case []any:
		raw = v
	case map[string]any:
		raw, _ = v["fills"].([]any)
		if raw == nil {
			raw, _ = v["data"].([]any)
		}
	}
	out := make([]fill, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, fill{
			OrderID: stringFromAny(entry["oid"]),
			Coin:    stringFromAny(entry["coin"]),
			Size:    floatOrZero(entry["sz"]),
			Price:   floatOrZero(entry["px"]),
		})
	}
	return out
}

// vwap averages the fills of one order.
func vwap(fills []fill, orderID string) (float64, float64) {
	var qty, notional float64
	for _, f := range fills {
		if f.OrderID != orderID || f.Size <= 0 {
			continue
		}
		qty += f.Size
		notional += f.Size * f.Price
	}
	if qty == 0 {
		return 0, 0
	}
	return qty, notional / qty
}

// parsePositions returns signed perp sizes by coin from clearinghouseState.
func parsePositions(payload map[string]any) map[string]float64 {
	positions := make(map[string]float64)
	raw, _ := payload["assetPositions"].([]any)
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		pos := entry
		if nested, ok := entry["position"].(map[string]any); ok {
			pos = nested
		}
		coin := stringFromAny(pos["coin"])
		if coin == "" {
			continue
		}
		positions[coin] = floatOrZero(pos["szi"])
	}
	return positions
}

// parseSpotBalances returns total token balances from spotClearinghouseState.
func parseSpotBalances(payload map[string]any) map[string]float64 {
	balances := make(map[string]float64)
	raw, _ := payload["balances"].([]any)
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		coin := stringFromAny(entry["coin"])
		if coin == "" {
			coin = stringFromAny(entry["token"])
		}
		if coin == "" {
			continue
		}
		balances[coin] = floatOrZero(entry["total"])
	}
	return balances
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}

func floatOrZero(v any) float64 {
	f, _ := market.FloatFromAny(v)
	return f
}
