package exchange

import (
	"fmt"
	"strconv"
)

// ActionError is a response in which the exchange received the action and
// refused it, either as a whole or for the order.
type ActionError struct {
	Message string
}

func (e *ActionError) Error() string {
	return "exchange refused action: " + e.Message
}

// OrderResult is the first order status of an order action response.
type OrderResult struct {
	OrderID string
	Resting bool
	Filled  bool
	TotalSz float64
	AvgPx   float64
}

// ParseOrderResponse reads an /exchange order response. Refusals come back
// as *ActionError; a body that cannot be read is a plain error.
func ParseOrderResponse(resp map[string]any) (OrderResult, error) {
	if resp == nil {
		return OrderResult{}, fmt.Errorf("empty exchange response")
	}
	if status, _ := resp["status"].(string); status != "ok" {
		msg := fmt.Sprint(resp["response"])
		if status == "" {
			return OrderResult{}, fmt.Errorf("malformed exchange response: %v", resp)
		}
		return OrderResult{}, &ActionError{Message: msg}
	}
	body, _ := resp["response"].(map[string]any)
	data, _ := body["data"].(map[string]any)
	statuses, _ := data["statuses"].([]any)
	if len(statuses) == 0 {
		return OrderResult{}, fmt.Errorf("exchange response has no order status")
	}
	first, _ := statuses[0].(map[string]any)
	if msg, ok := first["error"].(string); ok {
		return OrderResult{}, &ActionError{Message: msg}
	}
	var out OrderResult
	if resting, ok := first["resting"].(map[string]any); ok {
		out.Resting = true
		out.OrderID = stringFromAny(resting["oid"])
	}
	if filled, ok := first["filled"].(map[string]any); ok {
		out.Filled = true
		out.OrderID = stringFromAny(filled["oid"])
		out.TotalSz = floatFromAny(filled["totalSz"])
		out.AvgPx = floatFromAny(filled["avgPx"])
	}
	if out.OrderID == "" {
		out.OrderID = orderIDFromAny(first)
	}
	if out.OrderID == "" {
		return OrderResult{}, fmt.Errorf("exchange response has no order id: %v", first)
	}
	return out, nil
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func floatFromAny(v any) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	default:
		return 0
	}
}

func orderIDFromAny(v any) string {
	switch val := v.(type) {
	case map[string]any:
		for _, key := range []string{"oid", "orderId", "id"} {
			if id := stringFromAny(val[key]); id != "" {
				return id
			}
		}
		for _, nested := range val {
			if id := orderIDFromAny(nested); id != "" {
				return id
			}
		}
	case []any:
		for _, nested := range val {
			if id := orderIDFromAny(nested); id != "" {
				return id
			}
		}
	}
	return ""
}
