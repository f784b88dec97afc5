package exchange

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// field is one key of a msgpack map. Keys are written in slice order, which
// is what the action hash depends on.
type field struct {
	key   string
	value func(*msgpack.Encoder) error
}

func str(v string) func(*msgpack.Encoder) error {
	return func(enc *msgpack.Encoder) error { return enc.EncodeString(v) }
}

func boolean(v bool) func(*msgpack.Encoder) error {
	return func(enc *msgpack.Encoder) error { return enc.EncodeBool(v) }
}

func integer(v int64) func(*msgpack.Encoder) error {
	return func(enc *msgpack.Encoder) error { return enc.EncodeInt(v) }
}

func encodeMap(enc *msgpack.Encoder, fields []field) error {
	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return err
	}
	for _, f := range fields {
		if err := enc.EncodeString(f.key); err != nil {
			return err
		}
		if err := f.value(enc); err != nil {
			return err
		}
	}
	return nil
}

// EncodeOrderAction msgpack-encodes an order action with the field order the
// exchange hashes.
func EncodeOrderAction(action OrderAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Orders) == 0 {
		return nil, errors.New("action orders are required")
	}
	if action.Grouping == "" {
		action.Grouping = "na"
	}
	orders := func(enc *msgpack.Encoder) error {
		if err := enc.EncodeArrayLen(len(action.Orders)); err != nil {
			return err
		}
		for _, order := range action.Orders {
			if err := encodeOrderWire(enc, order); err != nil {
				return err
			}
		}
		return nil
	}
	var buf bytes.Buffer
	err := encodeMap(msgpack.NewEncoder(&buf), []field{
		{"type", str(action.Type)},
		{"orders", orders},
		{"grouping", str(action.Grouping)},
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeOrderWire(enc *msgpack.Encoder, order OrderWire) error {
	if order.OrderType.Limit == nil {
		return errors.New("limit order type required")
	}
	tif := func(enc *msgpack.Encoder) error {
		return encodeMap(enc, []field{{"limit", func(enc *msgpack.Encoder) error {
			return encodeMap(enc, []field{{"tif", str(string(order.OrderType.Limit.Tif))}})
		}}})
	}
	fields := []field{
		{"a", integer(int64(order.Asset))},
		{"b", boolean(order.IsBuy)},
		{"p", str(order.Price)},
		{"s", str(order.Size)},
		{"r", boolean(order.ReduceOnly)},
		{"t", tif},
	}
	if order.Cloid != "" {
		fields = append(fields, field{"c", str(order.Cloid)})
	}
	return encodeMap(enc, fields)
}
