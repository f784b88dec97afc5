package exchange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	perpPriceDecimals = 6
	spotPriceDecimals = 8
	priceSigFigs      = 5
)

func LimitOrderWire(asset int, isBuy bool, size, limit float64, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	price, err := floatToWire(limit)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	sizeWire, err := floatToWire(size)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

// RoundSize truncates a size to the asset's size decimals.
func RoundSize(size float64, szDecimals int) float64 {
	if size <= 0 {
		return 0
	}
	if szDecimals < 0 {
		szDecimals = 0
	}
	p := math.Pow10(szDecimals)
	return fixed(math.Floor(size*p+1e-9)/p, szDecimals)
}

// RoundPrice keeps at most five significant figures and the decimals the
// asset allows. Integer prices are always valid.
func RoundPrice(price float64, szDecimals int, spot bool) float64 {
	if price <= 0 {
		return 0
	}
	maxDecimals := perpPriceDecimals
	if spot {
		maxDecimals = spotPriceDecimals
	}
	decimals := maxDecimals - szDecimals
	if sig := priceSigFigs - 1 - int(math.Floor(math.Log10(price))); sig < decimals {
		decimals = sig
	}
	if decimals < 0 {
		decimals = 0
	}
	return fixed(price, decimals)
}

func fixed(x float64, decimals int) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(x, 'f', decimals, 64), 64)
	return v
}

func floatToWire(x float64) (string, error) {
	rounded := strconv.FormatFloat(x, 'f', 8, 64)
	parsed, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		return "", err
	}
	if math.Abs(parsed-x) >= 1e-12 {
		return "", fmt.Errorf("float_to_wire causes rounding: %f", x)
	}
	trimmed := strings.TrimRight(strings.TrimRight(rounded, "0"), ".")
	if trimmed == "" || trimmed == "-0" {
		trimmed = "0"
	}
	return trimmed, nil
}
