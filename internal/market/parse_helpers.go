package market

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// PerpMeta describes one Hyperliquid perp market from metaAndAssetCtxs.
type PerpMeta struct {
	Name        string
	Index       int
	SzDecimals  int
	FundingRate float64
	OraclePrice float64
	MarkPrice   float64
	MidPrice    float64
}

// SpotMeta describes one Hyperliquid spot pair from spotMeta.
type SpotMeta struct {
	Symbol         string
	RawName        string
	Base           string
	Quote          string
	Index          int
	BaseSzDecimals int
}

// AssetID is the order asset id Hyperliquid expects for the spot pair.
func (s SpotMeta) AssetID() int {
	return 10000 + s.Index
}

// ParsePerpMeta decodes a metaAndAssetCtxs response keyed by coin name.
func ParsePerpMeta(payload any) (map[string]PerpMeta, error) {
	universe, ctxs := extractUniverseAndCtxs(payload)
	if len(universe) == 0 {
		return nil, errors.New("perp meta missing universe")
	}
	result := make(map[string]PerpMeta, len(universe))
	for i, entry := range universe {
		meta, ok := toMap(entry)
		if !ok {
			continue
		}
		name := stringFromMap(meta, "name", "coin", "symbol")
		if name == "" {
			continue
		}
		pm := PerpMeta{
			Name:       name,
			Index:      intFromAny(meta["index"], i),
			SzDecimals: intFromAny(meta["szDecimals"], -1),
		}
		if ctx, ok := indexedMap(ctxs, i); ok {
			pm.FundingRate = floatFromMap(ctx, "funding", "fundingRate")
			pm.OraclePrice = floatFromMap(ctx, "oraclePx", "oraclePrice")
			pm.MarkPrice = floatFromMap(ctx, "markPx", "markPrice")
			pm.MidPrice = floatFromMap(ctx, "midPx", "midPrice")
		}
		result[name] = pm
	}
	if len(result) == 0 {
		return nil, errors.New("no perp markets parsed")
	}
	return result, nil
}

// ParseSpotMeta decodes a spotMeta response. Pairs are reachable by their
// display symbol (BASE/QUOTE), their raw name (@N) and their base token.
func ParseSpotMeta(payload any) (map[string]SpotMeta, error) {
	universe, tokens := extractSpotUniverseAndTokens(payload)
	if len(universe) == 0 {
		return nil, errors.New("spot meta missing universe")
	}
	tokenMeta := tokenMetaByIndex(tokens)
	result := make(map[string]SpotMeta)
	for i, entry := range universe {
		meta, ok := toMap(entry)
		if !ok {
			continue
		}
		rawName := stringFromMap(meta, "name", "symbol", "coin")
		base, quote, baseDecimals := baseQuoteFromTokens(meta, tokenMeta)
		symbol := rawName
		if base != "" && quote != "" {
			symbol = base + "/" + quote
		}
		if symbol == "" {
			continue
		}
		sm := SpotMeta{
			Symbol:         symbol,
			RawName:        rawName,
			Base:           base,
			Quote:          quote,
			Index:          intFromAny(meta["index"], i),
			BaseSzDecimals: baseDecimals,
		}
		result[symbol] = sm
		if rawName != "" {
			result[rawName] = sm
		}
		if base != "" {
			if _, exists := result[base]; !exists {
				result[base] = sm
			}
		}
	}
	if len(result) == 0 {
		return nil, errors.New("no spot pairs parsed")
	}
	return result, nil
}

// ParseMids extracts coin -> mid from an allMids payload, either the flat
// /info response or the websocket envelope.
func ParseMids(payload map[string]any) map[string]float64 {
	var raw map[string]any
	if data, ok := payload["data"].(map[string]any); ok {
		raw, _ = data["mids"].(map[string]any)
	} else if mids, ok := payload["mids"].(map[string]any); ok {
		raw = mids
	} else if _, hasChannel := payload["channel"]; !hasChannel {
		raw = payload
	}
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for coin, v := range raw {
		if f, ok := floatFromAny(v); ok && f > 0 {
			out[coin] = f
		}
	}
	return out
}

func extractUniverseAndCtxs(payload any) ([]any, []any) {
	if arr, ok := toSlice(payload); ok && len(arr) >= 2 {
		if metaMap, ok := toMap(arr[0]); ok {
			universe, _ := toSlice(metaMap["universe"])
			ctxs, _ := toSlice(arr[1])
			return universe, ctxs
		}
	}
	if metaMap, ok := toMap(payload); ok {
		universe, _ := toSlice(metaMap["universe"])
		ctxs, _ := toSlice(metaMap["assetCtxs"])
		return universe, ctxs
	}
	return nil, nil
}

func extractSpotUniverseAndTokens(payload any) ([]any, []any) {
	if arr, ok := toSlice(payload); ok && len(arr) >= 1 {
		payload = arr[0]
	}
	metaMap, ok := toMap(payload)
	if !ok {
		return nil, nil
	}
	universe, _ := toSlice(metaMap["universe"])
	tokens, _ := toSlice(metaMap["tokens"])
	return universe, tokens
}

type tokenInfo struct {
	name       string
	szDecimals int
}

func tokenMetaByIndex(tokens []any) map[int]tokenInfo {
	out := make(map[int]tokenInfo, len(tokens))
	for i, item := range tokens {
		meta, ok := toMap(item)
		if !ok {
			continue
		}
		name := stringFromMap(meta, "name")
		if name == "" {
			continue
		}
		out[intFromAny(meta["index"], i)] = tokenInfo{name: name, szDecimals: intFromAny(meta["szDecimals"], -1)}
	}
	return out
}

func baseQuoteFromTokens(meta map[string]any, tokens map[int]tokenInfo) (string, string, int) {
	pair, ok := toSlice(meta["tokens"])
	if !ok || len(pair) < 2 {
		return "", "", -1
	}
	base := tokens[intFromAny(pair[0], -1)]
	quote := tokens[intFromAny(pair[1], -1)]
	if base.name == "" {
		return "", quote.name, -1
	}
	return base.name, quote.name, base.szDecimals
}

func indexedMap(items []any, idx int) (map[string]any, bool) {
	if idx < 0 || idx >= len(items) {
		return nil, false
	}
	return toMap(items[idx])
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func floatFromMap(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if f, ok := floatFromAny(m[key]); ok {
			return f
		}
	}
	return 0
}

// FloatFromAny accepts the number encodings Hyperliquid mixes in its payloads.
func FloatFromAny(v any) (float64, bool) {
	return floatFromAny(v)
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func intFromAny(v any, fallback int) int {
	if f, ok := floatFromAny(v); ok {
		return int(f)
	}
	return fallback
}
