package hyperliquid

import (
	"context"
	"fmt"
	"strings"

	"carry-engine/internal/market"

	"go.uber.org/zap"
)

// asset is what an order needs to know about a tradable symbol.
type asset struct {
	id         int
	coin       string
	szDecimals int
	spot       bool
}

// resolve maps a configured symbol to its order asset. Symbols with a slash
// or an @index are spot pairs; anything else is tried as a perp first and a
// spot base token second.
func (v *Venue) resolve(ctx context.Context, symbol string) (asset, error) {
	if err := v.loadMeta(ctx); err != nil {
		return asset{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	spotLike := strings.Contains(symbol, "/") || strings.HasPrefix(symbol, "@")
	if !spotLike {
		if a, ok := v.perps[symbol]; ok {
			return a, nil
		}
	}
	if a, ok := v.spots[symbol]; ok {
		return a, nil
	}
	return asset{}, fmt.Errorf("unknown %s symbol %q", v.name, symbol)
}

func (v *Venue) loadMeta(ctx context.Context) error {
	v.mu.Lock()
	loaded := v.perps != nil
	v.mu.Unlock()
	if loaded {
		return nil
	}
	perpPayload, err := v.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return fmt.Errorf("load perp meta: %w", err)
	}
	perpMeta, err := market.ParsePerpMeta(perpPayload)
	if err != nil {
		return fmt.Errorf("parse perp meta: %w", err)
	}
	perps := make(map[string]asset, len(perpMeta))
	for name, m := range perpMeta {
		perps[name] = asset{id: m.Index, coin: name, szDecimals: max(m.SzDecimals, 0)}
	}
	spots := make(map[string]asset)
	spotMeta, err := v.spotMeta(ctx)
	if err != nil {
		v.log.Warn("spot meta unavailable; only perps are tradable", zap.Error(err))
	}
	for key, m := range spotMeta {
		coin := m.Base
		if coin == "" {
			coin = m.RawName
		}
		spots[key] = asset{id: m.AssetID(), coin: coin, szDecimals: max(m.BaseSzDecimals, 0), spot: true}
	}
	v.mu.Lock()
	v.perps = perps
	v.spots = spots
	v.mu.Unlock()
	return nil
}

func (v *Venue) spotMeta(ctx context.Context) (map[string]market.SpotMeta, error) {
	payload, err := v.info.SpotMeta(ctx)
	if err != nil {
		return nil, err
	}
	return market.ParseSpotMeta(payload)
}
