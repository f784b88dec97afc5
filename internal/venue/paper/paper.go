// Package paper is a simulated venue. Market orders fill in full at the
// venue's cached mid, moved against the order by slippage and fee.
package paper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"carry-engine/internal/exec"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

type PriceSource interface {
	Mid(venue, symbol string) (float64, bool)
}

type Config struct {
	Name        string
	SlippageBps float64
	FeeBps      float64
}

type fill struct {
	qty   float64
	price float64
}

type Venue struct {
	name   string
	adjust float64
	prices PriceSource
	log    *zap.Logger
	seq    atomic.Uint64
	nonce  atomic.Uint64

	mu        sync.Mutex
	fills     map[string]fill
	positions map[string]float64
}

func New(cfg Config, prices PriceSource, log *zap.Logger) (*Venue, error) {
	if prices == nil {
		return nil, errors.New("paper venue requires a price source")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Venue{
		name:      cfg.Name,
		adjust:    (cfg.SlippageBps + cfg.FeeBps) / 10000,
		prices:    prices,
		log:       log.With(zap.String("venue", cfg.Name)),
		fills:     make(map[string]fill),
		positions: make(map[string]float64),
	}, nil
}

// Sign hashes the order fields so every simulated order carries a receipt.
func (v *Venue) Sign(ctx context.Context, payload exec.OrderPayload) (exec.Signature, error) {
	if payload.Quantity <= 0 {
		return exec.Signature{}, fmt.Errorf("quantity must be > 0, got %v", payload.Quantity)
	}
	nonce := v.nonce.Add(1)
	digest := crypto.Keccak256Hash(
		[]byte(payload.ClientOrderID),
		[]byte(payload.Symbol),
		[]byte(strconv.FormatBool(payload.IsBuy)),
		[]byte(strconv.FormatFloat(payload.Quantity, 'g', -1, 64)),
		[]byte(strconv.FormatUint(nonce, 10)),
	)
	return exec.Signature{Nonce: nonce, Digest: digest.Hex()}, nil
}

func (v *Venue) Submit(ctx context.Context, payload exec.OrderPayload, sig exec.Signature) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	mid, ok := v.prices.Mid(v.name, payload.Symbol)
	if !ok {
		return "", exec.Reject("no market price for " + payload.Symbol)
	}
	price := mid * (1 - v.adjust)
	signed := -payload.Quantity
	if payload.IsBuy {
		price = mid * (1 + v.adjust)
		signed = payload.Quantity
	}
	id := "paper-" + strconv.FormatUint(v.seq.Add(1), 10)
	v.mu.Lock()
	v.fills[id] = fill{qty: payload.Quantity, price: price}
	v.positions[payload.Symbol] += signed
	v.mu.Unlock()
	v.log.Debug("paper fill",
		zap.String("oid", id),
		zap.String("symbol", payload.Symbol),
		zap.Bool("buy", payload.IsBuy),
		zap.Float64("qty", payload.Quantity),
		zap.Float64("price", price),
		zap.String("digest", sig.Digest),
	)
	return id, nil
}

func (v *Venue) PollStatus(ctx context.Context, venueOrderID string) (exec.StatusReport, bool, error) {
	v.mu.Lock()
	f, ok := v.fills[venueOrderID]
	delete(v.fills, venueOrderID)
	v.mu.Unlock()
	if !ok {
		return exec.StatusReport{}, false, nil
	}
	return exec.StatusReport{Status: exec.StatusFilled, FilledQty: f.qty, FilledPrice: f.price}, true, nil
}

// CloseAll zeroes the simulated holding in symbol.
func (v *Venue) CloseAll(ctx context.Context, symbol string) error {
	v.mu.Lock()
	qty := v.positions[symbol]
	delete(v.positions, symbol)
	v.mu.Unlock()
	if qty != 0 {
		v.log.Info("paper close-all", zap.String("symbol", symbol), zap.Float64("qty", qty))
	}
	return nil
}

// Position returns the simulated signed holding in symbol.
func (v *Venue) Position(symbol string) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positions[symbol]
}
