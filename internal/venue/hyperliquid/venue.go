// Package hyperliquid adapts the Hyperliquid exchange to the order
// coordinator's signer and venue interfaces. Orders are IOC limits priced a
// slippage band away from the reference price.
package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"carry-engine/internal/exec"
	"carry-engine/internal/hl/exchange"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const fillLookback = 5 * time.Second

type InfoAPI interface {
	MetaAndAssetCtxs(ctx context.Context) (any, error)
	SpotMeta(ctx context.Context) (any, error)
	OrderStatus(ctx context.Context, user string, oid int64) (map[string]any, error)
	UserFillsByTime(ctx context.Context, user string, start time.Time) (any, error)
	ClearinghouseState(ctx context.Context, user string) (map[string]any, error)
	SpotClearinghouseState(ctx context.Context, user string) (map[string]any, error)
}

type ExchangeAPI interface {
	SignOrder(order exchange.OrderWire) (exchange.SignedAction, error)
	Post(ctx context.Context, action exchange.SignedAction) (exchange.OrderResult, error)
}

// PriceSource supplies reference prices for close-all orders.
type PriceSource interface {
	Mid(venue, symbol string) (float64, bool)
}

type Config struct {
	Name            string
	User            string
	SlippageBps     float64
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

type tracked struct {
	symbol      string
	submittedAt time.Time
	refPrice    float64
	immediate   *exchange.OrderResult
}

type Venue struct {
	name     string
	user     string
	slippage float64
	info     InfoAPI
	exch     ExchangeAPI
	prices   PriceSource
	breaker  *gobreaker.CircuitBreaker
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	perps  map[string]asset
	spots  map[string]asset
	orders map[string]tracked
}

func New(cfg Config, info InfoAPI, exch ExchangeAPI, prices PriceSource, log *zap.Logger) (*Venue, error) {
	if info == nil || exch == nil {
		return nil, errors.New("hyperliquid venue requires info and exchange clients")
	}
	if cfg.User == "" {
		return nil, errors.New("hyperliquid venue requires an account address")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("venue", cfg.Name))
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// a refused order means the exchange is reachable
		IsSuccessful: func(err error) bool {
			var refused *exchange.ActionError
			return err == nil || errors.As(err, &refused)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("submit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Venue{
		name:     cfg.Name,
		user:     cfg.User,
		slippage: cfg.SlippageBps / 10000,
		info:     info,
		exch:     exch,
		prices:   prices,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		log:      log,
		now:      time.Now,
		orders:   make(map[string]tracked),
	}, nil
}

// Sign builds the IOC order wire and signs it. The signed action travels to
// Submit in the signature body.
func (v *Venue) Sign(ctx context.Context, payload exec.OrderPayload) (exec.Signature, error) {
	a, err := v.resolve(ctx, payload.Symbol)
	if err != nil {
		return exec.Signature{}, err
	}
	wire, err := v.orderWire(a, payload.IsBuy, payload.Quantity, payload.RefPrice, payload.ReduceOnly, payload.ClientOrderID)
	if err != nil {
		return exec.Signature{}, err
	}
	signed, err := v.exch.SignOrder(wire)
	if err != nil {
		return exec.Signature{}, err
	}
	return exec.Signature{
		Nonce:  signed.Nonce,
		Digest: signed.Signature.R + signed.Signature.S,
		Body:   signed,
	}, nil
}

// Submit posts the signed action once. Refusals become rejections; an open
// breaker or a transport error is returned as is.
func (v *Venue) Submit(ctx context.Context, payload exec.OrderPayload, sig exec.Signature) (string, error) {
	signed, ok := sig.Body.(exchange.SignedAction)
	if !ok {
		return "", fmt.Errorf("signature body is %T, not a signed action", sig.Body)
	}
	res, err := v.post(ctx, signed)
	if err != nil {
		var refused *exchange.ActionError
		if errors.As(err, &refused) {
			return "", exec.Reject(refused.Message)
		}
		return "", err
	}
	t := tracked{symbol: payload.Symbol, submittedAt: v.now(), refPrice: payload.RefPrice}
	if res.Filled {
		t.immediate = &res
	}
	v.mu.Lock()
	v.orders[res.OrderID] = t
	v.mu.Unlock()
	return res.OrderID, nil
}

// PollStatus reports an order's state. IOC orders usually fill in the submit
// response; otherwise orderStatus is polled and the fill price comes from
// the account's fills.
func (v *Venue) PollStatus(ctx context.Context, venueOrderID string) (exec.StatusReport, bool, error) {
	v.mu.Lock()
	t, known := v.orders[venueOrderID]
	v.mu.Unlock()
	if known && t.immediate != nil {
		v.forget(venueOrderID)
		return exec.StatusReport{Status: exec.StatusFilled, FilledQty: t.immediate.TotalSz, FilledPrice: t.immediate.AvgPx}, true, nil
	}
	oid, err := strconv.ParseInt(venueOrderID, 10, 64)
	if err != nil {
		return exec.StatusReport{}, false, fmt.Errorf("venue order id %q: %w", venueOrderID, err)
	}
	payload, err := v.info.OrderStatus(ctx, v.user, oid)
	if err != nil {
		return exec.StatusReport{}, false, err
	}
	st, ok := parseOrderStatus(payload)
	if !ok {
		return exec.StatusReport{}, false, nil
	}
	switch st.Status {
	case "open", "triggered":
		return exec.StatusReport{Status: exec.StatusAccepted}, true, nil
	case "filled":
	default:
		if st.Filled() == 0 {
			v.forget(venueOrderID)
			return exec.StatusReport{Status: exec.StatusRejected, Reason: st.Status}, true, nil
		}
	}
	qty := st.Filled()
	price := st.LimitPx
	since := v.now().Add(-time.Minute)
	if known {
		since = t.submittedAt.Add(-fillLookback)
		price = t.refPrice
	}
	if fills, err := v.info.UserFillsByTime(ctx, v.user, since); err == nil {
		if fq, px := vwap(parseFills(fills), venueOrderID); fq > 0 {
			qty, price = fq, px
		}
	} else {
		v.log.Debug("fill lookup failed; using reference price", zap.String("oid", venueOrderID), zap.Error(err))
	}
	v.forget(venueOrderID)
	return exec.StatusReport{Status: exec.StatusFilled, FilledQty: qty, FilledPrice: price}, true, nil
}

// CloseAll flattens whatever the account holds in symbol: the perp position
// with a reduce-only order, or the spot base balance with a sell.
func (v *Venue) CloseAll(ctx context.Context, symbol string) error {
	a, err := v.resolve(ctx, symbol)
	if err != nil {
		return err
	}
	var qty float64
	if a.spot {
		state, err := v.info.SpotClearinghouseState(ctx, v.user)
		if err != nil {
			return err
		}
		qty = parseSpotBalances(state)[a.coin]
	} else {
		state, err := v.info.ClearinghouseState(ctx, v.user)
		if err != nil {
			return err
		}
		qty = parsePositions(state)[a.coin]
	}
	if qty == 0 || (a.spot && qty < 0) {
		return nil
	}
	if v.prices == nil {
		return errors.New("no price source for close-all")
	}
	ref, ok := v.prices.Mid(v.name, symbol)
	if !ok {
		return fmt.Errorf("no fresh price for %s", symbol)
	}
	isBuy := qty < 0
	wire, err := v.orderWire(a, isBuy, math.Abs(qty), ref, !a.spot, exec.NewClientOrderID())
	if err != nil {
		return err
	}
	signed, err := v.exch.SignOrder(wire)
	if err != nil {
		return err
	}
	res, err := v.post(ctx, signed)
	if err != nil {
		return err
	}
	v.log.Info("close-all sent", zap.String("symbol", symbol), zap.Float64("qty", qty), zap.String("oid", res.OrderID))
	return nil
}

func (v *Venue) post(ctx context.Context, signed exchange.SignedAction) (exchange.OrderResult, error) {
	out, err := v.breaker.Execute(func() (interface{}, error) {
		return v.exch.Post(ctx, signed)
	})
	if err != nil {
		return exchange.OrderResult{}, err
	}
	return out.(exchange.OrderResult), nil
}

func (v *Venue) orderWire(a asset, isBuy bool, qty, ref float64, reduceOnly bool, cloid string) (exchange.OrderWire, error) {
	size := exchange.RoundSize(qty, a.szDecimals)
	if size <= 0 {
		return exchange.OrderWire{}, fmt.Errorf("size %.8g rounds to zero at %d decimals", qty, a.szDecimals)
	}
	if ref <= 0 {
		return exchange.OrderWire{}, errors.New("reference price is required")
	}
	limit := ref * (1 - v.slippage)
	if isBuy {
		limit = ref * (1 + v.slippage)
	}
	limit = exchange.RoundPrice(limit, a.szDecimals, a.spot)
	// spot orders cannot be reduce-only
	return exchange.LimitOrderWire(a.id, isBuy, size, limit, reduceOnly && !a.spot, exchange.TifIoc, cloid)
}

func (v *Venue) forget(venueOrderID string) {
	v.mu.Lock()
	delete(v.orders, venueOrderID)
	v.mu.Unlock()
}
