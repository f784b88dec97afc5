package hyperliquid

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"testing"
	"time"

	"carry-engine/internal/exec"
	"carry-engine/internal/hl/exchange"
)

type fakeInfo struct {
	mu         sync.Mutex
	status     map[string]any
	fills      any
	positions  map[string]any
	balances   map[string]any
	metaCalls  int
	statusErr  error
	lastOid    int64
	fillsSince time.Time
}

func (f *fakeInfo) MetaAndAssetCtxs(ctx context.Context) (any, error) {
	f.mu.Lock()
	f.metaCalls++
	f.mu.Unlock()
	return []any{
		map[string]any{"universe": []any{
			map[string]any{"name": "BTC", "szDecimals": 5.0},
			map[string]any{"name": "ETH", "szDecimals": 4.0},
		}},
		[]any{map[string]any{"funding": "0.00001"}, map[string]any{"funding": "0.00002"}},
	}, nil
}

func (f *fakeInfo) SpotMeta(ctx context.Context) (any, error) {
	return map[string]any{
		"universe": []any{map[string]any{"name": "@142", "tokens": []any{1.0, 0.0}, "index": 142.0}},
		"tokens": []any{
			map[string]any{"name": "USDC", "index": 0.0, "szDecimals": 8.0},
			map[string]any{"name": "UBTC", "index": 1.0, "szDecimals": 5.0},
		},
	}, nil
}

func (f *fakeInfo) OrderStatus(ctx context.Context, user string, oid int64) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOid = oid
	return f.status, f.statusErr
}

func (f *fakeInfo) UserFillsByTime(ctx context.Context, user string, start time.Time) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fillsSince = start
	return f.fills, nil
}

func (f *fakeInfo) ClearinghouseState(ctx context.Context, user string) (map[string]any, error) {
	return f.positions, nil
}

func (f *fakeInfo) SpotClearinghouseState(ctx context.Context, user string) (map[string]any, error) {
	return f.balances, nil
}

type fakeExchange struct {
	mu     sync.Mutex
	nonce  uint64
	posted []exchange.OrderWire
	result exchange.OrderResult
	err    error
}

func (f *fakeExchange) SignOrder(order exchange.OrderWire) (exchange.SignedAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce++
	return exchange.SignedAction{
		Action:    exchange.OrderAction{Type: "order", Orders: []exchange.OrderWire{order}, Grouping: "na"},
		Nonce:     f.nonce,
		Signature: exchange.Signature{R: "0x01", S: "0x02", V: 27},
	}, nil
}

func (f *fakeExchange) Post(ctx context.Context, action exchange.SignedAction) (exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, action.Action.Orders...)
	return f.result, f.err
}

type staticPrices map[string]float64

func (p staticPrices) Mid(venue, symbol string) (float64, bool) {
	mid, ok := p[symbol]
	return mid, ok
}

func newTestVenue(t *testing.T, info *fakeInfo, exch *fakeExchange) *Venue {
	t.Helper()
	v, err := New(Config{Name: "HL", User: "0xabc", SlippageBps: 50, BreakerFailures: 2, BreakerTimeout: time.Minute}, info, exch, staticPrices{"BTC": 60000, "UBTC/USDC": 60000}, nil)
	if err != nil {
		t.Fatalf("new venue: %v", err)
	}
	return v
}

func TestSignBuildsIocPerpOrder(t *testing.T) {
	info := &fakeInfo{}
	v := newTestVenue(t, info, &fakeExchange{})
	sig, err := v.Sign(context.Background(), exec.OrderPayload{
		ClientOrderID: "0x0123456789abcdef0123456789abcdef",
		Symbol:        "BTC",
		IsBuy:         false,
		Quantity:      0.123456789,
		RefPrice:      60000,
		ReduceOnly:    true,
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed, ok := sig.Body.(exchange.SignedAction)
	if !ok {
		t.Fatalf("expected signed action body, got %T", sig.Body)
	}
	if sig.Nonce != 1 || sig.Digest == "" {
		t.Fatalf("unexpected signature %+v", sig)
	}
	order := signed.Action.Orders[0]
	if order.Asset != 0 || order.IsBuy || !order.ReduceOnly {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.Size != "0.12345" {
		t.Fatalf("expected size truncated to 5 decimals, got %s", order.Size)
	}
	if order.Price != "59700" {
		t.Fatalf("expected sell limit 50bps under ref, got %s", order.Price)
	}
	if order.OrderType.Limit == nil || order.OrderType.Limit.Tif != exchange.TifIoc {
		t.Fatalf("expected IOC order type, got %+v", order.OrderType)
	}
	if order.Cloid != "0x0123456789abcdef0123456789abcdef" {
		t.Fatalf("cloid not carried: %q", order.Cloid)
	}
	if _, err := v.Sign(context.Background(), exec.OrderPayload{Symbol: "ETH", Quantity: 1, RefPrice: 3000}); err != nil {
		t.Fatalf("sign eth: %v", err)
	}
	if info.metaCalls != 1 {
		t.Fatalf("expected meta loaded once, got %d", info.metaCalls)
	}
}

func TestSignSpotPairUsesSpotAsset(t *testing.T) {
	v := newTestVenue(t, &fakeInfo{}, &fakeExchange{})
	sig, err := v.Sign(context.Background(), exec.OrderPayload{Symbol: "UBTC/USDC", IsBuy: true, Quantity: 0.1, RefPrice: 60000, ReduceOnly: true})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	order := sig.Body.(exchange.SignedAction).Action.Orders[0]
	if order.Asset != 10142 {
		t.Fatalf("expected spot asset 10142, got %d", order.Asset)
	}
	if order.ReduceOnly {
		t.Fatalf("spot orders must not be reduce-only")
	}
}

func TestSignRejectsUnknownAndDustOrders(t *testing.T) {
	v := newTestVenue(t, &fakeInfo{}, &fakeExchange{})
	if _, err := v.Sign(context.Background(), exec.OrderPayload{Symbol: "DOGE", Quantity: 1, RefPrice: 1}); err == nil {
		t.Fatalf("expected unknown symbol error")
	}
	if _, err := v.Sign(context.Background(), exec.OrderPayload{Symbol: "BTC", Quantity: 0.000001, RefPrice: 60000}); err == nil {
		t.Fatalf("expected dust size error")
	}
}

func TestSubmitImmediateFill(t *testing.T) {
	exch := &fakeExchange{result: exchange.OrderResult{OrderID: "77", Filled: true, TotalSz: 0.1, AvgPx: 60010}}
	info := &fakeInfo{}
	v := newTestVenue(t, info, exch)
	payload := exec.OrderPayload{ClientOrderID: "c1", Symbol: "BTC", IsBuy: true, Quantity: 0.1, RefPrice: 60000}
	sig, err := v.Sign(context.Background(), payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	oid, err := v.Submit(context.Background(), payload, sig)
	if err != nil || oid != "77" {
		t.Fatalf("submit: %q %v", oid, err)
	}
	report, ok, err := v.PollStatus(context.Background(), oid)
	if err != nil || !ok {
		t.Fatalf("poll: %v %v", ok, err)
	}
	if report.Status != exec.StatusFilled || report.FilledQty != 0.1 || report.FilledPrice != 60010 {
		t.Fatalf("unexpected report %+v", report)
	}
	if info.lastOid != 0 {
		t.Fatalf("immediate fills should not hit orderStatus")
	}
}

func TestSubmitRefusalIsRejection(t *testing.T) {
	exch := &fakeExchange{err: &exchange.ActionError{Message: "Insufficient margin to place order."}}
	v := newTestVenue(t, &fakeInfo{}, exch)
	payload := exec.OrderPayload{Symbol: "BTC", IsBuy: true, Quantity: 0.1, RefPrice: 60000}
	sig, _ := v.Sign(context.Background(), payload)
	for i := 0; i < 3; i++ {
		_, err := v.Submit(context.Background(), payload, sig)
		var rej *exec.Rejection
		if !errors.As(err, &rej) || rej.Reason != "Insufficient margin to place order." {
			t.Fatalf("expected rejection, got %v", err)
		}
	}
}

func TestSubmitBreakerOpensOnTransportErrors(t *testing.T) {
	exch := &fakeExchange{err: errors.New("http 502: bad gateway")}
	v := newTestVenue(t, &fakeInfo{}, exch)
	payload := exec.OrderPayload{Symbol: "BTC", IsBuy: true, Quantity: 0.1, RefPrice: 60000}
	sig, _ := v.Sign(context.Background(), payload)
	for i := 0; i < 2; i++ {
		if _, err := v.Submit(context.Background(), payload, sig); err == nil {
			t.Fatalf("expected transport error")
		}
	}
	exch.mu.Lock()
	posted := len(exch.posted)
	exch.mu.Unlock()
	_, err := v.Submit(context.Background(), payload, sig)
	var rej *exec.Rejection
	if err == nil || errors.As(err, &rej) {
		t.Fatalf("expected open breaker error, got %v", err)
	}
	exch.mu.Lock()
	defer exch.mu.Unlock()
	if len(exch.posted) != posted {
		t.Fatalf("open breaker should not post")
	}
}

func TestSubmitRejectsForeignSignature(t *testing.T) {
	v := newTestVenue(t, &fakeInfo{}, &fakeExchange{})
	if _, err := v.Submit(context.Background(), exec.OrderPayload{}, exec.Signature{Body: "nope"}); err == nil {
		t.Fatalf("expected error for foreign signature body")
	}
}

func TestPollStatusUsesFillsForPrice(t *testing.T) {
	info := &fakeInfo{
		status: map[string]any{"status": "order", "order": map[string]any{
			"status": "filled",
			"order":  map[string]any{"origSz": "0.2", "sz": "0.0", "limitPx": "60300"},
		}},
		fills: []any{
			map[string]any{"oid": 88.0, "coin": "BTC", "sz": "0.1", "px": "60000"},
			map[string]any{"oid": 88.0, "coin": "BTC", "sz": "0.1", "px": "60100"},
			map[string]any{"oid": 99.0, "coin": "BTC", "sz": "5", "px": "1"},
		},
	}
	exch := &fakeExchange{result: exchange.OrderResult{OrderID: "88", Resting: true}}
	v := newTestVenue(t, info, exch)
	payload := exec.OrderPayload{Symbol: "BTC", IsBuy: true, Quantity: 0.2, RefPrice: 60000}
	sig, _ := v.Sign(context.Background(), payload)
	if _, err := v.Submit(context.Background(), payload, sig); err != nil {
		t.Fatalf("submit: %v", err)
	}
	report, ok, err := v.PollStatus(context.Background(), "88")
	if err != nil || !ok {
		t.Fatalf("poll: %v %v", ok, err)
	}
	if info.lastOid != 88 {
		t.Fatalf("expected oid 88 queried, got %d", info.lastOid)
	}
	if report.Status != exec.StatusFilled || math.Abs(report.FilledQty-0.2) > 1e-9 || math.Abs(report.FilledPrice-60050) > 1e-6 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestPollStatusStates(t *testing.T) {
	info := &fakeInfo{}
	v := newTestVenue(t, info, &fakeExchange{})

	info.status = map[string]any{"status": "unknownOid"}
	if _, ok, err := v.PollStatus(context.Background(), "5"); ok || err != nil {
		t.Fatalf("unknown oid should be not found, got %v %v", ok, err)
	}

	info.status = map[string]any{"status": "order", "order": map[string]any{"status": "open", "order": map[string]any{"origSz": "1", "sz": "1"}}}
	if r, ok, _ := v.PollStatus(context.Background(), "5"); !ok || r.Status != exec.StatusAccepted {
		t.Fatalf("expected accepted, got %+v", r)
	}

	info.status = map[string]any{"status": "order", "order": map[string]any{"status": "marginCanceled", "order": map[string]any{"origSz": "1", "sz": "1"}}}
	if r, ok, _ := v.PollStatus(context.Background(), "5"); !ok || r.Status != exec.StatusRejected || r.Reason != "marginCanceled" {
		t.Fatalf("expected rejection, got %+v", r)
	}

	if _, _, err := v.PollStatus(context.Background(), "not-a-number"); err == nil {
		t.Fatalf("expected error for non-numeric oid")
	}

	info.statusErr = errors.New("http " + http.StatusText(http.StatusTooManyRequests))
	if _, _, err := v.PollStatus(context.Background(), "5"); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestCloseAllPerpAndSpot(t *testing.T) {
	info := &fakeInfo{
		positions: map[string]any{"assetPositions": []any{
			map[string]any{"position": map[string]any{"coin": "BTC", "szi": "-0.25"}},
		}},
		balances: map[string]any{"balances": []any{
			map[string]any{"coin": "UBTC", "total": "0.3"},
			map[string]any{"coin": "USDC", "total": "1000"},
		}},
	}
	exch := &fakeExchange{result: exchange.OrderResult{OrderID: "1", Filled: true}}
	v := newTestVenue(t, info, exch)
	if err := v.CloseAll(context.Background(), "BTC"); err != nil {
		t.Fatalf("close perp: %v", err)
	}
	if err := v.CloseAll(context.Background(), "UBTC/USDC"); err != nil {
		t.Fatalf("close spot: %v", err)
	}
	exch.mu.Lock()
	defer exch.mu.Unlock()
	if len(exch.posted) != 2 {
		t.Fatalf("expected two close orders, got %d", len(exch.posted))
	}
	perp, spot := exch.posted[0], exch.posted[1]
	if !perp.IsBuy || !perp.ReduceOnly || perp.Size != "0.25" {
		t.Fatalf("unexpected perp close %+v", perp)
	}
	if spot.IsBuy || spot.ReduceOnly || spot.Size != "0.3" || spot.Asset != 10142 {
		t.Fatalf("unexpected spot close %+v", spot)
	}
}

func TestCloseAllFlatIsNoop(t *testing.T) {
	info := &fakeInfo{positions: map[string]any{"assetPositions": []any{}}}
	exch := &fakeExchange{}
	v := newTestVenue(t, info, exch)
	if err := v.CloseAll(context.Background(), "BTC"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(exch.posted) != 0 {
		t.Fatalf("flat close-all should not post")
	}
}
