package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client calls the public /info endpoint. Requests share one token bucket so
// status polling cannot exceed the venue's rate limit.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// New returns a client. A requestsPerSecond <= 0 disables rate limiting.
func New(baseURL string, timeout time.Duration, requestsPerSecond float64, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     log,
	}
}

type InfoRequest struct {
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	Oid       any    `json:"oid,omitempty"`
	StartTime int64  `json:"startTime,omitempty"`
}

// Info posts an info request and decodes whatever JSON comes back.
func (c *Client) Info(ctx context.Context, req any) (any, error) {
	var out any
	if err := c.post(ctx, "/info", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InfoMap is Info for endpoints that answer with an object.
func (c *Client) InfoMap(ctx context.Context, req any) (map[string]any, error) {
	var out map[string]any
	if err := c.post(ctx, "/info", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MetaAndAssetCtxs(ctx context.Context) (any, error) {
	return c.Info(ctx, InfoRequest{Type: "metaAndAssetCtxs"})
}

func (c *Client) SpotMeta(ctx context.Context) (any, error) {
	return c.Info(ctx, InfoRequest{Type: "spotMeta"})
}

func (c *Client) AllMids(ctx context.Context) (map[string]any, error) {
	return c.InfoMap(ctx, InfoRequest{Type: "allMids"})
}

// OrderStatus looks an order up by venue order id.
func (c *Client) OrderStatus(ctx context.Context, user string, oid int64) (map[string]any, error) {
	return c.InfoMap(ctx, InfoRequest{Type: "orderStatus", User: user, Oid: oid})
}

func (c *Client) UserFillsByTime(ctx context.Context, user string, start time.Time) (any, error) {
	return c.Info(ctx, InfoRequest{Type: "userFillsByTime", User: user, StartTime: start.UnixMilli()})
}

func (c *Client) ClearinghouseState(ctx context.Context, user string) (map[string]any, error) {
	return c.InfoMap(ctx, InfoRequest{Type: "clearinghouseState", User: user})
}

func (c *Client) SpotClearinghouseState(ctx context.Context, user string) (map[string]any, error) {
	return c.InfoMap(ctx, InfoRequest{Type: "spotClearinghouseState", User: user})
}

func (c *Client) post(ctx context.Context, path string, req any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
