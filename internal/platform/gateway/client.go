// Package gateway implements the HTTP client for the guarded engine's admin
// gateway. The gateway exposes the engine's authoritative trading state
// (positions, balances, orders, instruments, candles) plus the control
// endpoints the shutdown sequence drives (halt, cancel, stop). All requests
// are HMAC-signed.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tradeguard/internal/crypto"
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// Client is an HMAC-authenticated client for the engine admin gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewClient creates a gateway client. auth may be nil for gateways that run
// without request signing (local development).
func NewClient(baseURL string, timeout time.Duration, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		auth: auth,
	}
}

// Positions returns the engine's view of all positions for the trader, open
// and closed.
func (c *Client) Positions(ctx context.Context, traderID string) ([]domain.PositionSnapshot, error) {
	q := url.Values{}
	q.Set("trader_id", traderID)

	respBody, err := c.doSignedRequest(ctx, http.MethodGet, "/v1/positions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: get positions: %w", err)
	}

	var resp APIPositionsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("gateway: decode positions: %w", err)
	}

	positions := make([]domain.PositionSnapshot, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		positions = append(positions, p.ToDomainPosition())
	}
	return positions, nil
}

// Balances returns the engine's view of the trader's account balances.
func (c *Client) Balances(ctx context.Context, traderID string) ([]domain.Balance, error) {
	q := url.Values{}
	q.Set("trader_id", traderID)

	respBody, err := c.doSignedRequest(ctx, http.MethodGet, "/v1/balances?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: get balances: %w", err)
	}

	var resp APIBalancesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("gateway: decode balances: %w", err)
	}

	balances := make([]domain.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		balances = append(balances, b.ToDomainBalance())
	}
	return balances, nil
}

// OpenOrders returns the engine's open orders for the trader. pendingOnly
// narrows the result to orders still awaiting venue acknowledgement.
func (c *Client) OpenOrders(ctx context.Context, traderID string, pendingOnly bool) ([]domain.OrderInfo, error) {
	q := url.Values{}
	q.Set("trader_id", traderID)
	if pendingOnly {
		q.Set("pending", "true")
	}

	respBody, err := c.doSignedRequest(ctx, http.MethodGet, "/v1/orders?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: get open orders: %w", err)
	}

	var resp APIOrdersResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("gateway: decode orders: %w", err)
	}

	orders := make([]domain.OrderInfo, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, o.ToDomainOrder())
	}
	return orders, nil
}

// CancelOrder asks the engine to cancel one order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	respBody, err := c.doSignedRequest(ctx, http.MethodDelete, "/v1/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return fmt.Errorf("gateway: cancel order %s: %w", orderID, err)
	}
	if err := checkAck(respBody); err != nil {
		return fmt.Errorf("gateway: cancel order %s: %w", orderID, err)
	}
	return nil
}

// Instrument returns metadata for one instrument. Returns
// domain.ErrNotFound when the engine does not know the instrument.
func (c *Client) Instrument(ctx context.Context, instrumentID string) (domain.Instrument, error) {
	respBody, err := c.doSignedRequest(ctx, http.MethodGet, "/v1/instruments/"+url.PathEscape(instrumentID), nil)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("gateway: get instrument %s: %w", instrumentID, err)
	}

	var inst APIInstrument
	if err := json.Unmarshal(respBody, &inst); err != nil {
		return domain.Instrument{}, fmt.Errorf("gateway: decode instrument: %w", err)
	}
	return inst.ToDomainInstrument(), nil
}

// Candles returns historical bars for the instrument over [fromNs, toNs].
// Timestamps are Unix nanoseconds. Ordering is whatever the gateway
// returns; callers sort.
func (c *Client) Candles(ctx context.Context, instrumentID string, fromNs, toNs int64) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("instrument_id", instrumentID)
	q.Set("from_ns", strconv.FormatInt(fromNs, 10))
	q.Set("to_ns", strconv.FormatInt(toNs, 10))

	respBody, err := c.doSignedRequest(ctx, http.MethodGet, "/v1/candles?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: get candles: %w", err)
	}

	var resp APICandlesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("gateway: decode candles: %w", err)
	}

	bars := make([]domain.Bar, 0, len(resp.Candles))
	for _, cd := range resp.Candles {
		bars = append(bars, cd.ToDomainBar())
	}
	return bars, nil
}

// HaltTrading tells the engine to stop submitting new orders. Idempotent on
// the engine side.
func (c *Client) HaltTrading(ctx context.Context) error {
	respBody, err := c.doSignedRequest(ctx, http.MethodPost, "/v1/trading/halt", nil)
	if err != nil {
		return fmt.Errorf("gateway: halt trading: %w", err)
	}
	if err := checkAck(respBody); err != nil {
		return fmt.Errorf("gateway: halt trading: %w", err)
	}
	return nil
}

// Stop tells the engine to begin its own teardown.
func (c *Client) Stop(ctx context.Context) error {
	respBody, err := c.doSignedRequest(ctx, http.MethodPost, "/v1/stop", nil)
	if err != nil {
		return fmt.Errorf("gateway: stop engine: %w", err)
	}
	if err := checkAck(respBody); err != nil {
		return fmt.Errorf("gateway: stop engine: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest performs an HTTP request with HMAC authentication headers.
// The signature covers the method, the path including its query string, and
// the JSON body.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps HTTP error statuses to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// checkAck decodes a control-endpoint envelope and surfaces engine-side
// rejections that arrive with a 2xx status.
func checkAck(body []byte) error {
	var ack APIAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("rejected: %s", ack.Message)
	}
	return nil
}
