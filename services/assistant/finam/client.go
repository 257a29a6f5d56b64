// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package finam is the HTTP adapter for the Finam TradeAPI
// (https://tradeapi.finam.ru/). Credentials live in memguard enclaves and
// are decrypted only for the instant a request is signed.
package finam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
)

// =============================================================================
// Constants & Errors
// =============================================================================

const (
	defaultBaseURL  = "https://api.finam.ru"
	defaultAuthPath = "/v1/sessions"
	requestTimeout  = 30 * time.Second
	authTimeout     = 15 * time.Second
)

var (
	// ErrNoCredentials is returned when a request needs a token and neither
	// an access token nor a secret is configured.
	ErrNoCredentials = errors.New("finam: no credentials configured")

	// ErrNoTokenInResponse is returned when the auth exchange succeeds at
	// the HTTP level but the reply carries no token.
	ErrNoTokenInResponse = errors.New("finam: no token in auth response")
)

// =============================================================================
// Result Shape
// =============================================================================

// Result is one API reply: the parsed JSON object plus the HTTP status.
// Broker-side errors are data, not Go errors — the payload carries "error",
// "status_code", and "details" keys so callers and the audit trail see
// exactly what the API said. A Go error means transport failure.
type Result struct {
	StatusCode int
	Data       map[string]any
}

// IsError reports whether the reply was a non-2xx status.
func (r Result) IsError() bool {
	return r.StatusCode < 200 || r.StatusCode >= 300
}

// =============================================================================
// Client
// =============================================================================

// Client talks to the Finam TradeAPI.
//
// Description:
//
//	The access token is sent as a raw Authorization header value (the API
//	does not use a Bearer prefix). When only a long-lived secret is
//	configured, the constructor exchanges it for a short-lived JWT; a
//	failed exchange degrades to an unauthenticated client with a warning
//	so market-data-only setups keep working.
//
// Thread Safety: Safe for concurrent use. Token refresh swaps the enclave
// pointer atomically under the hood of memguard's own locking plus the
// httpClient being stateless.
type Client struct {
	baseURL    string
	authPath   string
	httpClient *http.Client
	logger     *slog.Logger

	token  *memguard.Enclave // nil when unauthenticated
	secret *memguard.Enclave // nil when no secret configured
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithAccessToken sets the access token explicitly.
func WithAccessToken(token string) ClientOption {
	return func(c *Client) {
		if token != "" {
			c.token = memguard.NewEnclave([]byte(token))
		}
	}
}

// WithSecret sets the long-lived secret explicitly.
func WithSecret(secret string) ClientOption {
	return func(c *Client) {
		if secret != "" {
			c.secret = memguard.NewEnclave([]byte(secret))
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a client from options and the FINAM_ACCESS_TOKEN,
// FINAM_SECRET_TOKEN, FINAM_API_BASE_URL, and FINAM_AUTH_PATH environment
// variables. Options win over the environment.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		authPath:   defaultAuthPath,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     slog.Default(),
	}
	if v := os.Getenv("FINAM_API_BASE_URL"); v != "" {
		c.baseURL = v
	}
	if v := os.Getenv("FINAM_AUTH_PATH"); v != "" {
		c.authPath = v
	}
	if v := os.Getenv("FINAM_ACCESS_TOKEN"); v != "" {
		c.token = memguard.NewEnclave([]byte(v))
	}
	if v := os.Getenv("FINAM_SECRET_TOKEN"); v != "" {
		c.secret = memguard.NewEnclave([]byte(v))
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.token == nil && c.secret != nil {
		if err := c.RefreshFromSecret(context.Background()); err != nil {
			c.logger.Warn("finam: secret exchange failed, continuing unauthenticated",
				slog.String("error", err.Error()),
			)
		}
	}
	return c
}

// Execute performs one API request.
//
// Inputs:
//   - method: HTTP method, upper case.
//   - path: API path starting with /v1/.
//   - query: Optional query values, nil allowed.
//   - body: Optional JSON body, nil allowed.
//
// Outputs:
//   - Result: Parsed reply. An empty 2xx body becomes the canonical
//     {"status": "success", "message": "Operation completed"} shape so
//     DELETE confirmations render uniformly. Non-2xx replies keep their
//     status code and are normalized into error/status_code/details keys.
//   - error: Transport-level failure only.
func (c *Client) Execute(ctx context.Context, method, path string, query url.Values, body map[string]any) (Result, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return Result{}, fmt.Errorf("finam: encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return Result{}, fmt.Errorf("finam: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		buf, err := c.token.Open()
		if err != nil {
			return Result{}, fmt.Errorf("finam: open token enclave: %w", err)
		}
		// raw token value, the API does not use a Bearer prefix
		req.Header.Set("Authorization", buf.String())
		buf.Destroy()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("finam: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("finam: read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(raw) == 0 {
			return Result{
				StatusCode: resp.StatusCode,
				Data:       map[string]any{"status": "success", "message": "Operation completed"},
			}, nil
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return Result{}, fmt.Errorf("finam: decode response: %w", err)
		}
		return Result{StatusCode: resp.StatusCode, Data: data}, nil
	}

	detail := map[string]any{
		"error":       fmt.Sprintf("%s %s: %s", method, path, resp.Status),
		"status_code": resp.StatusCode,
	}
	var parsed map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err == nil {
			detail["details"] = parsed
		} else {
			detail["details"] = string(raw)
		}
	}
	return Result{StatusCode: resp.StatusCode, Data: detail}, nil
}

// =============================================================================
// Auth
// =============================================================================

// ExchangeSecret trades a long-lived secret for a short-lived JWT via the
// auth path (FINAM_AUTH_PATH, default /v1/sessions).
func (c *Client) ExchangeSecret(ctx context.Context, secret string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	encoded, err := json.Marshal(map[string]string{"secret": secret})
	if err != nil {
		return "", fmt.Errorf("finam: encode auth body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.authPath, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("finam: build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("finam: auth exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("finam: auth exchange: %s", resp.Status)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("finam: decode auth response: %w", err)
	}
	if data.Token == "" {
		return "", ErrNoTokenInResponse
	}
	return data.Token, nil
}

// RefreshFromSecret re-derives the JWT from the configured secret and
// installs it as the active token.
func (c *Client) RefreshFromSecret(ctx context.Context) error {
	if c.secret == nil {
		return ErrNoCredentials
	}
	buf, err := c.secret.Open()
	if err != nil {
		return fmt.Errorf("finam: open secret enclave: %w", err)
	}
	secret := buf.String()
	defer buf.Destroy()

	token, err := c.ExchangeSecret(ctx, secret)
	if err != nil {
		return err
	}
	c.token = memguard.NewEnclave([]byte(token))
	return nil
}

// Authenticated reports whether an access token is installed.
func (c *Client) Authenticated() bool { return c.token != nil }

// =============================================================================
// Convenience Wrappers
// =============================================================================

// Quote fetches the latest quote for symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (Result, error) {
	return c.Execute(ctx, http.MethodGet, "/v1/instruments/"+symbol+"/quotes/latest", nil, nil)
}

// Orderbook fetches the order book for symbol. depth <= 0 uses the server
// default.
func (c *Client) Orderbook(ctx context.Context, symbol string, depth int) (Result, error) {
	q := url.Values{}
	if depth > 0 {
		q.Set("depth", strconv.Itoa(depth))
	}
	return c.Execute(ctx, http.MethodGet, "/v1/instruments/"+symbol+"/orderbook", q, nil)
}

// Candles fetches historical bars. Empty start/end are omitted.
func (c *Client) Candles(ctx context.Context, symbol, timeframe, start, end string) (Result, error) {
	q := url.Values{"timeframe": {timeframe}}
	if start != "" {
		q.Set("interval.start_time", start)
	}
	if end != "" {
		q.Set("interval.end_time", end)
	}
	return c.Execute(ctx, http.MethodGet, "/v1/instruments/"+symbol+"/bars", q, nil)
}

// Account fetches account state including positions.
func (c *Client) Account(ctx context.Context, accountID string) (Result, error) {
	return c.Execute(ctx, http.MethodGet, "/v1/accounts/"+accountID, nil, nil)
}

// Orders lists the account's orders.
func (c *Client) Orders(ctx context.Context, accountID string) (Result, error) {
	return c.Execute(ctx, http.MethodGet, "/v1/accounts/"+accountID+"/orders", nil, nil)
}

// Order fetches one order.
func (c *Client) Order(ctx context.Context, accountID, orderID string) (Result, error) {
	return c.Execute(ctx, http.MethodGet, "/v1/accounts/"+accountID+"/orders/"+orderID, nil, nil)
}

// CreateOrder places an order.
func (c *Client) CreateOrder(ctx context.Context, accountID string, order map[string]any) (Result, error) {
	return c.Execute(ctx, http.MethodPost, "/v1/accounts/"+accountID+"/orders", nil, order)
}

// CancelOrder cancels an order.
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) (Result, error) {
	return c.Execute(ctx, http.MethodDelete, "/v1/accounts/"+accountID+"/orders/"+orderID, nil, nil)
}

// SessionDetails fetches details of the current session. The API expects the
// token in the request body.
func (c *Client) SessionDetails(ctx context.Context) (Result, error) {
	body := map[string]any{}
	if c.token != nil {
		buf, err := c.token.Open()
		if err != nil {
			return Result{}, fmt.Errorf("finam: open token enclave: %w", err)
		}
		body["token"] = buf.String()
		buf.Destroy()
	}
	return c.Execute(ctx, http.MethodPost, "/v1/sessions/details", nil, body)
}
