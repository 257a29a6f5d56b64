// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aeshef/Finam-AI-Chat/services/assistant"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/orchestrate"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/safety"
)

// apiClient talks to the assistant server's REST and websocket surfaces.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() *apiClient {
	base := serverURL
	if base == "" {
		base = os.Getenv("FINAMCHAT_SERVER_URL")
	}
	if base == "" {
		base = "http://localhost:8080"
	}
	return &apiClient{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// askPayload mirrors the server's AskRequest.
type askPayload struct {
	Question  string `json:"question"`
	AccountID string `json:"account_id,omitempty"`
	DryRun    *bool  `json:"dry_run,omitempty"`
	Confirm   bool   `json:"confirm,omitempty"`
}

func (c *apiClient) ask(ctx context.Context, p askPayload) (orchestrate.Result, error) {
	var res orchestrate.Result
	if err := c.postJSON(ctx, "/v1/assistant/ask", p, &res); err != nil {
		return res, err
	}
	return res, nil
}

// askStream runs one question over the websocket, reporting stage progress
// through onStage, and returns the terminal result.
func (c *apiClient) askStream(ctx context.Context, p askPayload, onStage func(stage string, ms float64)) (orchestrate.Result, error) {
	wsBase := "ws" + strings.TrimPrefix(c.baseURL, "http")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsBase+"/v1/assistant/ask/stream", nil)
	if err != nil {
		return orchestrate.Result{}, fmt.Errorf("finamchat: connect stream: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(p); err != nil {
		return orchestrate.Result{}, fmt.Errorf("finamchat: send question: %w", err)
	}
	for {
		var ev assistant.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return orchestrate.Result{}, fmt.Errorf("finamchat: read stream: %w", err)
		}
		switch ev.Type {
		case "stage":
			if onStage != nil {
				onStage(ev.Stage, ev.DurationMS)
			}
		case "result":
			if ev.Result == nil {
				return orchestrate.Result{}, errors.New("finamchat: empty result frame")
			}
			return *ev.Result, nil
		case "error":
			return orchestrate.Result{}, errors.New(ev.Error)
		}
	}
}

func (c *apiClient) audit(ctx context.Context, limit int) ([]safety.Record, error) {
	var resp struct {
		Records []safety.Record `json:"records"`
	}
	path := fmt.Sprintf("/v1/assistant/audit?limit=%d", limit)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *apiClient) catalog(ctx context.Context) (assistant.CatalogResponse, error) {
	var resp assistant.CatalogResponse
	if err := c.getJSON(ctx, "/v1/assistant/catalog", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *apiClient) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("finamchat: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("finamchat: server unavailable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("finamchat: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("finamchat: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("finamchat: decode response: %w", err)
	}
	return nil
}
