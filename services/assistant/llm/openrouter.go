// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the model adapter: an OpenRouter chat-completions client
// with usage accounting and output redaction. The rest of the assistant
// depends only on the small Complete surface, never on wire types.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// =============================================================================
// Wire Types
// =============================================================================

const (
	defaultOpenRouterBase  = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "openai/gpt-4o-mini"
	completionTimeout      = 60 * time.Second
)

// ErrMissingAPIKey is returned by NewOpenRouterClient when no key is set.
var ErrMissingAPIKey = errors.New("llm: OPENROUTER_API_KEY not set")

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *chatError   `json:"error,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

type chatError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OpenRouterClient talks to the OpenRouter chat-completions API with raw
// net/http.
//
// Thread Safety: Safe for concurrent use.
type OpenRouterClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	logger     *slog.Logger
}

// OpenRouterOption configures the client.
type OpenRouterOption func(*OpenRouterClient)

// WithModel overrides the model id.
func WithModel(model string) OpenRouterOption {
	return func(c *OpenRouterClient) { c.model = model }
}

// WithBaseURL overrides the API base (tests).
func WithBaseURL(base string) OpenRouterOption {
	return func(c *OpenRouterClient) { c.baseURL = base }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) OpenRouterOption {
	return func(c *OpenRouterClient) { c.httpClient = hc }
}

// NewOpenRouterClient builds a client from OPENROUTER_API_KEY,
// OPENROUTER_MODEL, and OPENROUTER_BASE.
//
// Outputs:
//   - *OpenRouterClient: The configured client.
//   - error: ErrMissingAPIKey when no key is available.
func NewOpenRouterClient(logger *slog.Logger, opts ...OpenRouterOption) (*OpenRouterClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &OpenRouterClient{
		httpClient: &http.Client{Timeout: completionTimeout},
		apiKey:     os.Getenv("OPENROUTER_API_KEY"),
		model:      defaultOpenRouterModel,
		baseURL:    defaultOpenRouterBase,
		logger:     logger,
	}
	if v := os.Getenv("OPENROUTER_MODEL"); v != "" {
		c.model = v
	}
	if v := os.Getenv("OPENROUTER_BASE"); v != "" {
		c.baseURL = v
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return c, nil
}

// Complete sends one prompt and returns the redacted assistant text.
//
// Inputs:
//   - system: Optional system preamble, empty to omit.
//   - user: The user prompt.
//
// Outputs:
//   - string: The assistant reply, passed through Redact so leaked secrets
//     never reach callers, caches, or logs.
//   - error: Transport failure, non-2xx status, or an empty reply.
func (c *OpenRouterClient) Complete(ctx context.Context, system, user string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.0,
	})
	if err != nil {
		return "", fmt.Errorf("llm: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		completionErrors.WithLabelValues("transport").Inc()
		return "", fmt.Errorf("llm: completion: %w", err)
	}
	defer resp.Body.Close()
	completionLatency.Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		completionErrors.WithLabelValues("status").Inc()
		return "", fmt.Errorf("llm: completion: %s: %s", resp.Status, Redact(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		completionErrors.WithLabelValues("api").Inc()
		return "", fmt.Errorf("llm: api error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("llm: empty choices in response")
	}

	recordUsage(c.model, parsed.Usage)
	c.logger.Debug("llm: completion ok",
		slog.String("model", c.model),
		slog.Int("prompt_tokens", parsed.Usage.PromptTokens),
		slog.Int("completion_tokens", parsed.Usage.CompletionTokens),
	)
	return Redact(parsed.Choices[0].Message.Content), nil
}
