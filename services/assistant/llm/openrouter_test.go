// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenRouterClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("OPENROUTER_API_KEY", "sk-or-test-key-abcdef123456")
	c, err := NewOpenRouterClient(nil, WithBaseURL(srv.URL), WithModel("test/model"))
	if err != nil {
		t.Fatalf("NewOpenRouterClient failed: %v", err)
	}
	return c
}

func TestComplete_SendsMessagesAndAuth(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "GET /v1/assets"}}},
			Usage:   chatUsage{PromptTokens: 10, CompletionTokens: 5},
		})
	})

	reply, err := c.Complete(context.Background(), "system text", "user text")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply != "GET /v1/assets" {
		t.Errorf("reply = %q", reply)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
	if gotReq.Model != "test/model" {
		t.Errorf("model = %q", gotReq.Model)
	}
}

func TestComplete_OmitsEmptySystem(t *testing.T) {
	var gotReq chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "ok"}}},
		})
	})

	if _, err := c.Complete(context.Background(), "", "question"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}

func TestComplete_HTTPErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	if _, err := c.Complete(context.Background(), "", "q"); err == nil {
		t.Fatal("expected an error for 429")
	}
}

func TestComplete_APIErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{Error: &chatError{Code: 400, Message: "bad model"}})
	})
	if _, err := c.Complete(context.Background(), "", "q"); err == nil {
		t.Fatal("expected an api error")
	}
}

func TestComplete_RedactsSecretsInReply(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{
				Content: "use Bearer abcdef1234567890 to authorize",
			}}},
		})
	})
	reply, err := c.Complete(context.Background(), "", "q")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if strings.Contains(reply, "abcdef1234567890") {
		t.Errorf("secret leaked: %q", reply)
	}
	if !strings.Contains(reply, "[REDACTED:bearer_token]") {
		t.Errorf("missing redaction label: %q", reply)
	}
}

func TestNewOpenRouterClient_RequiresKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	if _, err := NewOpenRouterClient(nil); err == nil {
		t.Fatal("expected ErrMissingAPIKey")
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in       string
		leak     string
		expected string
	}{
		{"token eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig", "eyJhbGci", "[REDACTED:jwt]"},
		{"key sk-or-abcdefghijklmnopqrstuvwx", "abcdefghijklmnop", "[REDACTED:api_key]"},
		{"secret=supersecretvalue", "supersecretvalue", "secret=[REDACTED]"},
	}
	for _, tt := range tests {
		out := Redact(tt.in)
		if strings.Contains(out, tt.leak) {
			t.Errorf("Redact(%q) leaked: %q", tt.in, out)
		}
		if !strings.Contains(out, tt.expected) {
			t.Errorf("Redact(%q) = %q, want to contain %q", tt.in, out, tt.expected)
		}
	}
}
