// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package finam

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestExecute_SuccessParsesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/instruments/SBER@MISX/quotes/latest" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"symbol": "SBER@MISX", "last": "310.5"})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	res, err := c.Quote(context.Background(), "SBER@MISX")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if res.IsError() {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if res.Data["last"] != "310.5" {
		t.Errorf("last = %v", res.Data["last"])
	}
}

func TestExecute_EmptyBodyBecomesSuccessShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %q", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	res, err := c.CancelOrder(context.Background(), "ACC-001-A", "ORD1")
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if res.Data["status"] != "success" || res.Data["message"] != "Operation completed" {
		t.Errorf("unexpected success shape: %+v", res.Data)
	}
}

func TestExecute_RawAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithAccessToken("jwt-token-value"))
	if _, err := c.Account(context.Background(), "ACC-001-A"); err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if gotAuth != "jwt-token-value" {
		t.Errorf("Authorization = %q, want raw token without Bearer prefix", gotAuth)
	}
}

func TestExecute_ErrorNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "order not found"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	res, err := c.Order(context.Background(), "ACC-001-A", "ORD404")
	if err != nil {
		t.Fatalf("transport error unexpected: %v", err)
	}
	if !res.IsError() {
		t.Fatal("expected error result")
	}
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", res.StatusCode)
	}
	if res.Data["status_code"] != http.StatusNotFound {
		t.Errorf("status_code field = %v", res.Data["status_code"])
	}
	details, ok := res.Data["details"].(map[string]any)
	if !ok || details["message"] != "order not found" {
		t.Errorf("details = %v", res.Data["details"])
	}
}

func TestExecute_NonJSONErrorBodyKeptAsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	res, err := c.Execute(context.Background(), http.MethodGet, "/v1/system/time", nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Data["details"] != "upstream exploded" {
		t.Errorf("details = %v", res.Data["details"])
	}
}

func TestExecute_QueryEncoding(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Candles(context.Background(), "SBER@MISX", "TIME_FRAME_D", "2025-08-01T00:00:00Z", "")
	if err != nil {
		t.Fatalf("Candles failed: %v", err)
	}
	if gotQuery.Get("timeframe") != "TIME_FRAME_D" {
		t.Errorf("timeframe = %q", gotQuery.Get("timeframe"))
	}
	if gotQuery.Get("interval.start_time") != "2025-08-01T00:00:00Z" {
		t.Errorf("interval.start_time = %q", gotQuery.Get("interval.start_time"))
	}
	if gotQuery.Has("interval.end_time") {
		t.Error("empty end must be omitted")
	}
}

func TestExchangeSecret_InstallsToken(t *testing.T) {
	var sawSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/sessions":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			sawSecret = body["secret"]
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "fresh-jwt"})
		default:
			if r.Header.Get("Authorization") != "fresh-jwt" {
				t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
			}
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithSecret("long-lived-secret"))
	if sawSecret != "long-lived-secret" {
		t.Errorf("secret sent = %q", sawSecret)
	}
	if !c.Authenticated() {
		t.Fatal("client should be authenticated after exchange")
	}
	if _, err := c.Account(context.Background(), "ACC-001-A"); err != nil {
		t.Fatalf("Account failed: %v", err)
	}
}

func TestExchangeSecret_NoTokenInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	if _, err := c.ExchangeSecret(context.Background(), "s"); err == nil {
		t.Fatal("expected an error for tokenless reply")
	}
}

func TestSessionDetails_TokenInBody(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"created_at": "2026-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithAccessToken("jwt-abc"))
	if _, err := c.SessionDetails(context.Background()); err != nil {
		t.Fatalf("SessionDetails failed: %v", err)
	}
	if gotBody["token"] != "jwt-abc" {
		t.Errorf("body token = %v", gotBody["token"])
	}
}
