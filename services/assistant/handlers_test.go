// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/config"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/orchestrate"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080},
		Router:   config.RouterConfig{Backend: "simulator", RatePerSec: 1000, Burst: 1000},
		Safety:   config.SafetyConfig{IdempotencyTTLSeconds: 60, AuditBuffer: 32},
		LLM:      config.LLMConfig{Enabled: false},
		Insights: config.InsightsConfig{Enabled: true},
	}
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	svc, err := NewService(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func newTestRouter(t *testing.T, cfg *config.Config) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, cfg)
	engine := gin.New()
	RegisterRoutes(engine.Group("/v1"), NewHandlers(svc))
	return engine, svc
}

func postJSON(t *testing.T, engine *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, engine *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) orchestrate.Result {
	t.Helper()
	var res orchestrate.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v\n%s", err, rec.Body.String())
	}
	return res
}

func TestHandleAsk_DryRunIsTheDefault(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())

	rec := postJSON(t, engine, "/v1/assistant/ask", AskRequest{Question: "какая цена SBER@MISX"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeResult(t, rec)
	if res.Outcome != orchestrate.OutcomeDryRun {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Message)
	}
	if res.Data["dry_run"] != true {
		t.Errorf("data = %v", res.Data)
	}
}

func TestHandleAsk_LiveExecutionWithInsights(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())

	dry := false
	rec := postJSON(t, engine, "/v1/assistant/ask", AskRequest{Question: "какая цена SBER@MISX", DryRun: &dry})
	res := decodeResult(t, rec)
	if res.Outcome != orchestrate.OutcomeExecuted {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Message)
	}
	if res.Data["symbol"] != "SBER@MISX" {
		t.Errorf("data = %v", res.Data)
	}
	if res.Insights == nil || res.Insights.Symbol != "SBER@MISX" {
		t.Errorf("insights = %+v", res.Insights)
	}
}

func TestHandleAsk_InsightsDisabledByConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Insights.Enabled = false
	engine, _ := newTestRouter(t, cfg)

	dry := false
	rec := postJSON(t, engine, "/v1/assistant/ask", AskRequest{Question: "какая цена SBER@MISX", DryRun: &dry})
	res := decodeResult(t, rec)
	if res.Outcome != orchestrate.OutcomeExecuted {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Message)
	}
	if res.Insights != nil {
		t.Errorf("insights must be disabled: %+v", res.Insights)
	}
}

func TestHandleAsk_MissingQuestion(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())

	rec := postJSON(t, engine, "/v1/assistant/ask", map[string]any{"account_id": "A1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "MISSING_PARAMETER" {
		t.Errorf("code = %q", errResp.Code)
	}
}

func TestHandleAsk_AccountFromRequest(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())

	dry := false
	rec := postJSON(t, engine, "/v1/assistant/ask", AskRequest{
		Question:  "API_REQUEST: GET /v1/accounts/{account_id}/orders",
		AccountID: "A777",
		DryRun:    &dry,
	})
	res := decodeResult(t, rec)
	if res.Outcome != orchestrate.OutcomeExecuted {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Message)
	}
	if res.Path != "/v1/accounts/A777/orders" {
		t.Errorf("path = %q", res.Path)
	}
}

func TestHandleMap_Deterministic(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())

	rec := postJSON(t, engine, "/v1/assistant/map", MapRequest{Question: "какая цена SBER@MISX"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp MapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Method != "GET" || resp.Path != "/v1/instruments/SBER@MISX/quotes/latest" {
		t.Errorf("call = %s %s", resp.Method, resp.Path)
	}
	if resp.Source != "structured" {
		t.Errorf("source = %q", resp.Source)
	}
}

func TestHandleCatalog(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())

	rec := getJSON(t, engine, "/v1/assistant/catalog")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp CatalogResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count == 0 || len(resp.Intents) != resp.Count {
		t.Fatalf("count = %d, intents = %d", resp.Count, len(resp.Intents))
	}
	var quote *CatalogEntry
	for i := range resp.Intents {
		if resp.Intents[i].Intent == "quote" {
			quote = &resp.Intents[i]
		}
	}
	if quote == nil {
		t.Fatal("quote intent missing from catalog listing")
	}
	if quote.Method != "GET" || !strings.Contains(quote.Path, "/quotes/latest") {
		t.Errorf("quote entry = %+v", quote)
	}
}

func TestHandleAudit_RecordsBlockedRun(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())

	dry := false
	postJSON(t, engine, "/v1/assistant/ask", AskRequest{Question: "API_REQUEST: PUT /v1/accounts/A1", DryRun: &dry})

	rec := getJSON(t, engine, "/v1/assistant/audit?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Records []struct {
			Decision string `json:"decision"`
		} `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].Decision != "blocked" {
		t.Errorf("records = %+v", resp.Records)
	}
}

func TestHandleHealthAndReady(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())

	if rec := getJSON(t, engine, "/v1/assistant/health"); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	if rec := getJSON(t, engine, "/v1/assistant/ready"); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}
}

func TestHandleGenerateCatalog_BadCollection(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())

	rec := postJSON(t, engine, "/v1/assistant/catalog/generate", GenerateCatalogRequest{
		CollectionPath: "/nonexistent/collection.json",
		OutputPath:     t.TempDir() + "/out.yaml",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleAskStream(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())
	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/assistant/ask/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(AskRequest{Question: "какая цена SBER@MISX"}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var stages []string
	for {
		var ev StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event (stages so far %v): %v", stages, err)
		}
		switch ev.Type {
		case "stage":
			stages = append(stages, ev.Stage)
		case "result":
			if ev.Result == nil || ev.Result.Outcome != orchestrate.OutcomeDryRun {
				t.Fatalf("result = %+v", ev.Result)
			}
			if strings.Join(stages, ",") != "plan,extract,placeholders,safety" {
				t.Errorf("stages = %v", stages)
			}
			return
		case "error":
			t.Fatalf("stream error: %s", ev.Error)
		}
	}
}

func TestHandleAskStream_RejectsEmptyQuestion(t *testing.T) {
	engine, _ := newTestRouter(t, testConfig())
	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/assistant/ask/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(AskRequest{}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	var ev StreamEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "error" {
		t.Errorf("event = %+v", ev)
	}
}
