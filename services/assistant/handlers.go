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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/extract"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/orchestrate"
	"github.com/aeshef/Finam-AI-Chat/services/assistant/registry"
)

// =============================================================================
// Request/Response Types
// =============================================================================

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// AskRequest is the body of POST /v1/assistant/ask and the first message on
// the websocket stream.
type AskRequest struct {
	// Question is the free-text user utterance.
	Question string `json:"question" binding:"required"`

	// AccountID fills {account_id} placeholders in resolved paths.
	AccountID string `json:"account_id"`

	// DryRun stops before execution. Omitted means true: live execution is
	// always an explicit opt-in.
	DryRun *bool `json:"dry_run"`

	// Confirm acknowledges a previous needs_confirm result.
	Confirm bool `json:"confirm"`
}

// context converts the wire request into pipeline context.
func (r AskRequest) context() orchestrate.Context {
	octx := orchestrate.NewContext()
	if r.DryRun != nil {
		octx.DryRun = *r.DryRun
	}
	octx.AccountID = r.AccountID
	octx.Confirm = r.Confirm
	return octx
}

// MapRequest is the body of POST /v1/assistant/map.
type MapRequest struct {
	Question  string `json:"question" binding:"required"`
	AccountID string `json:"account_id"`
}

// MapResponse names the resolved API call and which layer produced it.
type MapResponse struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Source string `json:"source"` // structured | llm | fallback
}

// CatalogEntry is one endpoint definition in the catalog listing.
type CatalogEntry struct {
	Intent        string   `json:"intent"`
	Method        string   `json:"method"`
	Path          string   `json:"path"`
	RequiredSlots []string `json:"required_slots,omitempty"`
	QueryParams   []string `json:"query_params,omitempty"`
}

// CatalogResponse is the full catalog listing.
type CatalogResponse struct {
	Count   int            `json:"count"`
	Intents []CatalogEntry `json:"intents"`
}

// GenerateCatalogRequest is the body of POST /v1/assistant/catalog/generate.
type GenerateCatalogRequest struct {
	// CollectionPath is a Postman collection JSON on the server filesystem.
	CollectionPath string `json:"collection_path" binding:"required"`

	// OutputPath is where the generated catalog YAML is written.
	OutputPath string `json:"output_path" binding:"required"`
}

// GenerateCatalogResponse reports how many definitions were written.
type GenerateCatalogResponse struct {
	Written int    `json:"written"`
	Path    string `json:"path"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers binds the assembled Service to gin routes.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers backed by svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the client's X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleAsk handles POST /v1/assistant/ask.
//
// Description:
//
//	Runs one utterance through the full pipeline and returns the terminal
//	Result. Every outcome — disambiguation, blocked, needs_confirm,
//	dry_run, executed, error — is a 200 with the outcome discriminated in
//	the body; only malformed requests produce an HTTP error status.
//
// Request Body:
//
//	AskRequest (question required; dry_run defaults to true)
//
// Response:
//
//	200 OK: orchestrate.Result
//	400 Bad Request: Missing question
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleAsk(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAsk")

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "question is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	res := h.svc.Ask(c.Request.Context(), req.Question, req.context(), nil)

	logger.Info("pipeline run",
		slog.String("outcome", string(res.Outcome)),
		slog.String("api_method", res.Method),
		slog.String("api_path", res.Path),
	)

	c.JSON(http.StatusOK, res)
}

// HandleMap handles POST /v1/assistant/map.
//
// Description:
//
//	Resolves a question to an API call without executing it — the
//	inspection surface for prompt and extraction debugging. Source
//	reports which layer won: "structured", "llm", or "fallback".
//
// Response:
//
//	200 OK: MapResponse
//	400 Bad Request: Missing question
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleMap(c *gin.Context) {
	var req MapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "question is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	method, path, source := h.svc.MapQuestion(c.Request.Context(), req.Question, extract.Hints{AccountID: req.AccountID})
	c.JSON(http.StatusOK, MapResponse{Method: method, Path: path, Source: source})
}

// HandleAudit handles GET /v1/assistant/audit.
//
// Query Parameters:
//
//	limit: Maximum records, newest first, default 50 (optional)
//
// Response:
//
//	200 OK: {"records": [...safety.Record]}
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleAudit(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"records": h.svc.RecentAudit(limit)})
}

// HandleCatalog handles GET /v1/assistant/catalog.
//
// Response:
//
//	200 OK: CatalogResponse
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleCatalog(c *gin.Context) {
	items := h.svc.CatalogItems()
	resp := CatalogResponse{Count: len(items), Intents: make([]CatalogEntry, 0, len(items))}
	for _, def := range items {
		resp.Intents = append(resp.Intents, CatalogEntry{
			Intent:        def.Intent,
			Method:        def.Method,
			Path:          def.Path,
			RequiredSlots: h.svc.reg.RequiredSlots(def.Intent),
			QueryParams:   def.Params.Names(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// HandleReloadCatalog handles POST /v1/assistant/catalog/reload.
//
// Response:
//
//	200 OK: {"reloaded": true, "count": N}
//	500 Internal Server Error: Catalog re-read failed; the previous
//	catalog stays active.
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleReloadCatalog(c *gin.Context) {
	if err := h.svc.ReloadCatalog(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "catalog reload failed: " + err.Error(),
			Code:  "RELOAD_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": true, "count": len(h.svc.CatalogItems())})
}

// HandleGenerateCatalog handles POST /v1/assistant/catalog/generate.
//
// Description:
//
//	Converts a Postman collection into catalog YAML on the server
//	filesystem. The generated file is not activated; point
//	extra_catalogs at it and reload.
//
// Response:
//
//	200 OK: GenerateCatalogResponse
//	400 Bad Request: Missing paths
//	422 Unprocessable Entity: Collection could not be parsed
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleGenerateCatalog(c *gin.Context) {
	var req GenerateCatalogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "collection_path and output_path are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	n, err := registry.GenerateCatalogFile(req.CollectionPath, req.OutputPath)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: "catalog generation failed: " + err.Error(),
			Code:  "GENERATE_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, GenerateCatalogResponse{Written: n, Path: req.OutputPath})
}

// HandleHealth handles GET /v1/assistant/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/assistant/ready. Ready means the catalog
// resolved at least one intent.
func (h *Handlers) HandleReady(c *gin.Context) {
	if len(h.svc.CatalogItems()) == 0 {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "catalog is empty",
			Code:  "NOT_READY",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
