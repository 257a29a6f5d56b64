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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the assistant API under the given router group.
//
// Description:
//
//	Registers all assistant endpoints:
//
//	Pipeline:
//	  POST /assistant/ask           - Run one utterance through the pipeline
//	  GET  /assistant/ask/stream    - Websocket run with stage progress
//	  POST /assistant/map           - Resolve a question without executing
//
//	Catalog:
//	  GET  /assistant/catalog           - List endpoint definitions
//	  POST /assistant/catalog/reload    - Re-read catalog sources
//	  POST /assistant/catalog/generate  - Postman collection to catalog YAML
//
//	Operations:
//	  GET  /assistant/audit    - Recent safety/audit records
//	  GET  /assistant/health   - Liveness
//	  GET  /assistant/ready    - Readiness (catalog loaded)
//
// Inputs:
//   - rg: Parent router group, typically /v1.
//   - handlers: Handlers bound to an assembled Service.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	assistant := rg.Group("/assistant")
	{
		assistant.POST("/ask", handlers.HandleAsk)
		assistant.GET("/ask/stream", handlers.HandleAskStream)
		assistant.POST("/map", handlers.HandleMap)

		assistant.GET("/catalog", handlers.HandleCatalog)
		assistant.POST("/catalog/reload", handlers.HandleReloadCatalog)
		assistant.POST("/catalog/generate", handlers.HandleGenerateCatalog)

		assistant.GET("/audit", handlers.HandleAudit)
		assistant.GET("/health", handlers.HandleHealth)
		assistant.GET("/ready", handlers.HandleReady)
	}
}
