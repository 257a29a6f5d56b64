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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/orchestrate"
)

// =============================================================================
// Websocket Progress Stream
// =============================================================================

// streamWriteTimeout bounds each websocket write so a stalled client cannot
// pin the pipeline goroutine.
const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The assistant UI is served from arbitrary origins in development;
	// token auth happens at the gateway.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StreamEvent is one websocket frame: stage progress while the pipeline
// runs, then exactly one result or error frame.
type StreamEvent struct {
	Type       string              `json:"type"` // stage | result | error
	Stage      string              `json:"stage,omitempty"`
	DurationMS float64             `json:"duration_ms,omitempty"`
	Result     *orchestrate.Result `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// HandleAskStream handles GET /v1/assistant/ask/stream.
//
// Description:
//
//	Upgrades to a websocket, reads one AskRequest frame, and streams a
//	"stage" event after every completed pipeline stage followed by a
//	single "result" frame. The connection serves one run and closes; the
//	per-message overhead of reconnecting is negligible next to a pipeline
//	run and keeps the session state trivial.
//
// Thread Safety: This method is safe for concurrent use. Each connection
// runs its pipeline on its own goroutine; all writes happen on that
// goroutine, which is the serialization gorilla/websocket requires.
func (h *Handlers) HandleAskStream(c *gin.Context) {
	sessionID := uuid.NewString()
	logger := slog.With("session_id", sessionID, "handler", "HandleAskStream")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	var req AskRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeEvent(conn, StreamEvent{Type: "error", Error: "invalid request frame"})
		return
	}
	if req.Question == "" {
		writeEvent(conn, StreamEvent{Type: "error", Error: "question is required"})
		return
	}

	logger.Info("stream run started", slog.String("question", req.Question))

	observer := func(stage string, d time.Duration) {
		writeEvent(conn, StreamEvent{
			Type:       "stage",
			Stage:      stage,
			DurationMS: float64(d) / float64(time.Millisecond),
		})
	}
	res := h.svc.Ask(c.Request.Context(), req.Question, req.context(), observer)

	writeEvent(conn, StreamEvent{Type: "result", Result: &res})
	logger.Info("stream run finished", slog.String("outcome", string(res.Outcome)))

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(streamWriteTimeout),
	)
}

func writeEvent(conn *websocket.Conn, ev StreamEvent) {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		slog.Debug("assistant: stream write failed", slog.String("error", err.Error()))
	}
}
