// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"context"
	"net/url"

	"github.com/aeshef/Finam-AI-Chat/services/assistant/finam"
)

// HTTPBackend dispatches to the live Finam TradeAPI through the finam
// client.
//
// Thread Safety: Safe for concurrent use.
type HTTPBackend struct {
	client *finam.Client
}

// NewHTTPBackend wraps the given API client.
func NewHTTPBackend(client *finam.Client) *HTTPBackend {
	return &HTTPBackend{client: client}
}

// Name implements Backend.
func (b *HTTPBackend) Name() string { return "http" }

// Execute implements Backend.
func (b *HTTPBackend) Execute(ctx context.Context, method, path string, query url.Values, body map[string]any) (Response, error) {
	res, err := b.client.Execute(ctx, method, path, query, body)
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: res.StatusCode, Data: res.Data}, nil
}
