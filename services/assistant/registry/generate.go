// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Catalog Generation (Postman collection -> catalog YAML)
//
// The broker publishes its API as a Postman collection. GenerateFromPostman
// converts it into a catalog file loadable via WithExtraCatalogs, so new
// endpoints become classifiable without hand-editing the default catalog.
// Generated entries carry no synonyms or keywords: they extend classification
// and resolution, not deterministic extraction.
// =============================================================================

// postmanCollection is the subset of the Postman v2.1 schema we read.
type postmanCollection struct {
	Info struct {
		Name string `json:"name"`
	} `json:"info"`
	Item []postmanItem `json:"item"`
}

// postmanItem is either a folder (nested Item) or a request leaf.
type postmanItem struct {
	Name    string          `json:"name"`
	Item    []postmanItem   `json:"item"`
	Request *postmanRequest `json:"request"`
}

type postmanRequest struct {
	Method string `json:"method"`
	URL    struct {
		Raw   string   `json:"raw"`
		Path  []string `json:"path"`
		Query []struct {
			Key      string `json:"key"`
			Value    string `json:"value"`
			Disabled bool   `json:"disabled"`
		} `json:"query"`
	} `json:"url"`
}

// GenerateFromPostman converts a Postman collection into catalog definitions.
//
// Description:
//
//	Walks every request leaf, converts {{var}} segments into {var}
//	placeholders, derives an intent name from the path shape and method,
//	and carries enabled query parameters over as optional placeholders.
//	Duplicate intent names get a numeric suffix so the output is loadable.
//
// Outputs:
//   - []Definition: One entry per request leaf, in collection order.
//   - error: Non-nil when the collection JSON cannot be parsed.
func GenerateFromPostman(raw []byte) ([]Definition, error) {
	var col postmanCollection
	if err := json.Unmarshal(raw, &col); err != nil {
		return nil, fmt.Errorf("registry: parse postman collection: %w", err)
	}

	var defs []Definition
	seen := make(map[string]int)
	var walk func(items []postmanItem)
	walk = func(items []postmanItem) {
		for _, item := range items {
			if len(item.Item) > 0 {
				walk(item.Item)
				continue
			}
			if item.Request == nil {
				continue
			}
			def, ok := itemToDefinition(item)
			if !ok {
				continue
			}
			if n := seen[def.Intent]; n > 0 {
				seen[def.Intent] = n + 1
				def.Intent = fmt.Sprintf("%s_%d", def.Intent, n+1)
			} else {
				seen[def.Intent] = 1
			}
			defs = append(defs, def)
		}
	}
	walk(col.Item)
	return defs, nil
}

// GenerateCatalogFile converts a Postman collection file into a catalog YAML
// file at outPath, suitable for RegistryConfig.ExtraCatalogs.
func GenerateCatalogFile(collectionPath, outPath string) (int, error) {
	raw, err := os.ReadFile(collectionPath)
	if err != nil {
		return 0, fmt.Errorf("registry: read %q: %w", collectionPath, err)
	}
	defs, err := GenerateFromPostman(raw)
	if err != nil {
		return 0, err
	}
	out, err := yaml.Marshal(catalogFile{Endpoints: defs})
	if err != nil {
		return 0, fmt.Errorf("registry: marshal catalog: %w", err)
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return 0, fmt.Errorf("registry: write %q: %w", outPath, err)
	}
	return len(defs), nil
}

func itemToDefinition(item postmanItem) (Definition, bool) {
	req := item.Request
	method := strings.ToUpper(req.Method)
	if method == "" {
		return Definition{}, false
	}

	segments := req.URL.Path
	if len(segments) == 0 {
		// fall back to the raw URL, stripped of scheme/host and query
		rawPath := req.URL.Raw
		if i := strings.Index(rawPath, "://"); i >= 0 {
			rawPath = rawPath[i+3:]
			if j := strings.IndexByte(rawPath, '/'); j >= 0 {
				rawPath = rawPath[j:]
			}
		}
		if i := strings.IndexByte(rawPath, '?'); i >= 0 {
			rawPath = rawPath[:i]
		}
		segments = strings.Split(strings.Trim(rawPath, "/"), "/")
	}
	if len(segments) == 0 || segments[0] == "" {
		return Definition{}, false
	}

	path := "/" + strings.Join(convertSegments(segments), "/")

	def := Definition{
		Intent: inferIntent(method, segments),
		Method: method,
		Path:   path,
	}
	for _, q := range req.URL.Query {
		if q.Disabled || q.Key == "" {
			continue
		}
		field := strings.Map(sanitizeRune, strings.ToLower(q.Key))
		def.Params.names = append(def.Params.names, q.Key)
		if def.Params.values == nil {
			def.Params.values = make(map[string]string)
		}
		def.Params.values[q.Key] = "{" + field + "?}"
	}
	return def, true
}

// convertSegments maps {{var}} Postman variables and :var path params to
// catalog {var} placeholders.
func convertSegments(segments []string) []string {
	out := make([]string, len(segments))
	for i, seg := range segments {
		switch {
		case strings.HasPrefix(seg, "{{") && strings.HasSuffix(seg, "}}"):
			out[i] = "{" + strings.Map(sanitizeRune, strings.ToLower(seg[2:len(seg)-2])) + "}"
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			out[i] = "{" + strings.Map(sanitizeRune, strings.ToLower(seg[1:])) + "}"
		default:
			out[i] = seg
		}
	}
	return out
}

// inferIntent derives a stable intent name from the literal path segments
// plus a method suffix for non-GET verbs: GET /v1/assets/{symbol}/params
// becomes "assets_params", DELETE .../orders/{order_id} "orders_delete".
func inferIntent(method string, segments []string) string {
	var parts []string
	for _, seg := range segments {
		if strings.HasPrefix(seg, "{{") || strings.HasPrefix(seg, ":") || strings.HasPrefix(seg, "{") {
			continue
		}
		if isVersionSegment(seg) {
			continue
		}
		parts = append(parts, strings.Map(sanitizeRune, strings.ToLower(seg)))
	}
	if len(parts) == 0 {
		parts = []string{"root"}
	}
	name := strings.Join(parts, "_")
	switch method {
	case "GET":
		return name
	default:
		return name + "_" + strings.ToLower(method)
	}
}

func isVersionSegment(seg string) bool {
	if len(seg) < 2 || (seg[0] != 'v' && seg[0] != 'V') {
		return false
	}
	for _, c := range seg[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func sanitizeRune(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
		return r
	case r == '-' || r == '.' || r == ' ':
		return '_'
	default:
		return -1
	}
}
