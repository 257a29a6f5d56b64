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
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Placeholder Templates
//
// Catalog templates use single-brace placeholders: {field} is required,
// {field?} is optional. text/template cannot express this syntax, so the
// walk below is bespoke and shared by resolve, classify, and slot listing.
// =============================================================================

// placeholder is one parsed {field} or {field?} token.
type placeholder struct {
	field    string
	optional bool
}

// extractPlaceholders returns every placeholder in s, in order of appearance.
// Unterminated braces end the scan; the remainder is treated as literal text.
func extractPlaceholders(s string) []placeholder {
	var out []placeholder
	for i := 0; i < len(s); {
		if s[i] != '{' {
			i++
			continue
		}
		j := strings.IndexByte(s[i+1:], '}')
		if j < 0 {
			break
		}
		out = append(out, parsePlaceholder(s[i+1:i+1+j]))
		i += j + 2
	}
	return out
}

// parsePlaceholder splits "field" / "field?" into name and optionality.
func parsePlaceholder(seg string) placeholder {
	if strings.HasSuffix(seg, "?") {
		return placeholder{field: strings.TrimSuffix(seg, "?"), optional: true}
	}
	return placeholder{field: seg}
}

// substitutePath replaces every placeholder in template with the matching
// value from fields. A missing or empty value is a hard error — emitting a
// literal "{field}" downstream would produce a nonsense API call.
func substitutePath(template string, fields map[string]string) (string, error) {
	out := template
	for _, ph := range extractPlaceholders(template) {
		val, ok := fields[ph.field]
		if !ok || val == "" {
			return "", fmt.Errorf("%w: %s (path template %q)", ErrMissingField, ph.field, template)
		}
		token := "{" + ph.field + "}"
		if ph.optional {
			token = "{" + ph.field + "?}"
		}
		out = strings.ReplaceAll(out, token, val)
	}
	return out, nil
}

// templateValue evaluates one query-parameter template against fields.
// Returns ("", false) when the placeholder's field is absent — optional
// placeholders are simply omitted, and required ones are reported by the
// caller via RequiredSlots, not here. Literal templates pass through as-is.
func templateValue(template string, fields map[string]string) (string, bool) {
	if !strings.HasPrefix(template, "{") || !strings.HasSuffix(template, "}") {
		return template, template != ""
	}
	ph := parsePlaceholder(template[1 : len(template)-1])
	val, ok := fields[ph.field]
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

// templateToRegex converts a path template into an anchored matcher:
// each placeholder matches exactly one path segment, literals match
// verbatim, and an optional trailing query string is allowed.
//
// Example: /v1/instruments/{symbol}/bars -> ^/v1/instruments/[^/]+/bars(?:\?.*)?$
func templateToRegex(template string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(template); {
		if template[i] == '{' {
			j := strings.IndexByte(template[i+1:], '}')
			if j < 0 {
				// unmatched brace: escape the rest as a literal
				b.WriteString(regexp.QuoteMeta(template[i:]))
				break
			}
			b.WriteString("[^/]+")
			i += j + 2
			continue
		}
		k := strings.IndexByte(template[i:], '{')
		if k < 0 {
			b.WriteString(regexp.QuoteMeta(template[i:]))
			break
		}
		b.WriteString(regexp.QuoteMeta(template[i : i+k]))
		i += k
	}
	b.WriteString(`(?:\?.*)?$`)
	return regexp.Compile(b.String())
}
