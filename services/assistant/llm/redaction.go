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
	"regexp"
)

// redactionPattern pairs a compiled regex with a labeled replacement so the
// reader knows what class of secret was removed without seeing its value.
type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// redactionPatterns is ordered: more specific patterns first, so a broker
// JWT is labeled as such instead of falling through to the generic bearer
// rule.
var redactionPatterns = []redactionPattern{
	// Finam-style JWT in an Authorization value or free text.
	{
		Pattern:     regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:jwt]",
	},
	// OpenRouter / OpenAI API key.
	{
		Pattern:     regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:api_key]",
	},
	// Bearer token in Authorization header values.
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	// Secret in query or config assignments.
	{
		Pattern:     regexp.MustCompile(`secret=[^\s&"]{6,}`),
		Replacement: "secret=[REDACTED]",
	},
}

// Redact replaces every recognized secret in s with a labeled placeholder.
// Applied to every model reply before it reaches callers, caches, or logs.
func Redact(s string) string {
	for _, rp := range redactionPatterns {
		s = rp.Pattern.ReplaceAllString(s, rp.Replacement)
	}
	return s
}
