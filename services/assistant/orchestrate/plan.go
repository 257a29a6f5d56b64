// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrate

import "strings"

// apiRequestMarker is the convention a collaborating text-generation step
// uses to hand the pipeline an explicit call.
const apiRequestMarker = "API_REQUEST:"

// ExtractAPIRequest scans text for an "API_REQUEST: METHOD /path" line.
//
// Outputs:
//   - method, path: The parsed directive.
//   - ok: False when no well-formed directive is present.
func ExtractAPIRequest(text string) (method, path string, ok bool) {
	if !strings.Contains(text, apiRequestMarker) {
		return "", "", false
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, apiRequestMarker) {
			continue
		}
		request := strings.TrimSpace(strings.TrimPrefix(line, apiRequestMarker))
		parts := strings.SplitN(request, " ", 2)
		if len(parts) == 2 {
			return parts[0], strings.TrimSpace(parts[1]), true
		}
	}
	return "", "", false
}
