// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"regexp"
	"unicode/utf8"
)

// RedactedValue replaces secret values in command output.
const RedactedValue = "[REDACTED]"

// secretAssignment matches "<name>password|token|key<sep><value>" where the
// separator is ':' or '=' with optional surrounding whitespace and the value
// runs to the next whitespace, quote or comma.
var secretAssignment = regexp.MustCompile(`(?i)\b([a-z0-9_.-]*(?:password|passwd|token|secret|key))(\s*[:=]\s*)(?:"[^"]*"|'[^']*'|[^\s,;"']+)`)

// SanitizeOutput redacts secret-looking assignments in process output before
// it is logged, stored or transmitted.
func SanitizeOutput(s string) string {
	if s == "" {
		return s
	}
	return secretAssignment.ReplaceAllString(s, "${1}${2}"+RedactedValue)
}

// Clip shortens s to at most max bytes without splitting a UTF-8 sequence.
func Clip(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
