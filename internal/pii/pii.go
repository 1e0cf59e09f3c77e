// Package pii masks personally identifiable information in free text before it
// leaves the service boundary. Masking keeps the first and last character of a
// match so transcripts stay debuggable without exposing the full value.
package pii

import "regexp"

// Masking rules, applied in order. Later rules never re-expose text masked by
// earlier ones: an X run is not a digit run, and a PAN-shaped token that has
// already been masked rewrites to itself.
var maskRules = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	// 12-digit identifiers (Aadhaar-like)
	{regexp.MustCompile(`\b(\d)\d{10}(\d)\b`), "${1}XXXXXXXXXX${2}"},
	// 10-digit identifiers (mobile numbers)
	{regexp.MustCompile(`\b(\d)\d{8}(\d)\b`), "${1}XXXXXXXX${2}"},
	// 10-character alphanumeric identifiers starting with a letter (PAN-like)
	{regexp.MustCompile(`\b([A-Za-z])[A-Za-z0-9]{8}([A-Za-z0-9])\b`), "${1}XXXXXXXX${2}"},
}

// Mask replaces sensitive identifiers in text with partially redacted forms.
// The operation is idempotent: masking already-masked text returns it unchanged.
func Mask(text string) string {
	for _, rule := range maskRules {
		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}
	return text
}
