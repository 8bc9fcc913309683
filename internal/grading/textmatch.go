package grading

import "strings"

// foldText is the short_text comparison form: surrounding whitespace
// trimmed, lower-cased. Inner whitespace and punctuation are significant.
func foldText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// trimNumeric is the numeric comparison form. Values are compared as
// strings, so "4" and "4.0" differ.
func trimNumeric(s string) string {
	return strings.TrimSpace(s)
}
