package util

import "strings"

// NormalizePhone strips whitespace and common separators. The value is expected
// to already carry a country code (e.g. +919876543210).
func NormalizePhone(p string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(p))
}
