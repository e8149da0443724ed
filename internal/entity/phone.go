package entity

import "regexp"

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// IsE164 reports whether phone matches the international format
// required at ingestion (spec.md §8 boundary law).
func IsE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}
