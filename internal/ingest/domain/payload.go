package ingest

import (
	"strconv"
	"strings"
)

// Sample is the canonical form of a raw measurement payload.
type Sample struct {
	State bool
	Value float64
}

var booleanVocabulary = map[string]bool{
	"true":  true,
	"t":     true,
	"y":     true,
	"yes":   true,
	"on":    true,
	"1":     true,
	"false": false,
	"f":     false,
	"n":     false,
	"no":    false,
	"off":   false,
	"0":     false,
}

// Normalize converts a raw textual payload into a (state, value) pair.
// Boolean-like tokens map to (state, 1 or 0); numeric literals map to
// (value != 0, value); anything else falls back to (false, 0) with
// ok=false so the caller can log the malformed payload. Normalize is
// total: it never fails.
func Normalize(raw string) (Sample, bool) {
	token := strings.ToLower(strings.TrimSpace(raw))

	if state, found := booleanVocabulary[token]; found {
		value := 0.0
		if state {
			value = 1.0
		}
		return Sample{State: state, Value: value}, true
	}

	if value, err := strconv.ParseFloat(token, 64); err == nil {
		return Sample{State: value != 0, Value: value}, true
	}

	return Sample{}, false
}
