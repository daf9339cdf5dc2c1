// Package stattransport queries the data plane's statistics interface over
// two interchangeable transports (HTTP JSON, CLI sub-process), remembering
// which one last succeeded so the hot path does not pay for a doomed first
// attempt every call.
package stattransport

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Result is the outcome of a single stat query.
type Result struct {
	Value uint64
	Found bool
}

// Transport performs a single stat query against one concrete channel (HTTP
// or CLI). Both HTTPTransport and CLITransport implement it.
type Transport interface {
	Name() string
	QueryStat(ctx context.Context, pattern string, reset bool) (Result, error)
}

var valueFallback = regexp.MustCompile(`value\s*:\s*([0-9]+)`)

// parseNumeric implements the spec's lenient numeric coercion: accepts a
// number, a numeric string, or a bigint-shaped string; anything else, or a
// negative/non-finite value, normalizes to zero.
func parseNumeric(raw any) uint64 {
	switch v := raw.(type) {
	case float64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case string:
		s := strings.TrimSpace(v)
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// parseTextFallback extracts a value from a non-JSON stdout blob using the
// relaxed `value: <digits>` grammar CLI tools sometimes emit on error paths.
func parseTextFallback(text string) (uint64, bool) {
	m := valueFallback.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
