package runner

import (
	"fmt"
	"strings"
)

// CompareMode selects how program output is matched against the expected output.
type CompareMode string

const (
	// CompareExact normalizes line endings and trims surrounding whitespace.
	CompareExact CompareMode = "exact"
	// CompareTokens compares whitespace separated tokens.
	CompareTokens CompareMode = "tokens"
)

// ParseCompareMode validates a configured mode. Empty selects CompareExact.
func ParseCompareMode(s string) (CompareMode, error) {
	switch CompareMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", CompareExact:
		return CompareExact, nil
	case CompareTokens:
		return CompareTokens, nil
	}
	return "", fmt.Errorf("unknown compare mode %q", s)
}

func outputsMatch(mode CompareMode, actual, expected string) bool {
	if mode == CompareTokens {
		a := strings.Fields(actual)
		e := strings.Fields(expected)
		if len(a) != len(e) {
			return false
		}
		for i := range a {
			if a[i] != e[i] {
				return false
			}
		}
		return true
	}
	return normalizeOutput(actual) == normalizeOutput(expected)
}

func normalizeOutput(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
