package core

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// maxSuggestDistance is the largest edit distance still offered as a hint.
const maxSuggestDistance = 3

func canonical(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "-", "_")
}

// closest returns the candidate nearest to in, or "" when none is close enough.
func closest(in string, candidates []string) string {
	best, bestDist := "", maxSuggestDistance+1
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(in, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func parseEnum[T ~string](s string, known []T, sentinel error) (T, error) {
	in := canonical(s)
	names := make([]string, len(known))
	for i, k := range known {
		if string(k) == in {
			return k, nil
		}
		names[i] = string(k)
	}
	if in == "" {
		return "", fmt.Errorf("%w: empty value", sentinel)
	}
	if hint := closest(in, names); hint != "" {
		return "", fmt.Errorf("%w: %q (did you mean %s?)", sentinel, s, hint)
	}
	return "", fmt.Errorf("%w: %q", sentinel, s)
}

// ParseEntryType accepts any casing, e.g. "order" or "Bonus".
func ParseEntryType(s string) (EntryType, error) {
	return parseEnum(s, entryTypes, ErrInvalidType)
}

// ParseApp accepts common spellings such as "uber eats" or "door-dash".
func ParseApp(s string) (App, error) {
	in := strings.ReplaceAll(canonical(s), "_", "")
	if in == "" {
		return OtherApp, nil
	}
	return parseEnum(in, apps, ErrInvalidApp)
}

func ParseCategory(s string) (ExpenseCategory, error) {
	return parseEnum(s, categories, ErrInvalidCategory)
}

func ParseTimeframe(s string) (Timeframe, error) {
	return parseEnum(s, timeframes, ErrInvalidTimeframe)
}
