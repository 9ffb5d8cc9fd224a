package llm

import (
	"fmt"
	"strings"
)

// ParseReport summarizes what ParseKeys did to a raw credential string.
//
// The counts follow the original filtering order: entries dropped for being
// blank are counted as invalid, entries dropped afterwards for repeating an
// earlier key are counted as duplicates. The two counts never overlap.
type ParseReport struct {
	ProcessedKey      string `json:"processed_key"`
	TotalKeys         int    `json:"total_keys"`
	RemainingKeys     int    `json:"remaining_keys"`
	DuplicatesRemoved int    `json:"duplicates_removed"`
	InvalidKeys       int    `json:"invalid_keys"`
	Message           string `json:"message"`
}

// ParseKeys parses a raw comma-separated credential string into an ordered,
// deduplicated list of API keys. Entries are trimmed; blank entries are
// dropped; for repeated keys the first occurrence wins and insertion order
// is preserved.
//
// ParseKeys never fails: any string produces a (possibly empty) key list and
// a report describing what was removed.
func ParseKeys(raw string) ([]string, ParseReport) {
	parts := strings.Split(raw, ",")

	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}

	seen := make(map[string]struct{}, len(keys))
	unique := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}

	report := ParseReport{
		ProcessedKey:      raw,
		TotalKeys:         len(parts),
		RemainingKeys:     len(unique),
		DuplicatesRemoved: len(keys) - len(unique),
		InvalidKeys:       len(parts) - len(keys),
	}
	report.Message = report.summary()

	return unique, report
}

// summary builds the human-readable parse message. Removed blanks and
// duplicates are mentioned only when nonzero.
func (r ParseReport) summary() string {
	msg := fmt.Sprintf("%d API key(s) configured", r.RemainingKeys)

	var removed []string
	if r.InvalidKeys > 0 {
		removed = append(removed, fmt.Sprintf("%d blank entr(ies) removed", r.InvalidKeys))
	}
	if r.DuplicatesRemoved > 0 {
		removed = append(removed, fmt.Sprintf("%d duplicate(s) removed", r.DuplicatesRemoved))
	}
	if len(removed) > 0 {
		msg += " (" + strings.Join(removed, ", ") + ")"
	}

	return msg
}
