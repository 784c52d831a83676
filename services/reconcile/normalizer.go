// Package reconcile implements the entity resolution and import
// reconciliation engine: title matching, field protection and the
// create/update/ambiguous/reject decision for incoming records.
package reconcile

import (
	"encoding/json"
	"strings"

	"shelfr/utils/similarity"
)

// ExtractAlternativeTitles parses a raw alternative-titles value. If the
// value is a JSON array it is used as-is; otherwise it is split on the
// app-level delimiters `;`, `,` and `|`. Parts are trimmed and empties
// dropped. Malformed JSON silently falls back to the delimiter split;
// this function never fails.
func ExtractAlternativeTitles(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return dropEmpty(parsed)
	}

	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ',' || r == '|'
	})
	return dropEmpty(parts)
}

func dropEmpty(titles []string) []string {
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeSet normalizes every title into a deduplicated candidate set,
// excluding titles that normalize to the empty string. An empty result means
// the caller has nothing to match on and must not degrade to match-everything.
func normalizeSet(titles []string) map[string]string {
	set := make(map[string]string, len(titles))
	for _, t := range titles {
		key := similarity.Normalize(t)
		if key == "" {
			continue
		}
		if _, seen := set[key]; !seen {
			set[key] = t
		}
	}
	return set
}
