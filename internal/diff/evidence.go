package diff

import (
	"regexp"
	"sort"
)

// evidenceVocabulary is the closed per-section key vocabulary. An empty
// list means the section takes no keys. Headers has no entry here: its keys
// are checked against headerKeyPattern instead of a fixed list.
var evidenceVocabulary = map[Section][]string{
	SectionProbe:     {"left", "right"},
	SectionStatus:    {},
	SectionFinalURL:  {"scheme", "host", "path", "query", "finalUrl"},
	SectionRedirects: {"hopCount", "chain", "finalHost"},
	SectionContent:   {"content-type", "content-length", "body-hash"},
	SectionTiming:    {"duration_ms"},
	SectionCf:        {"colo", "asn", "country"},
}

var headerKeyPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidateEvidence reports whether ev's keys are sorted, duplicate-free, and
// drawn from the closed vocabulary for ev.Section (or match the header key
// pattern, for SectionHeaders).
func ValidateEvidence(ev Evidence) bool {
	if !sort.StringsAreSorted(ev.Keys) {
		return false
	}
	seen := make(map[string]struct{}, len(ev.Keys))
	for _, k := range ev.Keys {
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
	}

	if ev.Section == SectionHeaders {
		for _, k := range ev.Keys {
			if !headerKeyPattern.MatchString(k) {
				return false
			}
		}
		return true
	}

	allowed, known := evidenceVocabulary[ev.Section]
	if !known {
		return false
	}
	if len(allowed) == 0 {
		return len(ev.Keys) == 0
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}
	for _, k := range ev.Keys {
		if _, ok := allowedSet[k]; !ok {
			return false
		}
	}
	return true
}

// sortedKeys returns a sorted copy of keys with duplicates removed, used by
// every finding constructor so evidence always satisfies ValidateEvidence.
func sortedKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	cp := append([]string(nil), keys...)
	sort.Strings(cp)
	out := cp[:0]
	var prev string
	for i, k := range cp {
		if i == 0 || k != prev {
			out = append(out, k)
		}
		prev = k
	}
	return out
}
