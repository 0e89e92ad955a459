package diff

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
)

// Classify runs the rule table against a computed EnvDiff, in the
// documented order, and returns the sorted, deduplicated finding list.
// left/right are the source envelopes, needed for header lookups the
// EnvDiff sections don't carry verbatim (e.g. raw cache-control values).
// A finding whose evidence falls outside the closed vocabulary fails the
// whole classification: that is a rule-table bug, not user error.
func Classify(d EnvDiff, left, right types.SignalEnvelope) ([]Finding, error) {
	if !d.Probe.ResponsePresent {
		findings := []Finding{probeFailureFinding(d.Probe, left, right)}
		if err := validateFindings(findings); err != nil {
			return nil, err
		}
		return findings, nil
	}

	var findings []Finding
	claimed := map[string]struct{}{} // lowercased header names already explained by a more specific rule

	if f, ok := statusMismatch(d); ok {
		findings = append(findings, f)
	}
	if f, ok := finalURLMismatch(d); ok {
		findings = append(findings, f)
	}
	if f, ok := redirectChainChanged(d); ok {
		findings = append(findings, f)
	}

	leftResp, _ := types.ResponseOf(left.Result)
	rightResp, _ := types.ResponseOf(right.Result)

	claimed["www-authenticate"] = struct{}{}
	if f, ok := authChallengePresent(leftResp, rightResp); ok {
		findings = append(findings, f)
	}
	if f, ok := corsHeaderDrift(d); ok {
		findings = append(findings, f)
		if d.Headers != nil && d.Headers.AccessControl != nil {
			for k := range d.Headers.AccessControl.Changed {
				claimed[k] = struct{}{}
			}
			for k := range d.Headers.AccessControl.Added {
				claimed[k] = struct{}{}
			}
			for k := range d.Headers.AccessControl.Removed {
				claimed[k] = struct{}{}
			}
		}
	}
	if f, ok := cacheHeaderDrift(leftResp, rightResp); ok {
		findings = append(findings, f)
	}
	claimed["cache-control"] = struct{}{}
	if f, ok := varyDrift(leftResp, rightResp); ok {
		findings = append(findings, f)
	}
	claimed["vary"] = struct{}{}
	if f, ok := contentTypeDrift(d); ok {
		findings = append(findings, f)
	}
	claimed["content-type"] = struct{}{}
	if f, ok := bodyHashDrift(d); ok {
		findings = append(findings, f)
	}
	if f, ok := contentLengthDrift(d); ok {
		findings = append(findings, f)
	}

	timingEmitted := false
	if f, ok := timingDrift(d); ok {
		findings = append(findings, f)
		timingEmitted = true
	}
	if f, ok := cfContextDrift(d, timingEmitted); ok {
		findings = append(findings, f)
	}

	if f, ok := unknownHeaderDrift(d, claimed); ok {
		findings = append(findings, f)
	}

	findings = dedupe(findings)
	if err := validateFindings(findings); err != nil {
		return nil, err
	}
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank[findings[i].Severity] < severityRank[findings[j].Severity]
		}
		if findings[i].Code != findings[j].Code {
			return findings[i].Code < findings[j].Code
		}
		return findings[i].Message < findings[j].Message
	})
	return findings, nil
}

// validateFindings checks every finding's evidence against the closed
// per-section vocabulary.
func validateFindings(findings []Finding) error {
	for _, f := range findings {
		for _, ev := range f.Evidence {
			if !ValidateEvidence(ev) {
				return fmt.Errorf("finding %s carries evidence outside the %s vocabulary: %v", f.ID, ev.Section, ev.Keys)
			}
		}
	}
	return nil
}

func findingID(code Code, section Section, keys []string) string {
	return string(code) + ":" + string(section) + ":" + strings.Join(keys, ",")
}

func probeFailureFinding(p ProbeOutcomeDiff, left, right types.SignalEnvelope) Finding {
	// The failing side is the one carrying a network error code; a 4xx/5xx
	// on the other side is still a response, not a failure.
	var keys []string
	if p.LeftErrorCode != nil && p.RightErrorCode == nil {
		keys = []string{"left"}
	} else if p.RightErrorCode != nil && p.LeftErrorCode == nil {
		keys = []string{"right"}
	}
	ev := Evidence{Section: SectionProbe, Keys: sortedKeys(keys)}
	return Finding{
		ID:         findingID(CodeProbeFailure, SectionProbe, ev.Keys),
		Code:       CodeProbeFailure,
		Category:   CategoryUnknown,
		Severity:   SeverityCritical,
		Message:    "probe failed to obtain a response on at least one side",
		Evidence:   []Evidence{ev},
		LeftValue:  sideOutcomeValue(left.Result),
		RightValue: sideOutcomeValue(right.Result),
	}
}

// sideOutcomeValue renders one side's outcome for a PROBE_FAILURE finding's
// left_value/right_value: the error code string for a NetworkFailure, or
// the HTTP status for a response-bearing outcome.
func sideOutcomeValue(result types.ProbeResult) string {
	if err, ok := types.AsNetworkFailure(result); ok {
		return string(err.Code)
	}
	if resp, ok := types.ResponseOf(result); ok {
		return strconv.Itoa(resp.Status)
	}
	return ""
}

// A1/A2 are handled by Classify's early return via probeFailureFinding.

func statusMismatch(d EnvDiff) (Finding, bool) {
	if d.Status == nil || !d.Status.Changed {
		return Finding{}, false
	}
	severity := statusSeverity(d.Status.Left, d.Status.Right)
	ev := Evidence{Section: SectionStatus}
	return Finding{
		ID:         findingID(CodeStatusMismatch, SectionStatus, nil),
		Code:       CodeStatusMismatch,
		Category:   CategoryRouting,
		Severity:   severity,
		Message:    "response status differs between sides",
		Evidence:   []Evidence{ev},
		LeftValue:  strconv.Itoa(d.Status.Left),
		RightValue: strconv.Itoa(d.Status.Right),
	}, true
}

func statusSeverity(left, right int) Severity {
	leftClass, rightClass := left/100, right/100
	if leftClass == 3 && rightClass != 3 || rightClass == 3 && leftClass != 3 {
		return SeverityCritical
	}
	if (leftClass == 2 && rightClass == 4) || (leftClass == 4 && rightClass == 2) ||
		(leftClass == 2 && rightClass == 5) || (leftClass == 5 && rightClass == 2) {
		return SeverityCritical
	}
	return SeverityWarn
}

func finalURLMismatch(d EnvDiff) (Finding, bool) {
	if d.FinalURL == nil || !d.FinalURL.Changed {
		return Finding{}, false
	}
	l := decomposeURL(d.FinalURL.Left)
	r := decomposeURL(d.FinalURL.Right)

	var keys []string
	severity := SeverityInfo
	switch {
	case l.host != r.host:
		severity = SeverityCritical
		keys = []string{"host"}
	case l.scheme != r.scheme:
		severity = SeverityInfo
		keys = []string{"scheme"}
	case l.path != r.path || l.query != r.query:
		severity = SeverityWarn
		if l.path != r.path {
			keys = append(keys, "path")
		}
		if l.query != r.query {
			keys = append(keys, "query")
		}
	default:
		severity = SeverityInfo
	}
	keys = append(keys, "finalUrl")
	ev := Evidence{Section: SectionFinalURL, Keys: sortedKeys(keys)}
	return Finding{
		ID:         findingID(CodeFinalURLMismatch, SectionFinalURL, ev.Keys),
		Code:       CodeFinalURLMismatch,
		Category:   CategoryRouting,
		Severity:   severity,
		Message:    "final URL differs between sides",
		Evidence:   []Evidence{ev},
		LeftValue:  d.FinalURL.Left,
		RightValue: d.FinalURL.Right,
	}, true
}

func redirectChainChanged(d EnvDiff) (Finding, bool) {
	if d.Redirects == nil || (!d.Redirects.ChainChanged && !d.Redirects.HopCount.Changed) {
		return Finding{}, false
	}
	severity := SeverityWarn
	if d.FinalURL != nil {
		l := decomposeURL(d.FinalURL.Left)
		r := decomposeURL(d.FinalURL.Right)
		if l.host != r.host {
			severity = SeverityCritical
		}
	}
	keys := []string{"hopCount"}
	if d.Redirects.ChainChanged {
		keys = append(keys, "chain")
	}
	ev := Evidence{Section: SectionRedirects, Keys: sortedKeys(keys)}
	return Finding{
		ID:         findingID(CodeRedirectChainChanged, SectionRedirects, ev.Keys),
		Code:       CodeRedirectChainChanged,
		Category:   CategoryRouting,
		Severity:   severity,
		Message:    "redirect chain differs between sides",
		Evidence:   []Evidence{ev},
		LeftValue:  strconv.Itoa(d.Redirects.HopCount.Left),
		RightValue: strconv.Itoa(d.Redirects.HopCount.Right),
	}, true
}

func authChallengePresent(left, right types.ResponseMetadata) (Finding, bool) {
	_, lok := left.HeadersCore["www-authenticate"]
	_, rok := right.HeadersCore["www-authenticate"]
	if !lok && !rok {
		return Finding{}, false
	}
	if lok == rok && left.HeadersCore["www-authenticate"] == right.HeadersCore["www-authenticate"] {
		return Finding{}, false
	}
	severity := SeverityCritical
	if lok && rok {
		severity = SeverityWarn
	}
	ev := Evidence{Section: SectionHeaders, Keys: []string{"www-authenticate"}}
	return Finding{
		ID:       findingID(CodeAuthChallengePresent, SectionHeaders, ev.Keys),
		Code:     CodeAuthChallengePresent,
		Category: CategorySecurity,
		Severity: severity,
		Message:  "www-authenticate challenge differs between sides",
		Evidence: []Evidence{ev},
	}, true
}

func corsHeaderDrift(d EnvDiff) (Finding, bool) {
	if d.Headers == nil || d.Headers.AccessControl == nil || d.Headers.AccessControl.IsEmpty() {
		return Finding{}, false
	}
	ac := d.Headers.AccessControl
	var keys []string
	for k := range ac.Added {
		keys = append(keys, k)
	}
	for k := range ac.Removed {
		keys = append(keys, k)
	}
	for k := range ac.Changed {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return Finding{}, false
	}
	severity := SeverityWarn
	for _, k := range keys {
		if k == "access-control-allow-origin" {
			severity = SeverityCritical
			break
		}
	}
	ev := Evidence{Section: SectionHeaders, Keys: sortedKeys(keys)}
	return Finding{
		ID:       findingID(CodeCORSHeaderDrift, SectionHeaders, ev.Keys),
		Code:     CodeCORSHeaderDrift,
		Category: CategorySecurity,
		Severity: severity,
		Message:  "access-control-* headers differ between sides",
		Evidence: []Evidence{ev},
	}, true
}

// cacheHeaderDrift implements the MVP cache-control severity policy pinned
// in the design notes: warn on any normalized directive-set difference,
// and emit nothing when the sets are equal (no "info, equal" finding).
func cacheHeaderDrift(left, right types.ResponseMetadata) (Finding, bool) {
	lv, lok := left.HeadersCore["cache-control"]
	rv, rok := right.HeadersCore["cache-control"]
	if !lok && !rok {
		return Finding{}, false
	}
	if normalizeCacheControlKey(lv) == normalizeCacheControlKey(rv) {
		return Finding{}, false
	}
	ev := Evidence{Section: SectionHeaders, Keys: []string{"cache-control"}}
	return Finding{
		ID:         findingID(CodeCacheHeaderDrift, SectionHeaders, ev.Keys),
		Code:       CodeCacheHeaderDrift,
		Category:   CategoryCache,
		Severity:   SeverityWarn,
		Message:    "cache-control directive set differs between sides",
		Evidence:   []Evidence{ev},
		LeftValue:  lv,
		RightValue: rv,
	}, true
}

// normalizeCacheControlKey canonicalizes a cache-control value into a
// sorted, comma-joined directive-set string suitable for equality checks.
func normalizeCacheControlKey(v string) string {
	set := map[string]struct{}{}
	for _, part := range strings.Split(v, ",") {
		directive := strings.TrimSpace(part)
		if idx := strings.Index(directive, "="); idx >= 0 {
			directive = directive[:idx]
		}
		directive = strings.ToLower(strings.TrimSpace(directive))
		if directive != "" {
			set[directive] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func varyDrift(left, right types.ResponseMetadata) (Finding, bool) {
	lv, lok := left.HeadersCore["vary"]
	rv, rok := right.HeadersCore["vary"]
	if lok == rok && lv == rv {
		return Finding{}, false
	}
	ev := Evidence{Section: SectionHeaders, Keys: []string{"vary"}}
	return Finding{
		ID:         findingID(CodeUnknownDrift, SectionHeaders, ev.Keys),
		Code:       CodeUnknownDrift,
		Category:   CategoryUnknown,
		Severity:   SeverityWarn,
		Message:    "vary header differs between sides",
		Evidence:   []Evidence{ev},
		LeftValue:  lv,
		RightValue: rv,
	}, true
}

func contentTypeDrift(d EnvDiff) (Finding, bool) {
	if d.Content == nil || d.Content.ContentType == nil || !d.Content.ContentType.Changed {
		return Finding{}, false
	}
	lv := normalizeContentType(d.Content.ContentType.Left)
	rv := normalizeContentType(d.Content.ContentType.Right)

	var severity Severity
	var message string
	switch {
	case lv == "" || rv == "":
		severity, message = SeverityWarn, "content-type missing on one side"
	case lv == rv:
		severity, message = SeverityInfo, "content-type equal after normalization"
	case majorType(lv) != majorType(rv):
		severity, message = SeverityCritical, "content-type major type differs between sides"
	default:
		severity, message = SeverityWarn, "content-type subtype differs between sides"
	}
	return finding(CodeContentTypeDrift, CategoryContent, severity, message, SectionContent, []string{"content-type"}, d.Content.ContentType.Left, d.Content.ContentType.Right), true
}

func normalizeContentType(v string) string {
	if idx := strings.Index(v, ";"); idx >= 0 {
		v = v[:idx]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

func majorType(normalized string) string {
	if idx := strings.Index(normalized, "/"); idx >= 0 {
		return normalized[:idx]
	}
	return normalized
}

func bodyHashDrift(d EnvDiff) (Finding, bool) {
	if d.Content == nil || d.Content.BodyHash == nil || !d.Content.BodyHash.Changed {
		return Finding{}, false
	}
	if d.Status != nil && d.Status.Changed {
		return Finding{}, false
	}
	if d.Content.ContentType != nil && d.Content.ContentType.Changed {
		return Finding{}, false
	}
	return finding(CodeBodyHashDrift, CategoryContent, SeverityCritical, "response body hash differs with status and content-type unchanged", SectionContent, []string{"body-hash"}, d.Content.BodyHash.Left, d.Content.BodyHash.Right), true
}

func contentLengthDrift(d EnvDiff) (Finding, bool) {
	if d.Content == nil || d.Content.ContentLength == nil || !d.Content.ContentLength.Changed {
		return Finding{}, false
	}
	delta := d.Content.ContentLength.Left - d.Content.ContentLength.Right
	if delta < 0 {
		delta = -delta
	}
	statusUnchanged := d.Status == nil || !d.Status.Changed

	var severity Severity
	switch {
	case delta < 200:
		severity = SeverityInfo
	case delta < 2000:
		severity = SeverityWarn
	default:
		if statusUnchanged {
			severity = SeverityCritical
		} else {
			severity = SeverityWarn
		}
	}
	return finding(CodeContentLengthDrift, CategoryContent, severity, "content-length differs between sides",
		SectionContent, []string{"content-length"},
		strconv.FormatInt(d.Content.ContentLength.Left, 10), strconv.FormatInt(d.Content.ContentLength.Right, 10)), true
}

func timingDrift(d EnvDiff) (Finding, bool) {
	if d.Timing == nil || !d.Timing.DurationMs.Changed {
		return Finding{}, false
	}
	l, r := d.Timing.DurationMs.Left, d.Timing.DurationMs.Right
	maxV := l
	if r > maxV {
		maxV = r
	}
	if maxV < 50 {
		return Finding{}, false
	}

	var severity Severity
	switch {
	case d.Timing.Ratio >= 2.5 || d.Timing.DeltaMs >= 1000:
		severity = SeverityCritical
	case d.Timing.Ratio >= 1.5 || d.Timing.DeltaMs >= 300:
		severity = SeverityWarn
	default:
		severity = SeverityInfo
	}
	return finding(CodeTimingDrift, CategoryTiming, severity, "response duration differs between sides",
		SectionTiming, []string{"duration_ms"},
		strconv.FormatInt(l, 10), strconv.FormatInt(r, 10)), true
}

func cfContextDrift(d EnvDiff, timingEmitted bool) (Finding, bool) {
	if d.Cf == nil {
		return Finding{}, false
	}
	var keys []string
	if d.Cf.Colo != nil && d.Cf.Colo.Changed {
		keys = append(keys, "colo")
	}
	if d.Cf.ASN != nil && d.Cf.ASN.Changed {
		keys = append(keys, "asn")
	}
	if d.Cf.Country != nil && d.Cf.Country.Changed {
		keys = append(keys, "country")
	}
	if len(keys) == 0 {
		return Finding{}, false
	}
	severity := SeverityInfo
	if timingEmitted {
		severity = SeverityWarn
	}
	ev := Evidence{Section: SectionCf, Keys: sortedKeys(keys)}
	return Finding{
		ID:       findingID(CodeCfContextDrift, SectionCf, ev.Keys),
		Code:     CodeCfContextDrift,
		Category: CategoryPlatform,
		Severity: severity,
		Message:  "execution-context snapshot differs between sides",
		Evidence: []Evidence{ev},
	}, true
}

func unknownHeaderDrift(d EnvDiff, claimed map[string]struct{}) (Finding, bool) {
	if d.Headers == nil || d.Headers.Core == nil {
		return Finding{}, false
	}
	var keys []string
	collect := func(m map[string]string) {
		for k := range m {
			if _, done := claimed[k]; !done {
				keys = append(keys, k)
			}
		}
	}
	for k := range d.Headers.Core.Changed {
		if _, done := claimed[k]; !done {
			keys = append(keys, k)
		}
	}
	collect(d.Headers.Core.Added)
	collect(d.Headers.Core.Removed)
	if len(keys) == 0 {
		return Finding{}, false
	}
	severity := SeverityInfo
	if len(keys) >= 3 {
		severity = SeverityWarn
	}
	ev := Evidence{Section: SectionHeaders, Keys: sortedKeys(keys)}
	return Finding{
		ID:       findingID(CodeUnknownDrift, SectionHeaders, ev.Keys),
		Code:     CodeUnknownDrift,
		Category: CategoryUnknown,
		Severity: severity,
		Message:  "whitelisted headers differ with no more specific rule claiming them",
		Evidence: []Evidence{ev},
	}, true
}

func finding(code Code, category Category, severity Severity, message string, section Section, keys []string, leftValue, rightValue string) Finding {
	ev := Evidence{Section: section, Keys: sortedKeys(keys)}
	return Finding{
		ID:         findingID(code, section, ev.Keys),
		Code:       code,
		Category:   category,
		Severity:   severity,
		Message:    message,
		Evidence:   []Evidence{ev},
		LeftValue:  leftValue,
		RightValue: rightValue,
	}
}

// dedupe removes findings sharing (code, section, sorted-keys); the first
// occurrence in rule-table order wins.
func dedupe(findings []Finding) []Finding {
	seen := map[string]struct{}{}
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}
