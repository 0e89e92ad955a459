package diff

import (
	"net/url"
	"strings"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
)

// Compute implements computeDiff: given two signal envelopes for the same
// comparison, returns a fully-populated, deterministic EnvDiff. The error
// path fires only on a classifier bug (evidence outside the closed
// vocabulary), never on user input.
func Compute(left, right types.SignalEnvelope) (EnvDiff, error) {
	out := EnvDiff{
		SchemaVersion: types.SchemaVersion,
		ComparisonID:  left.ComparisonID,
		LeftProbeID:   left.ProbeID,
		RightProbeID:  right.ProbeID,
		Probe:         buildProbeOutcomeDiff(left.Result, right.Result),
	}

	if !out.Probe.ResponsePresent {
		findings, err := Classify(out, left, right)
		if err != nil {
			return EnvDiff{}, err
		}
		out.Findings = findings
		out.MaxSeverity = maxSeverity(out.Findings)
		return out, nil
	}

	leftResp, _ := types.ResponseOf(left.Result)
	rightResp, _ := types.ResponseOf(right.Result)

	status := ChangeOf(leftResp.Status, rightResp.Status)
	out.Status = &status

	finalURL := ChangeOf(leftResp.FinalURL, rightResp.FinalURL)
	out.FinalURL = &finalURL

	out.Redirects = buildRedirectDiff(types.RedirectsOf(left.Result), types.RedirectsOf(right.Result))
	out.Headers = buildHeadersSection(leftResp, rightResp)
	out.Content = buildContentDiff(leftResp, rightResp)
	out.Timing = buildTimingDiff(types.DurationOf(left.Result), types.DurationOf(right.Result))
	out.Cf = buildCfContextDiff(left.CfContext, right.CfContext)

	findings, err := Classify(out, left, right)
	if err != nil {
		return EnvDiff{}, err
	}
	out.Findings = findings
	out.MaxSeverity = maxSeverity(out.Findings)
	return out, nil
}

func buildProbeOutcomeDiff(left, right types.ProbeResult) ProbeOutcomeDiff {
	d := ProbeOutcomeDiff{
		LeftOK:          types.IsOK(left),
		RightOK:         types.IsOK(right),
		ResponsePresent: types.ResponsePresent(left, right),
	}
	d.OutcomeChanged = d.LeftOK != d.RightOK
	if lerr, ok := types.AsNetworkFailure(left); ok {
		d.LeftErrorCode = &lerr.Code
	}
	if rerr, ok := types.AsNetworkFailure(right); ok {
		d.RightErrorCode = &rerr.Code
	}
	return d
}

func buildRedirectDiff(left, right []types.RedirectHop) *RedirectDiff {
	if len(left) == 0 && len(right) == 0 {
		return nil
	}
	rd := &RedirectDiff{
		Left:     left,
		Right:    right,
		HopCount: ChangeOf(len(left), len(right)),
	}
	rd.ChainChanged = !sameChainCaseInsensitive(left, right)

	if len(left) > 0 || len(right) > 0 {
		c := ChangeOf(lastHopURL(left), lastHopURL(right))
		rd.FinalURLFromRedirects = &c
	}
	return rd
}

func lastHopURL(hops []types.RedirectHop) string {
	if len(hops) == 0 {
		return ""
	}
	return hops[len(hops)-1].ToURL
}

func sameChainCaseInsensitive(left, right []types.RedirectHop) bool {
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if !strings.EqualFold(left[i].ToURL, right[i].ToURL) {
			return false
		}
	}
	return true
}

func buildHeadersSection(left, right types.ResponseMetadata) *HeadersSection {
	core := diffHeaderMap(left.HeadersCore, right.HeadersCore)
	ac := diffHeaderMap(left.HeadersAccessControl, right.HeadersAccessControl)

	section := &HeadersSection{}
	if !core.IsEmpty() {
		section.Core = &core
	}
	if !ac.IsEmpty() {
		section.AccessControl = &ac
	}
	if section.Core == nil && section.AccessControl == nil {
		return nil
	}
	return section
}

func diffHeaderMap(left, right map[string]string) HeaderDiff {
	hd := HeaderDiff{}
	seen := make(map[string]struct{}, len(left)+len(right))
	for k := range left {
		seen[k] = struct{}{}
	}
	for k := range right {
		seen[k] = struct{}{}
	}
	for k := range seen {
		lv, lok := left[k]
		rv, rok := right[k]
		switch {
		case lok && !rok:
			if hd.Removed == nil {
				hd.Removed = map[string]string{}
			}
			hd.Removed[k] = lv
		case !lok && rok:
			if hd.Added == nil {
				hd.Added = map[string]string{}
			}
			hd.Added[k] = rv
		case lv == rv:
			if hd.Unchanged == nil {
				hd.Unchanged = map[string]string{}
			}
			hd.Unchanged[k] = lv
		default:
			if hd.Changed == nil {
				hd.Changed = map[string]Change[string]{}
			}
			hd.Changed[k] = ChangeOf(lv, rv)
		}
	}
	return hd
}

func buildContentDiff(left, right types.ResponseMetadata) *ContentDiff {
	leftType, leftHasType := left.HeadersCore["content-type"]
	rightType, rightHasType := right.HeadersCore["content-type"]

	cd := &ContentDiff{}
	any := false

	if leftHasType || rightHasType {
		c := ChangeOf(leftType, rightType)
		cd.ContentType = &c
		any = true
	}
	if left.ContentLength != nil && right.ContentLength != nil {
		c := ChangeOf(*left.ContentLength, *right.ContentLength)
		cd.ContentLength = &c
		any = true
	}
	if left.BodyHash != "" && right.BodyHash != "" {
		c := ChangeOf(left.BodyHash, right.BodyHash)
		cd.BodyHash = &c
		any = true
	}
	if !any {
		return nil
	}
	return cd
}

func buildTimingDiff(left, right *int64) *TimingDiff {
	if left == nil || right == nil {
		return nil
	}
	l, r := *left, *right
	td := &TimingDiff{DurationMs: ChangeOf(l, r)}
	td.DeltaMs = abs64(l - r)

	minV, maxV := l, r
	if minV > maxV {
		minV, maxV = maxV, minV
	}
	if minV <= 0 {
		td.Ratio = 0
	} else {
		td.Ratio = float64(maxV) / float64(minV)
	}
	return td
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func buildCfContextDiff(left, right *types.CfContext) *CfContextDiff {
	if left == nil || right == nil {
		return nil
	}
	cd := &CfContextDiff{}
	any := false
	if left.Colo != "" && right.Colo != "" {
		c := ChangeOf(left.Colo, right.Colo)
		cd.Colo = &c
		any = true
	}
	if left.Country != "" && right.Country != "" {
		c := ChangeOf(left.Country, right.Country)
		cd.Country = &c
		any = true
	}
	if left.ASN != "" && right.ASN != "" {
		c := ChangeOf(left.ASN, right.ASN)
		cd.ASN = &c
		any = true
	}
	if !any {
		return nil
	}
	return cd
}

// decomposedURL splits a URL into the components the FINAL_URL_MISMATCH
// policy compares.
type decomposedURL struct {
	scheme, host, path, query string
}

func decomposeURL(raw string) decomposedURL {
	u, err := url.Parse(raw)
	if err != nil {
		return decomposedURL{}
	}
	return decomposedURL{
		scheme: strings.ToLower(u.Scheme),
		host:   strings.ToLower(u.Host),
		path:   u.Path,
		query:  u.RawQuery,
	}
}

func maxSeverity(findings []Finding) Severity {
	best := SeverityInfo
	for _, f := range findings {
		if severityRank[f.Severity] < severityRank[best] {
			best = f.Severity
		}
	}
	return best
}
