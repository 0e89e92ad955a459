package diff

import "github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"

// Severity is the closed ordering critical > warn > info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarn     Severity = "warn"
	SeverityInfo     Severity = "info"
)

// severityRank gives the sort weight used by severity-then-code-then-message
// ordering; lower sorts first.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityWarn:     1,
	SeverityInfo:     2,
}

// Code is the closed vocabulary of finding codes the Classifier can emit.
type Code string

const (
	CodeProbeFailure         Code = "PROBE_FAILURE"
	CodeStatusMismatch       Code = "STATUS_MISMATCH"
	CodeFinalURLMismatch     Code = "FINAL_URL_MISMATCH"
	CodeRedirectChainChanged Code = "REDIRECT_CHAIN_CHANGED"
	CodeAuthChallengePresent Code = "AUTH_CHALLENGE_PRESENT"
	CodeCORSHeaderDrift      Code = "CORS_HEADER_DRIFT"
	CodeCacheHeaderDrift     Code = "CACHE_HEADER_DRIFT"
	CodeContentTypeDrift     Code = "CONTENT_TYPE_DRIFT"
	CodeBodyHashDrift        Code = "BODY_HASH_DRIFT"
	CodeContentLengthDrift   Code = "CONTENT_LENGTH_DRIFT"
	CodeTimingDrift          Code = "TIMING_DRIFT"
	CodeCfContextDrift       Code = "CF_CONTEXT_DRIFT"
	CodeUnknownDrift         Code = "UNKNOWN_DRIFT"
)

// Category is the closed vocabulary of finding categories.
type Category string

const (
	CategoryRouting  Category = "routing"
	CategorySecurity Category = "security"
	CategoryCache    Category = "cache"
	CategoryContent  Category = "content"
	CategoryTiming   Category = "timing"
	CategoryPlatform Category = "platform"
	CategoryUnknown  Category = "unknown"
)

// Section is the closed vocabulary of evidence sections.
type Section string

const (
	SectionProbe     Section = "probe"
	SectionStatus    Section = "status"
	SectionFinalURL  Section = "finalUrl"
	SectionHeaders   Section = "headers"
	SectionRedirects Section = "redirects"
	SectionContent   Section = "content"
	SectionTiming    Section = "timing"
	SectionCf        Section = "cf"
)

// Evidence cites the section and keys that drove a finding.
type Evidence struct {
	Section Section  `json:"section"`
	Keys    []string `json:"keys,omitempty"`
	Note    string   `json:"note,omitempty"`
}

// Finding is one classifier-emitted observation about the diff between two
// envelopes.
type Finding struct {
	ID              string     `json:"id"`
	Code            Code       `json:"code"`
	Category        Category   `json:"category"`
	Severity        Severity   `json:"severity"`
	Message         string     `json:"message"`
	Evidence        []Evidence `json:"evidence"`
	LeftValue       string     `json:"leftValue,omitempty"`
	RightValue      string     `json:"rightValue,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
}

// HeaderDiff classifies a whitelisted header set into added/removed/
// unchanged/changed buckets by a case-insensitive key union.
type HeaderDiff struct {
	Added     map[string]string         `json:"added,omitempty"`
	Removed   map[string]string         `json:"removed,omitempty"`
	Unchanged map[string]string         `json:"unchanged,omitempty"`
	Changed   map[string]Change[string] `json:"changed,omitempty"`
}

// IsEmpty reports whether none of the four buckets hold any keys.
func (h HeaderDiff) IsEmpty() bool {
	return len(h.Added) == 0 && len(h.Removed) == 0 && len(h.Unchanged) == 0 && len(h.Changed) == 0
}

// HeadersSection groups the core and access-control header diffs.
type HeadersSection struct {
	Core          *HeaderDiff `json:"core,omitempty"`
	AccessControl *HeaderDiff `json:"accessControl,omitempty"`
}

// RedirectDiff compares the two recorded redirect chains.
type RedirectDiff struct {
	Left                  []types.RedirectHop `json:"left"`
	Right                 []types.RedirectHop `json:"right"`
	HopCount              Change[int]         `json:"hopCount"`
	FinalURLFromRedirects *Change[string]     `json:"finalUrlFromRedirects,omitempty"`
	ChainChanged          bool                `json:"chainChanged"`
}

// ContentDiff holds field-wise Change records for content-level fields.
type ContentDiff struct {
	ContentType   *Change[string] `json:"contentType,omitempty"`
	ContentLength *Change[int64]  `json:"contentLength,omitempty"`
	BodyHash      *Change[string] `json:"bodyHash,omitempty"`
}

// TimingDiff carries the compared durations plus derived ratio/delta.
type TimingDiff struct {
	DurationMs Change[int64] `json:"durationMs"`
	Ratio      float64       `json:"ratio"`
	DeltaMs    int64         `json:"deltaMs"`
}

// CfContextDiff holds field-wise Change records for the cf-context snapshot.
type CfContextDiff struct {
	Colo    *Change[string] `json:"colo,omitempty"`
	Country *Change[string] `json:"country,omitempty"`
	ASN     *Change[string] `json:"asn,omitempty"`
}

// ProbeOutcomeDiff summarizes whether both sides produced a response.
type ProbeOutcomeDiff struct {
	LeftOK          bool                  `json:"leftOk"`
	RightOK         bool                  `json:"rightOk"`
	LeftErrorCode   *types.ProbeErrorCode `json:"leftErrorCode,omitempty"`
	RightErrorCode  *types.ProbeErrorCode `json:"rightErrorCode,omitempty"`
	OutcomeChanged  bool                  `json:"outcomeChanged"`
	ResponsePresent bool                  `json:"responsePresent"`
}

// EnvDiff is the complete result of computeDiff.
type EnvDiff struct {
	SchemaVersion int              `json:"schemaVersion"`
	ComparisonID  string           `json:"comparisonId"`
	LeftProbeID   string           `json:"leftProbeId"`
	RightProbeID  string           `json:"rightProbeId"`
	Probe         ProbeOutcomeDiff `json:"probe"`
	Status        *Change[int]     `json:"status,omitempty"`
	FinalURL      *Change[string]  `json:"finalUrl,omitempty"`
	Headers       *HeadersSection  `json:"headers,omitempty"`
	Redirects     *RedirectDiff    `json:"redirects,omitempty"`
	Content       *ContentDiff     `json:"content,omitempty"`
	Timing        *TimingDiff      `json:"timing,omitempty"`
	Cf            *CfContextDiff   `json:"cf,omitempty"`
	Findings      []Finding        `json:"findings"`
	MaxSeverity   Severity         `json:"maxSeverity"`
}
