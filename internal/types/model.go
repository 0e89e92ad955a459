// Package types holds the schema-versioned data model shared by the probe,
// diff engine, pair store, orchestrator, and gateway: SignalEnvelope and
// its ProbeResult sum type, and the wire types built on top of them.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

const SchemaVersion = 1

// Side identifies which endpoint of a comparison a value belongs to.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// ProbeErrorCode is the closed set of reasons a probe could not produce an
// HTTP response.
type ProbeErrorCode string

const (
	ProbeErrInvalidURL  ProbeErrorCode = "invalid_url"
	ProbeErrDNS         ProbeErrorCode = "dns_error"
	ProbeErrTimeout     ProbeErrorCode = "timeout"
	ProbeErrTLS         ProbeErrorCode = "tls_error"
	ProbeErrSSRFBlocked ProbeErrorCode = "ssrf_blocked"
	ProbeErrFetch       ProbeErrorCode = "fetch_error"
	ProbeErrUnknown     ProbeErrorCode = "unknown_error"
)

// ProbeError describes why a probe produced no HTTP response.
type ProbeError struct {
	Code    ProbeErrorCode `json:"code"`
	Message string         `json:"message"`
	Details string         `json:"details,omitempty"`
}

// ResponseMetadata is the normalized, whitelisted view of an HTTP response
// captured by the probe.
type ResponseMetadata struct {
	Status               int               `json:"status"`
	FinalURL             string            `json:"finalUrl"`
	HeadersCore          map[string]string `json:"core,omitempty"`
	HeadersAccessControl map[string]string `json:"accessControl,omitempty"`
	ContentLength        *int64            `json:"contentLength,omitempty"`
	BodyHash             string            `json:"bodyHash,omitempty"`
}

// RedirectHop records one hop of a manually-walked redirect chain.
type RedirectHop struct {
	FromURL string `json:"fromUrl"`
	ToURL   string `json:"toUrl"`
	Status  int    `json:"status"`
}

// CfContext is the optional execution-context snapshot the probe carries
// forward (colo, ASN, protocol info).
type CfContext struct {
	Colo           string `json:"colo,omitempty"`
	Country        string `json:"country,omitempty"`
	ASN            string `json:"asn,omitempty"`
	ASOrganization string `json:"asOrganization,omitempty"`
	TLSVersion     string `json:"tlsVersion,omitempty"`
	HTTPProtocol   string `json:"httpProtocol,omitempty"`
}

// ProbeResultKind discriminates the ProbeResult sum type.
type ProbeResultKind string

const (
	ProbeKindSuccess        ProbeResultKind = "success"
	ProbeKindResponseError  ProbeResultKind = "response_error"
	ProbeKindNetworkFailure ProbeResultKind = "network_failure"
)

// ProbeResult is a closed sum type: exactly one of ProbeSuccess,
// ProbeResponseError, or ProbeNetworkFailure. Callers MUST switch on Kind()
// (or use the helpers below) rather than reading an "ok" flag alongside an
// optional response field — that sibling-field shape is the sharp edge this
// type is designed to avoid.
type ProbeResult interface {
	Kind() ProbeResultKind
	isProbeResult()
}

// ProbeSuccess is a 2xx/3xx probe outcome with a captured response.
type ProbeSuccess struct {
	Response   ResponseMetadata `json:"response"`
	Redirects  []RedirectHop    `json:"redirects,omitempty"`
	DurationMs int64            `json:"durationMs"`
}

func (ProbeSuccess) Kind() ProbeResultKind { return ProbeKindSuccess }
func (ProbeSuccess) isProbeResult()        {}

// ProbeResponseError is a 4xx/5xx probe outcome. It still carries a
// response: this is NOT a network failure.
type ProbeResponseError struct {
	Response   ResponseMetadata `json:"response"`
	Redirects  []RedirectHop    `json:"redirects,omitempty"`
	DurationMs int64            `json:"durationMs"`
}

func (ProbeResponseError) Kind() ProbeResultKind { return ProbeKindResponseError }
func (ProbeResponseError) isProbeResult()        {}

// ProbeNetworkFailure means no HTTP response was obtained at all.
type ProbeNetworkFailure struct {
	Error      ProbeError `json:"error"`
	DurationMs *int64     `json:"durationMs,omitempty"`
}

func (ProbeNetworkFailure) Kind() ProbeResultKind { return ProbeKindNetworkFailure }
func (ProbeNetworkFailure) isProbeResult()        {}

// ResponsePresent reports whether both sides carry an HTTP response, i.e.
// neither is a NetworkFailure. This is the sole discriminator the diff
// engine uses to decide whether response-level sections can be computed.
func ResponsePresent(left, right ProbeResult) bool {
	return left.Kind() != ProbeKindNetworkFailure && right.Kind() != ProbeKindNetworkFailure
}

// AsNetworkFailure returns the ProbeError and true if p is a NetworkFailure.
func AsNetworkFailure(p ProbeResult) (ProbeError, bool) {
	if nf, ok := p.(ProbeNetworkFailure); ok {
		return nf.Error, true
	}
	return ProbeError{}, false
}

// ResponseOf returns the captured response for Success/ResponseError
// outcomes, or false for NetworkFailure.
func ResponseOf(p ProbeResult) (ResponseMetadata, bool) {
	switch v := p.(type) {
	case ProbeSuccess:
		return v.Response, true
	case ProbeResponseError:
		return v.Response, true
	default:
		return ResponseMetadata{}, false
	}
}

// RedirectsOf returns the redirect chain recorded by a Success/ResponseError
// outcome, or nil otherwise.
func RedirectsOf(p ProbeResult) []RedirectHop {
	switch v := p.(type) {
	case ProbeSuccess:
		return v.Redirects
	case ProbeResponseError:
		return v.Redirects
	default:
		return nil
	}
}

// DurationOf returns the probe duration if known.
func DurationOf(p ProbeResult) *int64 {
	switch v := p.(type) {
	case ProbeSuccess:
		d := v.DurationMs
		return &d
	case ProbeResponseError:
		d := v.DurationMs
		return &d
	case ProbeNetworkFailure:
		return v.DurationMs
	default:
		return nil
	}
}

// IsOK reports whether p is a Success outcome.
func IsOK(p ProbeResult) bool {
	return p.Kind() == ProbeKindSuccess
}

// SignalEnvelope is the complete, schema-versioned capture of one probe
// against one side of a comparison.
type SignalEnvelope struct {
	SchemaVersion int         `json:"schemaVersion"`
	ComparisonID  string      `json:"comparisonId"`
	ProbeID       string      `json:"probeId"`
	Side          Side        `json:"side"`
	RequestedURL  string      `json:"requestedUrl"`
	CapturedAt    time.Time   `json:"capturedAt"`
	CfContext     *CfContext  `json:"cfContext,omitempty"`
	Result        ProbeResult `json:"result"`
}

// MarshalJSON encodes the envelope with its ProbeResult tagged by kind.
func (e SignalEnvelope) MarshalJSON() ([]byte, error) {
	type alias struct {
		SchemaVersion int             `json:"schemaVersion"`
		ComparisonID  string          `json:"comparisonId"`
		ProbeID       string          `json:"probeId"`
		Side          Side            `json:"side"`
		RequestedURL  string          `json:"requestedUrl"`
		CapturedAt    time.Time       `json:"capturedAt"`
		CfContext     *CfContext      `json:"cfContext,omitempty"`
		Result        json.RawMessage `json:"result"`
	}

	resultJSON, err := MarshalProbeResult(e.Result)
	if err != nil {
		return nil, err
	}

	return json.Marshal(alias{
		SchemaVersion: e.SchemaVersion,
		ComparisonID:  e.ComparisonID,
		ProbeID:       e.ProbeID,
		Side:          e.Side,
		RequestedURL:  e.RequestedURL,
		CapturedAt:    e.CapturedAt,
		CfContext:     e.CfContext,
		Result:        resultJSON,
	})
}

// UnmarshalJSON decodes an envelope, dispatching its ProbeResult by kind.
func (e *SignalEnvelope) UnmarshalJSON(data []byte) error {
	type alias struct {
		SchemaVersion int             `json:"schemaVersion"`
		ComparisonID  string          `json:"comparisonId"`
		ProbeID       string          `json:"probeId"`
		Side          Side            `json:"side"`
		RequestedURL  string          `json:"requestedUrl"`
		CapturedAt    time.Time       `json:"capturedAt"`
		CfContext     *CfContext      `json:"cfContext,omitempty"`
		Result        json.RawMessage `json:"result"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	result, err := UnmarshalProbeResult(a.Result)
	if err != nil {
		return err
	}
	e.SchemaVersion = a.SchemaVersion
	e.ComparisonID = a.ComparisonID
	e.ProbeID = a.ProbeID
	e.Side = a.Side
	e.RequestedURL = a.RequestedURL
	e.CapturedAt = a.CapturedAt
	e.CfContext = a.CfContext
	e.Result = result
	return nil
}

// MarshalProbeResult encodes a ProbeResult with a "kind" discriminator.
func MarshalProbeResult(p ProbeResult) ([]byte, error) {
	switch v := p.(type) {
	case ProbeSuccess:
		return json.Marshal(struct {
			Kind ProbeResultKind `json:"kind"`
			ProbeSuccess
		}{Kind: ProbeKindSuccess, ProbeSuccess: v})
	case ProbeResponseError:
		return json.Marshal(struct {
			Kind ProbeResultKind `json:"kind"`
			ProbeResponseError
		}{Kind: ProbeKindResponseError, ProbeResponseError: v})
	case ProbeNetworkFailure:
		return json.Marshal(struct {
			Kind ProbeResultKind `json:"kind"`
			ProbeNetworkFailure
		}{Kind: ProbeKindNetworkFailure, ProbeNetworkFailure: v})
	default:
		return nil, fmt.Errorf("unknown ProbeResult implementation %T", p)
	}
}

// UnmarshalProbeResult decodes a ProbeResult previously written by
// MarshalProbeResult.
func UnmarshalProbeResult(data []byte) (ProbeResult, error) {
	var disc struct {
		Kind ProbeResultKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, fmt.Errorf("decode probe result kind: %w", err)
	}
	switch disc.Kind {
	case ProbeKindSuccess:
		var v ProbeSuccess
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case ProbeKindResponseError:
		var v ProbeResponseError
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case ProbeKindNetworkFailure:
		var v ProbeNetworkFailure
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown probe result kind %q", disc.Kind)
	}
}

// CompareErrorCode is the closed set of error codes the gateway and
// orchestrator surface to callers.
type CompareErrorCode string

const (
	ErrInvalidRequest CompareErrorCode = "invalid_request"
	ErrInvalidURL     CompareErrorCode = "invalid_url"
	ErrSSRFBlocked    CompareErrorCode = "ssrf_blocked"
	ErrTimeout        CompareErrorCode = "timeout"
	ErrDNSError       CompareErrorCode = "dns_error"
	ErrTLSError       CompareErrorCode = "tls_error"
	ErrFetchError     CompareErrorCode = "fetch_error"
	ErrInternal       CompareErrorCode = "internal_error"
)

// CompareError is the structured {code, message, details?} shape returned
// to API callers; never a raw stack trace or platform error string.
type CompareError struct {
	Code    CompareErrorCode `json:"code"`
	Message string           `json:"message"`
	Details string           `json:"details,omitempty"`
}

func (e *CompareError) Error() string { return string(e.Code) + ": " + e.Message }

// ProbeErrorCodeToCompareError maps a ProbeErrorCode onto the gateway's
// closed CompareErrorCode set. Codes present in both sets map by name;
// unknown_error and any unrecognized code map to internal_error.
func ProbeErrorCodeToCompareError(code ProbeErrorCode) CompareErrorCode {
	switch code {
	case ProbeErrInvalidURL:
		return ErrInvalidURL
	case ProbeErrSSRFBlocked:
		return ErrSSRFBlocked
	case ProbeErrDNS:
		return ErrDNSError
	case ProbeErrTLS:
		return ErrTLSError
	case ProbeErrTimeout:
		return ErrTimeout
	case ProbeErrFetch:
		return ErrFetchError
	default:
		return ErrInternal
	}
}

// RankedCause is one candidate explanation for the observed drift, ranked
// by the explanation model's own confidence.
type RankedCause struct {
	Cause      string   `json:"cause"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// RecommendedAction is one remediation step suggested by the explanation
// model, paired with its rationale.
type RecommendedAction struct {
	Action string `json:"action"`
	Why    string `json:"why"`
}

// Explanation is the validated JSON object produced by the Explanation
// Client: never partially-populated, never passed through unvalidated.
type Explanation struct {
	Summary      string              `json:"summary"`
	RankedCauses []RankedCause       `json:"ranked_causes,omitempty"`
	Actions      []RecommendedAction `json:"actions,omitempty"`
	Notes        []string            `json:"notes,omitempty"`
}

// CompareResult is the full record of one comparison, as returned by the
// Gateway once a comparison has completed.
type CompareResult struct {
	ComparisonID string          `json:"comparisonId"`
	LeftURL      string          `json:"leftUrl"`
	RightURL     string          `json:"rightUrl"`
	LeftLabel    string          `json:"leftLabel,omitempty"`
	RightLabel   string          `json:"rightLabel,omitempty"`
	Left         *SignalEnvelope `json:"left,omitempty"`
	Right        *SignalEnvelope `json:"right,omitempty"`
	Diff         json.RawMessage `json:"diff,omitempty"`
	Explanation  *Explanation    `json:"explanation,omitempty"`
}

// ComparisonStatus is the closed lifecycle state of a stored comparison.
type ComparisonStatus string

const (
	ComparisonRunning   ComparisonStatus = "running"
	ComparisonCompleted ComparisonStatus = "completed"
	ComparisonFailed    ComparisonStatus = "failed"
)

// ComparisonState is what the Pair Store returns for a single comparison
// lookup: at most one of Result or Error is populated, gated by Status
// (Result when completed, Error when failed, neither while running).
type ComparisonState struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"createdAt"`
	LeftURL   string           `json:"leftUrl"`
	RightURL  string           `json:"rightUrl"`
	Status    ComparisonStatus `json:"status"`
	Result    *CompareResult   `json:"result,omitempty"`
	Error     *CompareError    `json:"error,omitempty"`
}

// HistoryEntry is a trimmed-down completed-comparison record surfaced to
// the Explanation Client as prior-run context.
type HistoryEntry struct {
	ComparisonID string    `json:"comparisonId"`
	CreatedAt    time.Time `json:"createdAt"`
	MaxSeverity  string    `json:"maxSeverity"`
	Summary      string    `json:"summary,omitempty"`
}
