// Package probe implements the Active Probe: given a URL and an execution
// context snapshot, it issues an SSRF-guarded, manually-redirect-walked
// HTTP request and folds the outcome into a SignalEnvelope. It never
// panics and never returns a Go error from Probe — every failure mode is
// represented inside the envelope itself.
package probe

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	cwerrors "github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/common/errors"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/logging"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/urlguard"
)

const maxBodyBytes = 2 << 20 // 2 MiB, enough to hash/compare without unbounded reads

// Prober issues active probes. One Prober is safe for concurrent use across
// many comparisons; its http.Client is shared and its transport pooled.
type Prober struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

// New builds a Prober from cfg. The underlying http.Client has redirects
// disabled unconditionally — the redirect walk in walk is always manual,
// never delegated, per the probe algorithm.
func New(cfg Config, logger zerolog.Logger) *Prober {
	log := logging.Component(logger, "Prober")

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	// A custom TLSClientConfig/DialContext disables the transport's
	// automatic HTTP/2 negotiation, so it has to be re-enabled explicitly.
	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			log.Warn().Err(err).Msg("Failed to configure HTTP/2, falling back to HTTP/1.1")
		}
	}

	return &Prober{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: log,
	}
}

// Probe runs the full algorithm against rawURL and returns a fully-formed
// SignalEnvelope. comparisonID/probeID/side/cfCtx populate the envelope's
// identifying fields; cfCtx may be nil.
func (p *Prober) Probe(ctx context.Context, rawURL, comparisonID, probeID string, side types.Side, cfCtx *types.CfContext) types.SignalEnvelope {
	budget := NewBudget(ctx, p.cfg.TotalBudget)
	defer budget.Stop()

	envelope := types.SignalEnvelope{
		SchemaVersion: types.SchemaVersion,
		ComparisonID:  comparisonID,
		ProbeID:       probeID,
		Side:          side,
		RequestedURL:  rawURL,
		CapturedAt:    time.Now().UTC(),
		CfContext:     normalizeCfContext(cfCtx),
	}

	envelope.Result = p.run(budget, rawURL)
	p.logger.Debug().
		Str("url", rawURL).
		Str("side", string(side)).
		Str("kind", string(envelope.Result.Kind())).
		Msg("probe completed")
	return envelope
}

func normalizeCfContext(cfCtx *types.CfContext) *types.CfContext {
	if cfCtx == nil {
		return &types.CfContext{Colo: "LOCAL", Country: "XX"}
	}
	normalized := *cfCtx
	if normalized.Colo == "" {
		normalized.Colo = "LOCAL"
	}
	if normalized.Country == "" {
		normalized.Country = "XX"
	}
	return &normalized
}

func (p *Prober) run(budget *Budget, rawURL string) types.ProbeResult {
	verdict := urlguard.Validate(rawURL)
	if !verdict.OK {
		if urlguard.ClassifyRejection(verdict.Reason) == "ssrf_blocked" {
			if !p.cfg.AllowLoopback {
				return networkFailure(types.ProbeErrSSRFBlocked, "url rejected by SSRF guard", string(verdict.Reason), nil)
			}
		} else {
			return networkFailure(types.ProbeErrInvalidURL, "url rejected by SSRF guard", string(verdict.Reason), nil)
		}
	}

	return p.walk(budget, rawURL)
}

// walk manually follows the redirect chain, never delegating to the HTTP
// client's own redirect handling.
func (p *Prober) walk(budget *Budget, startURL string) types.ProbeResult {
	start := time.Now()
	current := startURL
	visited := map[string]struct{}{}
	var hops []types.RedirectHop

	for {
		if !budget.ShouldContinue() {
			d := time.Since(start).Milliseconds()
			return networkFailure(types.ProbeErrTimeout, "time budget exhausted mid-walk", "", &d)
		}

		if _, seen := visited[current]; seen {
			d := time.Since(start).Milliseconds()
			return networkFailure(types.ProbeErrFetch, "redirect loop detected", "url: "+current, &d)
		}
		visited[current] = struct{}{}

		req, err := http.NewRequestWithContext(budget.Context(), http.MethodGet, current, nil)
		if err != nil {
			d := time.Since(start).Milliseconds()
			return networkFailure(types.ProbeErrInvalidURL, "failed to build request", err.Error(), &d)
		}
		req.Header.Set("User-Agent", p.cfg.UserAgent)
		req.Header.Set("Accept", "*/*")

		resp, err := p.client.Do(req)
		if err != nil {
			d := time.Since(start).Milliseconds()
			return networkFailure(classifyFetchError(err), "fetch failed", err.Error(), &d)
		}

		if _, isRedirect := redirectStatuses[resp.StatusCode]; isRedirect {
			location := resp.Header.Get("Location")
			resp.Body.Close()

			if location == "" {
				d := time.Since(start).Milliseconds()
				return networkFailure(types.ProbeErrFetch, "redirect missing Location header", "status "+strconv.Itoa(resp.StatusCode), &d)
			}

			next, err := resolveLocation(current, location)
			if err != nil {
				d := time.Since(start).Milliseconds()
				return networkFailure(types.ProbeErrFetch, "unresolvable redirect Location", err.Error(), &d)
			}

			hops = append(hops, types.RedirectHop{FromURL: current, ToURL: next, Status: resp.StatusCode})
			if len(hops) > p.cfg.MaxRedirectHops {
				d := time.Since(start).Milliseconds()
				return networkFailure(types.ProbeErrFetch, "exceeded maximum redirect hops", strconv.Itoa(p.cfg.MaxRedirectHops), &d)
			}

			current = next
			continue
		}

		// Terminal, non-redirect response.
		body, err := readLimited(resp.Body, maxBodyBytes)
		resp.Body.Close()
		if err != nil {
			d := time.Since(start).Milliseconds()
			return networkFailure(types.ProbeErrFetch, "failed to read response body", err.Error(), &d)
		}

		duration := time.Since(start).Milliseconds()
		meta := buildResponseMetadata(resp, current, body)

		if resp.StatusCode >= 200 && resp.StatusCode < 400 {
			return types.ProbeSuccess{Response: meta, Redirects: hops, DurationMs: duration}
		}
		return types.ProbeResponseError{Response: meta, Redirects: hops, DurationMs: duration}
	}
}

func resolveLocation(currentURL, location string) (string, error) {
	base, err := url.Parse(currentURL)
	if err != nil {
		return "", cwerrors.WrapError(err, "parse current URL")
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", cwerrors.WrapError(err, "parse Location header")
	}
	return base.ResolveReference(ref).String(), nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

func buildResponseMetadata(resp *http.Response, requestedURL string, body []byte) types.ResponseMetadata {
	core := map[string]string{}
	accessControl := map[string]string{}

	for name, values := range resp.Header {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(name)
		if _, ok := coreHeaderWhitelist[lower]; ok {
			core[lower] = values[0]
			continue
		}
		if strings.HasPrefix(lower, accessControlPrefix) {
			accessControl[lower] = values[0]
		}
	}

	meta := types.ResponseMetadata{
		Status:      resp.StatusCode,
		FinalURL:    effectiveURL(resp, requestedURL),
		HeadersCore: sortedOrNil(core),
	}
	if len(accessControl) > 0 {
		meta.HeadersAccessControl = sortedOrNil(accessControl)
	}

	length := int64(len(body))
	meta.ContentLength = &length

	if len(body) > 0 {
		sum := sha256.Sum256(body)
		meta.BodyHash = hex.EncodeToString(sum[:])
	}

	return meta
}

// sortedOrNil returns m unchanged (maps have no serialized order of their
// own; callers that need sorted iteration order sort the keys at read time)
// or nil if m is empty, so the omitempty json tag elides it.
func sortedOrNil(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

func effectiveURL(resp *http.Response, requestedURL string) string {
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return requestedURL
}

func classifyFetchError(err error) types.ProbeErrorCode {
	msg := strings.ToLower(err.Error())
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.ProbeErrTimeout
	}
	switch {
	case strings.Contains(msg, "abort") || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return types.ProbeErrTimeout
	case strings.Contains(msg, "dns") || strings.Contains(msg, "enotfound") || strings.Contains(msg, "no such host"):
		return types.ProbeErrDNS
	case strings.Contains(msg, "certificate") || strings.Contains(msg, "tls") || strings.Contains(msg, "x509"):
		return types.ProbeErrTLS
	default:
		return types.ProbeErrFetch
	}
}

func networkFailure(code types.ProbeErrorCode, message, details string, durationMs *int64) types.ProbeNetworkFailure {
	return types.ProbeNetworkFailure{
		Error: types.ProbeError{
			Code:    code,
			Message: message,
			Details: details,
		},
		DurationMs: durationMs,
	}
}
