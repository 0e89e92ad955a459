package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
)

// newTestProber allows loopback targets: httptest servers always bind to
// 127.0.0.1, which the SSRF guard would otherwise refuse to probe.
func newTestProber() *Prober {
	cfg := NewConfigBuilder().
		WithTotalBudget(2 * time.Second).
		WithAllowLoopback(true).
		Build()
	return New(cfg, zerolog.Nop())
}

func TestProbe_SuccessCapturesWhitelistedHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Not-Whitelisted", "secret")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p := newTestProber()
	envelope := p.Probe(context.Background(), srv.URL, "cmp1", "cmp1:left", types.SideLeft, nil)

	success, ok := envelope.Result.(types.ProbeSuccess)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, success.Response.Status)
	assert.Equal(t, "public, max-age=60", success.Response.HeadersCore["cache-control"])
	assert.Equal(t, "application/json", success.Response.HeadersCore["content-type"])
	assert.NotContains(t, success.Response.HeadersCore, "x-not-whitelisted")
	assert.Equal(t, "*", success.Response.HeadersAccessControl["access-control-allow-origin"])
	assert.NotEmpty(t, success.Response.BodyHash)
	assert.Equal(t, "LOCAL", envelope.CfContext.Colo)
	assert.Equal(t, "XX", envelope.CfContext.Country)
}

func TestProbe_ResponseErrorPreservesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestProber()
	envelope := p.Probe(context.Background(), srv.URL, "cmp1", "cmp1:right", types.SideRight, nil)

	respErr, ok := envelope.Result.(types.ProbeResponseError)
	require.True(t, ok, "4xx must be a ResponseError, not a NetworkFailure")
	assert.Equal(t, http.StatusNotFound, respErr.Response.Status)
}

func TestProbe_SSRFBlockedHost(t *testing.T) {
	p := New(DefaultConfig(), zerolog.Nop())
	envelope := p.Probe(context.Background(), "http://localhost:1/", "cmp1", "cmp1:left", types.SideLeft, nil)

	nf, ok := envelope.Result.(types.ProbeNetworkFailure)
	require.True(t, ok)
	assert.Equal(t, types.ProbeErrSSRFBlocked, nf.Error.Code)
}

func TestProbe_AllowLoopbackStillRejectsMalformedURL(t *testing.T) {
	p := newTestProber()
	envelope := p.Probe(context.Background(), "ftp://example.com/", "cmp1", "cmp1:left", types.SideLeft, nil)

	nf, ok := envelope.Result.(types.ProbeNetworkFailure)
	require.True(t, ok)
	assert.Equal(t, types.ProbeErrInvalidURL, nf.Error.Code)
}

func TestProbe_RedirectChainFollowed(t *testing.T) {
	var final *httptest.Server
	final = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer hop.Close()

	p := newTestProber()
	envelope := p.Probe(context.Background(), hop.URL, "cmp1", "cmp1:left", types.SideLeft, nil)

	success, ok := envelope.Result.(types.ProbeSuccess)
	require.True(t, ok)
	require.Len(t, success.Redirects, 1)
	assert.Equal(t, http.StatusFound, success.Redirects[0].Status)
	assert.Equal(t, final.URL, success.Response.FinalURL)
}

func TestProbe_RedirectMissingLocationIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	p := newTestProber()
	envelope := p.Probe(context.Background(), srv.URL, "cmp1", "cmp1:left", types.SideLeft, nil)

	nf, ok := envelope.Result.(types.ProbeNetworkFailure)
	require.True(t, ok)
	assert.Equal(t, types.ProbeErrFetch, nf.Error.Code)
}

func TestProbe_RedirectLoopDetected(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL, http.StatusFound)
	}))
	defer srv.Close()

	p := newTestProber()
	envelope := p.Probe(context.Background(), srv.URL, "cmp1", "cmp1:left", types.SideLeft, nil)

	nf, ok := envelope.Result.(types.ProbeNetworkFailure)
	require.True(t, ok)
	assert.Equal(t, types.ProbeErrFetch, nf.Error.Code)
}

func TestBudget_ShouldContinue(t *testing.T) {
	b := NewBudget(context.Background(), 50*time.Millisecond)
	defer b.Stop()
	assert.False(t, b.ShouldContinue())
}
