package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/config"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/diff"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/orchestrator"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/pairkey"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/store"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	stores := store.NewManager(t.TempDir(), zerolog.Nop())
	t.Cleanup(func() { _ = stores.Close() })
	return New(config.NewDefaultGatewayConfig(), stores, nil, zerolog.Nop())
}

func TestHandleHealth(t *testing.T) {
	gw := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["ok"])
}

func TestHandleStartCompare_RejectsMalformedJSON(t *testing.T) {
	gw := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/api/compare", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStartCompare_RejectsMissingFields(t *testing.T) {
	gw := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/api/compare", bytes.NewBufferString(`{"leftUrl":"https://a.example.com"}`))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "invalid_request", string(envelope.Error.Code))
}

func TestHandleStartCompare_RejectsSSRFTarget(t *testing.T) {
	gw := newTestGateway(t)

	body := `{"leftUrl":"https://a.example.com","rightUrl":"http://127.0.0.1:8080/admin"}`
	req := httptest.NewRequest(http.MethodPost, "/api/compare", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "ssrf_blocked", string(envelope.Error.Code))
}

func TestHandlePollCompare_NotFound(t *testing.T) {
	gw := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/api/compare/deadbeef-0000-0000-0000-000000000000", nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestCORSPreflight exercises the go-chi/cors middleware the router wires:
// an OPTIONS preflight must be answered with permissive Access-Control-*
// headers rather than falling through to the route mux.
func TestCORSPreflight(t *testing.T) {
	gw := newTestGateway(t)

	tests := []struct {
		name   string
		path   string
		method string
	}{
		{name: "preflight for POST compare", path: "/api/compare", method: http.MethodPost},
		{name: "preflight for GET poll", path: "/api/compare/some-id", method: http.MethodGet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, tt.path, nil)
			req.Header.Set("Origin", "https://ui.example.com")
			req.Header.Set("Access-Control-Request-Method", tt.method)
			req.Header.Set("Access-Control-Request-Headers", "Content-Type")
			rec := httptest.NewRecorder()
			gw.Handler().ServeHTTP(rec, req)

			assert.Contains(t, []int{http.StatusOK, http.StatusNoContent}, rec.Code)
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.method, rec.Header().Get("Access-Control-Allow-Methods"))
			assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
		})
	}
}

// stubProber returns a canned success envelope for either side, so gateway
// tests never touch the network.
type stubProber struct{}

func (stubProber) Probe(ctx context.Context, rawURL, comparisonID, probeID string, side types.Side, cfCtx *types.CfContext) types.SignalEnvelope {
	return types.SignalEnvelope{
		SchemaVersion: types.SchemaVersion,
		ComparisonID:  comparisonID,
		ProbeID:       probeID,
		Side:          side,
		RequestedURL:  rawURL,
		CapturedAt:    time.Unix(0, 0).UTC(),
		Result: types.ProbeSuccess{
			Response:   types.ResponseMetadata{Status: 200, FinalURL: rawURL},
			DurationMs: 5,
		},
	}
}

type stubExplainer struct{}

func (stubExplainer) Explain(ctx context.Context, d diff.EnvDiff, history []types.HistoryEntry) (*types.Explanation, error) {
	return &types.Explanation{Summary: "no material drift"}, nil
}

// TestPostThenPoll_RoutesToTheSameStore pins the POST and GET paths to one
// Pair Store instance: the store key both sides use is the 40-hex prefix of
// the comparisonId.
func TestPostThenPoll_RoutesToTheSameStore(t *testing.T) {
	stores := store.NewManager(t.TempDir(), zerolog.Nop())
	t.Cleanup(func() { _ = stores.Close() })
	orch := orchestrator.New(stubProber{}, stores, stubExplainer{}, zerolog.Nop())
	gw := New(config.NewDefaultGatewayConfig(), stores, orch, zerolog.Nop())

	body := `{"leftUrl":"https://staging.example.com","rightUrl":"https://prod.example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/compare", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var started startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.ComparisonID)

	deadline := time.Now().Add(5 * time.Second)
	for {
		pollReq := httptest.NewRequest(http.MethodGet, "/api/compare/"+started.ComparisonID, nil)
		pollRec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(pollRec, pollReq)

		// 404 is allowed only in the brief window before the asynchronous
		// run's createComparison lands.
		if pollRec.Code == http.StatusOK {
			var poll pollResponse
			require.NoError(t, json.Unmarshal(pollRec.Body.Bytes(), &poll))
			if poll.Status == string(types.ComparisonCompleted) {
				require.NotNil(t, poll.Result)
				assert.Equal(t, started.ComparisonID, poll.Result.ComparisonID)
				require.NotNil(t, poll.Result.Explanation)
				assert.Equal(t, "no material drift", poll.Result.Explanation.Summary)
				return
			}
			require.Equal(t, string(types.ComparisonRunning), poll.Status)
		} else {
			require.Equal(t, http.StatusNotFound, pollRec.Code)
		}
		if time.Now().After(deadline) {
			t.Fatal("comparison did not complete in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHandlePollCompare_ReadsSeededState(t *testing.T) {
	stores := store.NewManager(t.TempDir(), zerolog.Nop())
	t.Cleanup(func() { _ = stores.Close() })
	gw := New(config.NewDefaultGatewayConfig(), stores, nil, zerolog.Nop())

	left, right := "https://staging.example.com", "https://prod.example.com"
	comparisonID := pairkey.NewComparisonID(left, right)
	st, err := stores.Get(pairkey.FromComparisonID(comparisonID))
	require.NoError(t, err)
	require.NoError(t, st.CreateComparison(comparisonID, left, right))
	require.NoError(t, st.SaveResult(comparisonID, types.CompareResult{ComparisonID: comparisonID, LeftURL: left, RightURL: right}))

	req := httptest.NewRequest(http.MethodGet, "/api/compare/"+comparisonID, nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var poll pollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &poll))
	assert.Equal(t, "completed", poll.Status)
	require.NotNil(t, poll.Result)
	assert.Equal(t, comparisonID, poll.Result.ComparisonID)
}
