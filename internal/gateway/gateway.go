// Package gateway implements the REST surface: POST /api/compare starts a
// comparison and returns immediately, GET /api/compare/{id} polls its
// state, GET /api/health is a liveness probe. Built on chi + go-chi/cors,
// the HTTP stack the scanner itself has no precedent for but the rest of
// the retrieval pack (jordigilh-kubernaut) exercises.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/config"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/logging"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/orchestrator"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/pairkey"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/store"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/urlguard"
)

// Gateway wires the HTTP surface to the store and orchestrator.
type Gateway struct {
	cfg          config.GatewayConfig
	stores       *store.Manager
	orchestrator *orchestrator.Orchestrator
	validate     *validator.Validate
	logger       zerolog.Logger
	router       chi.Router
}

// compareRequest is the POST /api/compare body.
type compareRequest struct {
	LeftURL    string `json:"leftUrl" validate:"required,url"`
	RightURL   string `json:"rightUrl" validate:"required,url"`
	LeftLabel  string `json:"leftLabel,omitempty"`
	RightLabel string `json:"rightLabel,omitempty"`
}

type startResponse struct {
	ComparisonID string `json:"comparisonId"`
}

type errorEnvelope struct {
	Error types.CompareError `json:"error"`
}

type pollResponse struct {
	Status string               `json:"status"`
	Result *types.CompareResult `json:"result,omitempty"`
	Error  *types.CompareError  `json:"error,omitempty"`
}

// New builds a Gateway and its chi router.
func New(cfg config.GatewayConfig, stores *store.Manager, orch *orchestrator.Orchestrator, logger zerolog.Logger) *Gateway {
	g := &Gateway{
		cfg:          cfg,
		stores:       stores,
		orchestrator: orch,
		validate:     validator.New(),
		logger:       logging.Component(logger, "Gateway"),
	}
	g.router = g.buildRouter()
	return g
}

// Handler returns the http.Handler to serve.
func (g *Gateway) Handler() http.Handler { return g.router }

func (g *Gateway) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: g.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/health", g.handleHealth)
	r.Post("/api/compare", g.handleStartCompare)
	r.Get("/api/compare/{comparisonId}", g.handlePollCompare)
	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (g *Gateway) handleStartCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrInvalidRequest, "request body is not valid JSON", "")
		return
	}
	if err := g.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrInvalidRequest, "leftUrl and rightUrl are required", err.Error())
		return
	}

	if verdict := urlguard.Validate(req.LeftURL); !verdict.OK {
		code := classifyCode(verdict.Reason)
		writeError(w, http.StatusBadRequest, code, "Invalid leftUrl: "+string(verdict.Reason), "")
		return
	}
	if verdict := urlguard.Validate(req.RightURL); !verdict.OK {
		code := classifyCode(verdict.Reason)
		writeError(w, http.StatusBadRequest, code, "Invalid rightUrl: "+string(verdict.Reason), "")
		return
	}

	// The store is keyed by the same 40-hex fingerprint prefix the poll
	// handler recovers from the comparisonId, so both paths land on one
	// Pair Store instance.
	storeKey := pairkey.Prefix(pairkey.Of(req.LeftURL, req.RightURL))
	comparisonID := pairkey.NewComparisonID(req.LeftURL, req.RightURL)

	input := orchestrator.Input{
		ComparisonID: comparisonID,
		PairKey:      storeKey,
		LeftURL:      req.LeftURL,
		RightURL:     req.RightURL,
		LeftLabel:    req.LeftLabel,
		RightLabel:   req.RightLabel,
	}

	log := logging.WithComparison(g.logger, comparisonID, storeKey)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := g.orchestrator.Run(ctx, orchestrator.NewStep(), input); err != nil {
			log.Error().Err(err).Msg("comparison run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, startResponse{ComparisonID: comparisonID})
}

func (g *Gateway) handlePollCompare(w http.ResponseWriter, r *http.Request) {
	comparisonID := chi.URLParam(r, "comparisonId")
	pairKey := pairkey.FromComparisonID(comparisonID)

	st, err := g.stores.Get(pairKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrInternal, "failed to open pair store", err.Error())
		return
	}

	state, err := st.GetComparison(comparisonID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrInternal, "failed to read comparison state", err.Error())
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, types.ErrInvalidRequest, "Comparison not found", "")
		return
	}

	switch state.Status {
	case types.ComparisonRunning:
		writeJSON(w, http.StatusOK, pollResponse{Status: string(types.ComparisonRunning)})
	case types.ComparisonCompleted:
		writeJSON(w, http.StatusOK, pollResponse{Status: string(types.ComparisonCompleted), Result: state.Result})
	case types.ComparisonFailed:
		writeJSON(w, http.StatusOK, pollResponse{Status: string(types.ComparisonFailed), Error: state.Error})
	default:
		writeError(w, http.StatusInternalServerError, types.ErrInternal, "unknown comparison status", string(state.Status))
	}
}

// classifyCode maps an SSRF-guard rejection reason onto the gateway's
// invalid_url/ssrf_blocked split, per §4.1.
func classifyCode(reason urlguard.RejectReason) types.CompareErrorCode {
	if urlguard.ClassifyRejection(reason) == "ssrf_blocked" {
		return types.ErrSSRFBlocked
	}
	return types.ErrInvalidURL
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code types.CompareErrorCode, message, details string) {
	writeJSON(w, status, errorEnvelope{Error: types.CompareError{Code: code, Message: message, Details: details}})
}
