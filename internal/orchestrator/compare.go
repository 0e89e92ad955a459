// Package orchestrator sequences the probe/diff/explain/persist pipeline
// for one comparison, through the at-least-once Step abstraction: every
// named step is independently retried on transient failure and memoized,
// so every DO call, probe, and persistence operation must be idempotent
// under the comparisonId it closes over.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/diff"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/logging"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/store"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
)

// Input is everything one compareEnvironments run needs: the identifiers
// the Gateway derived, plus an execution-context snapshot forwarded to
// both probes.
type Input struct {
	ComparisonID  string
	PairKey       string
	LeftURL       string
	RightURL      string
	LeftLabel     string
	RightLabel    string
	RunnerContext *types.CfContext
}

const llmMaxAttempts = 3

// Prober is the subset of *probe.Prober the Orchestrator depends on,
// narrowed to an interface so tests can substitute a stub that bypasses
// the SSRF guard's loopback rejection (httptest servers always bind to
// 127.0.0.1, which urlguard correctly refuses to actively probe).
type Prober interface {
	Probe(ctx context.Context, rawURL, comparisonID, probeID string, side types.Side, cfCtx *types.CfContext) types.SignalEnvelope
}

// Explainer is the subset of *explain.Client the Orchestrator depends on,
// narrowed to an interface so tests can substitute a stub model.
type Explainer interface {
	Explain(ctx context.Context, d diff.EnvDiff, history []types.HistoryEntry) (*types.Explanation, error)
}

// Orchestrator wires the Probe, Pair Store, and Explanation Client into the
// canonical compareEnvironments sequence.
type Orchestrator struct {
	prober    Prober
	stores    *store.Manager
	explainer Explainer
	logger    zerolog.Logger
}

// New builds an Orchestrator from its three collaborators.
func New(prober Prober, stores *store.Manager, explainer Explainer, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		prober:    prober,
		stores:    stores,
		explainer: explainer,
		logger:    logging.Component(logger, "Orchestrator"),
	}
}

// Run drives compareEnvironments: createComparison, probeLeft, saveLeftProbe,
// probeRight, saveRightProbe, computeDiff, loadHistory, explain, saveResult.
// Any uncaught failure records a CompareError via failComparison and is
// returned to the caller (who runs this asynchronously from the Gateway's
// POST handler, so the return value is observed only through logging).
func (o *Orchestrator) Run(ctx context.Context, step Step, input Input) error {
	log := logging.WithComparison(o.logger, input.ComparisonID, input.PairKey)

	st, err := o.stores.Get(input.PairKey)
	if err != nil {
		return fmt.Errorf("open pair store for %s: %w", input.PairKey, err)
	}

	if err := o.runSteps(ctx, step, input, st, log); err != nil {
		compareErr := toCompareError(err)
		if failErr := st.FailComparison(input.ComparisonID, compareErr); failErr != nil {
			log.Error().Err(failErr).Msg("failed to record comparison failure")
		}
		log.Error().Err(err).Msg("comparison failed")
		return err
	}
	return nil
}

func (o *Orchestrator) runSteps(ctx context.Context, step Step, input Input, st *store.Store, log zerolog.Logger) error {
	if _, err := step.Do(ctx, "createComparison", func(ctx context.Context) (any, error) {
		return nil, st.CreateComparison(input.ComparisonID, input.LeftURL, input.RightURL)
	}); err != nil {
		return fmt.Errorf("createComparison: %w", err)
	}

	leftEnvelope, err := o.probeSide(ctx, step, input, types.SideLeft, input.LeftURL)
	if err != nil {
		return err
	}
	if _, err := step.Do(ctx, "saveLeftProbe", func(ctx context.Context) (any, error) {
		return nil, st.SaveProbe(input.ComparisonID, types.SideLeft, leftEnvelope)
	}); err != nil {
		return fmt.Errorf("saveLeftProbe: %w", err)
	}

	rightEnvelope, err := o.probeSide(ctx, step, input, types.SideRight, input.RightURL)
	if err != nil {
		return err
	}
	if _, err := step.Do(ctx, "saveRightProbe", func(ctx context.Context) (any, error) {
		return nil, st.SaveProbe(input.ComparisonID, types.SideRight, rightEnvelope)
	}); err != nil {
		return fmt.Errorf("saveRightProbe: %w", err)
	}

	envDiff, err := diff.Compute(leftEnvelope, rightEnvelope)
	if err != nil {
		return fmt.Errorf("computeDiff: %w", err)
	}
	log.Info().Str("max_severity", string(envDiff.MaxSeverity)).Int("findings", len(envDiff.Findings)).Msg("diff computed")

	history := o.loadHistory(st, log)

	explanation, err := o.explainWithRetry(ctx, step, envDiff, history, log)
	if err != nil {
		return fmt.Errorf("explain: %w", err)
	}

	result := types.CompareResult{
		ComparisonID: input.ComparisonID,
		LeftURL:      input.LeftURL,
		RightURL:     input.RightURL,
		LeftLabel:    input.LeftLabel,
		RightLabel:   input.RightLabel,
		Left:         &leftEnvelope,
		Right:        &rightEnvelope,
		Explanation:  explanation,
	}
	if diffJSON, err := json.Marshal(envDiff); err == nil {
		result.Diff = diffJSON
	}

	if _, err := step.Do(ctx, "saveResult", func(ctx context.Context) (any, error) {
		return nil, st.SaveResult(input.ComparisonID, result)
	}); err != nil {
		return fmt.Errorf("saveResult: %w", err)
	}
	return nil
}

func (o *Orchestrator) probeSide(ctx context.Context, step Step, input Input, side types.Side, url string) (types.SignalEnvelope, error) {
	stepName := "probeLeft"
	if side == types.SideRight {
		stepName = "probeRight"
	}
	probeID := input.ComparisonID + ":" + string(side)

	v, err := step.Do(ctx, stepName, func(ctx context.Context) (any, error) {
		return o.prober.Probe(ctx, url, input.ComparisonID, probeID, side, input.RunnerContext), nil
	})
	if err != nil {
		return types.SignalEnvelope{}, fmt.Errorf("%s: %w", stepName, err)
	}
	return v.(types.SignalEnvelope), nil
}

// loadHistory is best-effort: any store error is swallowed into an empty
// history rather than failing the comparison.
func (o *Orchestrator) loadHistory(st *store.Store, log zerolog.Logger) []types.HistoryEntry {
	history, err := st.GetComparisonsForHistory(0)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load comparison history; continuing with none")
		return nil
	}
	return history
}

// explainWithRetry wraps the model call in an inner retry loop of exactly
// 3 attempts, sleeping via step.Sleep between them with a doubling delay:
// 1s after the first failure, 2s after the second, and no sleep after the
// last. Exhaustion returns a terminal error with the documented message.
func (o *Orchestrator) explainWithRetry(ctx context.Context, step Step, d diff.EnvDiff, history []types.HistoryEntry, log zerolog.Logger) (*types.Explanation, error) {
	backoffDelay := time.Second
	var lastErr error
	for attempt := 1; attempt <= llmMaxAttempts; attempt++ {
		expl, err := o.explainer.Explain(ctx, d, history)
		if err == nil {
			return expl, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("explanation call failed")
		if attempt == llmMaxAttempts {
			break
		}
		if sleepErr := step.Sleep(ctx, backoffDelay); sleepErr != nil {
			return nil, sleepErr
		}
		backoffDelay *= 2
	}
	return nil, fmt.Errorf("LLM service unavailable after %d attempts: %w", llmMaxAttempts, lastErr)
}

// toCompareError maps an orchestrator-internal error onto the closed
// CompareError shape persisted for API callers; never a raw stack trace.
func toCompareError(err error) types.CompareError {
	return types.CompareError{
		Code:    types.ErrInternal,
		Message: err.Error(),
	}
}
