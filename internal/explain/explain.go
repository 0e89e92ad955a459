// Package explain implements the Explanation Client: given an EnvDiff and a
// short history of prior comparisons, it prompts a generative model and
// validates the JSON explanation it returns. The model call itself is the
// only non-deterministic step in the pipeline; everything else here
// (truncation, extraction, validation) is pure and unit-testable without a
// live model.
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/config"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/diff"
	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
)

// Client calls the generative model and validates its output against the
// Explanation shape.
type Client struct {
	cfg    config.ExplainConfig
	openai *openai.Client
}

// New builds a Client pointed at cfg.BaseURL (OpenAI-compatible) using
// cfg.APIKey. The client is reused across calls; go-openai's underlying
// http.Client is safe for concurrent use.
func New(cfg config.ExplainConfig) *Client {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{cfg: cfg, openai: openai.NewClientWithConfig(oaiCfg)}
}

// Explain prompts the model with d's findings and history, and returns a
// validated Explanation. Callers are responsible for retry/backoff (the
// Orchestrator wraps this in its own 3-attempt backoff loop); Explain
// itself makes exactly one model call per invocation.
func (c *Client) Explain(ctx context.Context, d diff.EnvDiff, history []types.HistoryEntry) (*types.Explanation, error) {
	if c.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	prompt := c.buildPrompt(d, history)

	resp, err := c.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("explanation model call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("explanation model returned no choices")
	}

	raw := extractJSONObject(resp.Choices[0].Message.Content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object found in model output")
	}

	var expl types.Explanation
	if err := json.Unmarshal([]byte(raw), &expl); err != nil {
		return nil, fmt.Errorf("decode explanation JSON: %w", err)
	}
	if err := validate(expl); err != nil {
		return nil, fmt.Errorf("invalid explanation: %w", err)
	}
	return &expl, nil
}

const systemPrompt = `You are an SRE assistant explaining observed drift between two HTTP endpoints (left and right, typically staging vs production of the same service). Given a structured list of findings and optional history from prior comparisons of the same pair, respond with a single raw JSON object of exactly this shape, and nothing else:
{"summary": string, "ranked_causes": [{"cause": string, "confidence": number between 0 and 1, "evidence": [string]}], "actions": [{"action": string, "why": string}], "notes": [string] (optional)}
Do not wrap the JSON in markdown code fences. Do not include any text before or after the JSON object.`

// buildPrompt renders d's findings and history into the user message,
// truncated to the configured lengths per §4.7.
func (c *Client) buildPrompt(d diff.EnvDiff, history []types.HistoryEntry) string {
	findingsJSON, _ := json.Marshal(d.Findings)
	findingsStr := truncate(string(findingsJSON), truncateOr(c.cfg.FindingsTruncate, config.DefaultFindingsTruncate))

	historyStr := truncate(renderHistory(history), truncateOr(c.cfg.HistoryTruncate, config.DefaultHistoryTruncate))

	var b strings.Builder
	fmt.Fprintf(&b, "maxSeverity: %s\n", d.MaxSeverity)
	fmt.Fprintf(&b, "findings: %s\n", findingsStr)
	if historyStr != "" {
		fmt.Fprintf(&b, "history: %s\n", historyStr)
	}
	return b.String()
}

func renderHistory(history []types.HistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	parts := make([]string, 0, len(history))
	for _, h := range history {
		parts = append(parts, fmt.Sprintf("%s@%s:%s", h.ComparisonID, h.CreatedAt.Format("2006-01-02"), h.MaxSeverity))
	}
	return strings.Join(parts, "; ")
}

func truncateOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// extractJSONObject strips markdown code fences and returns the first
// complete top-level JSON object in s, tracking string literals and escape
// sequences so that braces inside strings don't unbalance the scan.
func extractJSONObject(s string) string {
	s = stripMarkdownFences(s)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// validate rejects explanations with an empty summary, out-of-range
// confidence, or malformed arrays.
func validate(e types.Explanation) error {
	if strings.TrimSpace(e.Summary) == "" {
		return fmt.Errorf("summary is empty")
	}
	for i, c := range e.RankedCauses {
		if c.Confidence < 0 || c.Confidence > 1 {
			return fmt.Errorf("ranked_causes[%d].confidence %v out of [0,1]", i, c.Confidence)
		}
		if strings.TrimSpace(c.Cause) == "" {
			return fmt.Errorf("ranked_causes[%d].cause is empty", i)
		}
	}
	for i, a := range e.Actions {
		if strings.TrimSpace(a.Action) == "" {
			return fmt.Errorf("actions[%d].action is empty", i)
		}
	}
	return nil
}
