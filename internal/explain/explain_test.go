package explain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
)

func TestExtractJSONObject_Plain(t *testing.T) {
	raw := `{"summary": "drift detected"}`
	assert.Equal(t, raw, extractJSONObject(raw))
}

func TestExtractJSONObject_MarkdownFenced(t *testing.T) {
	raw := "```json\n{\"summary\": \"drift detected\"}\n```"
	assert.Equal(t, `{"summary": "drift detected"}`, extractJSONObject(raw))
}

func TestExtractJSONObject_BracesInsideString(t *testing.T) {
	raw := `{"summary": "a {funny} brace", "notes": ["ok"]}`
	assert.Equal(t, raw, extractJSONObject(raw))
}

func TestExtractJSONObject_PreambleAndTrailer(t *testing.T) {
	raw := "Sure, here you go:\n{\"summary\": \"ok\"}\nLet me know if you need more."
	assert.Equal(t, `{"summary": "ok"}`, extractJSONObject(raw))
}

func TestExtractJSONObject_NoObject(t *testing.T) {
	assert.Equal(t, "", extractJSONObject("no json here"))
}

func TestStripMarkdownFences_Bare(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripMarkdownFences(`{"a":1}`))
}

func TestValidate_RejectsEmptySummary(t *testing.T) {
	err := validate(types.Explanation{Summary: "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary")
}

func TestValidate_RejectsOutOfRangeConfidence(t *testing.T) {
	err := validate(types.Explanation{
		Summary:      "drift",
		RankedCauses: []types.RankedCause{{Cause: "cache purge", Confidence: 1.5}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence")
}

func TestValidate_RejectsEmptyCause(t *testing.T) {
	err := validate(types.Explanation{
		Summary:      "drift",
		RankedCauses: []types.RankedCause{{Cause: "  ", Confidence: 0.5}},
	})
	require.Error(t, err)
}

func TestValidate_RejectsEmptyAction(t *testing.T) {
	err := validate(types.Explanation{
		Summary: "drift",
		Actions: []types.RecommendedAction{{Action: "", Why: "because"}},
	})
	require.Error(t, err)
}

func TestValidate_AcceptsWellFormed(t *testing.T) {
	err := validate(types.Explanation{
		Summary:      "staging returns a stale cache-control header",
		RankedCauses: []types.RankedCause{{Cause: "CDN config drift", Confidence: 0.8, Evidence: []string{"cache-control differs"}}},
		Actions:      []types.RecommendedAction{{Action: "sync CDN config", Why: "avoid serving stale assets"}},
	})
	assert.NoError(t, err)
}

func TestTruncate_ShorterThanLimit(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
}

func TestTruncate_LongerThanLimit(t *testing.T) {
	assert.Equal(t, "abcde", truncate("abcdefghij", 5))
}

func TestTruncateOr_FallsBackOnZero(t *testing.T) {
	assert.Equal(t, 100, truncateOr(0, 100))
	assert.Equal(t, 50, truncateOr(50, 100))
}

func TestRenderHistory_Empty(t *testing.T) {
	assert.Equal(t, "", renderHistory(nil))
}
