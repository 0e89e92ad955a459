package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pair.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func successEnvelope(comparisonID string, side types.Side, finalURL string) types.SignalEnvelope {
	return types.SignalEnvelope{
		SchemaVersion: types.SchemaVersion,
		ComparisonID:  comparisonID,
		ProbeID:       comparisonID + ":" + string(side),
		Side:          side,
		RequestedURL:  "https://example.com",
		CapturedAt:    time.Now(),
		Result: types.ProbeSuccess{
			Response:   types.ResponseMetadata{Status: 200, FinalURL: finalURL},
			DurationMs: 10,
		},
	}
}

func TestCreateComparison_ThenGetReturnsRunning(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateComparison("cmp1", "https://a", "https://b"))

	state, err := s.GetComparison("cmp1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, types.ComparisonRunning, state.Status)
	assert.Equal(t, "https://a", state.LeftURL)
}

func TestGetComparison_UnknownIDReturnsNil(t *testing.T) {
	s := newTestStore(t)
	state, err := s.GetComparison("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, state)
}

// Property 9: saveProbe is idempotent — calling it twice for the same
// comparisonId/side leaves exactly one row.
func TestSaveProbe_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateComparison("cmp1", "https://a", "https://b"))

	env := successEnvelope("cmp1", types.SideLeft, "https://a/final")
	require.NoError(t, s.SaveProbe("cmp1", types.SideLeft, env))
	require.NoError(t, s.SaveProbe("cmp1", types.SideLeft, env))

	var count int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM probes WHERE comparison_id=? AND side=?`, "cmp1", "left")
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSaveProbe_UsesFinalURLWhenPresent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateComparison("cmp1", "https://a", "https://b"))

	env := successEnvelope("cmp1", types.SideLeft, "https://a/final")
	require.NoError(t, s.SaveProbe("cmp1", types.SideLeft, env))

	var url string
	row := s.db.QueryRow(`SELECT url FROM probes WHERE id=?`, "cmp1:left")
	require.NoError(t, row.Scan(&url))
	assert.Equal(t, "https://a/final", url)
}

func TestSaveResult_MarksCompleted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateComparison("cmp1", "https://a", "https://b"))

	result := types.CompareResult{ComparisonID: "cmp1", LeftURL: "https://a", RightURL: "https://b"}
	require.NoError(t, s.SaveResult("cmp1", result))

	state, err := s.GetComparison("cmp1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, types.ComparisonCompleted, state.Status)
	require.NotNil(t, state.Result)
	assert.Equal(t, "cmp1", state.Result.ComparisonID)
	assert.Nil(t, state.Error)
}

func TestFailComparison_ClearsResult(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateComparison("cmp1", "https://a", "https://b"))
	require.NoError(t, s.SaveResult("cmp1", types.CompareResult{ComparisonID: "cmp1"}))

	require.NoError(t, s.FailComparison("cmp1", types.CompareError{Code: types.ErrTimeout, Message: "boom"}))

	state, err := s.GetComparison("cmp1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, types.ComparisonFailed, state.Status)
	assert.Nil(t, state.Result)
	require.NotNil(t, state.Error)
	assert.Equal(t, types.ErrTimeout, state.Error.Code)
}

// Property 10: a running comparison older than 5 minutes is rewritten to
// failed/timeout on read.
func TestGetComparison_RewritesStaleRunningComparison(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateComparison("cmp1", "https://a", "https://b"))

	old := time.Now().Add(-10 * time.Minute).UnixMilli()
	_, err := s.db.Exec(`UPDATE comparisons SET ts=? WHERE id=?`, old, "cmp1")
	require.NoError(t, err)

	state, err := s.GetComparison("cmp1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, types.ComparisonFailed, state.Status)
	require.NotNil(t, state.Error)
	assert.Equal(t, types.ErrTimeout, state.Error.Code)

	// The rewrite must be durable, not a read-time-only projection.
	again, err := s.GetComparison("cmp1")
	require.NoError(t, err)
	assert.Equal(t, types.ComparisonFailed, again.Status)
}

func TestGetComparison_LegacyStringErrorDeserializes(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateComparison("cmp1", "https://a", "https://b"))

	_, err := s.db.Exec(`UPDATE comparisons SET status='failed', error=? WHERE id=?`, `"boom: connection refused"`, "cmp1")
	require.NoError(t, err)

	state, err := s.GetComparison("cmp1")
	require.NoError(t, err)
	require.NotNil(t, state.Error)
	assert.Equal(t, types.ErrInternal, state.Error.Code)
	assert.Contains(t, state.Error.Message, "connection refused")
}

// Property 8: ring-buffer retention keeps at most maxRetainedComparisons
// comparisons, evicting the oldest first along with their probes. Old rows
// are seeded directly via SQL with explicit, distinct timestamps so the
// eviction order doesn't depend on wall-clock resolution in a tight loop.
func TestCreateComparison_RingBufferRetention(t *testing.T) {
	s := newTestStore(t)

	const seeded = maxRetainedComparisons - 1 + 5 // five more than the ring holds once the new row lands
	for i := 1; i <= seeded; i++ {
		id := fmt.Sprintf("old-%03d", i)
		_, err := s.db.Exec(
			`INSERT INTO comparisons (id, ts, left_url, right_url, status) VALUES (?, ?, 'https://a', 'https://b', 'completed')`,
			id, int64(i),
		)
		require.NoError(t, err)
		_, err = s.db.Exec(
			`INSERT INTO probes (id, comparison_id, ts, side, url, envelope_json) VALUES (?, ?, ?, 'left', 'https://a', '{}')`,
			id+":left", id, int64(i),
		)
		require.NoError(t, err)
	}

	require.NoError(t, s.CreateComparison("new-cmp", "https://a", "https://b"))
	require.NoError(t, s.SaveProbe("new-cmp", types.SideLeft, successEnvelope("new-cmp", types.SideLeft, "https://a")))

	var comparisonCount, probeCount int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM comparisons`).Scan(&comparisonCount))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM probes`).Scan(&probeCount))

	assert.Equal(t, maxRetainedComparisons, comparisonCount)
	assert.Equal(t, maxRetainedComparisons, probeCount)

	var oldestTs int
	require.NoError(t, s.db.QueryRow(`SELECT MIN(ts) FROM comparisons WHERE id != 'new-cmp'`).Scan(&oldestTs))
	assert.Equal(t, seeded-(maxRetainedComparisons-1)+1, oldestTs)

	var survived int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM comparisons WHERE id='old-001'`).Scan(&survived))
	assert.Zero(t, survived, "oldest seeded comparison must have been evicted")
}

// Property 8 with an overridden threshold: after 21 successive
// createComparison calls against a 20-entry ring, exactly the newest 20
// remain.
func TestCreateComparison_RingBufferOverriddenThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pair.db")
	s, err := OpenWithOptions(path, Options{RingBufferSize: 20}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for i := 1; i <= 21; i++ {
		id := fmt.Sprintf("cmp-%03d", i)
		require.NoError(t, s.CreateComparison(id, "https://a", "https://b"))
		// Pin distinct timestamps so eviction order doesn't depend on
		// wall-clock resolution in a tight loop.
		_, err := s.db.Exec(`UPDATE comparisons SET ts=? WHERE id=?`, int64(i), id)
		require.NoError(t, err)
	}

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM comparisons`).Scan(&count))
	assert.Equal(t, 20, count)

	var gone int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM comparisons WHERE id='cmp-001'`).Scan(&gone))
	assert.Zero(t, gone)

	var newest int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM comparisons WHERE id='cmp-021'`).Scan(&newest))
	assert.Equal(t, 1, newest)
}

func TestGetComparisonsForHistory_ReturnsCompletedNewestFirst(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		id := []string{"cmp1", "cmp2", "cmp3"}[i]
		require.NoError(t, s.CreateComparison(id, "https://a", "https://b"))
		require.NoError(t, s.SaveResult(id, types.CompareResult{ComparisonID: id}))
		_, err := s.db.Exec(`UPDATE comparisons SET ts=? WHERE id=?`, int64(i), id)
		require.NoError(t, err)
	}

	entries, err := s.GetComparisonsForHistory(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "cmp3", entries[0].ComparisonID)
	assert.Equal(t, "cmp1", entries[2].ComparisonID)
}

func TestManager_CachesStorePerPairKey(t *testing.T) {
	m := NewManager(t.TempDir(), zerolog.Nop())
	defer m.Close()

	s1, err := m.Get("pairA")
	require.NoError(t, err)
	s2, err := m.Get("pairA")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	s3, err := m.Get("pairB")
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
}
