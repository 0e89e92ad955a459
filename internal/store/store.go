// Package store persists Comparison and Probe records in one isolated
// SQLite database per pair fingerprint. Every operation is idempotent
// under its id, and createComparison carries out ring-buffer retention
// in the same unit of work that inserts the newest row.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/zahran001/cf-ai-env-drift-analyzer-sub000/internal/types"
)

const (
	maxRetainedComparisons = 50
	staleAfter             = 5 * time.Minute
)

// ErrNotFound is returned by nothing in this package directly — callers
// distinguish a miss via the nil *types.ComparisonState return instead —
// but is kept for callers that prefer a sentinel in their own error chains.
var ErrNotFound = errors.New("comparison not found")

// Options tunes a Store's retention behavior; zero values fall back to the
// package defaults (50-entry ring, 5-minute staleness).
type Options struct {
	RingBufferSize int
	StaleAfter     time.Duration
}

func (o Options) withDefaults() Options {
	if o.RingBufferSize <= 0 {
		o.RingBufferSize = maxRetainedComparisons
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = staleAfter
	}
	return o
}

// Store wraps one pair's SQLite database.
type Store struct {
	db     *sql.DB
	opts   Options
	logger zerolog.Logger
}

// Open opens (creating if absent) the SQLite database at dataSourceName
// with default retention options and ensures its schema exists.
func Open(dataSourceName string, logger zerolog.Logger) (*Store, error) {
	return OpenWithOptions(dataSourceName, Options{}, logger)
}

// OpenWithOptions is Open with explicit retention options.
func OpenWithOptions(dataSourceName string, opts Options, logger zerolog.Logger) (*Store, error) {
	logger.Info().Str("db_path", dataSourceName).Msg("opening pair store")

	if dir := filepath.Dir(dataSourceName); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create pair store directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("sql.Open failed for %s: %w", dataSourceName, err)
	}

	s := &Store{db: db, opts: opts.withDefaults(), logger: logger}
	if err := s.initSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema for %s: %w", dataSourceName, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS comparisons (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			left_url TEXT NOT NULL,
			right_url TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('running','completed','failed')),
			result_json TEXT,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS probes (
			id TEXT PRIMARY KEY,
			comparison_id TEXT NOT NULL REFERENCES comparisons(id) ON DELETE CASCADE,
			ts INTEGER NOT NULL,
			side TEXT NOT NULL CHECK (side IN ('left','right')),
			url TEXT NOT NULL,
			envelope_json TEXT NOT NULL,
			UNIQUE(comparison_id, side)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comparisons_ts ON comparisons(ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_comparisons_status ON comparisons(status)`,
		`CREATE INDEX IF NOT EXISTS idx_probes_comparison_id ON probes(comparison_id)`,
		`CREATE INDEX IF NOT EXISTS idx_probes_side ON probes(side)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateComparison inserts a new running comparison and, in the same
// transaction, evicts comparisons (and their probes) beyond the newest
// Options.RingBufferSize rows (maxRetainedComparisons by default).
func (s *Store) CreateComparison(id, leftURL, rightURL string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin createComparison: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	_, err = tx.Exec(
		`INSERT OR REPLACE INTO comparisons (id, ts, left_url, right_url, status, result_json, error)
		 VALUES (?, ?, ?, ?, 'running', NULL, NULL)`,
		id, now, leftURL, rightURL,
	)
	if err != nil {
		return fmt.Errorf("insert comparison: %w", err)
	}

	if err := evictBeyondRing(tx, s.opts.RingBufferSize); err != nil {
		return fmt.Errorf("ring-buffer retention: %w", err)
	}

	return tx.Commit()
}

// evictBeyondRing deletes every comparison (and, explicitly, its probes)
// older than the ts of the Nth newest row. Probes are deleted before
// comparisons rather than relying solely on the FK cascade.
func evictBeyondRing(tx *sql.Tx, n int) error {
	var cutoff sql.NullInt64
	err := tx.QueryRow(
		`SELECT ts FROM comparisons ORDER BY ts DESC LIMIT 1 OFFSET ?`, n-1,
	).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if !cutoff.Valid {
		return nil
	}

	if _, err := tx.Exec(
		`DELETE FROM probes WHERE comparison_id IN (SELECT id FROM comparisons WHERE ts < ?)`,
		cutoff.Int64,
	); err != nil {
		return err
	}
	_, err = tx.Exec(`DELETE FROM comparisons WHERE ts < ?`, cutoff.Int64)
	return err
}

// SaveProbe upserts the envelope captured for one side of a comparison.
// url is the envelope's finalUrl when a response was captured, else its
// requestedUrl.
func (s *Store) SaveProbe(comparisonID string, side types.Side, envelope types.SignalEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	url := envelope.RequestedURL
	if resp, ok := types.ResponseOf(envelope.Result); ok && resp.FinalURL != "" {
		url = resp.FinalURL
	}

	probeID := comparisonID + ":" + string(side)
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO probes (id, comparison_id, ts, side, url, envelope_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		probeID, comparisonID, time.Now().UnixMilli(), string(side), url, string(data),
	)
	if err != nil {
		return fmt.Errorf("save probe %s: %w", probeID, err)
	}
	return nil
}

// SaveResult marks a comparison completed with its serialized result.
func (s *Store) SaveResult(comparisonID string, result types.CompareResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE comparisons SET status='completed', result_json=?, error=NULL WHERE id=?`,
		string(data), comparisonID,
	)
	if err != nil {
		return fmt.Errorf("save result for %s: %w", comparisonID, err)
	}
	return nil
}

// FailComparison marks a comparison failed with a serialized error,
// clearing any partial result.
func (s *Store) FailComparison(comparisonID string, compareErr types.CompareError) error {
	data, err := json.Marshal(compareErr)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE comparisons SET status='failed', error=?, result_json=NULL WHERE id=?`,
		string(data), comparisonID,
	)
	if err != nil {
		return fmt.Errorf("fail comparison %s: %w", comparisonID, err)
	}
	return nil
}

// GetComparison returns the current state of a comparison, or nil if the
// id is unknown. A running comparison older than Options.StaleAfter
// (staleAfter by default) is rewritten
// to failed/timeout in place before being returned.
func (s *Store) GetComparison(comparisonID string) (*types.ComparisonState, error) {
	var (
		ts                   int64
		leftURL, rightURL    string
		status               string
		resultJSON, errField sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT ts, left_url, right_url, status, result_json, error FROM comparisons WHERE id=?`,
		comparisonID,
	).Scan(&ts, &leftURL, &rightURL, &status, &resultJSON, &errField)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get comparison %s: %w", comparisonID, err)
	}

	createdAt := time.UnixMilli(ts)
	if status == string(types.ComparisonRunning) && time.Since(createdAt) > s.opts.StaleAfter {
		staleErr := types.CompareError{
			Code:    types.ErrTimeout,
			Message: "Stale comparison (workflow terminated or lost)",
		}
		if err := s.FailComparison(comparisonID, staleErr); err != nil {
			return nil, fmt.Errorf("rewrite stale comparison %s: %w", comparisonID, err)
		}
		return &types.ComparisonState{
			ID:        comparisonID,
			CreatedAt: createdAt,
			LeftURL:   leftURL,
			RightURL:  rightURL,
			Status:    types.ComparisonFailed,
			Error:     &staleErr,
		}, nil
	}

	state := &types.ComparisonState{
		ID:        comparisonID,
		CreatedAt: createdAt,
		LeftURL:   leftURL,
		RightURL:  rightURL,
		Status:    types.ComparisonStatus(status),
	}

	if resultJSON.Valid && resultJSON.String != "" {
		var result types.CompareResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode result for %s: %w", comparisonID, err)
		}
		state.Result = &result
	}
	if errField.Valid && errField.String != "" {
		state.Error = decodeCompareError(errField.String)
	}

	return state, nil
}

// decodeCompareError decodes a persisted error field, falling back to the
// legacy plain-string representation when the value isn't a JSON object:
// either a JSON-encoded string, or a bare string with no JSON framing at
// all.
func decodeCompareError(raw string) *types.CompareError {
	var ce types.CompareError
	if err := json.Unmarshal([]byte(raw), &ce); err == nil && ce.Code != "" {
		return &ce
	}
	var legacy string
	if err := json.Unmarshal([]byte(raw), &legacy); err == nil {
		return &types.CompareError{Code: types.ErrInternal, Message: legacy}
	}
	return &types.CompareError{Code: types.ErrInternal, Message: raw}
}

// GetComparisonsForHistory returns up to limit completed comparisons,
// newest first.
func (s *Store) GetComparisonsForHistory(limit int) ([]types.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, ts, result_json FROM comparisons WHERE status='completed' ORDER BY ts DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []types.HistoryEntry
	for rows.Next() {
		var (
			id         string
			ts         int64
			resultJSON sql.NullString
		)
		if err := rows.Scan(&id, &ts, &resultJSON); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry := types.HistoryEntry{ComparisonID: id, CreatedAt: time.UnixMilli(ts)}
		if resultJSON.Valid && resultJSON.String != "" {
			var result types.CompareResult
			if err := json.Unmarshal([]byte(resultJSON.String), &result); err == nil {
				if result.Explanation != nil {
					entry.Summary = result.Explanation.Summary
				}
				entry.MaxSeverity = maxSeverityFromDiff(result.Diff)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// maxSeverityFromDiff pulls maxSeverity out of a raw persisted EnvDiff
// without importing the diff package, keeping store free of a dependency
// on the diff engine's internals.
func maxSeverityFromDiff(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var probe struct {
		MaxSeverity string `json:"maxSeverity"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.MaxSeverity
}
