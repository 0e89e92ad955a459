package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Manager lazily opens and caches one Store per pair fingerprint. It is
// the in-process half of the store interface; an out-of-process backend
// could be added later behind the same Get contract without touching
// callers.
type Manager struct {
	baseDir string
	opts    Options
	logger  zerolog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a Manager rooted at baseDir with default retention
// options; each pairKey gets its own SQLite file at baseDir/<pairKey>.db.
func NewManager(baseDir string, logger zerolog.Logger) *Manager {
	return NewManagerWithOptions(baseDir, Options{}, logger)
}

// NewManagerWithOptions is NewManager with explicit retention options
// applied to every store it opens.
func NewManagerWithOptions(baseDir string, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		baseDir: baseDir,
		opts:    opts,
		logger:  logger,
		stores:  make(map[string]*Store),
	}
}

// Get returns the Store for pairKey, opening it on first use.
func (m *Manager) Get(pairKey string) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[pairKey]; ok {
		return s, nil
	}

	path := filepath.Join(m.baseDir, pairKey+".db")
	s, err := OpenWithOptions(path, m.opts, m.logger.With().Str("pair_key", pairKey).Logger())
	if err != nil {
		return nil, fmt.Errorf("open store for pair %s: %w", pairKey, err)
	}
	m.stores[pairKey] = s
	return s, nil
}

// Close closes every opened Store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for key, s := range m.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store for pair %s: %w", key, err)
		}
	}
	return firstErr
}
