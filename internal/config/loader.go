package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const configPathEnvVar = "DRIFTWATCH_CONFIG_PATH"

// ConfigFileLocator finds the config file to load, in priority order:
// explicit flag path, environment variable, cwd, then executable directory.
type ConfigFileLocator struct {
	logger zerolog.Logger
}

// NewConfigFileLocator builds a locator that logs its search via logger.
func NewConfigFileLocator(logger zerolog.Logger) *ConfigFileLocator {
	return &ConfigFileLocator{logger: logger}
}

// GetConfigPath is the package-level convenience wrapper around
// ConfigFileLocator, for callers that don't need a logger.
func GetConfigPath(flagPath string) string {
	return NewConfigFileLocator(zerolog.Nop()).FindConfigFile(flagPath)
}

// FindConfigFile applies the priority order and returns the first config
// file path found, or "" if none exists anywhere in the search order.
func (l *ConfigFileLocator) FindConfigFile(flagPath string) string {
	if path := l.checkPath(flagPath, "flag"); path != "" {
		return path
	}
	if path := l.checkPath(os.Getenv(configPathEnvVar), "env var "+configPathEnvVar); path != "" {
		return path
	}
	for _, dir := range l.searchDirs() {
		for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
			candidate := filepath.Join(dir, name)
			if path := l.checkPath(candidate, "default location"); path != "" {
				return path
			}
		}
	}
	return ""
}

func (l *ConfigFileLocator) checkPath(path, source string) string {
	if path == "" {
		return ""
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		l.logger.Debug().Str("path", path).Str("source", source).Msg("using config file")
		return path
	}
	return ""
}

func (l *ConfigFileLocator) searchDirs() []string {
	dirs := []string{"."}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	return dirs
}

// LoadGlobalConfig loads a GlobalConfig starting from defaults, overlaying
// a YAML file located by ConfigFileLocator (if any), then environment
// variables (if any are set). flagPath wins over every other location.
func LoadGlobalConfig(flagPath string, logger zerolog.Logger) (*GlobalConfig, error) {
	cfg := NewDefaultGlobalConfig()

	if path := NewConfigFileLocator(logger).FindConfigFile(flagPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverlay(cfg)
	return cfg, nil
}

// applyEnvOverlay overrides select secrets/operational knobs from the
// environment, matching the scanner's preference for env vars on anything
// that shouldn't land in a checked-in YAML file.
func applyEnvOverlay(cfg *GlobalConfig) {
	if v := os.Getenv("DRIFTWATCH_EXPLAIN_API_KEY"); v != "" {
		cfg.ExplainConfig.APIKey = v
	}
	if v := os.Getenv("DRIFTWATCH_EXPLAIN_BASE_URL"); v != "" {
		cfg.ExplainConfig.BaseURL = v
	}
	if v := os.Getenv("DRIFTWATCH_EXPLAIN_MODEL"); v != "" {
		cfg.ExplainConfig.Model = v
	}
	if v := os.Getenv("DRIFTWATCH_ADDR"); v != "" {
		cfg.GatewayConfig.Addr = v
	}
	if v := os.Getenv("DRIFTWATCH_STORE_DIR"); v != "" {
		cfg.StoreConfig.BaseDir = v
	}
}
