// Package config loads and validates driftwatch's configuration: a
// GlobalConfig aggregating one sub-config per component, sourced from a
// YAML file located by ConfigFileLocator and overlaid with environment
// variables, matching the scanner's internal/config package shape.
package config

import (
	"time"
)

// --- Defaults ---

const (
	DefaultAddr               = ":8080"
	DefaultProbeBudgetMs      = 9000
	DefaultProbeMaxHops       = 10
	DefaultProbeUserAgent     = "driftwatch-probe/1"
	DefaultStoreBaseDir       = "data/pairs"
	DefaultRingBufferSize     = 50
	DefaultStaleAfterMinutes  = 5
	DefaultLLMModel           = "gpt-4o-mini"
	DefaultLLMBaseURL         = "https://api.openai.com/v1"
	DefaultLLMMaxRetries      = 3
	DefaultLLMTimeoutSeconds  = 20
	DefaultHistoryLimit       = 10
	DefaultFindingsTruncate   = 1500
	DefaultHistoryTruncate    = 800
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "console"
	DefaultLogMaxSizeMB       = 50
	DefaultLogMaxBackups      = 3
	DefaultShutdownGraceSecs  = 10
)

// ProbeConfig controls the Active Probe.
type ProbeConfig struct {
	TotalBudgetMs      int    `json:"total_budget_ms,omitempty" yaml:"total_budget_ms,omitempty" validate:"omitempty,min=100"`
	MaxRedirectHops    int    `json:"max_redirect_hops,omitempty" yaml:"max_redirect_hops,omitempty" validate:"omitempty,min=1,max=20"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	EnableHTTP2        bool   `json:"enable_http2" yaml:"enable_http2"`
	UserAgent          string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	AllowLoopback      bool   `json:"allow_loopback" yaml:"allow_loopback"`
}

func NewDefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		TotalBudgetMs:   DefaultProbeBudgetMs,
		MaxRedirectHops: DefaultProbeMaxHops,
		EnableHTTP2:     true,
		UserAgent:       DefaultProbeUserAgent,
	}
}

// Budget converts TotalBudgetMs to a time.Duration.
func (c ProbeConfig) Budget() time.Duration {
	return time.Duration(c.TotalBudgetMs) * time.Millisecond
}

// StoreConfig controls the Pair Store.
type StoreConfig struct {
	BaseDir           string `json:"base_dir,omitempty" yaml:"base_dir,omitempty" validate:"omitempty,dirpath"`
	RingBufferSize    int    `json:"ring_buffer_size,omitempty" yaml:"ring_buffer_size,omitempty" validate:"omitempty,min=1"`
	StaleAfterMinutes int    `json:"stale_after_minutes,omitempty" yaml:"stale_after_minutes,omitempty" validate:"omitempty,min=1"`
}

func NewDefaultStoreConfig() StoreConfig {
	return StoreConfig{
		BaseDir:           DefaultStoreBaseDir,
		RingBufferSize:    DefaultRingBufferSize,
		StaleAfterMinutes: DefaultStaleAfterMinutes,
	}
}

// ExplainConfig controls the Explanation Client.
type ExplainConfig struct {
	APIKey           string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL          string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model            string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxRetries       int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty" validate:"omitempty,min=1,max=10"`
	TimeoutSeconds   int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" validate:"omitempty,min=1"`
	HistoryLimit     int    `json:"history_limit,omitempty" yaml:"history_limit,omitempty" validate:"omitempty,min=0,max=50"`
	FindingsTruncate int    `json:"findings_truncate,omitempty" yaml:"findings_truncate,omitempty" validate:"omitempty,min=100"`
	HistoryTruncate  int    `json:"history_truncate,omitempty" yaml:"history_truncate,omitempty" validate:"omitempty,min=100"`
}

func NewDefaultExplainConfig() ExplainConfig {
	return ExplainConfig{
		BaseURL:          DefaultLLMBaseURL,
		Model:            DefaultLLMModel,
		MaxRetries:       DefaultLLMMaxRetries,
		TimeoutSeconds:   DefaultLLMTimeoutSeconds,
		HistoryLimit:     DefaultHistoryLimit,
		FindingsTruncate: DefaultFindingsTruncate,
		HistoryTruncate:  DefaultHistoryTruncate,
	}
}

// GatewayConfig controls the REST Gateway's HTTP server.
type GatewayConfig struct {
	Addr                 string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	ShutdownGraceSeconds int      `json:"shutdown_grace_seconds,omitempty" yaml:"shutdown_grace_seconds,omitempty" validate:"omitempty,min=1"`
	AllowedOrigins       []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
}

func NewDefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Addr:                 DefaultAddr,
		ShutdownGraceSeconds: DefaultShutdownGraceSecs,
		AllowedOrigins:       []string{"*"},
	}
}

// LogConfig controls the zerolog root logger.
type LogConfig struct {
	Level      string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,loglevel"`
	Format     string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,logformat"`
	FilePath   string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" validate:"omitempty,min=1"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" validate:"omitempty,min=0"`
}

func NewDefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      DefaultLogLevel,
		Format:     DefaultLogFormat,
		MaxSizeMB:  DefaultLogMaxSizeMB,
		MaxBackups: DefaultLogMaxBackups,
	}
}

// GlobalConfig aggregates every component's configuration.
type GlobalConfig struct {
	ProbeConfig   ProbeConfig   `json:"probe_config,omitempty" yaml:"probe_config,omitempty"`
	StoreConfig   StoreConfig   `json:"store_config,omitempty" yaml:"store_config,omitempty"`
	ExplainConfig ExplainConfig `json:"explain_config,omitempty" yaml:"explain_config,omitempty"`
	GatewayConfig GatewayConfig `json:"gateway_config,omitempty" yaml:"gateway_config,omitempty"`
	LogConfig     LogConfig     `json:"log_config,omitempty" yaml:"log_config,omitempty"`
}

// NewDefaultGlobalConfig returns a GlobalConfig with every sub-config at its
// documented default.
func NewDefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		ProbeConfig:   NewDefaultProbeConfig(),
		StoreConfig:   NewDefaultStoreConfig(),
		ExplainConfig: NewDefaultExplainConfig(),
		GatewayConfig: NewDefaultGatewayConfig(),
		LogConfig:     NewDefaultLogConfig(),
	}
}
