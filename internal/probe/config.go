package probe

import "time"

// coreHeaderWhitelist is the closed set of response headers retained in
// ResponseMetadata.HeadersCore, by lowercased name.
var coreHeaderWhitelist = map[string]struct{}{
	"cache-control":    {},
	"content-type":     {},
	"vary":             {},
	"www-authenticate": {},
	"location":         {},
}

const accessControlPrefix = "access-control-"

// redirectStatuses is the set of 3xx codes treated as redirects to follow;
// any other 3xx terminates the walk as a non-redirect response.
var redirectStatuses = map[int]struct{}{
	301: {}, 302: {}, 303: {}, 307: {}, 308: {},
}

const maxRedirectHops = 10

// Config controls a Prober. TotalBudget applies to every Probe call made
// through that Prober, and the HTTP transport is shared across them.
type Config struct {
	TotalBudget        time.Duration
	MaxRedirectHops    int
	InsecureSkipVerify bool
	EnableHTTP2        bool
	UserAgent          string

	// AllowLoopback lets the prober reach loopback/private targets that the
	// SSRF guard would otherwise reject. Malformed URLs are still refused.
	// Intended for local development against in-cluster targets; never
	// enable it on a deployment that accepts URLs from untrusted callers.
	AllowLoopback bool
}

// DefaultConfig returns the probe defaults named in the time-budget section:
// a 9-second total budget, at most 10 redirect hops.
func DefaultConfig() Config {
	return Config{
		TotalBudget:     9000 * time.Millisecond,
		MaxRedirectHops: maxRedirectHops,
		EnableHTTP2:     true,
		UserAgent:       "driftwatch-probe/1",
	}
}

// ConfigBuilder assembles a Config field by field, the construction idiom
// used throughout this repo for multi-field components.
type ConfigBuilder struct {
	cfg Config
}

// NewConfigBuilder starts from DefaultConfig.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: DefaultConfig()}
}

func (b *ConfigBuilder) WithTotalBudget(d time.Duration) *ConfigBuilder {
	if d > 0 {
		b.cfg.TotalBudget = d
	}
	return b
}

func (b *ConfigBuilder) WithMaxRedirectHops(n int) *ConfigBuilder {
	if n > 0 {
		b.cfg.MaxRedirectHops = n
	}
	return b
}

func (b *ConfigBuilder) WithInsecureSkipVerify(v bool) *ConfigBuilder {
	b.cfg.InsecureSkipVerify = v
	return b
}

func (b *ConfigBuilder) WithEnableHTTP2(v bool) *ConfigBuilder {
	b.cfg.EnableHTTP2 = v
	return b
}

func (b *ConfigBuilder) WithAllowLoopback(v bool) *ConfigBuilder {
	b.cfg.AllowLoopback = v
	return b
}

func (b *ConfigBuilder) WithUserAgent(ua string) *ConfigBuilder {
	if ua != "" {
		b.cfg.UserAgent = ua
	}
	return b
}

func (b *ConfigBuilder) Build() Config { return b.cfg }
