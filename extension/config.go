package extension

import "time"

// Config holds the entitle extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.entitle" or "entitle" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// ProviderCallTimeout bounds each billing provider call
	// (default: 10s).
	ProviderCallTimeout time.Duration `json:"provider_call_timeout" mapstructure:"provider_call_timeout" yaml:"provider_call_timeout"`

	// ProviderRateLimit caps billing provider calls per second.
	// Zero disables the limiter.
	ProviderRateLimit float64 `json:"provider_rate_limit" mapstructure:"provider_rate_limit" yaml:"provider_rate_limit"`

	// ProviderRateBurst is the limiter burst size (default: 5 when the
	// limiter is enabled).
	ProviderRateBurst int `json:"provider_rate_burst" mapstructure:"provider_rate_burst" yaml:"provider_rate_burst"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProviderCallTimeout: 10 * time.Second,
		ProviderRateBurst:   5,
	}
}
