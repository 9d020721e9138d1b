package extension

import (
	"time"

	entitle "github.com/praxishq/entitle"
	"github.com/praxishq/entitle/billing"
	"github.com/praxishq/entitle/plugin"
	"github.com/praxishq/entitle/store"
	"github.com/praxishq/entitle/tier"
)

// Option configures the entitle Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes an entitle.Option through to the underlying engine.
func WithEngineOption(opt entitle.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithPlugin(p))
	}
}

// WithCatalog replaces the default tier catalog.
func WithCatalog(c *tier.Catalog) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithCatalog(c))
	}
}

// WithProvider sets the billing provider.
func WithProvider(p billing.Provider) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithProvider(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithProviderCallTimeout bounds each billing provider call.
func WithProviderCallTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.ProviderCallTimeout = d }
}

// WithProviderRateLimit caps billing provider calls per second.
func WithProviderRateLimit(rps float64, burst int) Option {
	return func(e *Extension) {
		e.config.ProviderRateLimit = rps
		e.config.ProviderRateBurst = burst
	}
}
