// Package providers holds the framework's default application providers and
// the baseline tokens every module can depend on without importing them.
package providers

import (
	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/config"
	"github.com/km-arc/modgraph/framework/container"
	"github.com/km-arc/modgraph/framework/metrics"
	"github.com/km-arc/modgraph/framework/provider"
)

// Token is a framework-owned token.
type Token string

// TokenName implements provider.Named.
func (t Token) TokenName() string { return string(t) }

// Framework tokens.
//
//	cfg, err := container.Resolve[*config.Config](inj, providers.Config)
const (
	// Config resolves to *config.Config.
	Config Token = "modgraph.config"
	// Logger resolves to zerolog.Logger.
	Logger Token = "modgraph.logger"
	// Metrics resolves to *metrics.Collector.
	Metrics Token = "modgraph.metrics"
	// Module resolves to the metadata of the module owning the injector.
	// It is bound by the bootstrapper on every module injector.
	Module Token = "modgraph.module"
)

// Defaults returns the application providers the framework prepends to the
// ones collected from modules. A nil collector is left out.
func Defaults(cfg *config.Config, log zerolog.Logger, m *metrics.Collector) []provider.Provider {
	ps := []provider.Provider{
		provider.UseValue(Config, cfg),
		provider.UseValue(Logger, log),
	}
	if m != nil {
		ps = append(ps, provider.UseValue(Metrics, m))
	}
	return ps
}

// Baseline returns the tokens that are always satisfiable, so the
// dependency walk never tries to pull them: the tokens of defaults (as
// returned by Defaults) plus the ones bound on every module injector.
func Baseline(defaults []provider.Provider) []provider.Token {
	return append(provider.Tokens(defaults), Module, container.Token)
}
