package providers_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/modgraph/framework/config"
	"github.com/km-arc/modgraph/framework/container"
	"github.com/km-arc/modgraph/framework/metrics"
	"github.com/km-arc/modgraph/framework/provider"
	"github.com/km-arc/modgraph/framework/providers"
)

func TestDefaultsResolve(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Name: "test"}}
	m := metrics.New()

	inj, err := container.New(provider.App, providers.Defaults(cfg, zerolog.Nop(), m))
	require.NoError(t, err)

	got, err := container.Resolve[*config.Config](inj, providers.Config)
	require.NoError(t, err)
	require.Same(t, cfg, got)

	gotM, err := container.Resolve[*metrics.Collector](inj, providers.Metrics)
	require.NoError(t, err)
	require.Same(t, m, gotM)

	_, err = container.Resolve[zerolog.Logger](inj, providers.Logger)
	require.NoError(t, err)
}

func TestDefaultsWithoutMetrics(t *testing.T) {
	ps := providers.Defaults(&config.Config{}, zerolog.Nop(), nil)
	require.False(t, provider.Has(ps, providers.Metrics))
	require.True(t, provider.Has(ps, providers.Config))
}

func TestBaselineIncludesInjector(t *testing.T) {
	require.Contains(t, providers.Baseline(nil), container.Token)
	require.Contains(t, providers.Baseline(nil), provider.Token(providers.Module))
	require.Equal(t, "modgraph.module", provider.Stringify(providers.Module))
}

func TestBaselineFollowsDefaults(t *testing.T) {
	cfg := &config.Config{}

	without := providers.Baseline(providers.Defaults(cfg, zerolog.Nop(), nil))
	require.NotContains(t, without, provider.Token(providers.Metrics))
	require.Contains(t, without, provider.Token(providers.Config))

	with := providers.Baseline(providers.Defaults(cfg, zerolog.Nop(), metrics.New()))
	require.Contains(t, with, provider.Token(providers.Metrics))
}
