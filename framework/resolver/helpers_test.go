package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
	"github.com/km-arc/modgraph/framework/resolver"
)

type decls map[string]*module.Declaration

// scan registers ds in a catalog and scans "App".
func scan(t *testing.T, ds decls, opts ...module.Option) (*module.Graph, module.Reader) {
	t.Helper()
	cat := module.NewCatalog()
	for name, d := range ds {
		require.NoError(t, cat.Add(name, d))
	}
	g, err := module.NewRegistry(cat, opts...).Scan("App")
	require.NoError(t, err)
	return g, cat
}

func class(name string, deps ...provider.Token) *provider.Class {
	return &provider.Class{Name: name, Deps: deps}
}

func at(s provider.Scope, ps ...provider.Provider) provider.PerScope[[]provider.Provider] {
	var out provider.PerScope[[]provider.Provider]
	out[s] = ps
	return out
}

func directives(s provider.Scope, ds ...module.Directive) provider.PerScope[[]module.Directive] {
	var out provider.PerScope[[]module.Directive]
	out[s] = ds
	return out
}

func bootstrap(t *testing.T, g *module.Graph, name string) (*resolver.ModuleProviders, error) {
	t.Helper()
	node, ok := g.Lookup(name)
	require.True(t, ok, "module %s", name)
	return resolver.New(g).Bootstrap(node, nil)
}

func values(ps []provider.Provider) []any {
	out := make([]any, len(ps))
	for i, p := range ps {
		out[i] = p.Value
	}
	return out
}
