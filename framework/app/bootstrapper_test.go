package app_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/modgraph/framework/app"
	"github.com/km-arc/modgraph/framework/config"
	"github.com/km-arc/modgraph/framework/container"
	"github.com/km-arc/modgraph/framework/diag"
	"github.com/km-arc/modgraph/framework/extension"
	"github.com/km-arc/modgraph/framework/logging"
	"github.com/km-arc/modgraph/framework/metrics"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
	"github.com/km-arc/modgraph/framework/providers"
)

// ── helpers ───────────────────────────────────────────────────────────────────

type decls map[string]*module.Declaration

func newBootstrapper(t *testing.T, ds decls, opts ...app.Option) (*app.Bootstrapper, *module.Catalog) {
	t.Helper()
	cat := module.NewCatalog()
	for name, d := range ds {
		require.NoError(t, cat.Add(name, d))
	}
	return app.New(module.NewRegistry(cat), opts...), cat
}

// svc builds a class whose instances render as "Name(arg, ...)".
func svc(name string, deps ...provider.Token) *provider.Class {
	return &provider.Class{Name: name, Deps: deps, New: func(args ...any) (any, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		return name + "(" + strings.Join(parts, ", ") + ")", nil
	}}
}

func at(s provider.Scope, ps ...provider.Provider) provider.PerScope[[]provider.Provider] {
	var out provider.PerScope[[]provider.Provider]
	out[s] = ps
	return out
}

func tokens(recs []app.ImportRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = provider.Stringify(r.Token) + "@" + r.Module
	}
	return out
}

// usersApp is App -> Users(/users) -> DB, with Users appending Audit(audit)
// behind its own AuditLog guard.
func usersApp() decls {
	repo := svc("Repo", "Conn")
	return decls{
		"App": {
			Kind:    module.KindRoot,
			Imports: []module.Ref{&module.WithParams{Module: "Users", ID: "users", Path: "/users"}},
		},
		"Users": {
			Imports: []module.Ref{"DB"},
			Appends: []module.Ref{&module.WithParams{Module: "Audit", ID: "audit", Path: "audit", Guards: []module.Guard{{Token: "AuditLog"}}}},
			Exports: []any{"Repo"},
			Providers: provider.PerScope[[]provider.Provider]{
				provider.App: {provider.UseValue("Clock", "utc")},
				provider.Mod: {provider.UseClass("Repo", repo)},
			},
			Guards: []module.Guard{{Token: "Auth"}},
		},
		"DB": {
			Exports:   []any{"Conn"},
			Providers: at(provider.Mod, provider.UseValue("Conn", "conn-1")),
		},
		"Audit": {},
	}
}

// ── bootstrap ─────────────────────────────────────────────────────────────────

func TestBootstrapPublishesMetadata(t *testing.T) {
	b, _ := newBootstrapper(t, usersApp())
	require.NoError(t, b.Bootstrap(context.Background(), "App"))

	all := b.AllMetadata()
	keys := make([]string, len(all))
	for i, m := range all {
		keys[i] = m.Key()
	}
	require.Equal(t, []string{"App", "users", "DB", "audit"}, keys)

	root, ok := b.Metadata(nil)
	require.True(t, ok)
	require.Equal(t, []string{"Conn@DB", "Repo@Users"}, tokens(root.Imports[provider.Mod]))
	require.True(t, root.Imports[provider.Mod][0].Pulled)
	require.Empty(t, root.Providers[provider.App])

	users, ok := b.Metadata("users")
	require.True(t, ok)
	require.Equal(t, "/users", users.Prefix)
	require.Equal(t, []module.Guard{{Token: "Auth"}}, users.Guards)

	audit, ok := b.Metadata("audit")
	require.True(t, ok)
	require.Equal(t, "/users/audit", audit.Prefix)
	require.Equal(t, []module.Guard{{Token: "Auth"}, {Token: "AuditLog"}}, audit.Guards)

	db, ok := b.Metadata("DB")
	require.True(t, ok)
	require.Equal(t, "/users", db.Prefix)
	require.Equal(t, []module.Guard{{Token: "Auth"}}, db.Guards)
	require.Empty(t, root.Guards)
	require.NotEmpty(t, b.PassID())
}

func TestMetadataIsACopy(t *testing.T) {
	b, _ := newBootstrapper(t, usersApp())
	require.NoError(t, b.Bootstrap(context.Background(), "App"))

	m, _ := b.Metadata("users")
	m.Prefix = "/hacked"
	m.Providers[provider.Mod][0] = provider.UseValue("Repo", "fake")
	m.Guards[0].Token = "None"

	again, _ := b.Metadata("users")
	require.Equal(t, "/users", again.Prefix)
	require.Equal(t, provider.KindClass, again.Providers[provider.Mod][1].Kind)
	require.Equal(t, "Auth", again.Guards[0].Token)
}

func TestInjectors(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Name: "test"}}
	b, _ := newBootstrapper(t, usersApp(), app.WithDefaults(providers.Defaults(cfg, zerolog.Nop(), nil)...))

	_, err := b.AppInjector()
	require.ErrorIs(t, err, app.ErrNotBootstrapped)

	require.NoError(t, b.Bootstrap(context.Background(), "App"))

	appInj, err := b.AppInjector()
	require.NoError(t, err)
	clock, err := appInj.Get("Clock")
	require.NoError(t, err)
	require.Equal(t, "utc", clock)
	gotCfg, err := container.Resolve[*config.Config](appInj, providers.Config)
	require.NoError(t, err)
	require.Same(t, cfg, gotCfg)

	req, err := b.ModuleInjector(nil, provider.Req)
	require.NoError(t, err)
	require.Equal(t, provider.Req, req.Scope())
	repo, err := req.Get("Repo")
	require.NoError(t, err)
	require.Equal(t, "Repo(conn-1)", repo)

	meta, err := container.Resolve[*app.MetadataPerModule](req, providers.Module)
	require.NoError(t, err)
	require.Equal(t, "App", meta.Name)

	_, err = b.ModuleInjector("users", provider.App)
	require.Error(t, err)
	_, err = b.ModuleInjector("nope", provider.Mod)
	require.ErrorIs(t, err, module.ErrModuleNotFound)
}

func rootInjector(inj *container.Injector) *container.Injector {
	for inj.Parent() != nil {
		inj = inj.Parent()
	}
	return inj
}

func TestModuleInjectorChainsOntoOnePass(t *testing.T) {
	b, _ := newBootstrapper(t, usersApp())
	_, err := b.ModuleInjector("users", provider.Mod)
	require.ErrorIs(t, err, app.ErrNotBootstrapped)

	ctx := context.Background()
	require.NoError(t, b.Bootstrap(ctx, "App"))
	before, err := b.ModuleInjector("users", provider.Req)
	require.NoError(t, err)
	firstApp, _ := b.AppInjector()
	require.Same(t, firstApp, rootInjector(before))

	require.NoError(t, b.Reinit(ctx, true))
	after, err := b.ModuleInjector("users", provider.Req)
	require.NoError(t, err)
	secondApp, _ := b.AppInjector()
	require.Same(t, secondApp, rootInjector(after))
	require.NotSame(t, firstApp, secondApp)
	require.Same(t, firstApp, rootInjector(before))
}

func TestBaselineDependenciesAreNotPulled(t *testing.T) {
	ds := decls{
		"App": {Kind: module.KindRoot, Imports: []module.Ref{"Jobs"}},
		"Jobs": {
			Exports:   []any{"Runner"},
			Providers: at(provider.Mod, provider.UseClass("Runner", svc("Runner", providers.Config))),
		},
	}
	b, _ := newBootstrapper(t, ds, app.WithDefaults(providers.Defaults(&config.Config{}, zerolog.Nop(), nil)...))
	require.NoError(t, b.Bootstrap(context.Background(), "App"))
}

func TestMissingMetricsDefaultIsUnresolved(t *testing.T) {
	ds := decls{
		"App": {Kind: module.KindRoot, Imports: []module.Ref{"Jobs"}},
		"Jobs": {
			Exports:   []any{"Runner"},
			Providers: at(provider.Mod, provider.UseClass("Runner", svc("Runner", providers.Metrics))),
		},
	}
	b, _ := newBootstrapper(t, ds, app.WithDefaults(providers.Defaults(&config.Config{}, zerolog.Nop(), nil)...))

	var np *diag.NoProviderError
	require.ErrorAs(t, b.Bootstrap(context.Background(), "App"), &np)
	require.Equal(t, "modgraph.metrics", np.Token)
}

func TestAppScopeCollision(t *testing.T) {
	ds := decls{
		"App": {Kind: module.KindRoot, Imports: []module.Ref{"X", "Y"}},
		"X":   {Providers: at(provider.App, provider.UseValue("Clock", "utc"))},
		"Y":   {Providers: at(provider.App, provider.UseValue("Clock", "local"))},
	}
	b, _ := newBootstrapper(t, ds)
	err := b.Bootstrap(context.Background(), "App")
	var ce *diag.CollisionError
	require.ErrorAs(t, err, &ce)

	ds["App"].ResolvedCollisions[provider.App] = []module.Directive{{Token: "Clock", Module: "Y"}}
	b, _ = newBootstrapper(t, ds)
	require.NoError(t, b.Bootstrap(context.Background(), "App"))
	inj, _ := b.AppInjector()
	v, err := inj.Get("Clock")
	require.NoError(t, err)
	require.Equal(t, "local", v)
}

// ── extensions ────────────────────────────────────────────────────────────────

func TestExtensionsRunOncePerPass(t *testing.T) {
	calls := 0
	shared := extension.New("shared", func(context.Context) (any, error) {
		calls++
		return []any{"a", "b"}, nil
	})
	reg := extension.Registration{Group: "routes", Extension: shared, Export: true}
	ds := decls{
		"App":   {Kind: module.KindRoot, Imports: []module.Ref{"Feat"}},
		"Feat":  {Imports: []module.Ref{"Other"}, Extensions: []extension.Registration{reg}},
		"Other": {Extensions: []extension.Registration{reg}},
	}
	m := metrics.New()
	b, _ := newBootstrapper(t, ds, app.WithMetrics(m))
	require.NoError(t, b.Bootstrap(context.Background(), "App"))
	require.Equal(t, 1, calls)

	feat, _ := b.Metadata("Feat")
	require.Equal(t, []any{"a", "b"}, feat.Extensions["routes"])
	require.Equal(t, 1.0, testutil.ToFloat64(m.ExtensionInits.WithLabelValues(metrics.ResultOK)))

	require.NoError(t, b.Reinit(context.Background(), true))
	require.Equal(t, 2, calls)
}

func TestExtensionErrorNamesModule(t *testing.T) {
	boom := extension.New("boom", func(context.Context) (any, error) { return nil, errors.New("no db") })
	ds := decls{
		"App": {Kind: module.KindRoot, Extensions: []extension.Registration{{Group: "db", Extension: boom}}},
	}
	b, _ := newBootstrapper(t, ds)
	err := b.Bootstrap(context.Background(), "App")
	require.ErrorContains(t, err, `module "App"`)
	require.ErrorContains(t, err, "no db")
}

// ── reinit ────────────────────────────────────────────────────────────────────

func collidingApp() decls {
	return decls{
		"App":   {Kind: module.KindRoot, Imports: []module.Ref{"X"}},
		"X":     {Exports: []any{"T"}, Providers: at(provider.Mod, provider.UseClass("T", svc("T1")))},
		"Y":     {Exports: []any{"T"}, Providers: at(provider.Mod, provider.UseClass("T", svc("T2")))},
		"Extra": {Exports: []any{"E"}, Providers: at(provider.Mod, provider.UseValue("E", 1))},
	}
}

func TestReinitCommitsSuccessfulMutation(t *testing.T) {
	b, _ := newBootstrapper(t, collidingApp())
	ctx := context.Background()
	require.NoError(t, b.Bootstrap(ctx, "App"))

	added, err := b.AddImport("Extra", nil)
	require.NoError(t, err)
	require.True(t, added)
	require.NoError(t, b.Reinit(ctx, true))

	require.False(t, b.Registry().InTransaction())
	_, ok := b.Metadata("Extra")
	require.True(t, ok)
	root, _ := b.Metadata(nil)
	require.Contains(t, tokens(root.Imports[provider.Mod]), "E@Extra")
}

func TestReinitRollsBackFailedMutation(t *testing.T) {
	m := metrics.New()
	var out bytes.Buffer
	log, buf := logging.New(config.LogConfig{Level: "debug", Format: "json"}, &out)
	b, _ := newBootstrapper(t, collidingApp(), app.WithMetrics(m), app.WithLogger(log, buf))
	ctx := context.Background()
	require.NoError(t, b.Bootstrap(ctx, "App"))
	before := b.AllMetadata()

	_, err := b.AddImport("Y", nil)
	require.NoError(t, err)
	err = b.Reinit(ctx, true)

	var ce *diag.CollisionError
	require.ErrorAs(t, err, &ce)
	require.False(t, b.Registry().InTransaction())
	root, _ := b.Registry().Root()
	require.Equal(t, []module.Ref{"X"}, root.Imports)
	_, ok := b.Metadata("Y")
	require.False(t, ok)
	require.Equal(t, len(before), len(b.AllMetadata()))

	require.Equal(t, 1.0, testutil.ToFloat64(m.Rollbacks))
	require.False(t, buf.Buffering())
	require.Contains(t, out.String(), "rolling back module graph")
}

func TestFailedBootstrapKeepsPreviousGraph(t *testing.T) {
	ds := collidingApp()
	ds["Bad"] = &module.Declaration{Kind: module.KindRoot, Imports: []module.Ref{"X", "Y"}}
	b, _ := newBootstrapper(t, ds)
	ctx := context.Background()
	require.NoError(t, b.Bootstrap(ctx, "App"))
	pass := b.PassID()

	var ce *diag.CollisionError
	require.ErrorAs(t, b.Bootstrap(ctx, "Bad"), &ce)

	require.Equal(t, pass, b.PassID())
	live, ok := b.Metadata(nil)
	require.True(t, ok)
	root, ok := b.Registry().Root()
	require.True(t, ok)
	require.Equal(t, "App", live.Name)
	require.Equal(t, "App", root.Name)
	_, ok = b.Registry().Metadata("Y")
	require.False(t, ok)

	require.NoError(t, b.Reinit(ctx, true))
	added, err := b.AddImport("Extra", nil)
	require.NoError(t, err)
	require.True(t, added)
	require.NoError(t, b.Reinit(ctx, true))
}

func TestFailedFirstBootstrapLeavesEmptyGraph(t *testing.T) {
	ds := collidingApp()
	ds["Bad"] = &module.Declaration{Kind: module.KindRoot, Imports: []module.Ref{"X", "Y"}}
	b, _ := newBootstrapper(t, ds)

	require.Error(t, b.Bootstrap(context.Background(), "Bad"))
	_, ok := b.Registry().Root()
	require.False(t, ok)
	require.Empty(t, b.PassID())
	require.ErrorContains(t, b.Reinit(context.Background(), true), "module graph is empty")
}

func TestReinitWithoutAutocommitKeepsTransaction(t *testing.T) {
	b, _ := newBootstrapper(t, collidingApp())
	ctx := context.Background()
	require.NoError(t, b.Bootstrap(ctx, "App"))

	_, err := b.AddImport("Extra", nil)
	require.NoError(t, err)
	require.NoError(t, b.Reinit(ctx, false))
	require.True(t, b.Registry().InTransaction())

	require.NoError(t, b.Rollback(nil))
	require.NoError(t, b.Reinit(ctx, false))
	_, ok := b.Metadata("Extra")
	require.False(t, ok)
}

func TestRemoveImportThenReinit(t *testing.T) {
	b, _ := newBootstrapper(t, usersApp())
	ctx := context.Background()
	require.NoError(t, b.Bootstrap(ctx, "App"))

	removed, err := b.RemoveImport("Users", nil)
	require.NoError(t, err)
	require.True(t, removed)
	require.NoError(t, b.Reinit(ctx, true))
	require.Len(t, b.AllMetadata(), 1)
}

func TestReinitHonoursCancellation(t *testing.T) {
	b, _ := newBootstrapper(t, usersApp())
	require.NoError(t, b.Bootstrap(context.Background(), "App"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, b.Reinit(ctx, true), context.Canceled)
	_, ok := b.Metadata("users")
	require.True(t, ok)
}
