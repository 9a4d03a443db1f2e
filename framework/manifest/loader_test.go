package manifest_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/modgraph/framework/app"
	"github.com/km-arc/modgraph/framework/extension"
	"github.com/km-arc/modgraph/framework/manifest"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
)

func bootTestdata(t *testing.T, path string) (*app.Bootstrapper, *manifest.Loader) {
	t.Helper()
	loader := manifest.NewLoader(path, zerolog.Nop())
	_, err := loader.Load()
	require.NoError(t, err)

	reg := module.NewRegistry(loader.Catalog(), module.WithSourceRoot(filepath.Join(filepath.Dir(path), "app")))
	b := app.New(reg)
	require.NoError(t, b.Bootstrap(context.Background(), loader.Root()))
	return b, loader
}

func TestLoaderBootstrapsTestdata(t *testing.T) {
	b, loader := bootTestdata(t, "testdata/modules.yaml")
	require.Equal(t, manifest.ModuleRef("App"), loader.Root())

	users, ok := b.Metadata("users")
	require.True(t, ok)
	require.Equal(t, "/users", users.Prefix)
	require.Equal(t, []module.Guard{{Token: "Auth"}}, users.Guards)
	require.Equal(t, []any{"UsersController"}, users.Controllers)
	require.Equal(t, []any{"UsersRoutes"}, users.Extensions[extension.Group("routes")])

	metricsMeta, ok := b.Metadata(manifest.ModuleRef("Metrics"))
	require.True(t, ok)
	require.True(t, metricsMeta.IsExternal)
	require.False(t, users.IsExternal)

	_, ok = b.Metadata(manifest.ModuleRef("Extra"))
	require.False(t, ok, "Extra is declared but not imported")

	root, _ := b.Metadata(nil)
	require.Equal(t, []any{"UsersRoutes"}, root.Extensions[extension.Group("routes")])

	inj, err := b.ModuleInjector(nil, provider.Mod)
	require.NoError(t, err)
	exporter, err := inj.Get("Exporter")
	require.NoError(t, err)
	require.Equal(t, "PromExporter", exporter.(*manifest.Instance).Class)

	repo, err := inj.Get("Repo")
	require.NoError(t, err)
	require.Equal(t, &manifest.Instance{Class: "UserRepo", Args: []any{"postgres://localhost/app"}}, repo)

	hooks, err := inj.Get("Hooks")
	require.NoError(t, err)
	require.Equal(t, []any{"metrics"}, hooks)
}

func TestLoaderInternsClasses(t *testing.T) {
	m, err := manifest.Parse([]byte(`
root: App
modules:
  - name: App
    imports: [X, Y]
  - name: X
    exports: [T]
    providers: {mod: [{token: T, class: Shared}]}
  - name: Y
    exports: [T]
    providers: {mod: [{token: T, class: Shared}]}
`))
	require.NoError(t, err)
	loader := manifest.NewLoader("modules.yaml", zerolog.Nop())
	require.NoError(t, loader.Compile(m))

	b := app.New(module.NewRegistry(loader.Catalog()))
	require.NoError(t, b.Bootstrap(context.Background(), loader.Root()))
}

func TestLoaderRejectsConflictingClassDeps(t *testing.T) {
	m, err := manifest.Parse([]byte(`
root: App
modules:
  - name: App
    providers: {mod: [{token: A, class: Shared, deps: [X]}, {token: B, class: Shared}]}
`))
	require.NoError(t, err)
	err = manifest.NewLoader("modules.yaml", zerolog.Nop()).Compile(m)
	require.ErrorIs(t, err, manifest.ErrInvalid)
	require.ErrorContains(t, err, "class Shared redeclared")
}

func TestLoaderRejectsRootChange(t *testing.T) {
	loader := manifest.NewLoader("modules.yaml", zerolog.Nop())
	require.NoError(t, loader.Compile(&manifest.Manifest{Root: "A", Modules: []manifest.ModuleSpec{{Name: "A"}}}))
	err := loader.Compile(&manifest.Manifest{Root: "B", Modules: []manifest.ModuleSpec{{Name: "B"}}})
	require.ErrorContains(t, err, "root changed from A to B")
}
