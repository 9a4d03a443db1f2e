// Package app runs bootstrap passes over a module graph: it resolves the
// application providers and every module's providers, pulls transitive
// dependencies, drives the extension scheduler and publishes the resulting
// per-module metadata. Reinit re-runs a pass after the graph was mutated
// and rolls the graph back when the pass fails.
//
//	b := app.New(module.NewRegistry(catalog), app.WithLogger(log))
//	if err := b.Bootstrap(ctx, "AppModule"); err != nil { ... }
//	meta, _ := b.Metadata("users")
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/container"
	"github.com/km-arc/modgraph/framework/extension"
	"github.com/km-arc/modgraph/framework/logging"
	"github.com/km-arc/modgraph/framework/metrics"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
	"github.com/km-arc/modgraph/framework/providers"
	"github.com/km-arc/modgraph/framework/resolver"
)

// ErrNotBootstrapped is returned by reads made before the first successful
// pass.
var ErrNotBootstrapped = errors.New("application is not bootstrapped")

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithLogger sets the logger. When buf is the writer behind log, reinit
// passes are buffered and flushed in one write.
func WithLogger(log zerolog.Logger, buf *logging.BufferedWriter) Option {
	return func(b *Bootstrapper) {
		b.log = log
		b.logs = buf
	}
}

// WithMetrics records pass metrics in m.
func WithMetrics(m *metrics.Collector) Option {
	return func(b *Bootstrapper) { b.metrics = m }
}

// WithDefaults sets the framework providers prepended to the application
// scope.
func WithDefaults(ps ...provider.Provider) Option {
	return func(b *Bootstrapper) { b.defaults = ps }
}

// Bootstrapper owns the live application state.
type Bootstrapper struct {
	mu       sync.Mutex
	registry *module.Registry
	log      zerolog.Logger
	logs     *logging.BufferedWriter
	metrics  *metrics.Collector
	defaults []provider.Provider

	state *state
}

// state is everything one successful pass produced.
type state struct {
	pass  string
	graph *module.Graph
	app   *container.Injector
	meta  map[module.Ref]*MetadataPerModule
	order []module.Ref
}

// New returns a Bootstrapper over registry.
func New(registry *module.Registry, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{registry: registry, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the module registry.
func (b *Bootstrapper) Registry() *module.Registry { return b.registry }

// ── Passes ───────────────────────────────────────────────────────────────────

// Bootstrap scans the graph from root and runs a full pass. When the pass
// fails the registry is put back to the graph of the last successful pass.
func (b *Bootstrapper) Bootstrap(ctx context.Context, root module.Ref) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	if _, err := b.registry.Scan(root); err != nil {
		b.observe("bootstrap", metrics.ResultFailed, start)
		return err
	}
	st, err := b.pass(ctx)
	if err != nil {
		// The live metadata still describes the previous graph.
		var prev *module.Graph
		if b.state != nil {
			prev = b.state.graph
		}
		b.registry.Restore(prev)
		b.observe("bootstrap", metrics.ResultFailed, start)
		return err
	}
	b.state = st
	b.observe("bootstrap", metrics.ResultOK, start)
	return nil
}

// Reinit re-runs a pass against the current graph. With autocommit the
// open transaction is committed on success. On failure the graph is rolled
// back, a pass runs against the restored graph, and the original error is
// returned.
func (b *Bootstrapper) Reinit(ctx context.Context, autocommit bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.logs != nil {
		b.logs.Buffer()
		defer func() {
			if err := b.logs.Flush(); err != nil {
				b.log.Error().Err(err).Msg("flush reinit logs")
			}
		}()
	}

	start := time.Now()
	st, err := b.pass(ctx)
	if err == nil {
		if autocommit {
			b.registry.Commit()
		}
		b.state = st
		b.observe("reinit", metrics.ResultOK, start)
		return nil
	}

	b.log.Warn().Err(err).Msg("reinit failed, rolling back module graph")
	_ = b.registry.Rollback(err)
	restored, rerr := b.pass(ctx)
	if rerr != nil {
		b.log.Error().Err(rerr).Msg("bootstrap of restored module graph failed")
		b.observe("reinit", metrics.ResultFailed, start)
		return err
	}
	b.state = restored
	b.observe("reinit", metrics.ResultRolledBack, start)
	return err
}

func (b *Bootstrapper) observe(kind, result string, start time.Time) {
	if b.metrics == nil {
		return
	}
	b.metrics.ObservePass(kind, result, time.Since(start))
	if b.state != nil {
		b.metrics.Modules.Set(float64(len(b.state.order)))
	}
}

// pass runs both phases against a snapshot of the graph. Nothing is
// published here; the caller swaps the state in on success.
func (b *Bootstrapper) pass(ctx context.Context) (*state, error) {
	log, id := logging.Pass(b.log)
	graph := b.registry.Snapshot()
	if graph.Root() == nil {
		return nil, fmt.Errorf("bootstrap: module graph is empty; call Bootstrap with a root module")
	}
	st := &state{pass: id, graph: graph}

	res := resolver.New(graph, resolver.WithLogger(log))
	appInj, appToks, err := b.bootstrapProvidersPerApp(res)
	if err != nil {
		return nil, err
	}
	st.app = appInj

	if err := b.bootstrapModulesAndExtensions(ctx, log, res, appToks, st); err != nil {
		return nil, err
	}
	if b.metrics != nil {
		b.metrics.CollisionsResolved.Add(float64(res.CollisionsResolved()))
	}
	log.Info().Int("modules", len(st.order)).Int("app_providers", len(appInj.Tokens())).Msg("bootstrap pass finished")
	return st, nil
}

// bootstrapProvidersPerApp materializes the application injector: framework
// defaults, then App providers of every non-root module, then the root's.
func (b *Bootstrapper) bootstrapProvidersPerApp(res *resolver.Resolver) (*container.Injector, []provider.Token, error) {
	collected, err := res.AppProviders()
	if err != nil {
		return nil, nil, err
	}
	ps := provider.Dedupe(append(provider.Clone(b.defaults), collected...))
	inj, err := container.New(provider.App, ps, container.WithName("app"))
	if err != nil {
		return nil, nil, err
	}
	return inj, provider.Tokens(ps), nil
}

func (b *Bootstrapper) bootstrapModulesAndExtensions(ctx context.Context, log zerolog.Logger, res *resolver.Resolver, appToks []provider.Token, st *state) error {
	global, err := res.ExportGlobalProviders()
	if err != nil {
		return err
	}
	mods, err := res.ResolveAll(global)
	if err != nil {
		return err
	}

	deps := resolver.NewDeps(b.registry.Reader(), mods,
		resolver.WithDepsLogger(log),
		resolver.WithAppTokens(appToks...),
		resolver.WithBaseline(providers.Baseline(b.defaults)...),
	)
	if err := deps.Resolve(); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.DependenciesPulled.Add(float64(deps.Pulled()))
	}

	mounted := mounts(st.graph)
	cache := extension.NewCache()
	st.meta = make(map[module.Ref]*MetadataPerModule, len(mods))
	for _, mp := range mods {
		if err := ctx.Err(); err != nil {
			return err
		}
		opts := []extension.Option{
			extension.WithLogger(log.With().Str("module", mp.Node.Name).Logger()),
			extension.WithCache(cache),
		}
		if b.metrics != nil {
			opts = append(opts, extension.WithObserver(func(_ extension.Extension, d time.Duration, err error) {
				b.metrics.ObserveExtension(d, err)
			}))
		}
		values, err := extension.NewScheduler(mp.ExtensionRegistrations(), opts...).InitAll(ctx)
		if err != nil {
			return fmt.Errorf("module %q: %w", mp.Node.Name, err)
		}
		st.meta[mp.Node.Ref] = newMetadata(mp, mounted[mp.Node.Ref], values)
		st.order = append(st.order, mp.Node.Ref)
	}
	return nil
}

// ── Graph mutations ──────────────────────────────────────────────────────────

// AddImport adds imp to host's imports (the root when host is nil). The
// change is live only after Reinit.
func (b *Bootstrapper) AddImport(imp module.Ref, host any) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.AddImport(imp, host)
}

// RemoveImport removes imp from host's imports. The change is live only
// after Reinit.
func (b *Bootstrapper) RemoveImport(imp module.Ref, host any) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.RemoveImport(imp, host)
}

// Commit keeps pending graph mutations.
func (b *Bootstrapper) Commit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registry.Commit()
}

// Rollback discards pending graph mutations and returns err.
func (b *Bootstrapper) Rollback(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.Rollback(err)
}

// ── Reads ────────────────────────────────────────────────────────────────────

// Metadata returns a copy of the metadata of the module named by idOrRef
// (nil for root) as of the last successful pass.
func (b *Bootstrapper) Metadata(idOrRef any) (*MetadataPerModule, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return nil, false
	}
	return b.state.lookup(idOrRef)
}

func (st *state) lookup(idOrRef any) (*MetadataPerModule, bool) {
	n, ok := st.graph.Lookup(idOrRef)
	if !ok {
		return nil, false
	}
	m, ok := st.meta[n.Ref]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// AllMetadata returns copies of every module's metadata in graph order.
func (b *Bootstrapper) AllMetadata() []*MetadataPerModule {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return nil
	}
	out := make([]*MetadataPerModule, 0, len(b.state.order))
	for _, ref := range b.state.order {
		out = append(out, b.state.meta[ref].Clone())
	}
	return out
}

// PassID returns the id of the pass that produced the live state.
func (b *Bootstrapper) PassID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return ""
	}
	return b.state.pass
}

// AppInjector returns the application injector.
func (b *Bootstrapper) AppInjector() (*container.Injector, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return nil, ErrNotBootstrapped
	}
	return b.state.app, nil
}

// ModuleInjector returns a fresh injector chain for the module named by
// idOrRef, ending at scope s: app, then Mod, then down to s.
//
//	req, err := b.ModuleInjector("users", provider.Req)
//	svc, err := container.Resolve[*UserService](req, UserService)
func (b *Bootstrapper) ModuleInjector(idOrRef any, s provider.Scope) (*container.Injector, error) {
	if s == provider.App || !s.Valid() {
		return nil, fmt.Errorf("module injector scope must be Mod, Rou or Req, got %s", s)
	}
	// Metadata and app injector come from one published state so a
	// concurrent Reinit cannot mix two passes.
	b.mu.Lock()
	st := b.state
	b.mu.Unlock()
	if st == nil {
		return nil, ErrNotBootstrapped
	}
	m, ok := st.lookup(idOrRef)
	if !ok {
		return nil, fmt.Errorf("%w: %s", module.ErrModuleNotFound, provider.Stringify(idOrRef))
	}

	var err error
	inj := st.app
	for _, sc := range provider.ModuleScopes {
		if sc > s {
			break
		}
		if inj, err = inj.Child(sc, m.Providers[sc], m.Name); err != nil {
			return nil, err
		}
		if sc == provider.Mod {
			inj.Instance(providers.Module, m)
		}
	}
	return inj, nil
}
