// Package resolver propagates exported providers across a module graph,
// detects and resolves collisions, and pulls the transitive dependencies of
// imported providers into their consumers.
//
//	res := resolver.New(graph, resolver.WithLogger(log))
//	global, err := res.ExportGlobalProviders()
//	mods, err := res.ResolveAll(global)
//	err = resolver.NewDeps(reader, mods).Resolve()
package resolver

import (
	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/diag"
	"github.com/km-arc/modgraph/framework/extension"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// Resolver computes per-module provider sets for one graph snapshot.
type Resolver struct {
	graph    *module.Graph
	log      zerolog.Logger
	resolved int
}

// New returns a Resolver over graph.
func New(graph *module.Graph, opts ...Option) *Resolver {
	r := &Resolver{graph: graph, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CollisionsResolved counts collisions settled by directives so far.
func (r *Resolver) CollisionsResolved() int { return r.resolved }

// ── Global providers ─────────────────────────────────────────────────────────

// GlobalProviders is everything the root exports, directly or through
// re-exported modules. Non-external modules see it without importing it.
type GlobalProviders struct {
	Imports    provider.PerScope[*ImportMap]
	Multi      provider.PerScope[[]MultiObj]
	Extensions []ExtensionObj
}

// ExportGlobalProviders walks the root's export edges. Collisions are
// resolved with the root's directives; the root's own exports win.
func (r *Resolver) ExportGlobalProviders() (*GlobalProviders, error) {
	root := r.graph.Root()
	if root == nil {
		return nil, diag.Declarationf("", "module graph has no root; scan it first")
	}
	im := newImporter(r.graph, root, false, r.log)
	if err := im.importFrom(root); err != nil {
		return nil, err
	}
	r.resolved += im.resolved
	global := &GlobalProviders{Imports: im.imports, Multi: im.multi, Extensions: im.extensions}
	r.log.Debug().
		Int("mod", global.Imports[provider.Mod].Len()).
		Int("rou", global.Imports[provider.Rou].Len()).
		Int("req", global.Imports[provider.Req].Len()).
		Msg("global providers exported")
	return global, nil
}

// ── Per-module providers ─────────────────────────────────────────────────────

// ModuleProviders is the resolved provider set of one module.
type ModuleProviders struct {
	Node *module.Node
	// Imports holds single providers from imported modules and, unless the
	// module is external, global providers it did not import itself.
	Imports provider.PerScope[*ImportMap]
	Multi   provider.PerScope[[]MultiObj]
	// Pulled holds transitive dependencies added by the dependency
	// resolver, most recently pulled first.
	Pulled     provider.PerScope[[]ImportObj]
	Extensions []ExtensionObj
}

// Effective returns the providers visible at exactly scope s, ordered so
// that a later entry overrides an earlier one: pulled, imported, multi,
// then local.
func (mp *ModuleProviders) Effective(s provider.Scope) []provider.Provider {
	var out []provider.Provider
	for _, obj := range mp.Pulled[s] {
		out = append(out, obj.Providers...)
	}
	if mp.Imports[s] != nil {
		out = append(out, mp.Imports[s].Providers()...)
	}
	for _, m := range mp.Multi[s] {
		out = append(out, m.Providers...)
	}
	return append(out, mp.Node.Providers[s]...)
}

// ExtensionRegistrations returns the module's own registrations followed by
// the imported ones.
func (mp *ModuleProviders) ExtensionRegistrations() []extension.Registration {
	regs := append([]extension.Registration(nil), mp.Node.Extensions...)
	for _, obj := range mp.Extensions {
		regs = append(regs, obj.Registrations...)
	}
	return regs
}

// Has reports whether tok is visible at scope s or any broader module
// scope. App scope is not consulted.
func (mp *ModuleProviders) Has(s provider.Scope, tok provider.Token) bool {
	for _, sc := range s.Upward() {
		if sc == provider.App {
			break
		}
		if provider.Has(mp.Effective(sc), tok) {
			return true
		}
	}
	return false
}

// Bootstrap resolves node: its local providers, the exports of its direct
// imports (through re-exported modules), and the global providers unless
// node is external.
func (r *Resolver) Bootstrap(node *module.Node, global *GlobalProviders) (*ModuleProviders, error) {
	im := newImporter(r.graph, node, true, r.log)
	for _, ref := range node.Imports {
		child, ok := r.graph.Node(ref)
		if !ok {
			return nil, diag.Declarationf(node.Name, "imports %s, which is not part of the module graph", provider.Stringify(ref))
		}
		if err := im.importFrom(child); err != nil {
			return nil, err
		}
	}
	if err := im.validateDirectives(provider.ModuleScopes[:]...); err != nil {
		return nil, err
	}
	r.resolved += im.resolved

	mp := &ModuleProviders{Node: node, Imports: im.imports, Multi: im.multi, Extensions: im.extensions}
	if global != nil && !node.IsExternal {
		mp.mergeGlobal(global)
	}
	return mp, nil
}

// mergeGlobal adds global providers the module neither declares nor
// imported explicitly. Explicit imports shadow global ones.
func (mp *ModuleProviders) mergeGlobal(global *GlobalProviders) {
	for _, s := range provider.ModuleScopes {
		g := global.Imports[s]
		if g == nil {
			continue
		}
		merged := &ImportMap{}
		for _, tok := range g.Keys() {
			if _, own := mp.Imports[s].Get(tok); own || mp.Node.DeclaresLocally(s, tok) {
				continue
			}
			obj, _ := g.Get(tok)
			merged.Set(tok, &ImportObj{Module: obj.Module, Providers: provider.Clone(obj.Providers)})
		}
		for _, tok := range mp.Imports[s].Keys() {
			obj, _ := mp.Imports[s].Get(tok)
			merged.Set(tok, obj)
		}
		mp.Imports[s] = merged

		var multi []MultiObj
		for _, gm := range global.Multi[s] {
			if !hasMultiFrom(mp.Multi[s], gm.Module, gm.Token()) && gm.Module.Ref != mp.Node.Ref {
				multi = append(multi, gm)
			}
		}
		mp.Multi[s] = append(multi, mp.Multi[s]...)
	}

	var exts []ExtensionObj
	for _, ge := range global.Extensions {
		dup := ge.Module.Ref == mp.Node.Ref
		for _, e := range mp.Extensions {
			if e.Module.Ref == ge.Module.Ref {
				dup = true
				break
			}
		}
		if !dup {
			exts = append(exts, ge)
		}
	}
	mp.Extensions = append(exts, mp.Extensions...)
}

func hasMultiFrom(ms []MultiObj, src *module.Node, tok provider.Token) bool {
	for _, m := range ms {
		if m.Module.Ref == src.Ref && m.Token() == tok {
			return true
		}
	}
	return false
}

// ResolveAll bootstraps every node in graph order.
func (r *Resolver) ResolveAll(global *GlobalProviders) ([]*ModuleProviders, error) {
	nodes := r.graph.Nodes()
	out := make([]*ModuleProviders, 0, len(nodes))
	for _, n := range nodes {
		mp, err := r.Bootstrap(n, global)
		if err != nil {
			return nil, err
		}
		out = append(out, mp)
	}
	return out, nil
}

// ── Application scope ────────────────────────────────────────────────────────

// AppProviders collects the App-scope providers of every non-root module in
// graph order, resolves collisions with the root's App directives, and
// appends the root's own App providers last so they win.
func (r *Resolver) AppProviders() ([]provider.Provider, error) {
	root := r.graph.Root()
	if root == nil {
		return nil, diag.Declarationf("", "module graph has no root; scan it first")
	}
	im := newImporter(r.graph, root, true, r.log)
	for _, n := range r.graph.Nodes() {
		if n.Ref == root.Ref {
			continue
		}
		if err := im.addAll(provider.App, n, n.Providers[provider.App]); err != nil {
			return nil, err
		}
	}
	if err := im.validateDirectives(provider.App); err != nil {
		return nil, err
	}
	r.resolved += im.resolved

	out := im.imports[provider.App].Providers()
	for _, m := range im.multi[provider.App] {
		out = append(out, m.Providers...)
	}
	return append(out, root.Providers[provider.App]...), nil
}
