// Package module normalizes raw module declarations into a graph and keeps
// that graph mutable through a transactional add/remove API.
//
//	reg := module.NewRegistry(catalog, module.WithSourceRoot("./internal"))
//	if _, err := reg.Scan(AppModule); err != nil { ... }
//
//	reg.AddImport(Reports, nil) // import Reports into the root
//	if err := reinit(); err != nil {
//	    return reg.Rollback(err)
//	}
//	reg.Commit()
package module

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/diag"
	"github.com/km-arc/modgraph/framework/provider"
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithSourceRoot sets the application source root. Modules declared outside
// it are external and do not receive global providers.
func WithSourceRoot(dir string) Option {
	return func(r *Registry) { r.sourceRoot = dir }
}

// WithCyclicImports makes a module importing one of its own importers a
// skipped edge instead of a DeclarationError.
func WithCyclicImports(allow bool) Option {
	return func(r *Registry) { r.allowCycles = allow }
}

// Registry owns the module graph.
type Registry struct {
	mu          sync.RWMutex
	reader      Reader
	log         zerolog.Logger
	sourceRoot  string
	allowCycles bool

	graph *Graph
	tx    *transaction
}

// NewRegistry returns an empty registry reading declarations from reader.
func NewRegistry(reader Reader, opts ...Option) *Registry {
	r := &Registry{reader: reader, log: zerolog.Nop(), graph: newGraph()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reader returns the declaration reader.
func (r *Registry) Reader() Reader { return r.reader }

// ── Scan ─────────────────────────────────────────────────────────────────────

// Scan replaces the graph with every module reachable from root and returns
// a snapshot of it. On error the previous graph is kept. Any open
// transaction is discarded.
func (r *Registry) Scan(root Ref) (*Graph, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, err := r.normalize(root)
	if err != nil {
		return nil, err
	}
	if node.Kind != KindRoot {
		return nil, diag.Declarationf(node.Name, "is not a root module; set Kind: module.KindRoot")
	}

	g := newGraph()
	g.root = node.Ref
	s := &scanner{reg: r, graph: g, inProgress: make(map[Ref]bool)}
	if err := s.visit(node); err != nil {
		return nil, err
	}

	r.graph = g
	r.tx = nil
	r.log.Debug().Str("root", node.Name).Int("modules", g.Len()).Msg("module graph scanned")
	return g.clone(), nil
}

type scanner struct {
	reg        *Registry
	graph      *Graph
	inProgress map[Ref]bool
	stack      []Ref
	// beforeInsert observes every node about to be added to the graph.
	beforeInsert func(ref Ref)
}

func (s *scanner) scan(ref Ref) error {
	if ref == s.graph.root {
		return diag.Declarationf(s.graph.Root().Name, "root module cannot be imported or appended by another module")
	}
	if s.inProgress[ref] {
		return s.cycle(ref)
	}
	if _, done := s.graph.nodes[ref]; done {
		return nil
	}
	node, err := s.reg.normalize(ref)
	if err != nil {
		return err
	}
	return s.visit(node)
}

func (s *scanner) visit(node *Node) error {
	if node.Kind == KindRoot && node.Ref != s.graph.root {
		return diag.Declarationf(node.Name, "root module cannot be imported or appended by another module")
	}
	if node.ID != "" {
		if other, dup := s.graph.ids[node.ID]; dup && other != node.Ref {
			return diag.Declarationf(node.Name, "id %q is already used by %q", node.ID, s.graph.nodes[other].Name)
		}
	}

	s.inProgress[node.Ref] = true
	s.stack = append(s.stack, node.Ref)
	defer func() {
		delete(s.inProgress, node.Ref)
		s.stack = s.stack[:len(s.stack)-1]
	}()

	if s.beforeInsert != nil {
		s.beforeInsert(node.Ref)
	}
	s.graph.insert(node)
	for _, imp := range node.Imports {
		if err := s.scan(imp); err != nil {
			return err
		}
	}
	for _, ap := range node.Appends {
		if err := s.scan(ap); err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) cycle(ref Ref) error {
	start := 0
	for i, r := range s.stack {
		if r == ref {
			start = i
			break
		}
	}
	names := make([]string, 0, len(s.stack)-start+1)
	for _, r := range s.stack[start:] {
		names = append(names, s.graph.nodes[r].Name)
	}
	names = append(names, s.graph.nodes[ref].Name)
	path := strings.Join(names, " -> ")

	if s.reg.allowCycles {
		s.reg.log.Debug().Str("cycle", path).Msg("cyclic import skipped")
		return nil
	}
	return diag.Declarationf(names[len(names)-2], "cyclic import %s", path)
}

// ── Normalize ────────────────────────────────────────────────────────────────

// Normalize reads and validates the declaration behind ref without touching
// the graph.
func (r *Registry) Normalize(ref Ref) (*Node, error) {
	return r.normalize(ref)
}

func (r *Registry) normalize(ref Ref) (*Node, error) {
	if ref == nil {
		return nil, diag.Declarationf("", "module ref is nil; it is probably an unresolved forward reference")
	}
	if !provider.Comparable(ref) {
		return nil, diag.Declarationf(provider.Stringify(ref), "module ref of type %T is not comparable", ref)
	}

	base := ref
	wp, _ := ref.(*WithParams)
	if wp != nil {
		if wp.Module == nil {
			return nil, diag.Declarationf(wp.ID, "module with params has a nil module; it is probably an unresolved forward reference")
		}
		base = wp.Module
	}

	decl, err := r.reader.ReadModule(base)
	if errors.Is(err, ErrNoDeclaration) {
		return nil, diag.Declarationf(provider.Stringify(base), "no declaration found; register the module before scanning")
	}
	if err != nil {
		return nil, fmt.Errorf("read module %s: %w", provider.Stringify(base), err)
	}

	n := &Node{
		Ref:           ref,
		ModuleRef:     base,
		ID:            decl.ID,
		Name:          decl.Name,
		Kind:          decl.Kind,
		Controllers:   cloneSlice(decl.Controllers),
		Extensions:    cloneSlice(decl.Extensions),
		Guards:        cloneSlice(decl.Guards),
		DeclaredInDir: decl.DeclaredInDir,
	}
	if n.Name == "" {
		n.Name = provider.Stringify(base)
	}
	exports := decl.Exports
	for _, s := range provider.Scopes {
		n.Providers[s] = provider.Clone(decl.Providers[s])
		n.ResolvedCollisions[s] = cloneSlice(decl.ResolvedCollisions[s])
	}
	if wp != nil {
		if wp.ID != "" {
			n.ID = wp.ID
		}
		n.Path = wp.Path
		n.Guards = append(n.Guards, wp.Guards...)
		for _, s := range provider.Scopes {
			n.Providers[s] = append(n.Providers[s], wp.Providers[s]...)
		}
		exports = append(cloneSlice(exports), wp.Exports...)
	}

	if n.Imports, err = checkSlots(n.Name, "imports", decl.Imports); err != nil {
		return nil, err
	}
	if n.Appends, err = checkSlots(n.Name, "appends", decl.Appends); err != nil {
		return nil, err
	}
	if _, err = checkSlots(n.Name, "exports", exports); err != nil {
		return nil, err
	}
	if err := validateProviders(n); err != nil {
		return nil, err
	}
	for _, reg := range n.Extensions {
		if err := reg.Validate(); err != nil {
			return nil, diag.Declarationf(n.Name, "%v", err)
		}
		if reg.Export {
			n.ExportedExtensions = append(n.ExportedExtensions, reg)
		}
	}
	if err := r.classifyExports(n, exports); err != nil {
		return nil, err
	}
	n.IsExternal = r.isExternal(n.DeclaredInDir)
	return n, nil
}

func checkSlots(module, field string, refs []any) ([]any, error) {
	for i, ref := range refs {
		if ref == nil {
			return nil, diag.Declarationf(module, "%s[%d] is nil; it is probably an unresolved forward reference", field, i)
		}
		if wp, ok := ref.(*WithParams); ok && wp == nil {
			return nil, diag.Declarationf(module, "%s[%d] is a nil module with params", field, i)
		}
		if !provider.Comparable(ref) {
			return nil, diag.Declarationf(module, "%s[%d] of type %T is not comparable", field, i, ref)
		}
	}
	return cloneSlice(refs), nil
}

func validateProviders(n *Node) error {
	for _, s := range provider.Scopes {
		multi := make(map[provider.Token]bool)
		for _, p := range n.Providers[s] {
			if err := p.Validate(); err != nil {
				return diag.Declarationf(n.Name, "providersPer%s: %v", s, err)
			}
			if was, seen := multi[p.Token]; seen && was != p.Multi {
				return diag.Declarationf(n.Name, "providersPer%s mixes multi and single providers for %s", s, provider.Stringify(p.Token))
			}
			multi[p.Token] = p.Multi
		}
		for _, d := range n.ResolvedCollisions[s] {
			if !provider.Comparable(d.Token) || d.Module == nil || !provider.Comparable(d.Module) {
				return diag.Declarationf(n.Name, "resolvedCollisionsPer%s has an incomplete entry for %s", s, provider.Stringify(d.Token))
			}
		}
	}
	return nil
}

// classifyExports splits exports into re-exported modules and tokens.
func (r *Registry) classifyExports(n *Node, exports []any) error {
	for _, exp := range exports {
		if r.isModule(exp) {
			imp, ok := n.Imported(exp)
			if !ok {
				return diag.Declarationf(n.Name, "exports module %s without importing it", provider.Stringify(exp))
			}
			n.ExportedModules = append(n.ExportedModules, imp)
			continue
		}

		found := false
		for _, s := range provider.ModuleScopes {
			for _, p := range n.Providers[s] {
				if p.Token == exp {
					n.ExportedProviders[s] = append(n.ExportedProviders[s], p)
					found = true
				}
			}
		}
		for _, reg := range n.Extensions {
			if reg.Group == exp && !reg.Export {
				n.ExportedExtensions = append(n.ExportedExtensions, reg)
				found = true
			}
		}
		if !found {
			if provider.Has(n.Providers[provider.App], exp) {
				return diag.Declarationf(n.Name, "exports %s, which is declared in providersPerApp; app providers are global and are never exported", provider.Stringify(exp))
			}
			return diag.Declarationf(n.Name, "exports %s, which is not declared in providersPerMod, providersPerRou or providersPerReq", provider.Stringify(exp))
		}
		n.ExportedTokens = append(n.ExportedTokens, exp)
	}
	return nil
}

func (r *Registry) isModule(ref any) bool {
	if _, ok := ref.(*WithParams); ok {
		return true
	}
	_, err := r.reader.ReadModule(ref)
	return err == nil
}

func (r *Registry) isExternal(dir string) bool {
	if r.sourceRoot == "" || dir == "" {
		return false
	}
	root, err := filepath.Abs(r.sourceRoot)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ── Reads ────────────────────────────────────────────────────────────────────

// Metadata returns a deep copy of the node named by idOrRef (nil for root).
func (r *Registry) Metadata(idOrRef any) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.graph.Lookup(idOrRef)
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Nodes returns deep copies of every node in graph order.
func (r *Registry) Nodes() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := r.graph.Nodes()
	out := make([]*Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// Snapshot returns a deep copy of the whole graph.
func (r *Registry) Snapshot() *Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.clone()
}

// Restore replaces the graph with a copy of g and discards any open
// transaction. It undoes a Scan whose graph could not be bootstrapped.
func (r *Registry) Restore(g *Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g == nil {
		g = newGraph()
	}
	r.graph = g.clone()
	r.tx = nil
	r.log.Debug().Int("modules", r.graph.Len()).Msg("module graph restored")
}

// Root returns a copy of the root node.
func (r *Registry) Root() (*Node, bool) { return r.Metadata(nil) }
