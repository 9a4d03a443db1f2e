package module

import (
	"github.com/km-arc/modgraph/framework/extension"
	"github.com/km-arc/modgraph/framework/provider"
)

// Node is a normalized module. Nodes handed out by the registry are copies.
type Node struct {
	// Ref is the graph key: the import ref exactly as declared, so a
	// *WithParams mount is a node of its own.
	Ref Ref
	// ModuleRef is the underlying module (Ref unwrapped from WithParams).
	ModuleRef Ref
	ID        string
	Name      string
	Kind      Kind

	Imports []Ref
	Appends []Ref
	// ExportedModules holds the import refs this module re-exports.
	ExportedModules []Ref
	ExportedTokens  []provider.Token

	Providers provider.PerScope[[]provider.Provider]
	// ExportedProviders is filled for Mod, Rou and Req only; App providers
	// are collected from every module without being exported.
	ExportedProviders  provider.PerScope[[]provider.Provider]
	ResolvedCollisions provider.PerScope[[]Directive]
	Extensions         []extension.Registration
	ExportedExtensions []extension.Registration
	Controllers        []any
	Guards             []Guard

	Path          string
	DeclaredInDir string
	IsExternal    bool
}

// Matches reports whether ref names this node, either exactly or by its
// underlying module.
func (n *Node) Matches(ref Ref) bool {
	return ref == n.Ref || ref == n.ModuleRef
}

// Directive returns the collision directive n declares for tok at scope s.
func (n *Node) Directive(s provider.Scope, tok provider.Token) (Directive, bool) {
	for _, d := range n.ResolvedCollisions[s] {
		if d.Token == tok {
			return d, true
		}
	}
	return Directive{}, false
}

// DeclaresLocally reports whether n itself declares tok at scope s.
func (n *Node) DeclaresLocally(s provider.Scope, tok provider.Token) bool {
	return provider.Has(n.Providers[s], tok)
}

// Imported reports whether ref is among n's imports, returning the declared
// import ref.
func (n *Node) Imported(ref Ref) (Ref, bool) {
	for _, imp := range n.Imports {
		if imp == ref {
			return imp, true
		}
		if wp, ok := imp.(*WithParams); ok && wp.Module == ref {
			return imp, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of n. Provider implementations and extension
// instances are shared; everything slice-valued is copied.
func (n *Node) Clone() *Node {
	c := *n
	c.Imports = cloneSlice(n.Imports)
	c.Appends = cloneSlice(n.Appends)
	c.ExportedModules = cloneSlice(n.ExportedModules)
	c.ExportedTokens = cloneSlice(n.ExportedTokens)
	c.Extensions = cloneSlice(n.Extensions)
	c.ExportedExtensions = cloneSlice(n.ExportedExtensions)
	c.Controllers = cloneSlice(n.Controllers)
	if n.Guards != nil {
		c.Guards = make([]Guard, len(n.Guards))
		for i, g := range n.Guards {
			c.Guards[i] = Guard{Token: g.Token, Params: cloneSlice(g.Params)}
		}
	}
	for _, s := range provider.Scopes {
		c.Providers[s] = provider.Clone(n.Providers[s])
		c.ExportedProviders[s] = provider.Clone(n.ExportedProviders[s])
		c.ResolvedCollisions[s] = cloneSlice(n.ResolvedCollisions[s])
	}
	return &c
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}
