package module

import (
	"github.com/km-arc/modgraph/framework/provider"
)

// Graph is an ordered set of normalized modules. Order is pre-order from the
// root, which is also the order bootstrap passes visit modules in.
type Graph struct {
	nodes map[Ref]*Node
	order []Ref
	ids   map[string]Ref
	root  Ref
}

func newGraph() *Graph {
	return &Graph{nodes: make(map[Ref]*Node), ids: make(map[string]Ref)}
}

// Root returns the root node, or nil for an empty graph.
func (g *Graph) Root() *Node { return g.nodes[g.root] }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

// Node returns the node keyed by ref.
func (g *Graph) Node(ref Ref) (*Node, bool) {
	if !provider.Comparable(ref) {
		return nil, false
	}
	n, ok := g.nodes[ref]
	return n, ok
}

// Nodes returns every node in graph order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, ref := range g.order {
		out = append(out, g.nodes[ref])
	}
	return out
}

// Lookup finds a node by id, name, graph key or underlying module. nil and
// "root" name the root.
func (g *Graph) Lookup(idOrRef any) (*Node, bool) {
	if idOrRef == nil {
		n := g.Root()
		return n, n != nil
	}
	if !provider.Comparable(idOrRef) {
		return nil, false
	}
	if s, ok := idOrRef.(string); ok {
		if ref, ok := g.ids[s]; ok {
			return g.nodes[ref], true
		}
		if s == "root" && g.Root() != nil {
			return g.Root(), true
		}
		for _, ref := range g.order {
			if g.nodes[ref].Name == s {
				return g.nodes[ref], true
			}
		}
	}
	if n, ok := g.nodes[idOrRef]; ok {
		return n, true
	}
	for _, ref := range g.order {
		if g.nodes[ref].ModuleRef == idOrRef {
			return g.nodes[ref], true
		}
	}
	return nil, false
}

// insert appends n in graph order.
func (g *Graph) insert(n *Node) {
	g.nodes[n.Ref] = n
	g.order = append(g.order, n.Ref)
	if n.ID != "" {
		g.ids[n.ID] = n.Ref
	}
}

// reachable returns the refs reachable from the root through imports and
// appends.
func (g *Graph) reachable() map[Ref]bool {
	seen := make(map[Ref]bool, len(g.nodes))
	var walk func(ref Ref)
	walk = func(ref Ref) {
		n, ok := g.nodes[ref]
		if !ok || seen[ref] {
			return
		}
		seen[ref] = true
		for _, imp := range n.Imports {
			walk(imp)
		}
		for _, ap := range n.Appends {
			walk(ap)
		}
	}
	walk(g.root)
	return seen
}

// pathTo returns the names along an import/append path from -> to, or nil.
func (g *Graph) pathTo(from, to Ref) []string {
	seen := make(map[Ref]bool)
	var walk func(ref Ref) []string
	walk = func(ref Ref) []string {
		n, ok := g.nodes[ref]
		if !ok || seen[ref] {
			return nil
		}
		if ref == to {
			return []string{n.Name}
		}
		seen[ref] = true
		for _, next := range append(append([]Ref(nil), n.Imports...), n.Appends...) {
			if rest := walk(next); rest != nil {
				return append([]string{n.Name}, rest...)
			}
		}
		return nil
	}
	return walk(from)
}

// clone deep-copies g.
func (g *Graph) clone() *Graph {
	c := &Graph{
		nodes: make(map[Ref]*Node, len(g.nodes)),
		order: append([]Ref(nil), g.order...),
		ids:   make(map[string]Ref, len(g.ids)),
		root:  g.root,
	}
	for ref, n := range g.nodes {
		c.nodes[ref] = n.Clone()
	}
	for id, ref := range g.ids {
		c.ids[id] = ref
	}
	return c
}
