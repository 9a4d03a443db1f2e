package app

import (
	"path"
	"strings"

	"github.com/km-arc/modgraph/framework/extension"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
	"github.com/km-arc/modgraph/framework/resolver"
)

// ImportRecord tells where an imported provider came from.
type ImportRecord struct {
	Token  provider.Token
	Module string
	Multi  bool
	Pulled bool
}

// MetadataPerModule is what one bootstrap pass hands to routing and
// dispatch for a single module. Consumers always receive copies.
type MetadataPerModule struct {
	Ref        module.Ref
	ID         string
	Name       string
	Prefix     string
	IsExternal bool

	// Providers are the deduplicated effective providers per scope. App
	// scope is left empty; application providers live in the app injector.
	Providers   provider.PerScope[[]provider.Provider]
	Imports     provider.PerScope[[]ImportRecord]
	Guards      []module.Guard
	Controllers []any
	Extensions  map[extension.Group][]any
}

// Key returns the id, or the name when the module has no id.
func (m *MetadataPerModule) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.Name
}

// Clone returns a copy sharing no slices or maps with m.
func (m *MetadataPerModule) Clone() *MetadataPerModule {
	c := *m
	for s := range m.Providers {
		c.Providers[s] = provider.Clone(m.Providers[s])
		c.Imports[s] = append([]ImportRecord(nil), m.Imports[s]...)
	}
	c.Guards = append([]module.Guard(nil), m.Guards...)
	c.Controllers = append([]any(nil), m.Controllers...)
	if m.Extensions != nil {
		c.Extensions = make(map[extension.Group][]any, len(m.Extensions))
		for g, values := range m.Extensions {
			c.Extensions[g] = append([]any(nil), values...)
		}
	}
	return &c
}

func newMetadata(mp *resolver.ModuleProviders, at mount, exts map[extension.Group][]any) *MetadataPerModule {
	n := mp.Node
	m := &MetadataPerModule{
		Ref:         n.Ref,
		ID:          n.ID,
		Name:        n.Name,
		Prefix:      at.prefix,
		IsExternal:  n.IsExternal,
		Guards:      at.guards,
		Controllers: append([]any(nil), n.Controllers...),
		Extensions:  exts,
	}
	for _, s := range provider.ModuleScopes {
		m.Providers[s] = provider.Dedupe(mp.Effective(s))

		var recs []ImportRecord
		for _, obj := range mp.Pulled[s] {
			recs = append(recs, records(obj.Module, obj.Providers, false, true)...)
		}
		for _, tok := range mp.Imports[s].Keys() {
			obj, _ := mp.Imports[s].Get(tok)
			recs = append(recs, records(obj.Module, obj.Providers, false, false)...)
		}
		for _, mo := range mp.Multi[s] {
			recs = append(recs, records(mo.Module, mo.Providers[:1], true, false)...)
		}
		m.Imports[s] = recs
	}
	return m
}

func records(src *module.Node, ps []provider.Provider, multi, pulled bool) []ImportRecord {
	seen := make(map[provider.Token]bool, len(ps))
	var out []ImportRecord
	for _, p := range ps {
		if seen[p.Token] {
			continue
		}
		seen[p.Token] = true
		out = append(out, ImportRecord{Token: p.Token, Module: src.Name, Multi: multi, Pulled: pulled})
	}
	return out
}

// mount is where a module is served and the guards in effect there.
type mount struct {
	prefix string
	guards []module.Guard
}

// mounts walks the graph from the root along the first path that reaches
// each node, joining WithParams paths and accumulating guards: a node's
// guards are its host's followed by its own. Appended modules are mounted
// under their host the same way imported ones are.
func mounts(g *module.Graph) map[module.Ref]mount {
	out := make(map[module.Ref]mount, g.Len())
	root := g.Root()
	if root == nil {
		return out
	}
	var walk func(n *module.Node, parent mount)
	walk = func(n *module.Node, parent mount) {
		if _, seen := out[n.Ref]; seen {
			return
		}
		m := mount{
			prefix: joinPath(parent.prefix, n.Path),
			guards: append(append([]module.Guard(nil), parent.guards...), n.Guards...),
		}
		out[n.Ref] = m
		for _, refs := range [][]module.Ref{n.Imports, n.Appends} {
			for _, ref := range refs {
				if child, ok := g.Node(ref); ok {
					walk(child, m)
				}
			}
		}
	}
	walk(root, mount{})
	return out
}

func joinPath(parent, p string) string {
	if p == "" {
		return parent
	}
	joined := path.Join("/", parent, p)
	return strings.TrimSuffix(joined, "/")
}
