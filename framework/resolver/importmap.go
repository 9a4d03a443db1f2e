package resolver

import (
	"github.com/km-arc/modgraph/framework/extension"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
)

// ImportObj records which module a single provider was imported from.
type ImportObj struct {
	Module    *module.Node
	Providers []provider.Provider
}

// MultiObj is one module's contribution to a multi-provider token.
type MultiObj struct {
	Module    *module.Node
	Providers []provider.Provider
}

// Token returns the multi-provider token.
func (m MultiObj) Token() provider.Token { return m.Providers[0].Token }

// ExtensionObj is the set of extension registrations exported by one module.
type ExtensionObj struct {
	Module        *module.Node
	Registrations []extension.Registration
}

// ImportMap is an insertion-ordered map from token to ImportObj. The zero
// value is ready to use.
type ImportMap struct {
	keys []provider.Token
	m    map[provider.Token]*ImportObj
}

// Get returns the record for tok.
func (im *ImportMap) Get(tok provider.Token) (*ImportObj, bool) {
	obj, ok := im.m[tok]
	return obj, ok
}

// Set stores obj for tok. A replaced token keeps its position.
func (im *ImportMap) Set(tok provider.Token, obj *ImportObj) {
	if im.m == nil {
		im.m = make(map[provider.Token]*ImportObj)
	}
	if _, ok := im.m[tok]; !ok {
		im.keys = append(im.keys, tok)
	}
	im.m[tok] = obj
}

// Delete removes tok.
func (im *ImportMap) Delete(tok provider.Token) {
	if _, ok := im.m[tok]; !ok {
		return
	}
	delete(im.m, tok)
	for i, k := range im.keys {
		if k == tok {
			im.keys = append(im.keys[:i:i], im.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of tokens.
func (im *ImportMap) Len() int { return len(im.keys) }

// Keys returns tokens in insertion order.
func (im *ImportMap) Keys() []provider.Token { return append([]provider.Token(nil), im.keys...) }

// Providers flattens every record in insertion order.
func (im *ImportMap) Providers() []provider.Provider {
	var out []provider.Provider
	for _, k := range im.keys {
		out = append(out, im.m[k].Providers...)
	}
	return out
}

// Clone copies the map and its records. Nodes are shared.
func (im *ImportMap) Clone() *ImportMap {
	c := &ImportMap{keys: append([]provider.Token(nil), im.keys...)}
	if im.m != nil {
		c.m = make(map[provider.Token]*ImportObj, len(im.m))
		for k, obj := range im.m {
			c.m[k] = &ImportObj{Module: obj.Module, Providers: provider.Clone(obj.Providers)}
		}
	}
	return c
}

func newImportMaps() provider.PerScope[*ImportMap] {
	var out provider.PerScope[*ImportMap]
	for _, s := range provider.Scopes {
		out[s] = &ImportMap{}
	}
	return out
}
