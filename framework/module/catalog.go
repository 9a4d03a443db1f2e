package module

import (
	"fmt"

	"github.com/km-arc/modgraph/framework/provider"
)

// Catalog is the default Reader. Declarations are registered first and edges
// are only followed at scan time, so modules may refer to each other by name
// in any order.
//
//	cat := module.NewCatalog()
//	cat.MustAdd("App", &module.Declaration{Kind: module.KindRoot, Imports: []module.Ref{"Users"}})
//	cat.MustAdd("Users", &module.Declaration{...})
//
// A *Declaration used directly as a Ref describes itself and need not be
// added.
type Catalog struct {
	decls map[Ref]*Declaration
	order []Ref
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{decls: make(map[Ref]*Declaration)}
}

// Add registers decl under ref.
func (c *Catalog) Add(ref Ref, decl *Declaration) error {
	if ref == nil || !provider.Comparable(ref) {
		return fmt.Errorf("catalog: module ref %s is not comparable", provider.Stringify(ref))
	}
	if decl == nil {
		return fmt.Errorf("catalog: nil declaration for %s", provider.Stringify(ref))
	}
	if _, dup := c.decls[ref]; dup {
		return fmt.Errorf("catalog: module %s registered twice", provider.Stringify(ref))
	}
	if decl.Name == "" {
		decl.Name = provider.Stringify(ref)
	}
	c.decls[ref] = decl
	c.order = append(c.order, ref)
	return nil
}

// MustAdd is Add that panics on error. It returns c for chaining.
func (c *Catalog) MustAdd(ref Ref, decl *Declaration) *Catalog {
	if err := c.Add(ref, decl); err != nil {
		panic(err)
	}
	return c
}

// Refs returns registered refs in registration order.
func (c *Catalog) Refs() []Ref { return append([]Ref(nil), c.order...) }

// ReadModule implements Reader.
func (c *Catalog) ReadModule(ref Ref) (*Declaration, error) {
	if d, ok := ref.(*Declaration); ok && d != nil {
		return d, nil
	}
	if ref == nil || !provider.Comparable(ref) {
		return nil, ErrNoDeclaration
	}
	if d, ok := c.decls[ref]; ok {
		return d, nil
	}
	return nil, ErrNoDeclaration
}

// ConstructorDeps implements Reader.
func (c *Catalog) ConstructorDeps(p provider.Provider) []provider.Token { return p.Deps() }
