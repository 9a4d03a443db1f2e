package module

import (
	"errors"
	"fmt"

	"github.com/km-arc/modgraph/framework/extension"
	"github.com/km-arc/modgraph/framework/provider"
)

// Ref identifies a module declaration. Any comparable value works: a
// *Declaration, a name registered with a Catalog, or a *WithParams wrapping
// one of those.
type Ref = any

// Kind distinguishes the application root from feature modules.
type Kind uint8

const (
	KindFeature Kind = iota
	KindRoot
)

func (k Kind) String() string {
	if k == KindRoot {
		return "root"
	}
	return "feature"
}

// Directive pins the module whose export of Token wins a collision.
type Directive struct {
	Token  provider.Token
	Module Ref
}

// Guard is applied to every route of a module. Its logic lives elsewhere.
type Guard struct {
	Token  provider.Token
	Params []any
}

// Declaration is the raw, un-normalized description of a module.
//
//	var Users = &module.Declaration{
//	    Name:    "UsersModule",
//	    Imports: []module.Ref{Database},
//	    Exports: []any{UserRepo},
//	    Providers: provider.PerScope[[]provider.Provider]{
//	        provider.Mod: {provider.Of(UserRepo)},
//	    },
//	}
type Declaration struct {
	Name string
	ID   string
	Kind Kind

	Imports []Ref
	// Appends attach another module's routes under this module's prefix
	// without importing its providers.
	Appends []Ref
	// Exports lists modules (which must also be imported) and provider tokens
	// or extension groups declared at Mod, Rou or Req.
	Exports []any

	Providers          provider.PerScope[[]provider.Provider]
	ResolvedCollisions provider.PerScope[[]Directive]
	Extensions         []extension.Registration
	Controllers        []any
	Guards             []Guard

	// DeclaredInDir is the directory holding the module's source. Modules
	// outside the application's source root are external.
	DeclaredInDir string
}

func (d *Declaration) String() string { return d.Name }

// WithParams imports a module with extra configuration. Each *WithParams is
// its own graph node, so one module may be mounted several times.
type WithParams struct {
	Module    Ref
	ID        string
	Path      string
	Guards    []Guard
	Providers provider.PerScope[[]provider.Provider]
	Exports   []any
}

func (w *WithParams) String() string {
	if w.Path == "" {
		return provider.Stringify(w.Module)
	}
	return fmt.Sprintf("%s(%s)", provider.Stringify(w.Module), w.Path)
}

// ErrNoDeclaration is returned by a Reader that knows nothing about a ref.
var ErrNoDeclaration = errors.New("no module declaration")

// Reader supplies raw declarations and constructor dependencies.
type Reader interface {
	ReadModule(ref Ref) (*Declaration, error)
	ConstructorDeps(p provider.Provider) []provider.Token
}
